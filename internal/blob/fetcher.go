// Package blob adapts the remote blob storage service that holds the
// actual item bytes. The catalog only knows metadata; every content read
// (size backfill, hashing) goes through here.
package blob

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Fetcher retrieves item content from the blob storage HTTP endpoint
type Fetcher struct {
	HTTPClient *http.Client
	baseURL    string
	token      string
}

// NewFetcher creates a Fetcher for the given endpoint. token may be
// empty when the endpoint is unauthenticated.
func NewFetcher(baseURL, token string) *Fetcher {
	return &Fetcher{
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL: baseURL,
		token:   token,
	}
}

// Open returns a stream over the item's bytes. The caller must close it.
func (f *Fetcher) Open(ctx context.Context, itemID string) (io.ReadCloser, error) {
	req, err := f.newRequest(ctx, http.MethodGet, itemID)
	if err != nil {
		return nil, err
	}

	resp, err := f.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch content for %s: %w", itemID, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("blob storage returned %d for %s", resp.StatusCode, itemID)
	}

	return resp.Body, nil
}

// Size returns the item's byte length via a HEAD request, used to
// backfill legacy catalog entries that never stored one.
func (f *Fetcher) Size(ctx context.Context, itemID string) (int64, error) {
	req, err := f.newRequest(ctx, http.MethodHead, itemID)
	if err != nil {
		return 0, err
	}

	resp, err := f.HTTPClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch size for %s: %w", itemID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("blob storage returned %d for %s", resp.StatusCode, itemID)
	}
	if resp.ContentLength < 0 {
		return 0, fmt.Errorf("blob storage sent no content length for %s", itemID)
	}

	return resp.ContentLength, nil
}

func (f *Fetcher) newRequest(ctx context.Context, method, itemID string) (*http.Request, error) {
	u := fmt.Sprintf("%s/objects/%s", f.baseURL, url.PathEscape(itemID))
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	return req, nil
}
