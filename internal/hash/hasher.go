package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// Sum computes the hex-encoded SHA-256 digest of everything readable
// from r. The stream is consumed incrementally; the object is never
// buffered in memory.
func Sum(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("failed to read content: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
