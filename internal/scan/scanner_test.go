package scan

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"mediadedup/internal/models"
)

type fakeCatalog struct {
	photos  []*models.MediaItem
	files   []*models.MediaItem
	listErr error

	mu    sync.Mutex
	saved map[string]int64
}

func (f *fakeCatalog) ListActiveItems(_ context.Context, _ string, kind models.Kind) ([]*models.MediaItem, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	if kind == models.KindPhoto {
		return f.photos, nil
	}
	return f.files, nil
}

func (f *fakeCatalog) SetSize(_ context.Context, itemID string, size int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saved == nil {
		f.saved = make(map[string]int64)
	}
	f.saved[itemID] = size
	return nil
}

type fakeContent struct {
	data    map[string]string
	sizeErr map[string]bool
	openErr map[string]bool

	mu      sync.Mutex
	opened  []string
	onOpen  chan string   // receives item ids as workers open them
	unblock chan struct{} // when non-nil, Open blocks until closed
}

func (f *fakeContent) Size(_ context.Context, itemID string) (int64, error) {
	if f.sizeErr[itemID] {
		return 0, errors.New("head request failed")
	}
	return int64(len(f.data[itemID])), nil
}

func (f *fakeContent) Open(_ context.Context, itemID string) (io.ReadCloser, error) {
	f.mu.Lock()
	f.opened = append(f.opened, itemID)
	f.mu.Unlock()

	if f.onOpen != nil {
		f.onOpen <- itemID
	}
	if f.unblock != nil {
		<-f.unblock
	}
	if f.openErr[itemID] {
		return nil, errors.New("stream broken")
	}
	return io.NopCloser(strings.NewReader(f.data[itemID])), nil
}

func photoItem(id, filename string, size int64, minute int) *models.MediaItem {
	return &models.MediaItem{
		ID:         id,
		Kind:       models.KindPhoto,
		Filename:   filename,
		Size:       size,
		UploadedAt: time.Date(2024, 3, 1, 12, minute, 0, 0, time.UTC),
	}
}

func runScan(t *testing.T, catalog Catalog, content ContentSource, mode models.Mode) (*Result, []Snapshot) {
	t.Helper()

	s := New(catalog, content, WithWorkers(2))
	sess, err := s.Start(context.Background(), "user-1", mode, nil)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	var snaps []Snapshot
	for snap := range sess.Snapshots() {
		snaps = append(snaps, snap)
	}

	res, err := sess.Wait()
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	return res, snaps
}

func TestScan_ExactMode(t *testing.T) {
	catalog := &fakeCatalog{
		photos: []*models.MediaItem{
			photoItem("A", "a.jpg", 5, 1),
			photoItem("B", "b.jpg", 5, 2),
			photoItem("C", "c.jpg", 5, 3),
		},
	}
	content := &fakeContent{data: map[string]string{
		"A": "same!", "B": "same!", "C": "other",
	}}

	res, snaps := runScan(t, catalog, content, models.ModeExact)

	if len(res.Groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(res.Groups))
	}
	g := res.Groups[0]
	if !g.Contains("A") || !g.Contains("B") || g.Contains("C") {
		t.Errorf("group members wrong: %v", g.Items)
	}
	if g.Items[0].ID != "A" {
		t.Errorf("canonical = %s, want A (earliest upload)", g.Items[0].ID)
	}
	if res.Stats.TotalDuplicateCount != 1 {
		t.Errorf("TotalDuplicateCount = %d, want 1", res.Stats.TotalDuplicateCount)
	}

	last := snaps[len(snaps)-1]
	if last.Phase != PhaseDone || last.Percent != 100 {
		t.Errorf("final snapshot = %+v, want done at 100%%", last)
	}
}

func TestScan_ProgressMonotonic(t *testing.T) {
	catalog := &fakeCatalog{
		photos: []*models.MediaItem{
			photoItem("A", "a.jpg", 5, 1),
			photoItem("B", "b.jpg", 5, 2),
			photoItem("C", "c.jpg", 5, 3),
			photoItem("D", "d.jpg", models.SizeUnknown, 4),
		},
	}
	content := &fakeContent{data: map[string]string{
		"A": "aa", "B": "bb", "C": "cc", "D": "dd",
	}}

	_, snaps := runScan(t, catalog, content, models.ModeAll)

	prev := -1.0
	for _, snap := range snaps {
		if snap.Percent < prev {
			t.Fatalf("percent decreased from %.2f to %.2f at phase %s", prev, snap.Percent, snap.Phase)
		}
		prev = snap.Percent
		if snap.Percent == 100 && snap.Phase != PhaseDone {
			t.Errorf("100%% reported before done, at phase %s", snap.Phase)
		}
	}
}

func TestScan_SimilarModeSkipsHashing(t *testing.T) {
	catalog := &fakeCatalog{
		files: []*models.MediaItem{
			photoItem("X", "1700-vacation.jpg", 500, 1),
			photoItem("Y", "1701-vacation.jpg", 500, 2),
		},
	}
	content := &fakeContent{data: map[string]string{"X": "x", "Y": "y"}}

	res, snaps := runScan(t, catalog, content, models.ModeSimilar)

	if len(content.opened) != 0 {
		t.Errorf("similar mode must not fetch content, opened %v", content.opened)
	}
	if len(res.Groups) != 1 || res.Groups[0].MatchType != models.MatchSimilar {
		t.Fatalf("expected 1 similar group, got %v", res.Groups)
	}
	for _, snap := range snaps {
		if snap.Phase == PhaseHashing {
			t.Error("hashing phase entered in similar mode")
		}
	}
}

func TestScan_ListingFailureIsFatal(t *testing.T) {
	catalog := &fakeCatalog{listErr: errors.New("catalog down")}
	content := &fakeContent{}

	s := New(catalog, content)
	sess, err := s.Start(context.Background(), "user-1", models.ModeExact, nil)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	res, err := sess.Wait()
	if err == nil {
		t.Fatal("expected listing error")
	}
	if res != nil {
		t.Errorf("failed scan must produce no result, got %+v", res)
	}
	if sess.Phase() != PhaseFailed {
		t.Errorf("phase = %s, want failed", sess.Phase())
	}
}

func TestScan_SizeBackfill(t *testing.T) {
	catalog := &fakeCatalog{
		photos: []*models.MediaItem{
			photoItem("A", "a.jpg", models.SizeUnknown, 1),
		},
	}
	content := &fakeContent{data: map[string]string{"A": "1234567"}}

	res, _ := runScan(t, catalog, content, models.ModeSimilar)

	if len(res.Items) != 1 || res.Items[0].Size != 7 {
		t.Fatalf("size not backfilled: %+v", res.Items)
	}
	// Backfilled size persisted through the optional SizeSaver
	if catalog.saved["A"] != 7 {
		t.Errorf("saved sizes = %v, want A=7", catalog.saved)
	}
}

func TestScan_SizeFailureExcludesItem(t *testing.T) {
	catalog := &fakeCatalog{
		photos: []*models.MediaItem{
			photoItem("A", "doc.txt", models.SizeUnknown, 1),
			photoItem("B", "doc.txt", 7, 2),
			photoItem("C", "doc.txt", 7, 3),
		},
	}
	content := &fakeContent{
		data:    map[string]string{"A": "1234567", "B": "1234567", "C": "1234567"},
		sizeErr: map[string]bool{"A": true},
	}

	res, _ := runScan(t, catalog, content, models.ModeSimilar)

	if len(res.Items) != 2 {
		t.Fatalf("expected A excluded, items = %v", res.Items)
	}
	if len(res.ItemErrors) != 1 || res.ItemErrors[0].ItemID != "A" || res.ItemErrors[0].Stage != StageSize {
		t.Errorf("item errors = %v, want one size error for A", res.ItemErrors)
	}
	// The scan still finds the B/C pair
	if len(res.Groups) != 1 || len(res.Groups[0].Items) != 2 {
		t.Errorf("groups = %v, want one pair", res.Groups)
	}
}

func TestScan_HashFailureFallsThroughInAllMode(t *testing.T) {
	catalog := &fakeCatalog{
		photos: []*models.MediaItem{
			photoItem("A", "song.mp3", 4, 1),
			photoItem("B", "song.mp3", 4, 2),
		},
	}
	content := &fakeContent{
		data:    map[string]string{"A": "data", "B": "data"},
		openErr: map[string]bool{"B": true},
	}

	res, _ := runScan(t, catalog, content, models.ModeAll)

	if len(res.ItemErrors) != 1 || res.ItemErrors[0].Stage != StageHash {
		t.Fatalf("item errors = %v, want one hash error", res.ItemErrors)
	}
	// B is unhashable but still matches A by name and size
	if len(res.Groups) != 1 || res.Groups[0].MatchType != models.MatchSimilar {
		t.Fatalf("groups = %v, want one similar group", res.Groups)
	}
}

func TestScan_CancelMidHashing(t *testing.T) {
	catalog := &fakeCatalog{
		photos: []*models.MediaItem{
			photoItem("A", "a.jpg", 2, 1),
			photoItem("B", "b.jpg", 2, 2),
			photoItem("C", "c.jpg", 2, 3),
		},
	}
	content := &fakeContent{
		data:    map[string]string{"A": "aa", "B": "bb", "C": "cc"},
		onOpen:  make(chan string),
		unblock: make(chan struct{}),
	}

	s := New(catalog, content, WithWorkers(1))
	sess, err := s.Start(context.Background(), "user-1", models.ModeExact, nil)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Wait for the first hash unit to be in flight, then cancel. The
	// in-flight unit finishes; no further unit may start.
	<-content.onOpen
	sess.Cancel()
	close(content.unblock)

	go func() {
		// Drain any late unit the single worker already claimed
		for range content.onOpen {
		}
	}()

	res, err := sess.Wait()
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("Wait error = %v, want ErrCancelled", err)
	}
	if res != nil {
		t.Errorf("cancelled scan must yield no groups, got %+v", res)
	}
	if sess.Phase() != PhaseCancelled {
		t.Errorf("phase = %s, want cancelled", sess.Phase())
	}
	if sess.Phase() == PhaseDone {
		t.Error("cancelled session must not reach done")
	}
}

func TestScan_SecondScanRejectedWhileRunning(t *testing.T) {
	catalog := &fakeCatalog{
		photos: []*models.MediaItem{photoItem("A", "a.jpg", 2, 1)},
	}
	content := &fakeContent{
		data:    map[string]string{"A": "aa"},
		onOpen:  make(chan string),
		unblock: make(chan struct{}),
	}

	s := New(catalog, content, WithWorkers(1))
	sess, err := s.Start(context.Background(), "user-1", models.ModeExact, nil)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	<-content.onOpen // scan is mid-hashing

	if _, err := s.Start(context.Background(), "user-1", models.ModeExact, nil); !errors.Is(err, ErrScanInFlight) {
		t.Errorf("second Start error = %v, want ErrScanInFlight", err)
	}

	close(content.unblock)
	if _, err := sess.Wait(); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	// After completion a new scan is allowed again
	content2 := &fakeContent{data: map[string]string{"A": "aa"}}
	s2 := New(catalog, content2)
	if _, err := s2.Start(context.Background(), "user-1", models.ModeExact, nil); err != nil {
		t.Errorf("scan after completion failed: %v", err)
	}
}

func TestScan_InvalidMode(t *testing.T) {
	s := New(&fakeCatalog{}, &fakeContent{})
	if _, err := s.Start(context.Background(), "user-1", models.Mode("bogus"), nil); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}
