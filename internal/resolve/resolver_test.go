package resolve

import (
	"context"
	"errors"
	"testing"
	"time"

	"mediadedup/internal/models"
)

// fakeTrash records soft-delete calls and fails for configured items
type fakeTrash struct {
	deleted []string
	failFor map[string]bool
}

func (f *fakeTrash) SoftDelete(_ context.Context, itemID string, _ models.Kind) error {
	if f.failFor[itemID] {
		return errors.New("storage rejected the delete")
	}
	f.deleted = append(f.deleted, itemID)
	return nil
}

func item(id string, size int64) *models.MediaItem {
	return &models.MediaItem{ID: id, Kind: models.KindPhoto, Size: size, UploadedAt: time.Unix(0, 0)}
}

func group(key string, items ...*models.MediaItem) *models.DuplicateGroup {
	return &models.DuplicateGroup{Key: key, MatchType: models.MatchExact, Items: items}
}

func TestKeepAsOriginal_Reorders(t *testing.T) {
	r := New(&fakeTrash{})
	r.SetGroups([]*models.DuplicateGroup{
		group("g1", item("a", 10), item("b", 10), item("c", 10)),
	})

	if err := r.KeepAsOriginal("g1", "c"); err != nil {
		t.Fatalf("KeepAsOriginal failed: %v", err)
	}

	groups := r.Groups()
	got := []string{groups[0].Items[0].ID, groups[0].Items[1].ID, groups[0].Items[2].ID}
	want := []string{"c", "a", "b"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}

	if r.Pins()["g1"] != "c" {
		t.Errorf("pin not recorded, pins = %v", r.Pins())
	}
}

func TestKeepAsOriginal_UnknownGroup(t *testing.T) {
	r := New(&fakeTrash{})
	err := r.KeepAsOriginal("nope", "a")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestKeepAsOriginal_UnknownItem(t *testing.T) {
	r := New(&fakeTrash{})
	r.SetGroups([]*models.DuplicateGroup{group("g1", item("a", 10), item("b", 10))})

	err := r.KeepAsOriginal("g1", "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	// No-op: ordering unchanged
	if r.Groups()[0].Items[0].ID != "a" {
		t.Error("failed keep call must not reorder the group")
	}
}

func TestDeleteDuplicate_RemovesAndDissolves(t *testing.T) {
	trash := &fakeTrash{}
	r := New(trash)
	r.SetGroups([]*models.DuplicateGroup{group("g1", item("a", 10), item("b", 10))})

	if err := r.DeleteDuplicate(context.Background(), "b"); err != nil {
		t.Fatalf("DeleteDuplicate failed: %v", err)
	}

	if len(trash.deleted) != 1 || trash.deleted[0] != "b" {
		t.Errorf("deleted = %v, want [b]", trash.deleted)
	}
	// Group fell below two members and dissolved
	if got := len(r.Groups()); got != 0 {
		t.Errorf("groups remaining = %d, want 0", got)
	}
}

func TestDeleteDuplicate_FailureKeepsItem(t *testing.T) {
	trash := &fakeTrash{failFor: map[string]bool{"b": true}}
	r := New(trash)
	r.SetGroups([]*models.DuplicateGroup{group("g1", item("a", 10), item("b", 10))})

	err := r.DeleteDuplicate(context.Background(), "b")
	if err == nil {
		t.Fatal("expected error from rejected delete")
	}

	groups := r.Groups()
	if len(groups) != 1 || len(groups[0].Items) != 2 {
		t.Errorf("item must remain in its group on failure, groups = %v", groups)
	}
}

func TestDeleteDuplicate_Unknown(t *testing.T) {
	r := New(&fakeTrash{})
	err := r.DeleteDuplicate(context.Background(), "ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteGroupDuplicates_SparesCanonical(t *testing.T) {
	trash := &fakeTrash{}
	r := New(trash)
	r.SetGroups([]*models.DuplicateGroup{
		group("g1", item("keep", 100), item("b", 100), item("c", 100)),
	})

	result, err := r.DeleteGroupDuplicates(context.Background(), "g1")
	if err != nil {
		t.Fatalf("DeleteGroupDuplicates failed: %v", err)
	}

	for _, id := range trash.deleted {
		if id == "keep" {
			t.Fatal("canonical original was deleted")
		}
	}
	if result.Deleted != 2 || result.Failed != 0 {
		t.Errorf("result = %+v, want 2 deleted", result)
	}
	if result.Reclaimed != 200 {
		t.Errorf("reclaimed = %d, want 200", result.Reclaimed)
	}
	if got := len(r.Groups()); got != 0 {
		t.Errorf("fully resolved group should dissolve, %d remain", got)
	}
}

func TestDeleteGroupDuplicates_PartialFailure(t *testing.T) {
	trash := &fakeTrash{failFor: map[string]bool{"c": true}}
	r := New(trash)
	r.SetGroups([]*models.DuplicateGroup{
		group("g1", item("keep", 100), item("b", 100), item("c", 100)),
	})

	result, err := r.DeleteGroupDuplicates(context.Background(), "g1")
	if err != nil {
		t.Fatalf("DeleteGroupDuplicates failed: %v", err)
	}

	if result.Deleted != 1 || result.Failed != 1 {
		t.Errorf("result = %+v, want 1 deleted + 1 failed", result)
	}
	if len(result.FailedItems) != 1 || result.FailedItems[0] != "c" {
		t.Errorf("failed items = %v, want [c]", result.FailedItems)
	}

	// The group survives with the canonical item and the failed delete
	groups := r.Groups()
	if len(groups) != 1 {
		t.Fatalf("groups remaining = %d, want 1", len(groups))
	}
	if groups[0].Items[0].ID != "keep" || groups[0].Items[1].ID != "c" {
		t.Errorf("surviving members = %v, want [keep c]", groups[0].Items)
	}
}

func TestDeleteGroupDuplicates_UnknownGroup(t *testing.T) {
	r := New(&fakeTrash{})
	_, err := r.DeleteGroupDuplicates(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteAllDuplicates_Scenario(t *testing.T) {
	// Two groups of size 2 and 3: 1 + 2 = 3 deletes, 2 canonical retained
	trash := &fakeTrash{}
	r := New(trash)
	r.SetGroups([]*models.DuplicateGroup{
		group("g1", item("k1", 10), item("d1", 10)),
		group("g2", item("k2", 20), item("d2", 20), item("d3", 20)),
	})

	result := r.DeleteAllDuplicates(context.Background())

	if result.Deleted != 3 {
		t.Errorf("deleted = %d, want 3", result.Deleted)
	}
	if len(trash.deleted) != 3 {
		t.Errorf("trash calls = %v, want 3", trash.deleted)
	}
	for _, id := range trash.deleted {
		if id == "k1" || id == "k2" {
			t.Errorf("canonical item %s was deleted", id)
		}
	}
	if got := len(r.Groups()); got != 0 {
		t.Errorf("groups remaining = %d, want 0", got)
	}
}

func TestDeleteAllDuplicates_ContinuesPastFailures(t *testing.T) {
	trash := &fakeTrash{failFor: map[string]bool{"d1": true}}
	r := New(trash)
	r.SetGroups([]*models.DuplicateGroup{
		group("g1", item("k1", 10), item("d1", 10)),
		group("g2", item("k2", 20), item("d2", 20)),
	})

	result := r.DeleteAllDuplicates(context.Background())

	if result.Deleted != 1 || result.Failed != 1 {
		t.Errorf("result = %+v, want 1 deleted + 1 failed", result)
	}
	// g1 survives with its failed member, g2 dissolved
	groups := r.Groups()
	if len(groups) != 1 || groups[0].Key != "g1" {
		t.Errorf("surviving groups = %v, want [g1]", groups)
	}
}
