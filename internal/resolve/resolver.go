// Package resolve owns the duplicate group set produced by the most
// recent completed scan and exposes the user-facing mutations over it:
// delete one duplicate, delete a group's duplicates, delete all
// duplicates globally, and re-designate a group's canonical original.
// Deletions go through the trash mechanism and are never permanent.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"mediadedup/internal/match"
	"mediadedup/internal/models"
)

// ErrNotFound signals a reference to a group or item the resolver does
// not hold. Mutations taking an invalid reference are no-ops.
var ErrNotFound = errors.New("not found")

// Trash soft-deletes an item: a deletion timestamp is set and a
// separate retention process purges it later. Restorable until then.
type Trash interface {
	SoftDelete(ctx context.Context, itemID string, kind models.Kind) error
}

// BatchResult reports the outcome of a bulk deletion. Batch operations
// continue past per-item failures; the caller sees counts, not a
// single boolean.
type BatchResult struct {
	Deleted     int      `json:"deleted"`
	Failed      int      `json:"failed"`
	Reclaimed   int64    `json:"reclaimed"`
	FailedItems []string `json:"failed_items,omitempty"`
}

// Merge combines two batch outcomes into one
func (r BatchResult) Merge(other BatchResult) BatchResult {
	r.Deleted += other.Deleted
	r.Failed += other.Failed
	r.Reclaimed += other.Reclaimed
	r.FailedItems = append(r.FailedItems, other.FailedItems...)
	return r
}

// Resolver holds the live group set between scans. All mutations are
// serialized; the set is replaced wholesale when the next scan
// completes.
type Resolver struct {
	mu     sync.Mutex
	trash  Trash
	groups []*models.DuplicateGroup
	pins   match.Pins
}

// New creates a Resolver deleting through the given trash mechanism
func New(trash Trash) *Resolver {
	return &Resolver{
		trash: trash,
		pins:  make(match.Pins),
	}
}

// SetGroups replaces the held group set with a fresh scan's result
func (r *Resolver) SetGroups(groups []*models.DuplicateGroup) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups = groups
}

// Groups returns a copy of the held group set. Mutating the copy does
// not affect the resolver.
func (r *Resolver) Groups() []*models.DuplicateGroup {
	r.mu.Lock()
	defer r.mu.Unlock()
	return copyGroups(r.groups)
}

// Pins returns the user's canonical-original overrides, to be handed to
// the next scan so they survive regrouping.
func (r *Resolver) Pins() match.Pins {
	r.mu.Lock()
	defer r.mu.Unlock()
	pins := make(match.Pins, len(r.pins))
	for k, v := range r.pins {
		pins[k] = v
	}
	return pins
}

// KeepAsOriginal reorders the group so the item becomes the canonical
// original. Pure in-memory change: no network I/O, no deletion.
// Returns ErrNotFound when the group or the item is unknown.
func (r *Resolver) KeepAsOriginal(groupKey, itemID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	g := r.findGroup(groupKey)
	if g == nil {
		return fmt.Errorf("group %s: %w", groupKey, ErrNotFound)
	}

	idx := -1
	for i, it := range g.Items {
		if it.ID == itemID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("item %s in group %s: %w", itemID, groupKey, ErrNotFound)
	}
	if idx > 0 {
		pinned := g.Items[idx]
		copy(g.Items[1:idx+1], g.Items[:idx])
		g.Items[0] = pinned
	}

	r.pins[groupKey] = itemID
	return nil
}

// DeleteDuplicate soft-deletes exactly one item and removes it from its
// group. A group shrinking below two members dissolves. On trash
// failure the item stays in the group and the error is returned.
func (r *Resolver) DeleteDuplicate(ctx context.Context, itemID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for gi, g := range r.groups {
		for ii, it := range g.Items {
			if it.ID != itemID {
				continue
			}
			if err := r.trash.SoftDelete(ctx, it.ID, it.Kind); err != nil {
				return fmt.Errorf("failed to delete %s: %w", it.ID, err)
			}
			g.Items = append(g.Items[:ii], g.Items[ii+1:]...)
			if len(g.Items) < 2 {
				r.groups = append(r.groups[:gi], r.groups[gi+1:]...)
			}
			return nil
		}
	}

	return fmt.Errorf("item %s: %w", itemID, ErrNotFound)
}

// DeleteGroupDuplicates soft-deletes every item in the group except the
// canonical original. Items that fail to delete stay in the group,
// still non-canonical; the canonical item is never touched.
func (r *Resolver) DeleteGroupDuplicates(ctx context.Context, groupKey string) (BatchResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g := r.findGroup(groupKey)
	if g == nil {
		return BatchResult{}, fmt.Errorf("group %s: %w", groupKey, ErrNotFound)
	}

	return r.deleteGroupLocked(ctx, g), nil
}

// DeleteAllDuplicates applies the per-group deletion to every held
// group in sequence, continuing past failures, and reports the
// aggregate counts.
func (r *Resolver) DeleteAllDuplicates(ctx context.Context) BatchResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result BatchResult
	// deleteGroupLocked edits r.groups; walk a snapshot
	for _, g := range append([]*models.DuplicateGroup(nil), r.groups...) {
		result = result.Merge(r.deleteGroupLocked(ctx, g))
	}
	return result
}

// deleteGroupLocked deletes g's non-canonical members; the caller holds
// r.mu and g is a member of r.groups.
func (r *Resolver) deleteGroupLocked(ctx context.Context, g *models.DuplicateGroup) BatchResult {
	var result BatchResult

	remaining := g.Items[:1] // canonical original is never deleted
	for _, it := range g.Items[1:] {
		if err := r.trash.SoftDelete(ctx, it.ID, it.Kind); err != nil {
			result.Failed++
			result.FailedItems = append(result.FailedItems, it.ID)
			remaining = append(remaining, it)
			continue
		}
		result.Deleted++
		if it.Size > 0 {
			result.Reclaimed += it.Size
		}
	}
	g.Items = remaining

	if len(g.Items) < 2 {
		for gi, held := range r.groups {
			if held == g {
				r.groups = append(r.groups[:gi], r.groups[gi+1:]...)
				break
			}
		}
	}

	return result
}

// findGroup returns the held group with the key; the caller holds r.mu
func (r *Resolver) findGroup(key string) *models.DuplicateGroup {
	for _, g := range r.groups {
		if g.Key == key {
			return g
		}
	}
	return nil
}

func copyGroups(groups []*models.DuplicateGroup) []*models.DuplicateGroup {
	out := make([]*models.DuplicateGroup, len(groups))
	for i, g := range groups {
		cp := *g
		cp.Items = append([]*models.MediaItem(nil), g.Items...)
		out[i] = &cp
	}
	return out
}
