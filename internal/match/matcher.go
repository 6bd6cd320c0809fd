package match

import (
	"sort"

	"mediadedup/internal/models"
)

// Matcher is the interface for duplicate detection strategies
type Matcher interface {
	FindGroups(items []*models.MediaItem) []*models.DuplicateGroup
}

// buildGroups builds a DuplicateGroup slice from a key partition,
// dropping partitions with fewer than two members
func buildGroups(partition map[string][]*models.MediaItem, matchType models.MatchType) []*models.DuplicateGroup {
	var groups []*models.DuplicateGroup

	for key, items := range partition {
		if len(items) < 2 {
			continue
		}

		group := &models.DuplicateGroup{
			Key:       key,
			MatchType: matchType,
			Items:     orderItems(items),
		}
		groups = append(groups, group)
	}

	// Sort groups by key for consistent output
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].Key < groups[j].Key
	})

	return groups
}

// orderItems returns the items sorted by upload time ascending, so the
// earliest upload lands at index 0 (the canonical original). Equal
// timestamps fall back to ID order for determinism.
func orderItems(items []*models.MediaItem) []*models.MediaItem {
	sorted := make([]*models.MediaItem, len(items))
	copy(sorted, items)

	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.UploadedAt.Equal(b.UploadedAt) {
			return a.UploadedAt.Before(b.UploadedAt)
		}
		return a.ID < b.ID
	})

	return sorted
}

// pinOriginal moves the item with the given id to index 0, preserving
// the relative order of the rest. No-op when the id is not a member.
func pinOriginal(group *models.DuplicateGroup, itemID string) {
	idx := -1
	for i, it := range group.Items {
		if it.ID == itemID {
			idx = i
			break
		}
	}
	if idx <= 0 {
		return
	}

	pinned := group.Items[idx]
	copy(group.Items[1:idx+1], group.Items[:idx])
	group.Items[0] = pinned
}
