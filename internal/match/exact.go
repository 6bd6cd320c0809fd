package match

import "mediadedup/internal/models"

// ExactMatcher finds groups of items with identical content hashes
type ExactMatcher struct{}

// NewExactMatcher creates a new ExactMatcher
func NewExactMatcher() *ExactMatcher {
	return &ExactMatcher{}
}

// FindGroups finds groups of items with identical content hashes.
// Items without a hash (unhashable, or hashing skipped) never match.
func (m *ExactMatcher) FindGroups(items []*models.MediaItem) []*models.DuplicateGroup {
	if len(items) < 2 {
		return nil
	}

	partition := make(map[string][]*models.MediaItem)
	for _, it := range items {
		if it.ContentHash != "" {
			partition[it.ContentHash] = append(partition[it.ContentHash], it)
		}
	}

	return buildGroups(partition, models.MatchExact)
}
