package match

import (
	"fmt"
	"path/filepath"
	"strings"

	"mediadedup/internal/models"
)

// SimilarMatcher finds groups of items that share a normalized filename
// stem and an identical byte size. This is a heuristic: content identity
// is not confirmed, so groups it produces carry models.MatchSimilar.
type SimilarMatcher struct{}

// NewSimilarMatcher creates a new SimilarMatcher
func NewSimilarMatcher() *SimilarMatcher {
	return &SimilarMatcher{}
}

// FindGroups partitions items by (normalized stem, size). Items with an
// unknown size never match: equal size is half the criterion.
func (m *SimilarMatcher) FindGroups(items []*models.MediaItem) []*models.DuplicateGroup {
	if len(items) < 2 {
		return nil
	}

	partition := make(map[string][]*models.MediaItem)
	for _, it := range items {
		if it.Size < 0 {
			continue
		}
		stem := NormalizeStem(it.Filename)
		if stem == "" {
			continue
		}
		key := fmt.Sprintf("%s/%d", stem, it.Size)
		partition[key] = append(partition[key], it)
	}

	return buildGroups(partition, models.MatchSimilar)
}

// NormalizeStem reduces a display filename to its comparable stem:
// the numeric upload-time prefix is stripped, the extension dropped and
// the rest case-folded. "1700-Vacation.JPG" and "1701_vacation.jpg"
// both normalize to "vacation".
func NormalizeStem(filename string) string {
	name := filepath.Base(filename)
	name = strings.TrimSuffix(name, filepath.Ext(name))

	// Strip a leading upload-timestamp prefix: digits followed by a
	// separator. A purely numeric name keeps its digits.
	trimmed := strings.TrimLeft(name, "0123456789")
	if trimmed != name && (strings.HasPrefix(trimmed, "-") || strings.HasPrefix(trimmed, "_")) {
		name = trimmed[1:]
	}

	return strings.ToLower(strings.TrimSpace(name))
}
