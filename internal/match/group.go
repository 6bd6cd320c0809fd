package match

import (
	"sort"

	"mediadedup/internal/models"
)

// Pins maps a group key to the item id the user chose to keep as the
// canonical original. Pins survive rescans within one session: the
// resolver hands its pin set back to the next grouping pass.
type Pins map[string]string

// Group partitions the scanned items into duplicate groups under the
// rules the mode selects, applies canonical-original ordering and pin
// overrides, and computes aggregate statistics. It is pure and
// single-threaded; the result is deterministic for a given input set
// regardless of the order items arrive in.
func Group(items []*models.MediaItem, mode models.Mode, pins Pins) ([]*models.DuplicateGroup, models.ScanStats) {
	a := NewAnalyzer(mode, pins)
	for _, it := range items {
		a.Add(it)
	}
	return a.Finish()
}

// Analyzer accumulates scanned items one at a time and produces the
// duplicate group set at Finish. Feeding items individually lets the
// scan pipeline interleave progress and cancellation checks with the
// analysis; Group is the all-at-once convenience wrapper.
type Analyzer struct {
	mode   models.Mode
	pins   Pins
	items  []*models.MediaItem
	byHash map[string][]*models.MediaItem
}

// NewAnalyzer creates an Analyzer for the given mode and pin overrides
func NewAnalyzer(mode models.Mode, pins Pins) *Analyzer {
	return &Analyzer{
		mode:   mode,
		pins:   pins,
		byHash: make(map[string][]*models.MediaItem),
	}
}

// Add feeds one item into the analysis. Items with a content hash are
// partitioned immediately; unhashed items wait for the similarity pass.
func (a *Analyzer) Add(it *models.MediaItem) {
	a.items = append(a.items, it)
	if a.mode != models.ModeSimilar && it.ContentHash != "" {
		a.byHash[it.ContentHash] = append(a.byHash[it.ContentHash], it)
	}
}

// Finish builds the group set from everything added so far
func (a *Analyzer) Finish() ([]*models.DuplicateGroup, models.ScanStats) {
	var groups []*models.DuplicateGroup

	placed := make(map[string]bool)
	if a.mode == models.ModeExact || a.mode == models.ModeAll {
		for _, g := range buildGroups(a.byHash, models.MatchExact) {
			groups = append(groups, g)
			for _, it := range g.Items {
				placed[it.ID] = true
			}
		}
	}

	if a.mode == models.ModeSimilar || a.mode == models.ModeAll {
		// Only items not already claimed by an exact group take part in
		// similarity matching. In similar mode that is every item, since
		// hashing was skipped; in all mode it includes unhashable items.
		remaining := a.items
		if len(placed) > 0 {
			remaining = make([]*models.MediaItem, 0, len(a.items))
			for _, it := range a.items {
				if !placed[it.ID] {
					remaining = append(remaining, it)
				}
			}
		}
		groups = append(groups, NewSimilarMatcher().FindGroups(remaining)...)
	}

	for _, g := range groups {
		if id, ok := a.pins[g.Key]; ok {
			pinOriginal(g, id)
		}
	}

	// Exact groups first, then similar, key order within each
	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].MatchType != groups[j].MatchType {
			return groups[i].MatchType == models.MatchExact
		}
		return groups[i].Key < groups[j].Key
	})

	return groups, Stats(a.items, groups)
}

// Stats computes the aggregate savings statistics for a group set
func Stats(items []*models.MediaItem, groups []*models.DuplicateGroup) models.ScanStats {
	stats := models.ScanStats{
		TotalItems:  len(items),
		TotalGroups: len(groups),
	}
	for _, g := range groups {
		switch g.MatchType {
		case models.MatchExact:
			stats.ExactGroups++
		case models.MatchSimilar:
			stats.SimilarGroups++
		}
		stats.TotalDuplicateCount += len(g.Items) - 1
		stats.TotalDuplicateSize += g.WastedBytes()
	}
	return stats
}
