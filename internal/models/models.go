package models

import "time"

// Kind distinguishes the two storage buckets the catalog manages.
// The grouping engine never branches on it; items of both kinds are
// compared uniformly.
type Kind string

const (
	KindPhoto Kind = "photo"
	KindFile  Kind = "file"
)

// Mode selects which matching rules a scan applies
type Mode string

const (
	ModeExact   Mode = "exact"
	ModeSimilar Mode = "similar"
	ModeAll     Mode = "all"
)

// Valid reports whether m is a known scan mode
func (m Mode) Valid() bool {
	switch m {
	case ModeExact, ModeSimilar, ModeAll:
		return true
	}
	return false
}

// NeedsHashing reports whether the mode requires content hashes
func (m Mode) NeedsHashing() bool {
	return m == ModeExact || m == ModeAll
}

// MatchType records which rule placed items in a group
type MatchType string

const (
	MatchExact   MatchType = "exact"
	MatchSimilar MatchType = "similar"
)

// SizeUnknown marks an item whose byte length could not be determined,
// not even by a backfill fetch. Such items never match anything.
const SizeUnknown int64 = -1

// MediaItem is one catalog entry under consideration
type MediaItem struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	Filename   string    `json:"filename"`
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"uploaded_at"`

	// ContentHash is the hex SHA-256 of the item's bytes. Empty until the
	// hashing phase computes it; stays empty when the scan mode skips
	// hashing or the item turned out to be unhashable.
	ContentHash string `json:"content_hash,omitempty"`
}

// DuplicateGroup is a set of items considered equivalent under one
// matching rule. Items[0] is the canonical original: it is excluded from
// bulk deletion and user-overridable via the resolver.
type DuplicateGroup struct {
	Key       string       `json:"key"`
	MatchType MatchType    `json:"match_type"`
	Items     []*MediaItem `json:"items"`
}

// Duplicates returns the non-canonical members
func (g *DuplicateGroup) Duplicates() []*MediaItem {
	if len(g.Items) < 2 {
		return nil
	}
	return g.Items[1:]
}

// WastedBytes returns the storage reclaimable by removing every
// non-canonical member
func (g *DuplicateGroup) WastedBytes() int64 {
	var total int64
	for _, it := range g.Duplicates() {
		if it.Size > 0 {
			total += it.Size
		}
	}
	return total
}

// Contains reports whether the group holds the item
func (g *DuplicateGroup) Contains(itemID string) bool {
	for _, it := range g.Items {
		if it.ID == itemID {
			return true
		}
	}
	return false
}

// ScanStats aggregates a completed scan's findings
type ScanStats struct {
	TotalItems          int   `json:"total_items"`
	TotalGroups         int   `json:"total_groups"`
	ExactGroups         int   `json:"exact_groups"`
	SimilarGroups       int   `json:"similar_groups"`
	TotalDuplicateCount int   `json:"total_duplicate_count"`
	TotalDuplicateSize  int64 `json:"total_duplicate_size"`
}
