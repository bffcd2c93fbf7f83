package storage

import "github.com/gateway-fm/pingthing/pkg/types"

// Pagination bounds for ListCycles.
const (
	DefaultListLimit = 50
	MaxListLimit     = 1000
)

// CycleRecord is a journaled cycle outcome.
type CycleRecord struct {
	ID int64 `json:"id"`
	types.CycleOutcome
}

// ListFilter selects a page of the journal, newest first.
type ListFilter struct {
	Limit  int
	Offset int
	Status types.CycleStatus // empty matches all
}

// normalize clamps the page bounds.
func (f ListFilter) normalize() ListFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// PaginatedCycles represents a page of journal records.
type PaginatedCycles struct {
	Cycles []CycleRecord `json:"cycles"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}
