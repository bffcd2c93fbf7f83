// Package storage persists the probe cycle journal.
package storage

import (
	"context"

	"github.com/gateway-fm/pingthing/pkg/types"
)

// Journal is the persistence interface for cycle outcomes.
type Journal interface {
	RecordCycle(ctx context.Context, outcome types.CycleOutcome) error

	// History queries
	ListCycles(ctx context.Context, filter ListFilter) (*PaginatedCycles, error)
	GetCycle(ctx context.Context, signature string) (*CycleRecord, error)
	CountByStatus(ctx context.Context) (map[types.CycleStatus]int, error)

	Close() error
}
