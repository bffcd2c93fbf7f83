package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gateway-fm/pingthing/pkg/types"
)

func TestNullInt64(t *testing.T) {
	tests := []struct {
		name      string
		input     int64
		wantValid bool
		wantValue int64
	}{
		{
			name:      "zero returns invalid",
			input:     0,
			wantValid: false,
			wantValue: 0,
		},
		{
			name:      "positive value returns valid",
			input:     123,
			wantValid: true,
			wantValue: 123,
		},
		{
			name:      "negative value returns valid",
			input:     -456,
			wantValid: true,
			wantValue: -456,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := nullInt64(tt.input)
			if got.Valid != tt.wantValid {
				t.Errorf("nullInt64(%d).Valid = %v, want %v", tt.input, got.Valid, tt.wantValid)
			}
			if got.Valid && got.Int64 != tt.wantValue {
				t.Errorf("nullInt64(%d).Int64 = %d, want %d", tt.input, got.Int64, tt.wantValue)
			}
		})
	}
}

func TestNullString(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantValid bool
		wantValue string
	}{
		{
			name:      "empty string returns invalid",
			input:     "",
			wantValid: false,
			wantValue: "",
		},
		{
			name:      "non-empty string returns valid",
			input:     "hello",
			wantValid: true,
			wantValue: "hello",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := nullString(tt.input)
			if got.Valid != tt.wantValid {
				t.Errorf("nullString(%q).Valid = %v, want %v", tt.input, got.Valid, tt.wantValid)
			}
			if got.Valid && got.String != tt.wantValue {
				t.Errorf("nullString(%q).String = %q, want %q", tt.input, got.String, tt.wantValue)
			}
		})
	}
}

// createTestStorage creates a new SQLite storage with a temporary database.
func createTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "journal.db")
	storage, err := NewSQLiteStorage(dbPath)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { storage.Close() })

	return storage
}

func TestNewSQLiteStorage_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "journal.db")
	storage, err := NewSQLiteStorage(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStorage failed: %v", err)
	}
	defer storage.Close()

	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("expected database file to exist: %v", err)
	}
}

func TestNewSQLiteStorage_InvalidPath(t *testing.T) {
	_, err := NewSQLiteStorage("/nonexistent/directory/that/should/not/exist/journal.db")
	if err == nil {
		t.Error("expected error for invalid path")
	}
}

func TestRecordAndGetCycle(t *testing.T) {
	storage := createTestStorage(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	outcome := types.CycleOutcome{
		Status:      types.CycleConfirmed,
		Signature:   "sigA",
		SlotSent:    1000,
		SlotLanded:  1003,
		PriorityFee: 5000,
		Sends:       1,
		TimeMs:      1400,
		StartedAt:   started,
		FinishedAt:  started.Add(1500 * time.Millisecond),
	}
	if err := storage.RecordCycle(ctx, outcome); err != nil {
		t.Fatalf("RecordCycle failed: %v", err)
	}

	got, err := storage.GetCycle(ctx, "sigA")
	if err != nil {
		t.Fatalf("GetCycle failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected cycle, got nil")
	}

	if got.ID == 0 {
		t.Error("expected non-zero ID")
	}
	if got.Status != outcome.Status {
		t.Errorf("Status = %q, want %q", got.Status, outcome.Status)
	}
	if got.SlotSent != 1000 || got.SlotLanded != 1003 {
		t.Errorf("slots = %d/%d, want 1000/1003", got.SlotSent, got.SlotLanded)
	}
	if got.PriorityFee != 5000 {
		t.Errorf("PriorityFee = %d, want 5000", got.PriorityFee)
	}
	if got.TimeMs != 1400 {
		t.Errorf("TimeMs = %d, want 1400", got.TimeMs)
	}
	if !got.StartedAt.Equal(outcome.StartedAt) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, outcome.StartedAt)
	}
	if !got.FinishedAt.Equal(outcome.FinishedAt) {
		t.Errorf("FinishedAt = %v, want %v", got.FinishedAt, outcome.FinishedAt)
	}
}

func TestGetCycle_NotFound(t *testing.T) {
	storage := createTestStorage(t)

	got, err := storage.GetCycle(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetCycle failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for unknown signature, got %+v", got)
	}
}

func TestRecordSkippedCycle(t *testing.T) {
	storage := createTestStorage(t)
	ctx := context.Background()
	now := time.Now()

	err := storage.RecordCycle(ctx, types.CycleOutcome{
		Status:     types.CycleSkipped,
		Reason:     "blockhash or slot not available",
		StartedAt:  now,
		FinishedAt: now,
	})
	if err != nil {
		t.Fatalf("RecordCycle failed: %v", err)
	}

	page, err := storage.ListCycles(ctx, ListFilter{})
	if err != nil {
		t.Fatalf("ListCycles failed: %v", err)
	}
	if len(page.Cycles) != 1 {
		t.Fatalf("expected 1 cycle, got %d", len(page.Cycles))
	}
	rec := page.Cycles[0]
	if rec.Signature != "" || rec.SlotSent != 0 {
		t.Errorf("expected empty signature and slot, got %q/%d", rec.Signature, rec.SlotSent)
	}
	if rec.Reason != "blockhash or slot not available" {
		t.Errorf("Reason = %q", rec.Reason)
	}
}

func TestListCycles(t *testing.T) {
	storage := createTestStorage(t)
	ctx := context.Background()
	now := time.Now()

	statuses := []types.CycleStatus{
		types.CycleConfirmed,
		types.CycleTimedOut,
		types.CycleConfirmed,
		types.CycleFailed,
		types.CycleConfirmed,
	}
	for i, st := range statuses {
		err := storage.RecordCycle(ctx, types.CycleOutcome{
			Status:     st,
			Signature:  "sig" + string(rune('A'+i)),
			SlotSent:   uint64(100 + i),
			Sends:      1,
			StartedAt:  now,
			FinishedAt: now,
		})
		if err != nil {
			t.Fatalf("RecordCycle failed: %v", err)
		}
	}

	tests := []struct {
		name      string
		filter    ListFilter
		wantTotal int
		wantSigs  []string
		wantLimit int
	}{
		{
			name:      "all newest first",
			filter:    ListFilter{},
			wantTotal: 5,
			wantSigs:  []string{"sigE", "sigD", "sigC", "sigB", "sigA"},
			wantLimit: DefaultListLimit,
		},
		{
			name:      "paged",
			filter:    ListFilter{Limit: 2, Offset: 1},
			wantTotal: 5,
			wantSigs:  []string{"sigD", "sigC"},
			wantLimit: 2,
		},
		{
			name:      "by status",
			filter:    ListFilter{Status: types.CycleConfirmed},
			wantTotal: 3,
			wantSigs:  []string{"sigE", "sigC", "sigA"},
			wantLimit: DefaultListLimit,
		},
		{
			name:      "limit clamped",
			filter:    ListFilter{Limit: MaxListLimit + 1, Status: types.CycleFailed},
			wantTotal: 1,
			wantSigs:  []string{"sigD"},
			wantLimit: MaxListLimit,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := storage.ListCycles(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListCycles failed: %v", err)
			}
			if page.Total != tt.wantTotal {
				t.Errorf("Total = %d, want %d", page.Total, tt.wantTotal)
			}
			if page.Limit != tt.wantLimit {
				t.Errorf("Limit = %d, want %d", page.Limit, tt.wantLimit)
			}
			if len(page.Cycles) != len(tt.wantSigs) {
				t.Fatalf("got %d cycles, want %d", len(page.Cycles), len(tt.wantSigs))
			}
			for i, want := range tt.wantSigs {
				if page.Cycles[i].Signature != want {
					t.Errorf("cycle %d signature = %q, want %q", i, page.Cycles[i].Signature, want)
				}
			}
		})
	}
}

func TestCountByStatus(t *testing.T) {
	storage := createTestStorage(t)
	ctx := context.Background()
	now := time.Now()

	for _, st := range []types.CycleStatus{types.CycleConfirmed, types.CycleConfirmed, types.CycleAnomaly} {
		if err := storage.RecordCycle(ctx, types.CycleOutcome{Status: st, StartedAt: now, FinishedAt: now}); err != nil {
			t.Fatalf("RecordCycle failed: %v", err)
		}
	}

	counts, err := storage.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("CountByStatus failed: %v", err)
	}
	if counts[types.CycleConfirmed] != 2 || counts[types.CycleAnomaly] != 1 {
		t.Errorf("unexpected counts: %v", counts)
	}
	if _, ok := counts[types.CycleTimedOut]; ok {
		t.Error("expected no timeout entry")
	}
}

func TestReopenKeepsJournal(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "journal.db")
	ctx := context.Background()
	now := time.Now()

	first, err := NewSQLiteStorage(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStorage failed: %v", err)
	}
	if err := first.RecordCycle(ctx, types.CycleOutcome{Status: types.CycleTimedOut, Signature: "sigA", StartedAt: now, FinishedAt: now}); err != nil {
		t.Fatalf("RecordCycle failed: %v", err)
	}
	first.Close()

	second, err := NewSQLiteStorage(dbPath)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer second.Close()

	got, err := second.GetCycle(ctx, "sigA")
	if err != nil || got == nil {
		t.Fatalf("expected journaled cycle after reopen, got %v, %v", got, err)
	}
}
