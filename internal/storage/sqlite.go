package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/gateway-fm/pingthing/pkg/types"
)

// SQLiteStorage implements Journal using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

var _ Journal = (*SQLiteStorage)(nil)

// NewSQLiteStorage opens (creating if needed) the journal at dbPath.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// WAL lets the status API read while the engine appends.
	dsn := fmt.Sprintf("%s?_journal=WAL&_sync=NORMAL&_busy_timeout=5000", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLiteStorage{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

func (s *SQLiteStorage) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS probe_cycles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		status TEXT NOT NULL,
		signature TEXT,
		slot_sent INTEGER,
		slot_landed INTEGER,
		priority_fee INTEGER DEFAULT 0,
		sends INTEGER DEFAULT 0,
		time_ms INTEGER,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL,
		reason TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_probe_cycles_signature ON probe_cycles(signature);
	CREATE INDEX IF NOT EXISTS idx_probe_cycles_status ON probe_cycles(status, id DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// RecordCycle appends one outcome.
func (s *SQLiteStorage) RecordCycle(ctx context.Context, o types.CycleOutcome) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO probe_cycles (status, signature, slot_sent, slot_landed, priority_fee, sends, time_ms, started_at, finished_at, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, string(o.Status), nullString(o.Signature), nullInt64(int64(o.SlotSent)), nullInt64(int64(o.SlotLanded)),
		int64(o.PriorityFee), o.Sends, nullInt64(o.TimeMs), o.StartedAt.UTC(), o.FinishedAt.UTC(), nullString(o.Reason))
	if err != nil {
		return fmt.Errorf("insert cycle: %w", err)
	}
	return nil
}

const cycleColumns = `id, status, signature, slot_sent, slot_landed, priority_fee, sends, time_ms, started_at, finished_at, reason`

// ListCycles returns a page of cycles, newest first.
func (s *SQLiteStorage) ListCycles(ctx context.Context, filter ListFilter) (*PaginatedCycles, error) {
	filter = filter.normalize()

	var where []string
	var args []any
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	clause := ""
	if len(where) > 0 {
		clause = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM probe_cycles "+clause, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count cycles: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+cycleColumns+" FROM probe_cycles "+clause+" ORDER BY id DESC LIMIT ? OFFSET ?",
		append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("list cycles: %w", err)
	}
	defer rows.Close()

	cycles := make([]CycleRecord, 0, filter.Limit)
	for rows.Next() {
		rec, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		cycles = append(cycles, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &PaginatedCycles{
		Cycles: cycles,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, nil
}

// GetCycle returns the latest cycle for signature, or nil if none exists.
func (s *SQLiteStorage) GetCycle(ctx context.Context, signature string) (*CycleRecord, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+cycleColumns+" FROM probe_cycles WHERE signature = ? ORDER BY id DESC LIMIT 1", signature)

	rec, err := scanCycle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// CountByStatus returns the number of journaled cycles per status.
func (s *SQLiteStorage) CountByStatus(ctx context.Context) (map[types.CycleStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM probe_cycles GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[types.CycleStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[types.CycleStatus(status)] = n
	}
	return counts, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCycle(row scanner) (*CycleRecord, error) {
	var rec CycleRecord
	var status string
	var signature, reason sql.NullString
	var slotSent, slotLanded, timeMs sql.NullInt64
	var fee int64

	err := row.Scan(&rec.ID, &status, &signature, &slotSent, &slotLanded, &fee,
		&rec.Sends, &timeMs, &rec.StartedAt, &rec.FinishedAt, &reason)
	if err != nil {
		return nil, err
	}

	rec.Status = types.CycleStatus(status)
	rec.Signature = signature.String
	rec.SlotSent = uint64(slotSent.Int64)
	rec.SlotLanded = uint64(slotLanded.Int64)
	rec.PriorityFee = uint64(fee)
	rec.TimeMs = timeMs.Int64
	rec.Reason = reason.String
	return &rec, nil
}

func nullInt64(v int64) sql.NullInt64 {
	if v == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: v, Valid: true}
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}
