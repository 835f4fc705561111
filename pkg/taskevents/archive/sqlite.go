package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteArchive persists failed-delivery records to SQLite.
// It is suitable for single-process production use.
type SQLiteArchive struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteArchive creates a new SQLite-backed archive.
// The path should be a file path (e.g., "./failed-deliveries.db") or
// ":memory:" for testing.
func NewSQLiteArchive(path string) (*SQLiteArchive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS failed_deliveries (
			emission_id TEXT NOT NULL PRIMARY KEY,
			event_type TEXT NOT NULL,
			payload BLOB,
			failures TEXT NOT NULL,
			first_failed_at TEXT NOT NULL,
			retries INTEGER NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_failed_deliveries_event_type
		ON failed_deliveries(event_type)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &SQLiteArchive{db: db}, nil
}

// Save implements Archive.
func (s *SQLiteArchive) Save(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	failures, err := json.Marshal(rec.Failures)
	if err != nil {
		return fmt.Errorf("encode failures: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO failed_deliveries (emission_id, event_type, payload, failures, first_failed_at, retries)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(emission_id) DO UPDATE SET
			event_type = excluded.event_type,
			payload = excluded.payload,
			failures = excluded.failures,
			first_failed_at = excluded.first_failed_at,
			retries = excluded.retries
	`, rec.EmissionID, rec.EventType, rec.Payload, string(failures),
		rec.FirstFailedAt.UTC().Format(time.RFC3339Nano), rec.Retries)

	if err != nil {
		return fmt.Errorf("save record: %w", err)
	}
	return nil
}

// Get implements Archive.
func (s *SQLiteArchive) Get(ctx context.Context, emissionID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT emission_id, event_type, payload, failures, first_failed_at, retries
		FROM failed_deliveries
		WHERE emission_id = ?
	`, emissionID)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load record: %w", err)
	}
	return rec, nil
}

// List implements Archive.
func (s *SQLiteArchive) List(ctx context.Context, limit int) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT emission_id, event_type, payload, failures, first_failed_at, retries
		FROM failed_deliveries
		ORDER BY first_failed_at
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

// Delete implements Archive.
func (s *SQLiteArchive) Delete(ctx context.Context, emissionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM failed_deliveries WHERE emission_id = ?
	`, emissionID)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}

	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Count implements Archive.
func (s *SQLiteArchive) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	var count int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM failed_deliveries
	`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return count, nil
}

// Close implements Archive.
func (s *SQLiteArchive) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var failures string
	var firstFailedAt string

	if err := row.Scan(&rec.EmissionID, &rec.EventType, &rec.Payload,
		&failures, &firstFailedAt, &rec.Retries); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(failures), &rec.Failures); err != nil {
		return nil, fmt.Errorf("decode failures: %w", err)
	}
	rec.FirstFailedAt, _ = time.Parse(time.RFC3339Nano, firstFailedAt)
	return &rec, nil
}
