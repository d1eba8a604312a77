package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/rolechat/internal/domain"
	"github.com/ashureev/rolechat/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	recordMaxRetries = 3
	recordBaseDelay  = 50 * time.Millisecond
)

// ErrDuplicateCompletion is returned when a completion id is recorded twice.
var ErrDuplicateCompletion = errors.New("completion already recorded")

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // serializes writers to keep SQLITE_BUSY rare
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS completions (
		id TEXT PRIMARY KEY,
		request_id TEXT NOT NULL DEFAULT '',
		role_id INTEGER NOT NULL,
		role_label TEXT NOT NULL,
		turns_received INTEGER NOT NULL,
		turns_used INTEGER NOT NULL,
		temperature REAL NOT NULL,
		top_p REAL NOT NULL,
		chunks INTEGER NOT NULL,
		output_chars INTEGER NOT NULL,
		status TEXT NOT NULL,
		error TEXT,
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_completions_started ON completions(started_at);
	CREATE INDEX IF NOT EXISTS idx_completions_status ON completions(status);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// RecordCompletion stores a completion, retrying briefly with exponential
// backoff on SQLITE_BUSY.
func (s *SQLiteStore) RecordCompletion(ctx context.Context, c *domain.Completion) error {
	var err error
	for i := 0; i < recordMaxRetries; i++ {
		err = s.recordCompletionOnce(ctx, c)
		if err == nil {
			return nil
		}
		if shared.IsSQLiteConstraintError(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateCompletion, c.ID)
		}
		if !shared.IsSQLiteConflictError(err) || i == recordMaxRetries-1 {
			break
		}

		delay := recordBaseDelay * time.Duration(1<<i)
		slog.Debug("RecordCompletion hit a locked database, retrying",
			"completion_id", c.ID,
			"attempt", i+1,
			"delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("record completion %s: %w", c.ID, err)
}

func (s *SQLiteStore) recordCompletionOnce(ctx context.Context, c *domain.Completion) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	query := `
		INSERT INTO completions (
			id, request_id, role_id, role_label, turns_received, turns_used,
			temperature, top_p, chunks, output_chars, status, error,
			started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var errText interface{}
	if c.Error != "" {
		errText = c.Error
	}

	_, err := s.db.ExecContext(ctx, query,
		c.ID, c.RequestID, c.RoleID, c.RoleLabel, c.TurnsReceived, c.TurnsUsed,
		c.Temperature, c.TopP, c.Chunks, c.OutputChars, string(c.Status), errText,
		c.StartedAt.UnixMilli(), c.FinishedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert completion: %w", err)
	}
	return nil
}

// ListRecentCompletions returns up to limit completions, newest first.
func (s *SQLiteStore) ListRecentCompletions(ctx context.Context, limit int) ([]*domain.Completion, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, request_id, role_id, role_label, turns_received, turns_used,
		       temperature, top_p, chunks, output_chars, status, error,
		       started_at, finished_at
		FROM completions ORDER BY started_at DESC, id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query completions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close completion rows", "error", closeErr)
		}
	}()

	var out []*domain.Completion
	for rows.Next() {
		var c domain.Completion
		var status string
		var errText sql.NullString
		var startedAt, finishedAt int64

		if err := rows.Scan(
			&c.ID, &c.RequestID, &c.RoleID, &c.RoleLabel, &c.TurnsReceived, &c.TurnsUsed,
			&c.Temperature, &c.TopP, &c.Chunks, &c.OutputChars, &status, &errText,
			&startedAt, &finishedAt,
		); err != nil {
			return nil, fmt.Errorf("scan completion row: %w", err)
		}

		c.Status = domain.CompletionStatus(status)
		c.Error = errText.String
		c.StartedAt = time.UnixMilli(startedAt)
		c.FinishedAt = time.UnixMilli(finishedAt)
		out = append(out, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate completions: %w", err)
	}

	return out, nil
}

// DeleteCompletionsBefore removes completions that started before cutoff.
func (s *SQLiteStore) DeleteCompletionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	result, err := s.db.ExecContext(ctx, `DELETE FROM completions WHERE started_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("delete completions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// CompletionStats aggregates completions by status.
func (s *SQLiteStore) CompletionStats(ctx context.Context) (*domain.CompletionStats, error) {
	query := `SELECT status, COUNT(*) FROM completions GROUP BY status`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query completion stats: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close completion stats rows", "error", closeErr)
		}
	}()

	stats := &domain.CompletionStats{}
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan completion stats: %w", err)
		}
		stats.Total += n
		switch domain.CompletionStatus(status) {
		case domain.CompletionDone:
			stats.Done = n
		case domain.CompletionFailed:
			stats.Failed = n
		case domain.CompletionCancelled:
			stats.Cancelled = n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate completion stats: %w", err)
	}
	return stats, nil
}

// Ensure SQLiteStore implements Repository.
var _ Repository = (*SQLiteStore)(nil)
