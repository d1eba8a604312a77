// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/rolechat/internal/domain"
)

// Repository persists generation session metadata.
type Repository interface {
	// RecordCompletion stores the outcome of one generation session.
	RecordCompletion(ctx context.Context, c *domain.Completion) error

	// ListRecentCompletions returns up to limit sessions, newest first.
	ListRecentCompletions(ctx context.Context, limit int) ([]*domain.Completion, error)

	// DeleteCompletionsBefore removes sessions that started before cutoff and
	// returns how many were deleted.
	DeleteCompletionsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// CompletionStats aggregates recorded sessions by status.
	CompletionStats(ctx context.Context) (*domain.CompletionStats, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
