package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ashureev/rolechat/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPruneCompletions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond)

	require.NoError(t, s.RecordCompletion(ctx, completion("old", domain.CompletionDone, now.Add(-48*time.Hour))))
	require.NoError(t, s.RecordCompletion(ctx, completion("new", domain.CompletionDone, now.Add(-time.Hour))))

	deleted := PruneCompletions(ctx, s, 24*time.Hour, func() time.Time { return now })
	assert.Equal(t, int64(1), deleted)

	rest, err := s.ListRecentCompletions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "new", rest[0].ID)
}

type lockedRepo struct {
	Repository
	calls int
	fails int
}

func (r *lockedRepo) DeleteCompletionsBefore(context.Context, time.Time) (int64, error) {
	r.calls++
	if r.calls <= r.fails {
		return 0, errors.New("database is locked (5) (SQLITE_BUSY)")
	}
	return 2, nil
}

func TestPruneCompletionsRetriesOnLock(t *testing.T) {
	repo := &lockedRepo{fails: 1}
	deleted := PruneCompletions(context.Background(), repo, time.Hour, time.Now)
	assert.Equal(t, int64(2), deleted)
	assert.Equal(t, 2, repo.calls)
}

func TestPruneCompletionsGivesUp(t *testing.T) {
	repo := &lockedRepo{fails: 10}
	deleted := PruneCompletions(context.Background(), repo, time.Hour, time.Now)
	assert.Zero(t, deleted)
	assert.Equal(t, pruneMaxRetries, repo.calls)
}
