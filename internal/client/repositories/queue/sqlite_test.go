package queue_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trialware/diarysync/internal/client/client"
)

func newTestQueue(t *testing.T) *client.Repositories {
	t.Helper()
	repos, err := client.InitDatabase(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repos.DB.Close() })
	return repos
}

func TestDue_FIFOOrder(t *testing.T) {
	t.Parallel()

	repos := newTestQueue(t)
	ctx := context.Background()
	now := time.Now().UTC()

	ids := []string{uuid.NewString(), uuid.NewString(), uuid.NewString()}
	require.NoError(t, repos.Queue.Enqueue(ctx, ids[0], "rec-1", now))
	require.NoError(t, repos.Queue.Enqueue(ctx, ids[1], "rec-2", now))
	require.NoError(t, repos.Queue.Enqueue(ctx, ids[2], "rec-1", now))

	due, err := repos.Queue.Due(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 3)
	for i, entry := range due {
		assert.Equal(t, ids[i], entry.EventID)
	}
	assert.Less(t, due[0].Position, due[1].Position)
	assert.Less(t, due[1].Position, due[2].Position)
}

func TestDue_RespectsRetrySchedule(t *testing.T) {
	t.Parallel()

	repos := newTestQueue(t)
	ctx := context.Background()
	now := time.Now().UTC()

	ready := uuid.NewString()
	backedOff := uuid.NewString()
	require.NoError(t, repos.Queue.Enqueue(ctx, ready, "rec-1", now))
	require.NoError(t, repos.Queue.Enqueue(ctx, backedOff, "rec-1", now))
	require.NoError(t, repos.Queue.MarkFailed(ctx, backedOff, 1, now.Add(time.Minute)))

	due, err := repos.Queue.Due(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, ready, due[0].EventID)

	// Once the retry time passes the entry is eligible again.
	due, err = repos.Queue.Due(ctx, now.Add(2*time.Minute))
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, 1, due[1].AttemptCount)
}

func TestDue_ExcludesSendingEntries(t *testing.T) {
	t.Parallel()

	repos := newTestQueue(t)
	ctx := context.Background()
	now := time.Now().UTC()

	inFlight := uuid.NewString()
	waiting := uuid.NewString()
	require.NoError(t, repos.Queue.Enqueue(ctx, inFlight, "rec-1", now))
	require.NoError(t, repos.Queue.Enqueue(ctx, waiting, "rec-1", now))
	require.NoError(t, repos.Queue.MarkSending(ctx, inFlight))

	due, err := repos.Queue.Due(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, waiting, due[0].EventID)

	// A failed attempt returns the entry to the pending pool.
	require.NoError(t, repos.Queue.MarkFailed(ctx, inFlight, 1, now.Add(-time.Second)))
	due, err = repos.Queue.Due(ctx, now)
	require.NoError(t, err)
	assert.Len(t, due, 2)
}

func TestRecover_ReturnsSendingToPending(t *testing.T) {
	t.Parallel()

	repos := newTestQueue(t)
	ctx := context.Background()
	now := time.Now().UTC()

	stuck := uuid.NewString()
	untouched := uuid.NewString()
	require.NoError(t, repos.Queue.Enqueue(ctx, stuck, "rec-1", now))
	require.NoError(t, repos.Queue.Enqueue(ctx, untouched, "rec-2", now))
	require.NoError(t, repos.Queue.MarkSending(ctx, stuck))

	// The stuck entry is invisible however far ahead we look.
	due, err := repos.Queue.Due(ctx, now.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, untouched, due[0].EventID)

	require.NoError(t, repos.Queue.Recover(ctx))

	due, err = repos.Queue.Due(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, stuck, due[0].EventID)
	assert.Equal(t, 0, due[0].AttemptCount)
}

func TestRemove_OnlyExitPath(t *testing.T) {
	t.Parallel()

	repos := newTestQueue(t)
	ctx := context.Background()
	now := time.Now().UTC()

	id := uuid.NewString()
	require.NoError(t, repos.Queue.Enqueue(ctx, id, "rec-1", now))

	n, err := repos.Queue.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, repos.Queue.Remove(ctx, id))

	n, err = repos.Queue.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	due, err := repos.Queue.Due(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestHasPending(t *testing.T) {
	t.Parallel()

	repos := newTestQueue(t)
	ctx := context.Background()
	now := time.Now().UTC()

	ok, err := repos.Queue.HasPending(ctx, "rec-1")
	require.NoError(t, err)
	assert.False(t, ok)

	id := uuid.NewString()
	require.NoError(t, repos.Queue.Enqueue(ctx, id, "rec-1", now))

	ok, err = repos.Queue.HasPending(ctx, "rec-1")
	require.NoError(t, err)
	assert.True(t, ok)

	// Sending entries still count as unacknowledged work.
	require.NoError(t, repos.Queue.MarkSending(ctx, id))
	ok, err = repos.Queue.HasPending(ctx, "rec-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repos.Queue.HasPending(ctx, "rec-2")
	require.NoError(t, err)
	assert.False(t, ok)
}
