package services

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trialware/diarysync/internal/client/client"
	"github.com/trialware/diarysync/internal/client/repositories/metadata"
	"github.com/trialware/diarysync/internal/conflict"
	"github.com/trialware/diarysync/internal/event"
	"github.com/trialware/diarysync/internal/integrity"
)

func newSweeper(t *testing.T) (*Sweeper, *client.Repositories, *recordingNotifier) {
	t.Helper()
	repos, err := client.InitDatabase(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repos.DB.Close() })
	notifier := &recordingNotifier{}
	return NewSweeper(repos, notifier, testLogger()), repos, notifier
}

// appendChain stores a confirmed chain with genuinely computed hashes,
// optionally corrupting the link of one sequence.
func appendChain(t *testing.T, repos *client.Repositories, aggregateID string, length int, breakAt int64) {
	t.Helper()
	ctx := context.Background()
	prev := integrity.GenesisHash
	now := time.Now().UTC()

	for seq := int64(1); seq <= int64(length); seq++ {
		e := &event.Event{
			EventID:         uuid.NewString(),
			AggregateID:     aggregateID,
			Type:            event.TypeEntryCreated,
			SchemaVersion:   2,
			Payload:         json.RawMessage(`{"entry_date":"2026-03-01","symptom":"headache","severity":4,"notes":""}`),
			DeviceUUID:      uuid.NewString(),
			ActorID:         "patient-001",
			ActorRole:       event.RolePatient,
			ClientTimestamp: now,
			Sequence:        seq,
			ServerTimestamp: &now,
			PrevHash:        prev,
			HashAlg:         integrity.DefaultAlgorithm,
		}
		if seq > 1 {
			e.Type = event.TypeAnnotationAdded
			e.SchemaVersion = 1
			e.Payload = json.RawMessage(`{"text":"note"}`)
		}
		hash, err := integrity.Compute(e, prev)
		require.NoError(t, err)
		e.Hash = hash
		if seq == breakAt {
			e.Hash = "deadbeef" + hash[8:]
		}
		require.NoError(t, repos.Events.Append(ctx, e))
		prev = e.Hash
	}
}

func TestSweepOne_IntactChain(t *testing.T) {
	t.Parallel()

	sweeper, repos, notifier := newSweeper(t)
	appendChain(t, repos, "rec-1", 3, 0)

	report, err := sweeper.SweepOne(context.Background(), "rec-1")
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Equal(t, 3, report.Checked)
	assert.Equal(t, 0, notifier.count())
}

func TestSweepOne_TamperedChainFreezesAggregate(t *testing.T) {
	t.Parallel()

	sweeper, repos, notifier := newSweeper(t)
	ctx := context.Background()
	appendChain(t, repos, "rec-1", 3, 2)

	report, err := sweeper.SweepOne(ctx, "rec-1")
	require.NoError(t, err)
	require.False(t, report.OK())
	assert.Equal(t, int64(2), report.Mismatch.Sequence)

	recs, err := repos.Conflicts.ForAggregate(ctx, "rec-1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, conflict.LockedMismatch, recs[0].Classification)
	assert.Equal(t, conflict.ActionIntegrityAlerted, recs[0].Action)
	assert.NotEmpty(t, recs[0].Detail)

	hold, err := repos.Metadata.Get(ctx, metadata.KeyReviewHoldPrefix+"rec-1")
	require.NoError(t, err)
	assert.Equal(t, []byte(recs[0].ID), hold)
	assert.Equal(t, 1, notifier.count())
}

func TestSweepAll_ReportsOnlyFailures(t *testing.T) {
	t.Parallel()

	sweeper, repos, _ := newSweeper(t)
	appendChain(t, repos, "rec-good", 2, 0)
	appendChain(t, repos, "rec-bad", 2, 1)

	failed, err := sweeper.SweepAll(context.Background())
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "rec-bad", failed[0].AggregateID)
}

func TestSweepAll_EmptyStore(t *testing.T) {
	t.Parallel()

	sweeper, _, _ := newSweeper(t)

	failed, err := sweeper.SweepAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, failed)
}
