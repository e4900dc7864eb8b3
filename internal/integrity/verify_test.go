package integrity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trialware/diarysync/internal/common"
	"github.com/trialware/diarysync/internal/event"
)

// buildChain assembles a valid n-event chain the way the server does on
// acceptance.
func buildChain(t *testing.T, n int, alg string) []*event.Event {
	t.Helper()
	prev := GenesisHash
	out := make([]*event.Event, 0, n)
	for i := 1; i <= n; i++ {
		ts := time.Date(2026, 3, 14, 9, 0, i, 0, time.UTC)
		e := &event.Event{
			EventID:         "6f1c1a2e-0000-4000-8000-00000000000" + string(rune('0'+i)),
			AggregateID:     "rec-100",
			Type:            event.TypeEntryCreated,
			SchemaVersion:   2,
			Payload:         []byte(`{"entry_date":"2026-03-14","symptom":"headache","severity":6}`),
			DeviceUUID:      "6f1c1a2e-0000-4000-8000-00000000000d",
			ActorID:         "patient-1",
			ActorRole:       event.RolePatient,
			ClientTimestamp: ts,
			Sequence:        int64(i),
			ServerTimestamp: &ts,
			PrevHash:        prev,
			HashAlg:         alg,
		}
		hash, err := Compute(e, prev)
		require.NoError(t, err)
		e.Hash = hash
		prev = hash
		out = append(out, e)
	}
	return out
}

func TestVerifyChain_ValidChain(t *testing.T) {
	chain := buildChain(t, 4, DefaultAlgorithm)
	report := VerifyChain("rec-100", chain)

	assert.True(t, report.OK())
	assert.Equal(t, 4, report.Checked)
	assert.NoError(t, report.Err())
}

func TestVerifyChain_EmptyChainIsValid(t *testing.T) {
	report := VerifyChain("rec-100", nil)
	assert.True(t, report.OK())
	assert.Zero(t, report.Checked)
}

func TestVerifyChain_DetectsPayloadTamper(t *testing.T) {
	chain := buildChain(t, 3, DefaultAlgorithm)
	chain[1].Payload = []byte(`{"entry_date":"2026-03-14","symptom":"headache","severity":9}`)

	report := VerifyChain("rec-100", chain)
	require.False(t, report.OK())
	assert.Equal(t, int64(2), report.Mismatch.Sequence)
	assert.ErrorIs(t, report.Err(), common.ErrIntegrity)
}

func TestVerifyChain_DetectsBrokenLink(t *testing.T) {
	chain := buildChain(t, 3, DefaultAlgorithm)
	chain[2].PrevHash = chain[0].Hash

	report := VerifyChain("rec-100", chain)
	require.False(t, report.OK())
	assert.Equal(t, int64(3), report.Mismatch.Sequence)
}

func TestVerifyChain_DetectsSequenceGap(t *testing.T) {
	chain := buildChain(t, 3, DefaultAlgorithm)
	gapped := []*event.Event{chain[0], chain[2]}

	report := VerifyChain("rec-100", gapped)
	require.False(t, report.OK())
	assert.Equal(t, int64(3), report.Mismatch.Sequence)
}

func TestVerifyChain_MixedAlgorithms(t *testing.T) {
	// Events written before a hash rotation keep verifying under their
	// original algorithm tag.
	chain := buildChain(t, 2, DefaultAlgorithm)

	prev := chain[1].Hash
	ts := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	e := &event.Event{
		EventID:         "6f1c1a2e-0000-4000-8000-0000000000aa",
		AggregateID:     "rec-100",
		Type:            event.TypeEntryAmended,
		SchemaVersion:   1,
		Payload:         []byte(`{"severity":4,"reason":"corrected"}`),
		DeviceUUID:      "6f1c1a2e-0000-4000-8000-00000000000d",
		ActorID:         "patient-1",
		ActorRole:       event.RolePatient,
		ClientTimestamp: ts,
		Sequence:        3,
		ServerTimestamp: &ts,
		PrevHash:        prev,
		HashAlg:         "blake2b-256",
	}
	hash, err := Compute(e, prev)
	require.NoError(t, err)
	e.Hash = hash

	report := VerifyChain("rec-100", append(chain, e))
	assert.True(t, report.OK())
}

func TestChainHash_UnknownAlgorithm(t *testing.T) {
	_, err := ChainHash("md5", GenesisHash, []byte("x"))
	assert.ErrorIs(t, err, common.ErrValidation)
}
