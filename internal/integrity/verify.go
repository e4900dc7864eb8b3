package integrity

import (
	"fmt"

	"github.com/trialware/diarysync/internal/common"
	"github.com/trialware/diarysync/internal/event"
)

// Mismatch describes the first point at which a chain diverges from the
// recomputed hashes.
type Mismatch struct {
	Sequence int64
	EventID  string
	Stored   string
	Computed string
	Reason   string
}

// Report is the outcome of one chain verification sweep.
type Report struct {
	AggregateID string
	Checked     int
	Mismatch    *Mismatch
}

// OK reports whether the full chain verified.
func (r Report) OK() bool {
	return r.Mismatch == nil
}

// Err converts a failed report into an ErrIntegrity-wrapped error, nil on
// success.
func (r Report) Err() error {
	if r.Mismatch == nil {
		return nil
	}
	return fmt.Errorf("%w: aggregate %s diverges at sequence %d (%s)",
		common.ErrIntegrity, r.AggregateID, r.Mismatch.Sequence, r.Mismatch.Reason)
}

// VerifyChain recomputes the chain from genesis over events already ordered
// by ascending sequence and reports the first mismatch. A mismatch at event
// N necessarily invalidates all later hashes, so verification stops there.
func VerifyChain(aggregateID string, events []*event.Event) Report {
	report := Report{AggregateID: aggregateID}
	prev := GenesisHash
	expectedSeq := int64(1)
	for _, e := range events {
		if e.Sequence != expectedSeq {
			report.Mismatch = &Mismatch{
				Sequence: e.Sequence,
				EventID:  e.EventID,
				Reason:   fmt.Sprintf("sequence gap: expected %d", expectedSeq),
			}
			return report
		}
		if e.PrevHash != prev {
			report.Mismatch = &Mismatch{
				Sequence: e.Sequence,
				EventID:  e.EventID,
				Stored:   e.PrevHash,
				Computed: prev,
				Reason:   "prev_hash does not link to predecessor",
			}
			return report
		}
		computed, err := Compute(e, prev)
		if err != nil {
			report.Mismatch = &Mismatch{
				Sequence: e.Sequence,
				EventID:  e.EventID,
				Reason:   fmt.Sprintf("hash recompute failed: %v", err),
			}
			return report
		}
		if computed != e.Hash {
			report.Mismatch = &Mismatch{
				Sequence: e.Sequence,
				EventID:  e.EventID,
				Stored:   e.Hash,
				Computed: computed,
				Reason:   "stored hash does not match recomputed hash",
			}
			return report
		}
		prev = e.Hash
		expectedSeq++
		report.Checked++
	}
	return report
}
