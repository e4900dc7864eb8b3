// Package conflict classifies divergence between inbound remote events and
// local unsynced state, and drives the four resolution policies. Every
// classification leaves a permanent ConflictRecord behind, whether or not a
// user was involved, so the resolution history is complete.
package conflict

import (
	"time"

	"github.com/google/uuid"
)

// Classification of one detected divergence.
type Classification string

const (
	// FastForward: remote is ahead, no divergent local edits. Replayed
	// locally without user interaction.
	FastForward Classification = "fast_forward"

	// NonFastForward: both sides edited since the common ancestor. The
	// user picks a winner; the loser is retained as a superseded event.
	NonFastForward Classification = "non_fast_forward"

	// InvestigatorPush: a cleanly applying non-patient edit. Applied with a
	// pending-acknowledgment flag and a local notification.
	InvestigatorPush Classification = "investigator_push"

	// LockedMismatch: a locked record's data diverges with no explaining
	// event. Never auto-resolved; surfaced as an integrity alert.
	LockedMismatch Classification = "locked_mismatch"
)

// Resolution actions recorded on a ConflictRecord.
const (
	ActionReplayedRemote   = "replayed_remote"
	ActionUserChoseLocal   = "user_chose_local"
	ActionUserChoseRemote  = "user_chose_remote"
	ActionAppliedFlagged   = "applied_pending_ack"
	ActionIntegrityAlerted = "integrity_alert"
)

// Record is the audit entry for one classified divergence. Records are
// retained permanently and never deleted.
type Record struct {
	ID             string         `json:"id"`
	AggregateID    string         `json:"aggregate_id"`
	LocalVersion   int64          `json:"local_version"`
	RemoteVersion  int64          `json:"remote_version"`
	Classification Classification `json:"classification"`
	Action         string         `json:"resolution_action"`
	Detail         string         `json:"detail,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// NewRecord stamps a conflict record with identity and creation time.
func NewRecord(aggregateID string, localVersion, remoteVersion int64, c Classification, action string) *Record {
	return &Record{
		ID:             uuid.NewString(),
		AggregateID:    aggregateID,
		LocalVersion:   localVersion,
		RemoteVersion:  remoteVersion,
		Classification: c,
		Action:         action,
		CreatedAt:      time.Now().UTC(),
	}
}
