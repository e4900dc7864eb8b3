// Package wire defines the JSON transport contract shared by the client
// and the server: push/pull bodies, per-event results, and error codes.
package wire

import (
	"time"

	"github.com/trialware/diarysync/internal/event"
)

// Error codes returned per event in a push response.
const (
	CodeValidation      = "validation_error"
	CodeSchema          = "schema_error"
	CodeUpgradeRequired = "upgrade_required"
	CodeVersionConflict = "version_conflict"
	CodeOutOfOrder      = "out_of_order"
	CodeInternal        = "internal_error"
)

// PushRequest is the body of POST /api/events: a batch of pending
// envelopes, FIFO per aggregate.
type PushRequest struct {
	Events []*event.Event `json:"events"`
}

// PushResult is the per-event outcome. Accepted events carry the
// server-assigned fields; rejected ones carry an error code.
type PushResult struct {
	EventID         string     `json:"event_id"`
	Sequence        int64      `json:"sequence,omitempty"`
	GlobalSeq       int64      `json:"global_seq,omitempty"`
	ServerTimestamp *time.Time `json:"server_timestamp,omitempty"`
	PrevHash        string     `json:"prev_hash,omitempty"`
	Hash            string     `json:"hash,omitempty"`
	HashAlg         string     `json:"hash_alg,omitempty"`
	ErrorCode       string     `json:"error_code,omitempty"`
}

// Accepted reports whether the event was assigned a sequence.
func (r *PushResult) Accepted() bool {
	return r.ErrorCode == "" && r.Sequence > 0
}

// PushResponse is the body of a push reply.
type PushResponse struct {
	Results []*PushResult `json:"results"`
}

// PullResponse is the body of GET /api/events: confirmed events in
// ascending global sequence order, plus the cursor to resume from.
type PullResponse struct {
	Events []*event.Event `json:"events"`
	Cursor int64          `json:"cursor"`
}

// IntegrityExport is the read-only evidence bundle for one aggregate and
// date range: the ordered event list plus chain hashes, consumed by the
// long-term archival subsystem.
type IntegrityExport struct {
	AggregateID string         `json:"aggregate_id"`
	From        time.Time      `json:"from"`
	To          time.Time      `json:"to"`
	GeneratedAt time.Time      `json:"generated_at"`
	Events      []*event.Event `json:"events"`
	ChainOK     bool           `json:"chain_ok"`
	ChainError  string         `json:"chain_error,omitempty"`
}
