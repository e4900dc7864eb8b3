// Package projection derives the current RecordState of an aggregate by
// folding its event stream through a pure, deterministic reducer. Replaying
// the same ordered events on any device yields byte-identical state, which
// is what makes cross-device convergence checkable.
package projection

import "encoding/json"

// Record lifecycle statuses.
const (
	StatusOpen       = "open"
	StatusLocked     = "locked"
	StatusSuperseded = "superseded"
)

// Annotation is a note folded into the record state. Only annotations from
// non-patient actors participate in the pending-ack bookkeeping.
type Annotation struct {
	EventID      string `json:"event_id"`
	ActorID      string `json:"actor_id"`
	ActorRole    string `json:"actor_role"`
	Text         string `json:"text"`
	Acknowledged bool   `json:"acknowledged"`
}

// RecordData holds the last-applied payload fields of a diary record.
// Severity is always on the current (0–10) scale; older events are upcast
// before they reach the reducer.
type RecordData struct {
	EntryDate   string       `json:"entry_date"`
	Symptom     string       `json:"symptom"`
	Severity    int          `json:"severity"`
	Notes       string       `json:"notes"`
	Annotations []Annotation `json:"annotations,omitempty"`
}

// RecordState is the materialized view of one aggregate. Only the projector
// writes it; every other component reads.
type RecordState struct {
	AggregateID string     `json:"aggregate_id"`
	Data        RecordData `json:"data"`
	Version     int64      `json:"version"`
	Status      string     `json:"status"`
	LastEventID string     `json:"last_event_id"`

	// PendingAck is set when a non-patient edit was applied automatically
	// and the patient has not yet dismissed the notification.
	PendingAck bool `json:"pending_ack"`
}

// CanonicalBytes returns the deterministic serialized form of the state,
// used to compare replicas byte for byte.
func (s *RecordState) CanonicalBytes() ([]byte, error) {
	return json.Marshal(s)
}

// Clone returns a deep copy the caller may mutate freely.
func (s *RecordState) Clone() *RecordState {
	c := *s
	if s.Data.Annotations != nil {
		c.Data.Annotations = append([]Annotation(nil), s.Data.Annotations...)
	}
	return &c
}
