// Package event defines the immutable event envelope, the typed payload
// registry keyed by (event_type, schema_version), and the wire codec.
// Everything else in the sync core depends on it.
package event

import (
	"encoding/json"
	"time"
)

// Actor roles carried on every event. The core trusts the identity layer
// that supplied them.
const (
	RolePatient      = "patient"
	RoleInvestigator = "investigator"
	RoleImport       = "import"
)

// Known event types.
const (
	TypeEntryCreated     = "entry_created"
	TypeEntryAmended     = "entry_amended"
	TypeEntrySuperseded  = "entry_superseded"
	TypeRecordLocked     = "record_locked"
	TypeRecordUnlocked   = "record_unlocked"
	TypeAnnotationAdded  = "annotation_added"
	TypeAnnotationAcked  = "annotation_acknowledged"
)

// Event is one immutable fact about a diary record. The client fills the
// first group of fields; Sequence, ServerTimestamp, PrevHash, Hash and
// HashAlg are assigned exactly once on server acceptance. After that the
// event is never updated or deleted; corrections are new events.
type Event struct {
	EventID         string          `json:"event_id"`
	AggregateID     string          `json:"aggregate_id"`
	Type            string          `json:"event_type"`
	SchemaVersion   int             `json:"schema_version"`
	Payload         json.RawMessage `json:"payload"`
	CausationID     string          `json:"causation_id,omitempty"`
	DeviceUUID      string          `json:"device_uuid"`
	ActorID         string          `json:"actor_id"`
	ActorRole       string          `json:"actor_role"`
	ClientTimestamp time.Time       `json:"client_timestamp"`

	// BaseVersion is the aggregate version the client observed when it
	// produced the event. It is sync metadata for the server's optimistic
	// concurrency check, not part of the hashed envelope.
	BaseVersion int64 `json:"base_version"`

	// Server-assigned fields. Zero until acknowledged. GlobalSeq is the
	// position in the server's total event order, used only as the pull
	// cursor; per-aggregate ordering and hashing use Sequence.
	GlobalSeq       int64      `json:"global_seq,omitempty"`
	Sequence        int64      `json:"sequence,omitempty"`
	ServerTimestamp *time.Time `json:"server_timestamp,omitempty"`
	PrevHash        string     `json:"prev_hash,omitempty"`
	Hash            string     `json:"hash,omitempty"`
	HashAlg         string     `json:"hash_alg,omitempty"`
}

// Confirmed reports whether the server has assigned ordering fields.
func (e *Event) Confirmed() bool {
	return e.Sequence > 0
}

// Clone returns a deep copy; Payload bytes are copied so the original can
// never be mutated through the copy.
func (e *Event) Clone() *Event {
	c := *e
	if e.Payload != nil {
		c.Payload = append(json.RawMessage(nil), e.Payload...)
	}
	if e.ServerTimestamp != nil {
		ts := *e.ServerTimestamp
		c.ServerTimestamp = &ts
	}
	return &c
}
