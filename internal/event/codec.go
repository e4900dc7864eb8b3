package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/trialware/diarysync/internal/common"
)

// hashEnvelope fixes the field order of the canonical form. It contains
// every envelope field except hash, prev_hash (prefixed separately by the
// chain layer) and base_version (sync metadata, not part of history).
type hashEnvelope struct {
	EventID         string          `json:"event_id"`
	AggregateID     string          `json:"aggregate_id"`
	Type            string          `json:"event_type"`
	SchemaVersion   int             `json:"schema_version"`
	Payload         json.RawMessage `json:"payload"`
	CausationID     string          `json:"causation_id"`
	DeviceUUID      string          `json:"device_uuid"`
	ActorID         string          `json:"actor_id"`
	ActorRole       string          `json:"actor_role"`
	ClientTimestamp string          `json:"client_timestamp"`
	Sequence        int64           `json:"sequence"`
	ServerTimestamp string          `json:"server_timestamp"`
	HashAlg         string          `json:"hash_alg"`
}

// CanonicalBytes returns the deterministic byte form of an event used for
// chain hashing. Payload bytes are compacted but otherwise taken verbatim,
// so two replicas holding the same event always hash identically.
func CanonicalBytes(e *Event) ([]byte, error) {
	payload := e.Payload
	if len(payload) > 0 {
		var buf bytes.Buffer
		if err := json.Compact(&buf, payload); err != nil {
			return nil, fmt.Errorf("%w: payload is not valid JSON: %v", common.ErrValidation, err)
		}
		payload = buf.Bytes()
	}
	serverTS := ""
	if e.ServerTimestamp != nil {
		serverTS = e.ServerTimestamp.UTC().Format(time.RFC3339Nano)
	}
	env := hashEnvelope{
		EventID:         e.EventID,
		AggregateID:     e.AggregateID,
		Type:            e.Type,
		SchemaVersion:   e.SchemaVersion,
		Payload:         payload,
		CausationID:     e.CausationID,
		DeviceUUID:      e.DeviceUUID,
		ActorID:         e.ActorID,
		ActorRole:       e.ActorRole,
		ClientTimestamp: e.ClientTimestamp.Format(time.RFC3339Nano),
		Sequence:        e.Sequence,
		ServerTimestamp: serverTS,
		HashAlg:         e.HashAlg,
	}
	return json.Marshal(env)
}

// EncodeWire serializes the event for transport.
func EncodeWire(e *Event) ([]byte, error) {
	return json.Marshal(e)
}

// DecodeWire parses a wire envelope. Unknown envelope fields are rejected
// so silent schema drift between client and server is caught early.
func DecodeWire(data []byte) (*Event, error) {
	var e Event
	if err := unmarshalStrict(data, &e); err != nil {
		return nil, fmt.Errorf("%w: malformed envelope: %v", common.ErrValidation, err)
	}
	return &e, nil
}

func unmarshalStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// MarshalPayload is a convenience for producers: it serializes a typed
// payload into the raw form carried by the envelope.
func MarshalPayload(p Payload) (json.RawMessage, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(p)
}
