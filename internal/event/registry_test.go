package event

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trialware/diarysync/internal/common"
)

func validEnvelope(eventType string, version int, payload string) *Event {
	return &Event{
		EventID:         "6f1c1a2e-0000-4000-8000-000000000001",
		AggregateID:     "rec-100",
		Type:            eventType,
		SchemaVersion:   version,
		Payload:         []byte(payload),
		DeviceUUID:      "6f1c1a2e-0000-4000-8000-00000000000d",
		ActorID:         "patient-1",
		ActorRole:       RolePatient,
		ClientTimestamp: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
	}
}

func TestRegistry_DecodeKnownVersion(t *testing.T) {
	r := DefaultRegistry()

	e := validEnvelope(TypeEntryCreated, 1, `{"entry_date":"2026-03-14","symptom":"nausea","severity":4}`)
	p, err := r.Decode(e)
	require.NoError(t, err)

	created, ok := p.(*EntryCreatedV1)
	require.True(t, ok)
	assert.Equal(t, 4, created.Severity)
}

func TestRegistry_DecodeUnknownVersionFails(t *testing.T) {
	r := DefaultRegistry()

	e := validEnvelope(TypeEntryCreated, 9, `{}`)
	_, err := r.Decode(e)
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestRegistry_DecodeCurrentUpcastsSeverity(t *testing.T) {
	r := DefaultRegistry()

	e := validEnvelope(TypeEntryCreated, 1, `{"entry_date":"2026-03-14","symptom":"nausea","severity":4}`)
	p, version, err := r.DecodeCurrent(e)
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	created, ok := p.(*EntryCreatedV2)
	require.True(t, ok)
	assert.Equal(t, 8, created.Severity, "v1 severity doubles onto the 0-10 scale")
}

func TestRegistry_DecodeCurrentFailsClosedWithoutUpcast(t *testing.T) {
	r := NewRegistry()
	r.Register(TypeEntryCreated, 1, func() Payload { return &EntryCreatedV1{} })
	r.Register(TypeEntryCreated, 2, func() Payload { return &EntryCreatedV2{} })
	// no upcast registered

	e := validEnvelope(TypeEntryCreated, 1, `{"entry_date":"2026-03-14","symptom":"nausea","severity":4}`)
	_, _, err := r.DecodeCurrent(e)
	assert.ErrorIs(t, err, common.ErrSchema)
}

func TestRegistry_Restrict(t *testing.T) {
	r := DefaultRegistry()
	r.Restrict(map[string][]int{
		TypeEntryCreated: {2},
		TypeEntryAmended: {1},
	})

	assert.True(t, r.Enabled(TypeEntryCreated, 2))
	assert.False(t, r.Enabled(TypeEntryCreated, 1))
	assert.False(t, r.Enabled(TypeAnnotationAdded, 1))

	e := validEnvelope(TypeAnnotationAdded, 1, `{"text":"check dosage"}`)
	err := r.ValidateForAppend(e)
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestRegistry_ValidateForAppend(t *testing.T) {
	r := DefaultRegistry()

	good := validEnvelope(TypeEntryCreated, 2, `{"entry_date":"2026-03-14","symptom":"nausea","severity":4}`)
	require.NoError(t, r.ValidateForAppend(good))

	tests := []struct {
		name   string
		mutate func(*Event)
	}{
		{"bad event id", func(e *Event) { e.EventID = "not-a-uuid" }},
		{"missing aggregate", func(e *Event) { e.AggregateID = "" }},
		{"bad device uuid", func(e *Event) { e.DeviceUUID = "device-1" }},
		{"missing actor", func(e *Event) { e.ActorID = "" }},
		{"zero timestamp", func(e *Event) { e.ClientTimestamp = time.Time{} }},
		{"invalid payload", func(e *Event) { e.Payload = []byte(`{"symptom":"nausea","severity":4}`) }},
		{"payload with unknown field", func(e *Event) {
			e.Payload = []byte(`{"entry_date":"2026-03-14","symptom":"nausea","severity":4,"mood":1}`)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := validEnvelope(TypeEntryCreated, 2, `{"entry_date":"2026-03-14","symptom":"nausea","severity":4}`)
			tt.mutate(e)
			err := r.ValidateForAppend(e)
			assert.True(t, errors.Is(err, common.ErrValidation), "got %v", err)
		})
	}
}

func TestRegistry_MaxVersion(t *testing.T) {
	r := DefaultRegistry()
	assert.Equal(t, 2, r.MaxVersion())
}
