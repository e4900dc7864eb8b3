package event

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/trialware/diarysync/internal/common"
)

// Key identifies one payload shape on the wire.
type Key struct {
	Type    string
	Version int
}

func (k Key) String() string {
	return fmt.Sprintf("%s/v%d", k.Type, k.Version)
}

// Registry maps (event_type, schema_version) to typed payload constructors
// and upcast transforms. It is built once at startup from the sponsor
// configuration and passed to every component that needs it; there is no
// ambient global registry.
type Registry struct {
	factories map[Key]func() Payload
	upcasts   map[Key]UpcastFunc
	current   map[string]int
	enabled   map[Key]bool
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[Key]func() Payload),
		upcasts:   make(map[Key]UpcastFunc),
		current:   make(map[string]int),
	}
}

// Register adds a payload constructor for one (type, version) combination.
// The highest registered version of a type becomes its reader version.
func (r *Registry) Register(eventType string, version int, factory func() Payload) {
	r.factories[Key{eventType, version}] = factory
	if version > r.current[eventType] {
		r.current[eventType] = version
	}
}

// RegisterUpcast installs the transform from (type, fromVersion) to the
// payload shape of fromVersion+1.
func (r *Registry) RegisterUpcast(eventType string, fromVersion int, fn UpcastFunc) {
	r.upcasts[Key{eventType, fromVersion}] = fn
}

// Restrict limits the registry to the given enabled combinations. A nil or
// empty map leaves everything enabled. Used to apply per-sponsor event
// enablement at construction.
func (r *Registry) Restrict(enabled map[string][]int) {
	if len(enabled) == 0 {
		r.enabled = nil
		return
	}
	r.enabled = make(map[Key]bool)
	for t, versions := range enabled {
		for _, v := range versions {
			r.enabled[Key{t, v}] = true
		}
	}
}

// Enabled reports whether the combination may be written in this session.
func (r *Registry) Enabled(eventType string, version int) bool {
	if r.enabled == nil {
		_, ok := r.factories[Key{eventType, version}]
		return ok
	}
	return r.enabled[Key{eventType, version}]
}

// CurrentVersion returns the reader version for a type, 0 if unknown.
func (r *Registry) CurrentVersion(eventType string) int {
	return r.current[eventType]
}

// MaxVersion returns the highest schema version registered across all
// types. Used by the version negotiator to describe this binary's range.
func (r *Registry) MaxVersion() int {
	max := 0
	for _, v := range r.current {
		if v > max {
			max = v
		}
	}
	return max
}

// Decode unmarshals and validates the payload at its stored schema version.
// An unknown (type, version) combination is rejected with ErrValidation.
func (r *Registry) Decode(e *Event) (Payload, error) {
	factory, ok := r.factories[Key{e.Type, e.SchemaVersion}]
	if !ok {
		return nil, fmt.Errorf("%w: unknown event %s/v%d", common.ErrValidation, e.Type, e.SchemaVersion)
	}
	p := factory()
	if err := unmarshalStrict(e.Payload, p); err != nil {
		return nil, fmt.Errorf("%w: malformed %s payload: %v", common.ErrValidation, e.Type, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// DecodeCurrent decodes the payload and upcasts it, step by step, to the
// reader version of its type. When an intermediate transform is missing the
// decode fails closed with ErrSchema rather than misinterpreting fields.
func (r *Registry) DecodeCurrent(e *Event) (Payload, int, error) {
	p, err := r.Decode(e)
	if err != nil {
		return nil, 0, err
	}
	version := e.SchemaVersion
	target := r.current[e.Type]
	for version < target {
		up, ok := r.upcasts[Key{e.Type, version}]
		if !ok {
			return nil, 0, fmt.Errorf("%w: no upcast for %s from v%d to v%d",
				common.ErrSchema, e.Type, version, version+1)
		}
		p, err = up(p)
		if err != nil {
			return nil, 0, fmt.Errorf("upcast %s v%d: %w", e.Type, version, err)
		}
		version++
	}
	return p, version, nil
}

// ValidateForAppend checks the client-supplied envelope fields and the
// payload before an event may enter any store.
func (r *Registry) ValidateForAppend(e *Event) error {
	if _, err := uuid.Parse(e.EventID); err != nil {
		return fmt.Errorf("%w: event_id is not a valid UUID", common.ErrValidation)
	}
	if e.AggregateID == "" {
		return fmt.Errorf("%w: aggregate_id is required", common.ErrValidation)
	}
	if _, err := uuid.Parse(e.DeviceUUID); err != nil {
		return fmt.Errorf("%w: device_uuid is not a valid UUID", common.ErrValidation)
	}
	if e.ActorID == "" || e.ActorRole == "" {
		return fmt.Errorf("%w: actor_id and actor_role are required", common.ErrValidation)
	}
	if e.ClientTimestamp.IsZero() {
		return fmt.Errorf("%w: client_timestamp is required", common.ErrValidation)
	}
	if !r.Enabled(e.Type, e.SchemaVersion) {
		return fmt.Errorf("%w: event %s/v%d is not enabled", common.ErrValidation, e.Type, e.SchemaVersion)
	}
	_, err := r.Decode(e)
	return err
}

// DefaultRegistry returns a registry with every known payload shape and
// upcast installed.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(TypeEntryCreated, 1, func() Payload { return &EntryCreatedV1{} })
	r.Register(TypeEntryCreated, 2, func() Payload { return &EntryCreatedV2{} })
	r.Register(TypeEntryAmended, 1, func() Payload { return &EntryAmendedV1{} })
	r.Register(TypeEntrySuperseded, 1, func() Payload { return &EntrySupersededV1{} })
	r.Register(TypeRecordLocked, 1, func() Payload { return &RecordLockedV1{} })
	r.Register(TypeRecordUnlocked, 1, func() Payload { return &RecordUnlockedV1{} })
	r.Register(TypeAnnotationAdded, 1, func() Payload { return &AnnotationAddedV1{} })
	r.Register(TypeAnnotationAcked, 1, func() Payload { return &AnnotationAckedV1{} })
	r.RegisterUpcast(TypeEntryCreated, 1, UpcastEntryCreatedV1)
	return r
}
