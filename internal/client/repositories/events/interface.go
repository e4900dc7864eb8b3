// Package events is the device-local, append-only event store. There is no
// update or delete API: history only grows, and the single allowed
// amendment is the one-time reconciliation of server-assigned fields onto
// an optimistic local copy.
package events

import (
	"context"

	"github.com/trialware/diarysync/internal/event"
)

// ServerFields is what the server assigns on acceptance.
type ServerFields struct {
	Sequence        int64
	ServerTimestamp string
	PrevHash        string
	Hash            string
	HashAlg         string
}

// Repository is the local event store contract.
type Repository interface {
	// Append durably stores an event before returning. It is idempotent on
	// event_id: re-appending an already-stored id is a successful no-op.
	Append(ctx context.Context, e *event.Event) error

	// ConfirmServerFields reconciles the optimistic local copy with the
	// server-confirmed ordering fields. It applies exactly once: a second
	// confirmation attempt for the same event returns ErrImmutable.
	ConfirmServerFields(ctx context.Context, eventID string, f ServerFields) error

	// GetByID returns one event, ErrNotFound if absent.
	GetByID(ctx context.Context, eventID string) (*event.Event, error)

	// ForEach streams confirmed events for an aggregate with
	// sequence >= fromSequence, in ascending sequence order. The scan is
	// lazy and restartable by calling again.
	ForEach(ctx context.Context, aggregateID string, fromSequence int64, fn func(*event.Event) error) error

	// EventsFor materializes ForEach into a slice.
	EventsFor(ctx context.Context, aggregateID string, fromSequence int64) ([]*event.Event, error)

	// PendingFor returns unconfirmed local events for an aggregate in the
	// order they were produced. Events superseded by a conflict resolution
	// are excluded: they are retained history, not outstanding edits.
	PendingFor(ctx context.Context, aggregateID string) ([]*event.Event, error)

	// MarkSuperseded records that an unconfirmed local event lost a
	// conflict resolution to supersededBy. The event stays in the log but
	// leaves the pending set. Confirmed events cannot be superseded this
	// way and return ErrImmutable.
	MarkSuperseded(ctx context.Context, eventID, supersededBy string) error

	// Aggregates lists every aggregate with at least one stored event.
	Aggregates(ctx context.Context) ([]string, error)

	// LastSequence returns the highest confirmed sequence for an
	// aggregate, 0 if none.
	LastSequence(ctx context.Context, aggregateID string) (int64, error)
}
