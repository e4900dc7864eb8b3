// Package events is the authoritative, append-only event store. The server
// is the single writer per aggregate: it assigns sequence numbers, hashes
// and timestamps inside one transaction, so two devices can never obtain
// the same sequence.
package events

import (
	"context"
	"time"

	"github.com/trialware/diarysync/internal/event"
)

// Head is the cached tip of one aggregate's chain, kept in lockstep with
// the events table inside the append transaction.
type Head struct {
	AggregateID string
	Sequence    int64
	Hash        string
	Locked      bool
}

// Rejection is the audit trail of a refused push.
type Rejection struct {
	EventID      string
	AggregateID  string
	DeviceUUID   string
	ErrorCode    string
	BaseVersion  int64
	HeadSequence int64
	RejectedAt   time.Time
}

// Repository is the server-side event store contract. Implementations over
// a transactional handle participate in the caller's transaction.
type Repository interface {
	// Insert stores a fully assigned event and returns its global sequence.
	Insert(ctx context.Context, e *event.Event) (int64, error)

	// GetByID returns one event, ErrNotFound if absent.
	GetByID(ctx context.Context, eventID string) (*event.Event, error)

	// HeadForUpdate reads an aggregate's head, locking it for the duration
	// of the surrounding transaction. Returns a zero head (sequence 0) for
	// an unknown aggregate.
	HeadForUpdate(ctx context.Context, aggregateID string) (Head, error)

	// SaveHead writes the new chain tip.
	SaveHead(ctx context.Context, h Head) error

	// ListSince returns events with global_seq > since in global order,
	// optionally filtered to a set of aggregates, up to limit.
	ListSince(ctx context.Context, since int64, aggregateIDs []string, limit int) ([]*event.Event, error)

	// EventsFor returns an aggregate's events with sequence >= fromSequence
	// in ascending sequence order.
	EventsFor(ctx context.Context, aggregateID string, fromSequence int64) ([]*event.Event, error)

	// EventsForRange returns an aggregate's events whose server timestamp
	// falls within [from, to), in sequence order.
	EventsForRange(ctx context.Context, aggregateID string, from, to time.Time) ([]*event.Event, error)

	// AggregatesActive lists aggregates with at least one event whose
	// server timestamp falls within [from, to).
	AggregatesActive(ctx context.Context, from, to time.Time) ([]string, error)

	// InsertRejection records a refused push for audit.
	InsertRejection(ctx context.Context, r Rejection) error
}
