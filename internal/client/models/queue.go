// Package models defines client-side data models used by the device sync
// core.
package models

import "time"

// Queue entry statuses. Failed entries go back to pending once their
// next_retry_at passes.
const (
	QueueStatusPending = "pending"
	QueueStatusSending = "sending"
)

// QueueEntry wraps one locally produced event awaiting server
// acknowledgment. Entries leave the queue only when the server has assigned
// a sequence; cancellation or failure never discards one.
type QueueEntry struct {
	// Position is the local FIFO position across all aggregates.
	Position int64

	// EventID references the pending event in the local store.
	EventID string

	// AggregateID duplicates the event's aggregate for FIFO-per-aggregate
	// queries without a join.
	AggregateID string

	EnqueuedAt   time.Time
	AttemptCount int
	NextRetryAt  time.Time
	Status       string
}
