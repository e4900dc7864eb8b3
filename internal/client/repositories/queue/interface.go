// Package queue is the offline queue: events produced locally wait here
// until the server acknowledges them with a sequence. Entries drain in
// strict FIFO order per aggregate so causal ordering holds at the server.
package queue

import (
	"context"
	"time"

	"github.com/trialware/diarysync/internal/client/models"
)

// Repository is the queue's persistence contract.
type Repository interface {
	// Enqueue adds an event to the back of the queue.
	Enqueue(ctx context.Context, eventID, aggregateID string, enqueuedAt time.Time) error

	// Due returns entries eligible for sending at the given instant
	// (pending, next_retry_at passed), in FIFO order.
	Due(ctx context.Context, now time.Time) ([]*models.QueueEntry, error)

	// MarkSending flips an entry to the sending state.
	MarkSending(ctx context.Context, eventID string) error

	// Recover returns every sending entry to pending. A sending row seen
	// outside an active drain is the leftover of a send that was cancelled
	// or crashed before its outcome was recorded; without recovery it
	// would never become due again.
	Recover(ctx context.Context) error

	// MarkFailed records a failed attempt and schedules the retry. The
	// entry transitions back to pending.
	MarkFailed(ctx context.Context, eventID string, attemptCount int, nextRetryAt time.Time) error

	// Remove deletes an entry after server acknowledgment. This is the
	// only way an entry leaves the queue.
	Remove(ctx context.Context, eventID string) error

	// HasPending reports whether any entry exists for the aggregate.
	HasPending(ctx context.Context, aggregateID string) (bool, error)

	// Len returns the number of queued entries.
	Len(ctx context.Context) (int, error)
}
