// Package conflicts persists ConflictRecords. Records are part of the
// audit trail: there is no delete API.
package conflicts

import (
	"context"

	"github.com/trialware/diarysync/internal/conflict"
)

// Repository is the conflict-record persistence contract.
type Repository interface {
	// Insert stores a record. Idempotent on id.
	Insert(ctx context.Context, rec *conflict.Record) error

	// ForAggregate returns all records for one aggregate, oldest first.
	ForAggregate(ctx context.Context, aggregateID string) ([]*conflict.Record, error)
}
