// Package records caches the projector's materialized RecordState per
// aggregate so incremental folds do not replay the whole log. Only the
// projector-owning service writes here.
package records

import (
	"context"

	"github.com/trialware/diarysync/internal/projection"
)

// Repository is the record-state cache contract.
type Repository interface {
	// Get returns the cached state, ErrNotFound if the aggregate has no
	// projected state yet.
	Get(ctx context.Context, aggregateID string) (*projection.RecordState, error)

	// Save upserts the cached state.
	Save(ctx context.Context, state *projection.RecordState) error
}
