// Package metadata is a small key/value store for sync bookkeeping: the
// pull cursor, review-hold flags, and similar one-off values.
package metadata

import "context"

// Well-known keys.
const (
	// KeyPullCursor holds the last acknowledged global sequence of the
	// pull stream; reconnects resume from it so no event is missed.
	KeyPullCursor = "pull_cursor"

	// KeyReviewHoldPrefix marks an aggregate frozen for investigator
	// review after an integrity alert. Suffixed with the aggregate id.
	KeyReviewHoldPrefix = "review_hold:"
)

// Repository is the metadata contract.
type Repository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
