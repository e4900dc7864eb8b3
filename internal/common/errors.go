// Package common defines shared constants and sentinel errors used across
// client and server layers of the diary sync core. Callers should use
// errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// ErrValidation marks a malformed or unregistered event. It is reported
	// to the caller and never retried automatically.
	ErrValidation = errors.New("validation error")

	// ErrSchema marks a schema-version incompatibility with no upcast path.
	// Surfaced as an actionable message, never retried.
	ErrSchema = errors.New("schema version not supported")

	// ErrUpgradeRequired is returned for writes when the client's schema
	// version range falls below the server's minimum accepted version.
	ErrUpgradeRequired = errors.New("client upgrade required")

	// ErrStore marks a local durability failure. Fatal to the current
	// operation; previously committed entries stay intact.
	ErrStore = errors.New("store error")

	// ErrVersionConflict is the optimistic-concurrency outcome: the claimed
	// base version no longer matches the aggregate head. Routed to the
	// conflict detector, not treated as a failure.
	ErrVersionConflict = errors.New("version conflict")

	// ErrOutOfOrder rejects an event whose earlier sibling in the same
	// batch already failed for the same aggregate.
	ErrOutOfOrder = errors.New("out of order")

	// ErrIntegrity marks a hash-chain or locked-record mismatch. Never
	// auto-recovered; persisted until a human reviews it.
	ErrIntegrity = errors.New("integrity violation")

	// ErrImmutable rejects any attempt to alter a server-confirmed event.
	ErrImmutable = errors.New("event is immutable")

	// Service-level errors.
	ErrInternal     = errors.New("internal error")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidToken = errors.New("invalid token")
)
