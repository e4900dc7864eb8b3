// Package services holds the server-side application logic: the append
// pipeline that assigns ordering and hashes, the pull/stream read paths,
// and the integrity export.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/trialware/diarysync/internal/common"
	"github.com/trialware/diarysync/internal/dbx"
	"github.com/trialware/diarysync/internal/event"
	"github.com/trialware/diarysync/internal/export"
	"github.com/trialware/diarysync/internal/integrity"
	"github.com/trialware/diarysync/internal/logging"
	"github.com/trialware/diarysync/internal/schema"
	"github.com/trialware/diarysync/internal/server/broadcast"
	"github.com/trialware/diarysync/internal/server/repositories/events"
	"github.com/trialware/diarysync/internal/wire"
)

// DefaultPullLimit caps one pull page.
const DefaultPullLimit = 500

// pushItem pairs an event with its position in the push batch, so results
// line up with the request even after grouping by aggregate.
type pushItem struct {
	idx int
	e   *event.Event
}

// SyncService is the single writer for every aggregate's chain. All
// ordering decisions happen here, inside one transaction per aggregate,
// so concurrent pushes from different devices serialize on the head row.
type SyncService struct {
	db         *sql.DB
	registry   *event.Registry
	negotiator *schema.Negotiator
	hub        *broadcast.Hub
	logger     logging.Logger
}

func NewSyncService(db *sql.DB, registry *event.Registry, hub *broadcast.Hub, logger logging.Logger) *SyncService {
	return &SyncService{
		db:         db,
		registry:   registry,
		negotiator: schema.NewNegotiator(registry),
		hub:        hub,
		logger:     logger.With("module", "sync_service"),
	}
}

// AppendBatch processes a push. Events are grouped by aggregate in arrival
// order; each group appends transactionally. Within a group the first
// failure rejects the remainder as out_of_order, because their claimed
// base versions can no longer hold. Groups never affect each other.
func (s *SyncService) AppendBatch(ctx context.Context, batch []*event.Event) ([]*wire.PushResult, error) {
	results := make([]*wire.PushResult, len(batch))

	groups := make(map[string][]pushItem)
	var order []string
	for i, e := range batch {
		if _, ok := groups[e.AggregateID]; !ok {
			order = append(order, e.AggregateID)
		}
		groups[e.AggregateID] = append(groups[e.AggregateID], pushItem{idx: i, e: e})
	}

	for _, aggregateID := range order {
		group := groups[aggregateID]
		accepted, err := s.appendGroup(ctx, aggregateID, group, results)
		if err != nil {
			return nil, err
		}
		for _, e := range accepted {
			s.hub.Publish(ctx, e)
		}
	}
	return results, nil
}

// appendGroup appends one aggregate's events in a single transaction and
// fills in their results. It returns the events that were durably accepted
// so the caller can broadcast them after commit.
func (s *SyncService) appendGroup(ctx context.Context, aggregateID string, group []pushItem, results []*wire.PushResult) ([]*event.Event, error) {
	var accepted []*event.Event

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := events.NewPostgresRepository(tx)
		head, err := repo.HeadForUpdate(ctx, aggregateID)
		if err != nil {
			return err
		}

		failed := false
		for _, it := range group {
			e := it.e
			res := &wire.PushResult{EventID: e.EventID}
			results[it.idx] = res

			if failed {
				res.ErrorCode = wire.CodeOutOfOrder
				continue
			}

			// Idempotent replay of an already accepted event returns the
			// original assignment instead of an error.
			if stored, err := repo.GetByID(ctx, e.EventID); err == nil {
				fillResult(res, stored)
				continue
			} else if !errors.Is(err, common.ErrNotFound) {
				return err
			}

			if code := s.admit(e, head); code != "" {
				res.ErrorCode = code
				// Any rejection invalidates the claimed base versions of
				// the rest of the group: they expected this event to
				// advance the head.
				failed = true
				if err := repo.InsertRejection(ctx, events.Rejection{
					EventID:      e.EventID,
					AggregateID:  aggregateID,
					DeviceUUID:   e.DeviceUUID,
					ErrorCode:    code,
					BaseVersion:  e.BaseVersion,
					HeadSequence: head.Sequence,
					RejectedAt:   time.Now().UTC(),
				}); err != nil {
					return err
				}
				continue
			}

			assigned, err := s.assign(e, head)
			if err != nil {
				return err
			}
			globalSeq, err := repo.Insert(ctx, assigned)
			if err != nil {
				return err
			}
			assigned.GlobalSeq = globalSeq

			head.Sequence = assigned.Sequence
			head.Hash = assigned.Hash
			switch assigned.Type {
			case event.TypeRecordLocked:
				head.Locked = true
			case event.TypeRecordUnlocked:
				head.Locked = false
			}

			fillResult(res, assigned)
			accepted = append(accepted, assigned)
		}

		if len(accepted) > 0 {
			if err := repo.SaveHead(ctx, head); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return accepted, nil
}

// admit runs the per-event acceptance checks against the locked head and
// returns the wire error code on rejection, "" on acceptance.
func (s *SyncService) admit(e *event.Event, head events.Head) string {
	if !s.negotiator.Accepts(e.SchemaVersion) {
		return wire.CodeUpgradeRequired
	}
	if err := s.registry.ValidateForAppend(e); err != nil {
		if errors.Is(err, common.ErrSchema) {
			return wire.CodeSchema
		}
		return wire.CodeValidation
	}
	if e.BaseVersion != head.Sequence {
		return wire.CodeVersionConflict
	}
	if head.Locked && e.ActorRole == event.RolePatient && e.Type != event.TypeAnnotationAcked {
		// A locked record accepts nothing from the patient except
		// acknowledging annotations. Unlocking is an investigator action.
		return wire.CodeValidation
	}
	return ""
}

// assign stamps the server-owned ordering fields and extends the hash
// chain. The input is cloned; the caller's event stays untouched.
func (s *SyncService) assign(e *event.Event, head events.Head) (*event.Event, error) {
	assigned := e.Clone()
	assigned.Sequence = head.Sequence + 1
	now := time.Now().UTC()
	assigned.ServerTimestamp = &now
	if assigned.HashAlg == "" {
		assigned.HashAlg = integrity.DefaultAlgorithm
	}

	prev := head.Hash
	if assigned.Sequence == 1 {
		prev = integrity.GenesisHash
	}
	assigned.PrevHash = prev

	hash, err := integrity.Compute(assigned, prev)
	if err != nil {
		return nil, err
	}
	assigned.Hash = hash
	return assigned, nil
}

func fillResult(res *wire.PushResult, e *event.Event) {
	res.Sequence = e.Sequence
	res.GlobalSeq = e.GlobalSeq
	res.ServerTimestamp = e.ServerTimestamp
	res.PrevHash = e.PrevHash
	res.Hash = e.Hash
	res.HashAlg = e.HashAlg
}

// ArchiveDay uploads one integrity bundle per aggregate active on the
// given day. It keeps going past per-aggregate failures and returns the
// object keys it wrote; the daily job in the server app drives it.
func (s *SyncService) ArchiveDay(ctx context.Context, sink *export.Archiver, day time.Time) ([]string, error) {
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	aggregates, err := events.NewPostgresRepository(s.db).AggregatesActive(ctx, from, to)
	if err != nil {
		return nil, err
	}

	var keys []string
	for _, aggregateID := range aggregates {
		key, err := export.ArchiveDay(ctx, sink, func(ctx context.Context, from, to time.Time) (*wire.IntegrityExport, error) {
			return s.ExportIntegrity(ctx, aggregateID, from, to)
		}, day)
		if err != nil {
			s.logger.Error(ctx, "daily archive failed",
				"aggregate_id", aggregateID, "error", err.Error())
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// Pull returns events past the cursor in global order, plus the new cursor.
func (s *SyncService) Pull(ctx context.Context, since int64, aggregateIDs []string, limit int) (*wire.PullResponse, error) {
	if limit <= 0 || limit > DefaultPullLimit {
		limit = DefaultPullLimit
	}
	repo := events.NewPostgresRepository(s.db)
	list, err := repo.ListSince(ctx, since, aggregateIDs, limit)
	if err != nil {
		return nil, err
	}
	cursor := since
	if n := len(list); n > 0 {
		cursor = list[n-1].GlobalSeq
	}
	return &wire.PullResponse{Events: list, Cursor: cursor}, nil
}

// AggregateEvents returns one aggregate's confirmed history from a
// sequence onward.
func (s *SyncService) AggregateEvents(ctx context.Context, aggregateID string, fromSequence int64) ([]*event.Event, error) {
	if fromSequence < 1 {
		fromSequence = 1
	}
	return events.NewPostgresRepository(s.db).EventsFor(ctx, aggregateID, fromSequence)
}

// SchemaInfo reports the schema versions this server writes and accepts.
func (s *SyncService) SchemaInfo() schema.ServerInfo {
	return s.negotiator.Info()
}

// ExportIntegrity builds an audit bundle for one aggregate and date range,
// verifying the chain over the exported slice's context.
func (s *SyncService) ExportIntegrity(ctx context.Context, aggregateID string, from, to time.Time) (*wire.IntegrityExport, error) {
	repo := events.NewPostgresRepository(s.db)

	// Chain verification needs the full history; the export slices after.
	full, err := repo.EventsFor(ctx, aggregateID, 1)
	if err != nil {
		return nil, err
	}
	if len(full) == 0 {
		return nil, fmt.Errorf("%w: aggregate %s", common.ErrNotFound, aggregateID)
	}
	report := integrity.VerifyChain(aggregateID, full)

	var slice []*event.Event
	for _, e := range full {
		ts := e.ServerTimestamp
		if ts == nil {
			continue
		}
		if !ts.Before(from) && ts.Before(to) {
			slice = append(slice, e)
		}
	}

	export := &wire.IntegrityExport{
		AggregateID: aggregateID,
		From:        from,
		To:          to,
		GeneratedAt: time.Now().UTC(),
		Events:      slice,
		ChainOK:     report.OK(),
	}
	if !report.OK() {
		export.ChainError = report.Mismatch.Reason
		s.logger.Error(ctx, "export over broken chain",
			"aggregate_id", aggregateID, "sequence", report.Mismatch.Sequence)
	}
	return export, nil
}
