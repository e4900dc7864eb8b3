package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/trialware/diarysync/internal/client/client"
	"github.com/trialware/diarysync/internal/client/models"
	"github.com/trialware/diarysync/internal/client/repositories/events"
	"github.com/trialware/diarysync/internal/client/repositories/metadata"
	"github.com/trialware/diarysync/internal/client/transport"
	"github.com/trialware/diarysync/internal/common"
	"github.com/trialware/diarysync/internal/conflict"
	"github.com/trialware/diarysync/internal/dbx"
	"github.com/trialware/diarysync/internal/event"
	"github.com/trialware/diarysync/internal/logging"
	"github.com/trialware/diarysync/internal/projection"
	"github.com/trialware/diarysync/internal/schema"
	"github.com/trialware/diarysync/internal/wire"
)

// Trigger is a discrete reason to attempt a drain. All triggers converge
// on the same singleflight-guarded drain so concurrent signals never
// double-send.
type Trigger int

const (
	TriggerConnectivity Trigger = iota
	TriggerTimer
	TriggerManual
	TriggerForeground
)

// Notifier surfaces non-blocking user notifications (e.g. an investigator
// annotation arrived). Implementations must not block.
type Notifier interface {
	Notify(ctx context.Context, aggregateID, message string)
}

// NoopNotifier discards notifications.
type NoopNotifier struct{}

func (NoopNotifier) Notify(context.Context, string, string) {}

// SyncerOptions tune retry behavior and the periodic drain.
type SyncerOptions struct {
	// DrainInterval is the periodic drain timer; zero disables it.
	DrainInterval time.Duration
	// RetryBase is the first backoff delay after a failed attempt.
	RetryBase time.Duration
	// RetryCap bounds the exponential backoff.
	RetryCap time.Duration
}

func (o *SyncerOptions) defaults() {
	if o.RetryBase <= 0 {
		o.RetryBase = 2 * time.Second
	}
	if o.RetryCap <= 0 {
		o.RetryCap = 5 * time.Minute
	}
}

// Syncer owns the offline queue's state machine. It is the only component
// that sends events to the server or applies remote events locally; the
// UI communicates with it exclusively through triggers and the choice
// provider, never shared state.
type Syncer struct {
	repos      *client.Repositories
	registry   *event.Registry
	projector  *projection.Projector
	detector   *conflict.Detector
	resolver   *conflict.Resolver
	transport  *transport.Client
	negotiator *schema.Negotiator
	notifier   Notifier
	logger     logging.Logger
	opts       SyncerOptions

	triggers chan Trigger
	flight   singleflight.Group
}

func NewSyncer(repos *client.Repositories, registry *event.Registry, tc *transport.Client, choices conflict.ChoiceProvider, notifier Notifier, opts SyncerOptions, logger logging.Logger) *Syncer {
	opts.defaults()
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &Syncer{
		repos:      repos,
		registry:   registry,
		projector:  projection.New(registry),
		detector:   conflict.NewDetector(),
		resolver:   conflict.NewResolver(choices),
		transport:  tc,
		negotiator: schema.NewNegotiator(registry),
		notifier:   notifier,
		logger:     logger.With("module", "syncer"),
		opts:       opts,
		triggers:   make(chan Trigger, 16),
	}
}

// Trigger requests a drain. Never blocks; coalesces when the channel is
// full because a queued trigger already guarantees a future drain.
func (s *Syncer) Trigger(t Trigger) {
	select {
	case s.triggers <- t:
	default:
	}
}

// Run drives the syncer until ctx is cancelled: it starts the pull
// subscription, services triggers, and fires the periodic timer.
// Cancellation aborts in-flight sends only; queued events are retried on
// the next run.
func (s *Syncer) Run(ctx context.Context) error {
	go s.subscribeLoop(ctx)

	var timer *time.Ticker
	var tick <-chan time.Time
	if s.opts.DrainInterval > 0 {
		timer = time.NewTicker(s.opts.DrainInterval)
		defer timer.Stop()
		tick = timer.C
	}

	// Initial drain picks up whatever survived the last run.
	s.Trigger(TriggerManual)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
			s.drain(ctx)
		case t := <-s.triggers:
			s.logger.Debug(ctx, "drain triggered", "trigger", int(t))
			s.drain(ctx)
		}
	}
}

// drain serializes concurrent callers onto a single in-flight drain.
func (s *Syncer) drain(ctx context.Context) {
	_, err, _ := s.flight.Do("drain", func() (any, error) {
		return nil, s.drainOnce(ctx)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn(ctx, "drain incomplete", "error", err.Error())
	}
}

// drainOnce pushes every due queue entry in FIFO order per aggregate.
// Transient failures reschedule entries with exponential backoff and are
// not surfaced as errors beyond a pending-sync indication.
func (s *Syncer) drainOnce(ctx context.Context) error {
	// Drains never run concurrently, so any entry still marked sending
	// belongs to an aborted send and must become due again.
	if err := s.repos.Queue.Recover(ctx); err != nil {
		return err
	}

	info, err := s.transport.SchemaInfo(ctx)
	if err != nil {
		return s.retryAll(ctx, err)
	}
	if err := s.negotiator.CheckWrite(info); err != nil {
		// Not retriable by waiting: the app must be upgraded. Reads and
		// the subscription keep working.
		return err
	}

	due, err := s.repos.Queue.Due(ctx, time.Now())
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return nil
	}

	batch, byID, err := s.buildBatch(ctx, due)
	if err != nil {
		return err
	}
	if len(batch) == 0 {
		return nil
	}

	for _, e := range batch {
		if err := s.repos.Queue.MarkSending(ctx, e.EventID); err != nil {
			return err
		}
	}

	results, err := s.transport.PushEvents(ctx, batch)
	if err != nil {
		// Timeout and transport failure share the retry path.
		return s.retryEntries(ctx, due, err)
	}

	for _, res := range results {
		entry := byID[res.EventID]
		if entry == nil {
			s.logger.Warn(ctx, "ack for unknown event", "event_id", res.EventID)
			continue
		}
		if err := s.handleResult(ctx, entry, res); err != nil {
			return err
		}
	}
	return nil
}

// buildBatch loads due events and restamps their claimed base versions
// from the current confirmed head, preserving FIFO order per aggregate.
// Aggregates frozen for review are skipped.
func (s *Syncer) buildBatch(ctx context.Context, due []*models.QueueEntry) ([]*event.Event, map[string]*models.QueueEntry, error) {
	batch := make([]*event.Event, 0, len(due))
	byID := make(map[string]*models.QueueEntry, len(due))
	nextBase := make(map[string]int64)

	for _, entry := range due {
		if held, err := s.reviewHeld(ctx, entry.AggregateID); err != nil {
			return nil, nil, err
		} else if held {
			continue
		}
		e, err := s.repos.Events.GetByID(ctx, entry.EventID)
		if err != nil {
			return nil, nil, err
		}
		if e.Confirmed() {
			// Ack arrived on the stream before the queue noticed.
			if err := s.repos.Queue.Remove(ctx, entry.EventID); err != nil {
				return nil, nil, err
			}
			continue
		}
		base, ok := nextBase[entry.AggregateID]
		if !ok {
			confirmed, err := s.repos.Events.LastSequence(ctx, entry.AggregateID)
			if err != nil {
				return nil, nil, err
			}
			base = confirmed
		}
		e.BaseVersion = base
		nextBase[entry.AggregateID] = base + 1

		batch = append(batch, e)
		byID[e.EventID] = entry
	}
	return batch, byID, nil
}

func (s *Syncer) handleResult(ctx context.Context, entry *models.QueueEntry, res *wire.PushResult) error {
	switch {
	case res.Accepted():
		return s.acceptAck(ctx, entry, res)

	case res.ErrorCode == wire.CodeVersionConflict:
		return s.handleVersionConflict(ctx, entry)

	case res.ErrorCode == wire.CodeOutOfOrder:
		// Predecessor failed; retried after its conflict resolves.
		return s.retryEntry(ctx, entry)

	case res.ErrorCode == wire.CodeUpgradeRequired:
		if err := s.retryEntry(ctx, entry); err != nil {
			return err
		}
		return fmt.Errorf("%w: server refused write", common.ErrUpgradeRequired)

	case res.ErrorCode == wire.CodeValidation || res.ErrorCode == wire.CodeSchema:
		// Never retried: indicates a client/server mismatch the user
		// cannot fix by waiting. The event stays in the local log as an
		// unsent fact; only the queue entry goes.
		s.logger.Error(ctx, "event rejected", "event_id", entry.EventID, "code", res.ErrorCode)
		s.notifier.Notify(ctx, entry.AggregateID, "an entry could not be submitted and needs attention")
		return s.repos.Queue.Remove(ctx, entry.EventID)

	default:
		return s.retryEntry(ctx, entry)
	}
}

// acceptAck reconciles the optimistic local copy with server-assigned
// fields, removes the queue entry, and folds the event into record state.
func (s *Syncer) acceptAck(ctx context.Context, entry *models.QueueEntry, res *wire.PushResult) error {
	fields := eventFields(res)
	if err := s.repos.Events.ConfirmServerFields(ctx, res.EventID, fields); err != nil &&
		!errors.Is(err, common.ErrImmutable) {
		return err
	}
	if err := s.repos.Queue.Remove(ctx, res.EventID); err != nil {
		return err
	}
	e, err := s.repos.Events.GetByID(ctx, res.EventID)
	if err != nil {
		return err
	}
	if err := s.projectConfirmed(ctx, e); err != nil {
		return err
	}
	return s.advanceCursor(ctx, res.GlobalSeq)
}

// handleVersionConflict runs the non-fast-forward policy: fetch the remote
// branch, replay it locally, ask the user to choose, retain the loser as a
// superseded event, and record the conflict permanently.
func (s *Syncer) handleVersionConflict(ctx context.Context, entry *models.QueueEntry) error {
	local, err := s.repos.Events.GetByID(ctx, entry.EventID)
	if err != nil {
		return err
	}
	localVersion, err := s.repos.Events.LastSequence(ctx, entry.AggregateID)
	if err != nil {
		return err
	}

	remote, err := s.transport.AggregateEvents(ctx, entry.AggregateID, localVersion+1)
	if err != nil {
		return s.retryEntry(ctx, entry)
	}
	if len(remote) == 0 {
		// Conflict reported but no newer events visible yet; retry later.
		return s.retryEntry(ctx, entry)
	}

	for _, re := range remote {
		if err := s.applyConfirmed(ctx, re); err != nil {
			return err
		}
	}
	remoteHead := remote[len(remote)-1]

	resolution, err := s.resolver.ResolveNonFastForward(ctx, localVersion, local, remoteHead)
	if err != nil {
		// Choice unavailable (e.g. cancelled); entry stays queued.
		return s.retryEntry(ctx, entry)
	}
	if err := s.repos.Conflicts.Insert(ctx, resolution.Record); err != nil {
		return err
	}

	switch resolution.Choice {
	case conflict.ChooseRemote:
		// Local edit loses: it never gets a sequence but is retained in
		// the local log, marked superseded so it stops folding into the
		// working state; the superseded event preserves it server-side.
		err := dbx.WithTx(ctx, s.repos.DB, nil, func(ctx context.Context, tx dbx.DBTX) error {
			if err := txQueue(tx).Remove(ctx, entry.EventID); err != nil {
				return err
			}
			if err := txEvents(tx).MarkSuperseded(ctx, local.EventID, resolution.Superseded.EventID); err != nil {
				return err
			}
			if err := txEvents(tx).Append(ctx, resolution.Superseded); err != nil {
				return err
			}
			return txQueue(tx).Enqueue(ctx, resolution.Superseded.EventID, resolution.Superseded.AggregateID, time.Now())
		})
		if err != nil {
			return err
		}
	case conflict.ChooseLocal:
		// Remote stays in history; the superseded marker documents its
		// rejection, then the local edit re-applies on top.
		if err := s.repos.Queue.Remove(ctx, entry.EventID); err != nil {
			return err
		}
		if err := s.appendAndEnqueue(ctx, resolution.Superseded); err != nil {
			return err
		}
		if err := s.repos.Queue.Enqueue(ctx, local.EventID, local.AggregateID, time.Now()); err != nil {
			return err
		}
	}

	s.Trigger(TriggerManual)
	return nil
}

// ApplyRemote is the subscription handler: it classifies and applies one
// inbound event and returns the cursor to resume from.
func (s *Syncer) ApplyRemote(ctx context.Context, e *event.Event) (int64, error) {
	stored, err := s.repos.Events.GetByID(ctx, e.EventID)
	if err == nil && stored.Confirmed() {
		// Our own push ack, or a redelivery; idempotent.
		if err := s.advanceCursor(ctx, e.GlobalSeq); err != nil {
			return 0, err
		}
		return e.GlobalSeq, nil
	}
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return 0, err
	}

	localVersion, err := s.repos.Events.LastSequence(ctx, e.AggregateID)
	if err != nil {
		return 0, err
	}
	pending, err := s.repos.Queue.HasPending(ctx, e.AggregateID)
	if err != nil {
		return 0, err
	}

	switch s.detector.Classify(localVersion, pending, e) {
	case conflict.NonFastForward:
		// Resolved through the push path, which owns the local branch.
		// Recording the detection here would double-count it.
		s.Trigger(TriggerManual)
		return e.GlobalSeq, nil

	case conflict.InvestigatorPush:
		if err := s.applyConfirmed(ctx, e); err != nil {
			return 0, err
		}
		rec := conflict.NewRecord(e.AggregateID, localVersion, e.Sequence,
			conflict.InvestigatorPush, conflict.ActionAppliedFlagged)
		if err := s.repos.Conflicts.Insert(ctx, rec); err != nil {
			return 0, err
		}
		s.notifier.Notify(ctx, e.AggregateID, "your diary record was updated by the study team")

	default: // fast-forward, including the degenerate new-device case
		if err := s.applyConfirmed(ctx, e); err != nil {
			return 0, err
		}
		rec := conflict.NewRecord(e.AggregateID, localVersion, e.Sequence,
			conflict.FastForward, conflict.ActionReplayedRemote)
		if err := s.repos.Conflicts.Insert(ctx, rec); err != nil {
			return 0, err
		}
	}

	if err := s.advanceCursor(ctx, e.GlobalSeq); err != nil {
		return 0, err
	}
	return e.GlobalSeq, nil
}

// applyConfirmed stores a server-confirmed event and folds it into record
// state, refetching the aggregate when a sequence gap shows up.
func (s *Syncer) applyConfirmed(ctx context.Context, e *event.Event) error {
	if !e.Confirmed() {
		return fmt.Errorf("%w: remote event %s lacks a sequence", common.ErrValidation, e.EventID)
	}
	if err := s.repos.Events.Append(ctx, e); err != nil {
		return err
	}
	return s.projectConfirmed(ctx, e)
}

// projectConfirmed advances the cached RecordState with one event. Events
// are never applied out of sequence order: a gap triggers a full re-fetch
// and replay instead.
func (s *Syncer) projectConfirmed(ctx context.Context, e *event.Event) error {
	state, err := s.repos.Records.Get(ctx, e.AggregateID)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return err
	}
	if state != nil && e.Sequence <= state.Version {
		return nil // already folded
	}

	next, err := s.projector.Apply(state, e)
	if errors.Is(err, projection.ErrSequenceGap) {
		return s.refetchAggregate(ctx, e.AggregateID)
	}
	if err != nil {
		return err
	}
	return s.repos.Records.Save(ctx, next)
}

// refetchAggregate restores a gapless local history from the server and
// replays it from scratch.
func (s *Syncer) refetchAggregate(ctx context.Context, aggregateID string) error {
	remote, err := s.transport.AggregateEvents(ctx, aggregateID, 1)
	if err != nil {
		return err
	}
	for _, e := range remote {
		if err := s.repos.Events.Append(ctx, e); err != nil {
			return err
		}
	}
	all, err := s.repos.Events.EventsFor(ctx, aggregateID, 1)
	if err != nil {
		return err
	}
	state, err := s.projector.Project(aggregateID, all)
	if err != nil {
		return err
	}
	return s.repos.Records.Save(ctx, state)
}

// CheckRemoteState guards locked records against unexplained divergence,
// e.g. from a bulk data import. A mismatch is an integrity alert: the
// record is frozen for investigator review and nothing is merged.
func (s *Syncer) CheckRemoteState(ctx context.Context, remote *projection.RecordState) error {
	local, err := s.repos.Records.Get(ctx, remote.AggregateID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil
		}
		return err
	}
	if !s.detector.LockedMismatch(local, remote) {
		return nil
	}
	rec := conflict.NewRecord(remote.AggregateID, local.Version, remote.Version,
		conflict.LockedMismatch, conflict.ActionIntegrityAlerted)
	rec.Detail = "locked record data diverged with no explaining event"
	if err := s.repos.Conflicts.Insert(ctx, rec); err != nil {
		return err
	}
	if err := s.repos.Metadata.Set(ctx, metadata.KeyReviewHoldPrefix+remote.AggregateID, []byte(rec.ID)); err != nil {
		return err
	}
	s.logger.Error(ctx, "integrity alert",
		"aggregate_id", remote.AggregateID, "conflict_id", rec.ID)
	s.notifier.Notify(ctx, remote.AggregateID, "a record integrity issue needs investigator review")
	return fmt.Errorf("%w: locked record %s diverged", common.ErrIntegrity, remote.AggregateID)
}

func (s *Syncer) subscribeLoop(ctx context.Context) {
	cursor, err := s.pullCursor(ctx)
	if err != nil {
		s.logger.Error(ctx, "cannot read pull cursor", "error", err.Error())
		return
	}
	err = s.transport.Subscribe(ctx, cursor, nil, func(e *event.Event) (int64, error) {
		return s.ApplyRemote(ctx, e)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error(ctx, "subscription stopped", "error", err.Error())
	}
}

// CatchUp pulls missed events once, using the stored cursor. Used at
// startup before the live subscription is established.
func (s *Syncer) CatchUp(ctx context.Context) error {
	cursor, err := s.pullCursor(ctx)
	if err != nil {
		return err
	}
	resp, err := s.transport.Pull(ctx, cursor, nil)
	if err != nil {
		return err
	}
	for _, e := range resp.Events {
		if _, err := s.ApplyRemote(ctx, e); err != nil {
			return err
		}
	}
	return s.verifyLockedRecords(ctx)
}

// verifyLockedRecords re-projects the server-side history of every locally
// locked record and compares it against the local state. Locked records
// admit no events, so any divergence is unexplained and raises an
// integrity alert instead of stopping the catch-up.
func (s *Syncer) verifyLockedRecords(ctx context.Context) error {
	aggregates, err := s.repos.Events.Aggregates(ctx)
	if err != nil {
		return err
	}
	for _, aggregateID := range aggregates {
		local, err := s.repos.Records.Get(ctx, aggregateID)
		if errors.Is(err, common.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if local.Status != projection.StatusLocked {
			continue
		}
		remoteEvents, err := s.transport.AggregateEvents(ctx, aggregateID, 1)
		if err != nil {
			return err
		}
		if len(remoteEvents) == 0 {
			continue
		}
		remote, err := s.projector.Project(aggregateID, remoteEvents)
		if err != nil {
			return err
		}
		if err := s.CheckRemoteState(ctx, remote); err != nil && !errors.Is(err, common.ErrIntegrity) {
			return err
		}
	}
	return nil
}

// QueueDepth reports how many events await acknowledgment; the UI shows
// this as the "pending sync" indicator.
func (s *Syncer) QueueDepth(ctx context.Context) (int, error) {
	return s.repos.Queue.Len(ctx)
}

func (s *Syncer) appendAndEnqueue(ctx context.Context, e *event.Event) error {
	return dbx.WithTx(ctx, s.repos.DB, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := txEvents(tx).Append(ctx, e); err != nil {
			return err
		}
		return txQueue(tx).Enqueue(ctx, e.EventID, e.AggregateID, time.Now())
	})
}

func (s *Syncer) retryAll(ctx context.Context, cause error) error {
	due, err := s.repos.Queue.Due(ctx, time.Now())
	if err != nil {
		return err
	}
	return s.retryEntries(ctx, due, cause)
}

func (s *Syncer) retryEntries(ctx context.Context, entries []*models.QueueEntry, cause error) error {
	for _, entry := range entries {
		if err := s.retryEntry(ctx, entry); err != nil {
			return err
		}
	}
	if cause != nil {
		return fmt.Errorf("queue pending retry: %w", cause)
	}
	return nil
}

// retryEntry reschedules one entry with exponential backoff plus jitter.
func (s *Syncer) retryEntry(ctx context.Context, entry *models.QueueEntry) error {
	attempt := entry.AttemptCount + 1
	delay := s.opts.RetryBase << uint(min(attempt-1, 16))
	if delay > s.opts.RetryCap {
		delay = s.opts.RetryCap
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	return s.repos.Queue.MarkFailed(ctx, entry.EventID, attempt, time.Now().Add(delay+jitter))
}

func (s *Syncer) pullCursor(ctx context.Context) (int64, error) {
	v, err := s.repos.Metadata.Get(ctx, metadata.KeyPullCursor)
	if err != nil {
		return 0, err
	}
	if v == nil {
		return 0, nil
	}
	cursor, err := strconv.ParseInt(string(v), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt pull cursor: %w", err)
	}
	return cursor, nil
}

func (s *Syncer) advanceCursor(ctx context.Context, globalSeq int64) error {
	if globalSeq == 0 {
		return nil
	}
	current, err := s.pullCursor(ctx)
	if err != nil {
		return err
	}
	if globalSeq <= current {
		return nil
	}
	return s.repos.Metadata.Set(ctx, metadata.KeyPullCursor,
		[]byte(strconv.FormatInt(globalSeq, 10)))
}

func (s *Syncer) reviewHeld(ctx context.Context, aggregateID string) (bool, error) {
	v, err := s.repos.Metadata.Get(ctx, metadata.KeyReviewHoldPrefix+aggregateID)
	if err != nil {
		return false, err
	}
	return v != nil, nil
}

func eventFields(res *wire.PushResult) (f events.ServerFields) {
	f.Sequence = res.Sequence
	if res.ServerTimestamp != nil {
		f.ServerTimestamp = res.ServerTimestamp.UTC().Format(time.RFC3339Nano)
	}
	f.PrevHash = res.PrevHash
	f.Hash = res.Hash
	f.HashAlg = res.HashAlg
	return f
}
