// Package services holds the client-side application services: producing
// diary events, draining the offline queue, applying remote history, and
// sweeping chain integrity.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/trialware/diarysync/internal/client/client"
	"github.com/trialware/diarysync/internal/client/device"
	"github.com/trialware/diarysync/internal/client/repositories/metadata"
	"github.com/trialware/diarysync/internal/common"
	"github.com/trialware/diarysync/internal/dbx"
	"github.com/trialware/diarysync/internal/event"
	"github.com/trialware/diarysync/internal/logging"
	"github.com/trialware/diarysync/internal/projection"
)

// RecordService produces local events and reads record state. Appends are
// synchronous: the call returns only after the event is durably stored and
// queued, so the UI thread owns exactly one write at a time per aggregate.
type RecordService struct {
	repos     *client.Repositories
	registry  *event.Registry
	projector *projection.Projector
	identity  *device.Identity
	actorID   string
	actorRole string
	logger    logging.Logger
}

func NewRecordService(repos *client.Repositories, registry *event.Registry, identity *device.Identity, actorID, actorRole string, logger logging.Logger) *RecordService {
	return &RecordService{
		repos:     repos,
		registry:  registry,
		projector: projection.New(registry),
		identity:  identity,
		actorID:   actorID,
		actorRole: actorRole,
		logger:    logger.With("module", "record_service"),
	}
}

// CreateEntry starts a new diary record and returns its aggregate id.
func (s *RecordService) CreateEntry(ctx context.Context, p *event.EntryCreatedV2) (string, error) {
	aggregateID := uuid.NewString()
	payload, err := event.MarshalPayload(p)
	if err != nil {
		return "", err
	}
	if _, err := s.produce(ctx, aggregateID, event.TypeEntryCreated, 2, payload, ""); err != nil {
		return "", err
	}
	return aggregateID, nil
}

// AmendEntry appends a correction to an existing record.
func (s *RecordService) AmendEntry(ctx context.Context, aggregateID string, p *event.EntryAmendedV1) (string, error) {
	payload, err := event.MarshalPayload(p)
	if err != nil {
		return "", err
	}
	return s.produce(ctx, aggregateID, event.TypeEntryAmended, 1, payload, "")
}

// AddAnnotation attaches a note to a record.
func (s *RecordService) AddAnnotation(ctx context.Context, aggregateID, text string) (string, error) {
	payload, err := event.MarshalPayload(&event.AnnotationAddedV1{Text: text})
	if err != nil {
		return "", err
	}
	return s.produce(ctx, aggregateID, event.TypeAnnotationAdded, 1, payload, "")
}

// AcknowledgeAnnotation records the patient's dismissal of an annotation
// notification. The dismissal is caused by the annotation event, so the
// audit trail links the two.
func (s *RecordService) AcknowledgeAnnotation(ctx context.Context, aggregateID, annotationEventID string) (string, error) {
	payload, err := event.MarshalPayload(&event.AnnotationAckedV1{AnnotationEventID: annotationEventID})
	if err != nil {
		return "", err
	}
	return s.produce(ctx, aggregateID, event.TypeAnnotationAcked, 1, payload, annotationEventID)
}

// LockRecord freezes a record against further patient edits.
func (s *RecordService) LockRecord(ctx context.Context, aggregateID, reason string) (string, error) {
	payload, err := event.MarshalPayload(&event.RecordLockedV1{Reason: reason})
	if err != nil {
		return "", err
	}
	return s.produce(ctx, aggregateID, event.TypeRecordLocked, 1, payload, "")
}

// UnlockRecord reopens a locked record.
func (s *RecordService) UnlockRecord(ctx context.Context, aggregateID, reason string) (string, error) {
	payload, err := event.MarshalPayload(&event.RecordUnlockedV1{Reason: reason})
	if err != nil {
		return "", err
	}
	return s.produce(ctx, aggregateID, event.TypeRecordUnlocked, 1, payload, "")
}

// State returns the confirmed record state: the fold of server-sequenced
// events only. ErrNotFound until the first event is acknowledged.
func (s *RecordService) State(ctx context.Context, aggregateID string) (*projection.RecordState, error) {
	return s.repos.Records.Get(ctx, aggregateID)
}

// WorkingState folds unsynced local events on top of the confirmed state
// to give the UI an optimistic preview. Pending events get provisional
// successor sequences; nothing is persisted.
func (s *RecordService) WorkingState(ctx context.Context, aggregateID string) (*projection.RecordState, error) {
	state, err := s.repos.Records.Get(ctx, aggregateID)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}
	pending, err := s.repos.Events.PendingFor(ctx, aggregateID)
	if err != nil {
		return nil, err
	}
	if state == nil && len(pending) == 0 {
		return nil, fmt.Errorf("%w: aggregate %s", common.ErrNotFound, aggregateID)
	}
	var version int64
	if state != nil {
		version = state.Version
	}
	for _, e := range pending {
		preview := e.Clone()
		preview.Sequence = version + 1
		next, err := s.projector.Apply(state, preview)
		if err != nil {
			return nil, err
		}
		state = next
		version++
	}
	return state, nil
}

// produce validates, durably appends and enqueues one event in a single
// transaction. The claimed base version is the confirmed version plus the
// number of locally pending events, i.e. the head this event expects when
// it reaches the server.
func (s *RecordService) produce(ctx context.Context, aggregateID, eventType string, schemaVersion int, payload []byte, causationID string) (string, error) {
	if held, err := s.reviewHeld(ctx, aggregateID); err != nil {
		return "", err
	} else if held {
		return "", fmt.Errorf("%w: aggregate %s is frozen pending investigator review", common.ErrIntegrity, aggregateID)
	}

	confirmed, err := s.repos.Events.LastSequence(ctx, aggregateID)
	if err != nil {
		return "", err
	}
	pending, err := s.repos.Events.PendingFor(ctx, aggregateID)
	if err != nil {
		return "", err
	}

	e := &event.Event{
		EventID:         uuid.NewString(),
		AggregateID:     aggregateID,
		Type:            eventType,
		SchemaVersion:   schemaVersion,
		Payload:         payload,
		CausationID:     causationID,
		DeviceUUID:      s.identity.UUID,
		ActorID:         s.actorID,
		ActorRole:       s.actorRole,
		ClientTimestamp: time.Now(),
		BaseVersion:     confirmed + int64(len(pending)),
	}
	if err := s.registry.ValidateForAppend(e); err != nil {
		return "", err
	}

	// Reject edits the reducer would refuse, before they enter the queue.
	if _, err := s.WorkingStatePlus(ctx, aggregateID, e); err != nil {
		return "", err
	}

	err = dbx.WithTx(ctx, s.repos.DB, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := txEvents(tx).Append(ctx, e); err != nil {
			return err
		}
		return txQueue(tx).Enqueue(ctx, e.EventID, aggregateID, time.Now())
	})
	if err != nil {
		return "", err
	}
	s.logger.Debug(ctx, "event produced", "event_id", e.EventID, "aggregate_id", aggregateID, "type", eventType)
	return e.EventID, nil
}

// WorkingStatePlus previews the working state with one extra event on top.
func (s *RecordService) WorkingStatePlus(ctx context.Context, aggregateID string, extra *event.Event) (*projection.RecordState, error) {
	state, err := s.WorkingState(ctx, aggregateID)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}
	preview := extra.Clone()
	if state == nil {
		preview.Sequence = 1
	} else {
		preview.Sequence = state.Version + 1
	}
	return s.projector.Apply(state, preview)
}

func (s *RecordService) reviewHeld(ctx context.Context, aggregateID string) (bool, error) {
	v, err := s.repos.Metadata.Get(ctx, metadata.KeyReviewHoldPrefix+aggregateID)
	if err != nil {
		return false, err
	}
	return v != nil, nil
}
