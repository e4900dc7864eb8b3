package projection

import (
	"errors"
	"fmt"

	"github.com/trialware/diarysync/internal/common"
	"github.com/trialware/diarysync/internal/event"
)

// ErrSequenceGap means the event is not the immediate successor of the
// state it was applied to. The caller either buffers the event until the
// gap is filled or falls back to a full replay.
var ErrSequenceGap = errors.New("sequence gap")

// Projector folds events into RecordState. It is stateless; all state lives
// in the arguments, so the same projector instance can serve every
// aggregate concurrently.
type Projector struct {
	registry *event.Registry
}

func New(registry *event.Registry) *Projector {
	return &Projector{registry: registry}
}

// Project replays events, already ordered by ascending sequence, from
// scratch. Used on first load and whenever gaps force a full re-fetch.
func (p *Projector) Project(aggregateID string, events []*event.Event) (*RecordState, error) {
	var state *RecordState
	for _, e := range events {
		next, err := p.Apply(state, e)
		if err != nil {
			return nil, err
		}
		state = next
	}
	if state == nil {
		return nil, fmt.Errorf("%w: aggregate %s has no events", common.ErrNotFound, aggregateID)
	}
	return state, nil
}

// Apply folds one event into the state and returns the successor state.
// The input state is never mutated. A nil state is only valid for the first
// event of an aggregate; otherwise the event must be the immediate
// successor of state.Version or ErrSequenceGap is returned.
func (p *Projector) Apply(state *RecordState, e *event.Event) (*RecordState, error) {
	if !e.Confirmed() {
		return nil, fmt.Errorf("%w: event %s has no sequence", common.ErrValidation, e.EventID)
	}
	if state == nil {
		if e.Sequence != 1 {
			return nil, fmt.Errorf("%w: first event has sequence %d", ErrSequenceGap, e.Sequence)
		}
	} else if e.Sequence != state.Version+1 {
		return nil, fmt.Errorf("%w: at version %d, got sequence %d", ErrSequenceGap, state.Version, e.Sequence)
	}

	payload, _, err := p.registry.DecodeCurrent(e)
	if err != nil {
		return nil, err
	}

	var next *RecordState
	if state == nil {
		next = &RecordState{AggregateID: e.AggregateID, Status: StatusOpen}
	} else {
		next = state.Clone()
	}
	if err := reduce(next, e, payload); err != nil {
		return nil, err
	}
	next.Version = e.Sequence
	next.LastEventID = e.EventID
	return next, nil
}

// reduce applies the type-specific transition. It is the single place that
// interprets payloads; keeping it total and free of clocks, randomness and
// I/O is what guarantees determinism.
func reduce(s *RecordState, e *event.Event, payload event.Payload) error {
	switch p := payload.(type) {
	case *event.EntryCreatedV2:
		if s.LastEventID != "" {
			return fmt.Errorf("%w: duplicate entry_created for %s", common.ErrValidation, e.AggregateID)
		}
		s.Data.EntryDate = p.EntryDate
		s.Data.Symptom = p.Symptom
		s.Data.Severity = p.Severity
		s.Data.Notes = p.Notes

	case *event.EntryAmendedV1:
		if s.LastEventID == "" {
			return fmt.Errorf("%w: amendment before creation", common.ErrValidation)
		}
		if s.Status == StatusLocked && e.ActorRole == event.RolePatient {
			return fmt.Errorf("%w: patient edit on locked record %s", common.ErrValidation, e.AggregateID)
		}
		if p.Symptom != nil {
			s.Data.Symptom = *p.Symptom
		}
		if p.Severity != nil {
			s.Data.Severity = *p.Severity
		}
		if p.Notes != nil {
			s.Data.Notes = *p.Notes
		}

	case *event.EntrySupersededV1:
		// Retains the rejected branch in history; current data is already
		// the chosen branch, so nothing else changes.

	case *event.RecordLockedV1:
		s.Status = StatusLocked

	case *event.RecordUnlockedV1:
		s.Status = StatusOpen

	case *event.AnnotationAddedV1:
		s.Data.Annotations = append(s.Data.Annotations, Annotation{
			EventID:   e.EventID,
			ActorID:   e.ActorID,
			ActorRole: e.ActorRole,
			Text:      p.Text,
		})
		if e.ActorRole != event.RolePatient {
			s.PendingAck = true
		}

	case *event.AnnotationAckedV1:
		// Patient-authored notes never raised the flag on add, so they do
		// not hold it up here either.
		anyPending := false
		for i := range s.Data.Annotations {
			if s.Data.Annotations[i].EventID == p.AnnotationEventID {
				s.Data.Annotations[i].Acknowledged = true
			}
			if s.Data.Annotations[i].ActorRole != event.RolePatient &&
				!s.Data.Annotations[i].Acknowledged {
				anyPending = true
			}
		}
		s.PendingAck = anyPending

	default:
		return fmt.Errorf("%w: no reducer for %s/v%d", common.ErrSchema, e.Type, e.SchemaVersion)
	}
	return nil
}
