package conflict

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/trialware/diarysync/internal/event"
)

// Choice is the user's pick between two diverging versions.
type Choice int

const (
	ChooseLocal Choice = iota
	ChooseRemote
)

// ChoiceProvider is how the UI supplies resolution decisions for
// non-fast-forward conflicts. The resolver blocks on it; cancellation of
// ctx abandons the resolution attempt and the conflict stays pending.
type ChoiceProvider interface {
	Choose(ctx context.Context, aggregateID string, local, remote *event.Event) (Choice, error)
}

// ChoiceFunc adapts a function to the ChoiceProvider interface.
type ChoiceFunc func(ctx context.Context, aggregateID string, local, remote *event.Event) (Choice, error)

func (f ChoiceFunc) Choose(ctx context.Context, aggregateID string, local, remote *event.Event) (Choice, error) {
	return f(ctx, aggregateID, local, remote)
}

// Resolution is the outcome of a non-fast-forward conflict: the winning
// event, plus a superseded event preserving the losing branch.
type Resolution struct {
	Choice     Choice
	Superseded *event.Event
	Record     *Record
}

// Resolver turns classifications into resolutions. It produces events and
// records; persisting them is the caller's job.
type Resolver struct {
	choices ChoiceProvider
}

func NewResolver(choices ChoiceProvider) *Resolver {
	return &Resolver{choices: choices}
}

// ResolveNonFastForward asks the user to pick between the local unsynced
// event and the remote winner. Whatever the choice, the rejected version is
// never discarded: it is wrapped into an entry_superseded event appended
// after the winner, and the decision is written to the conflict record.
func (r *Resolver) ResolveNonFastForward(ctx context.Context, localVersion int64, local, remote *event.Event) (*Resolution, error) {
	choice, err := r.choices.Choose(ctx, local.AggregateID, local, remote)
	if err != nil {
		return nil, fmt.Errorf("conflict resolution for %s: %w", local.AggregateID, err)
	}

	winner, loser := remote, local
	action := ActionUserChoseRemote
	if choice == ChooseLocal {
		winner, loser = local, remote
		action = ActionUserChoseLocal
	}

	payload, err := event.MarshalPayload(&event.EntrySupersededV1{
		SupersededEventID: loser.EventID,
		ChosenEventID:     winner.EventID,
		RejectedPayload:   loser.Payload,
		Reason:            "non-fast-forward conflict resolved by user",
	})
	if err != nil {
		return nil, err
	}

	superseded := &event.Event{
		EventID:         uuid.NewString(),
		AggregateID:     local.AggregateID,
		Type:            event.TypeEntrySuperseded,
		SchemaVersion:   1,
		Payload:         payload,
		CausationID:     winner.EventID,
		DeviceUUID:      local.DeviceUUID,
		ActorID:         local.ActorID,
		ActorRole:       local.ActorRole,
		ClientTimestamp: time.Now(),
	}

	rec := NewRecord(local.AggregateID, localVersion, remote.Sequence, NonFastForward, action)
	rec.Detail = fmt.Sprintf("superseded %s in favor of %s", loser.EventID, winner.EventID)

	return &Resolution{Choice: choice, Superseded: superseded, Record: rec}, nil
}
