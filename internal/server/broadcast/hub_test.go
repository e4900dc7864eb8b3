package broadcast

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trialware/diarysync/internal/event"
)

func published(aggregateID string, globalSeq int64) *event.Event {
	return &event.Event{
		EventID:     "ev-" + aggregateID,
		AggregateID: aggregateID,
		Type:        event.TypeEntryCreated,
		GlobalSeq:   globalSeq,
	}
}

func TestPublish_ReachesAllSubscribers(t *testing.T) {
	t.Parallel()

	hub := NewHub()
	ctx := context.Background()

	ch1, cancel1 := hub.Subscribe(nil)
	defer cancel1()
	ch2, cancel2 := hub.Subscribe(nil)
	defer cancel2()
	require.Equal(t, 2, hub.Len())

	e := published("rec-1", 1)
	hub.Publish(ctx, e)

	assert.Same(t, e, <-ch1)
	assert.Same(t, e, <-ch2)
}

func TestSubscribe_AggregateFilter(t *testing.T) {
	t.Parallel()

	hub := NewHub()
	ctx := context.Background()

	filtered, cancel := hub.Subscribe([]string{"rec-1"})
	defer cancel()

	hub.Publish(ctx, published("rec-2", 1))
	hub.Publish(ctx, published("rec-1", 2))

	got := <-filtered
	assert.Equal(t, "rec-1", got.AggregateID)
	select {
	case extra := <-filtered:
		t.Fatalf("unexpected extra delivery: %+v", extra)
	default:
	}
}

func TestCancel_ClosesChannelAndIsReentrant(t *testing.T) {
	t.Parallel()

	hub := NewHub()

	ch, cancel := hub.Subscribe(nil)
	require.Equal(t, 1, hub.Len())

	cancel()
	cancel()
	assert.Equal(t, 0, hub.Len())

	_, open := <-ch
	assert.False(t, open, "channel should be closed after cancel")

	// Publishing after cancel must not panic or deliver.
	hub.Publish(context.Background(), published("rec-1", 1))
}

func TestPublish_DropsWhenSubscriberIsFull(t *testing.T) {
	t.Parallel()

	hub := NewHub()
	ctx := context.Background()

	ch, cancel := hub.Subscribe(nil)
	defer cancel()

	// Overfill the buffer; Publish must never block the caller.
	for i := int64(1); i <= 100; i++ {
		hub.Publish(ctx, published("rec-1", i))
	}

	n := 0
	for {
		select {
		case <-ch:
			n++
			continue
		default:
		}
		break
	}
	assert.Equal(t, 64, n, "deliveries are capped at the buffer size")
}
