package events

import (
	"context"
	"fmt"
	"time"

	"github.com/applyforge/applyforge/internal/store"
)

// EventStore is the slice of the persistence layer the emitter needs:
// a durable per-run sequence and an append-only event log.
type EventStore interface {
	NextSeq(ctx context.Context, runID string) (int64, error)
	AppendEvent(ctx context.Context, event store.RunEvent) error
}

// Emitter assigns a sequence number, appends the event durably, and only
// then fans it out to live subscribers. Append-before-publish keeps the
// replay log the source of truth.
type Emitter struct {
	store  EventStore
	broker *Broker
}

func NewEmitter(eventStore EventStore, broker *Broker) *Emitter {
	return &Emitter{store: eventStore, broker: broker}
}

func (e *Emitter) Emit(ctx context.Context, event store.RunEvent) (store.RunEvent, error) {
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	event.Kind = NormalizeKind(event.Kind)

	seq, err := e.store.NextSeq(ctx, event.RunID)
	if err != nil {
		return event, fmt.Errorf("next seq for run %s: %w", event.RunID, err)
	}
	event.Seq = seq

	if err := e.store.AppendEvent(ctx, event); err != nil {
		return event, fmt.Errorf("append event seq %d for run %s: %w", seq, event.RunID, err)
	}

	e.broker.Publish(FromStore(event))
	return event, nil
}
