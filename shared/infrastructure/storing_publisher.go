package infrastructure

import (
	"context"

	"github.com/pkg/errors"

	"github.com/EarlyExpress/order-service/shared/events"
)

var _ events.Publisher = (*StoringPublisher)(nil)

// StoringPublisher decorates a Publisher with a durable write to the event
// store before the publish. The stream is append-only audit data, so the
// optimistic version check is skipped (expectedVersion -1).
type StoringPublisher struct {
	store events.EventStore
	next  events.Publisher
}

// NewStoringPublisher creates a publisher that records every event before publishing it
func NewStoringPublisher(store events.EventStore, next events.Publisher) *StoringPublisher {
	return &StoringPublisher{store: store, next: next}
}

// Publish stores the events grouped by aggregate, then delegates
func (p *StoringPublisher) Publish(ctx context.Context, evts ...*events.Event) error {
	if len(evts) == 0 {
		return nil
	}

	byAggregate := make(map[string][]*events.Event)
	for _, event := range evts {
		key := event.AggregateID.String()
		byAggregate[key] = append(byAggregate[key], event)
	}

	for _, group := range byAggregate {
		if err := p.store.SaveEvents(ctx, group[0].AggregateID, group, -1); err != nil {
			return errors.Wrap(err, "failed to store events")
		}
	}

	return p.next.Publish(ctx, evts...)
}
