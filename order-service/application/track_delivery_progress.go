package application

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/EarlyExpress/order-service/order-service/domain"
	"github.com/EarlyExpress/order-service/shared/events"
	"github.com/EarlyExpress/order-service/shared/models"
)

// TrackDeliveryProgressCommand carries a delivery progress report from the
// transport services
type TrackDeliveryProgressCommand struct {
	OrderID    models.ID `json:"order_id"`
	EventType  string    `json:"event_type"`
	OccurredAt time.Time `json:"occurred_at"`
}

// TrackDeliveryProgress use case applies transport progress events to the
// order after the saga confirmed it
type TrackDeliveryProgress struct {
	orderRepository domain.OrderRepository
	eventPublisher  events.Publisher
}

// NewTrackDeliveryProgress creates a new TrackDeliveryProgress use case
func NewTrackDeliveryProgress(
	orderRepository domain.OrderRepository,
	eventPublisher events.Publisher,
) *TrackDeliveryProgress {
	return &TrackDeliveryProgress{
		orderRepository: orderRepository,
		eventPublisher:  eventPublisher,
	}
}

// Execute executes the track delivery progress use case
func (uc *TrackDeliveryProgress) Execute(ctx context.Context, cmd *TrackDeliveryProgressCommand) error {
	order, err := uc.orderRepository.FindByID(ctx, cmd.OrderID)
	if err != nil {
		return errors.Wrap(err, "failed to find order")
	}
	if order == nil {
		return errors.Wrapf(domain.ErrOrderNotFound, "order %s", cmd.OrderID)
	}

	at := cmd.OccurredAt
	if at.IsZero() {
		at = time.Now()
	}

	switch cmd.EventType {
	case events.DeliveryHubWaitingEvent:
		err = order.MarkHubWaiting()
	case events.DeliveryHubDepartedEvent:
		err = order.DepartHub(at)
	case events.DeliveryHubArrivedEvent:
		err = order.ArriveAtHub(at)
	case events.DeliveryLastMileReadyEvent:
		err = order.MarkLastMileReady()
	case events.DeliveryPickupEvent:
		err = order.StartDelivery(at)
	case events.DeliveryCompletedEvent:
		err = order.CompleteDelivery(at)
	default:
		return nil
	}
	if err != nil {
		return err
	}

	return persistOrder(ctx, uc.orderRepository, uc.eventPublisher, order)
}
