package handlers

import (
	"context"
	"fmt"

	"github.com/EarlyExpress/order-service/order-service/application"
	"github.com/EarlyExpress/order-service/order-service/domain"
	"github.com/EarlyExpress/order-service/shared/events"
)

// OrderEventHandlers contains event handlers for the order service
type OrderEventHandlers struct {
	orchestrator        *application.Orchestrator
	processRefundResult *application.ProcessRefundResult
	trackProgress       *application.TrackDeliveryProgress
}

// NewOrderEventHandlers creates new order event handlers
func NewOrderEventHandlers(
	orchestrator *application.Orchestrator,
	processRefundResult *application.ProcessRefundResult,
	trackProgress *application.TrackDeliveryProgress,
) *OrderEventHandlers {
	return &OrderEventHandlers{
		orchestrator:        orchestrator,
		processRefundResult: processRefundResult,
		trackProgress:       trackProgress,
	}
}

// Handle implements the events.EventHandler interface
func (h *OrderEventHandlers) Handle(ctx context.Context, event *events.Event) error {
	switch event.EventType {
	case events.OrderPaymentVerifiedEvent:
		return h.HandlePaymentVerified(ctx, event)
	case events.PaymentRefundCompletedEvent:
		return h.HandleRefundResult(ctx, event, true)
	case events.PaymentRefundFailedEvent:
		return h.HandleRefundResult(ctx, event, false)
	case events.DeliveryHubWaitingEvent,
		events.DeliveryHubDepartedEvent,
		events.DeliveryHubArrivedEvent,
		events.DeliveryLastMileReadyEvent,
		events.DeliveryPickupEvent,
		events.DeliveryCompletedEvent:
		return h.HandleDeliveryProgress(ctx, event)
	default:
		// Unknown event type, ignore
		return nil
	}
}

// HandlerID returns the unique identifier for this event handler
func (h *OrderEventHandlers) HandlerID() string {
	return "order-service-event-handler"
}

// HandlePaymentVerified kicks off the asynchronous saga phase. Processing
// failures are already recorded on the saga, so they are not returned: a
// redelivery would hit an order that already failed or compensated.
func (h *OrderEventHandlers) HandlePaymentVerified(ctx context.Context, event *events.Event) error {
	if err := h.orchestrator.ExecuteAsyncPhase(ctx, event.AggregateID); err != nil {
		fmt.Printf("Async phase for order %s ended with: %v\n", event.AggregateID, err)
	}
	return nil
}

// HandleRefundResult resumes a compensation pass waiting on a refund
func (h *OrderEventHandlers) HandleRefundResult(ctx context.Context, event *events.Event, succeeded bool) error {
	var data domain.RefundResultData
	if err := event.UnmarshalPayload(&data); err != nil {
		fmt.Printf("Failed to unmarshal refund result for order %s: %v\n", event.AggregateID, err)
		return nil
	}

	orderID := data.OrderID
	if orderID == "" {
		orderID = event.AggregateID
	}

	cmd := &application.ProcessRefundResultCommand{
		OrderID:   orderID,
		Succeeded: succeeded,
		RefundID:  data.RefundID,
		Reason:    data.Reason,
	}
	if err := h.processRefundResult.Execute(ctx, cmd); err != nil {
		fmt.Printf("Failed to process refund result for order %s: %v\n", orderID, err)
	}
	return nil
}

// HandleDeliveryProgress applies a transport progress report to the order
func (h *OrderEventHandlers) HandleDeliveryProgress(ctx context.Context, event *events.Event) error {
	cmd := &application.TrackDeliveryProgressCommand{
		OrderID:    event.AggregateID,
		EventType:  event.EventType,
		OccurredAt: event.Timestamp,
	}
	if err := h.trackProgress.Execute(ctx, cmd); err != nil {
		fmt.Printf("Failed to apply %s for order %s: %v\n", event.EventType, event.AggregateID, err)
	}
	return nil
}
