package application

import (
	"context"

	"github.com/pkg/errors"

	"github.com/EarlyExpress/order-service/order-service/domain"
	"github.com/EarlyExpress/order-service/shared/events"
	"github.com/EarlyExpress/order-service/shared/models"
)

// CancelOrderCommand represents the command to cancel an order
type CancelOrderCommand struct {
	OrderID models.ID `json:"order_id"`
	Reason  string    `json:"reason"`
}

// CancelOrderResponse represents the response after cancelling an order
type CancelOrderResponse struct {
	OrderID    models.ID          `json:"order_id"`
	Status     domain.OrderStatus `json:"status"`
	SagaStatus domain.SagaStatus  `json:"saga_status,omitempty"`
}

// CancelOrder use case cancels an order before it leaves the origin hub and
// unwinds whatever saga steps already completed.
type CancelOrder struct {
	orderRepository domain.OrderRepository
	sagaRepository  domain.SagaRepository
	compensator     *Compensator
	eventPublisher  events.Publisher
}

// NewCancelOrder creates a new CancelOrder use case
func NewCancelOrder(
	orderRepository domain.OrderRepository,
	sagaRepository domain.SagaRepository,
	compensator *Compensator,
	eventPublisher events.Publisher,
) *CancelOrder {
	return &CancelOrder{
		orderRepository: orderRepository,
		sagaRepository:  sagaRepository,
		compensator:     compensator,
		eventPublisher:  eventPublisher,
	}
}

// Execute executes the cancel order use case
func (uc *CancelOrder) Execute(ctx context.Context, cmd *CancelOrderCommand) (*CancelOrderResponse, error) {
	if cmd.Reason == "" {
		return nil, errors.New("reason is required")
	}

	order, err := uc.orderRepository.FindByID(ctx, cmd.OrderID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find order")
	}
	if order == nil {
		return nil, errors.Wrapf(domain.ErrOrderNotFound, "order %s", cmd.OrderID)
	}

	if err := order.Cancel(cmd.Reason); err != nil {
		return nil, err
	}
	if err := persistOrder(ctx, uc.orderRepository, uc.eventPublisher, order); err != nil {
		return nil, err
	}

	response := &CancelOrderResponse{
		OrderID: order.ID,
		Status:  order.Status,
	}

	// The compensator reloads the cancelled order and turns the saga around
	// itself. A compensation failure is an outcome the caller reads from the
	// saga status, not an error of the cancellation.
	err = uc.compensator.Execute(ctx, cmd.OrderID, "order cancelled: "+cmd.Reason)
	if err != nil && !errors.Is(err, domain.ErrCompensationFailed) && !errors.Is(err, domain.ErrSagaNotFound) {
		return nil, err
	}

	saga, err := uc.sagaRepository.FindByOrderID(ctx, cmd.OrderID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find saga")
	}
	if saga != nil {
		response.SagaStatus = saga.Status
	}
	return response, nil
}
