package application

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/EarlyExpress/order-service/order-service/domain"
	"github.com/EarlyExpress/order-service/shared/events"
	"github.com/EarlyExpress/order-service/shared/models"
)

// Compensator unwinds completed saga steps in reverse execution order. Stock
// and delivery legs are undone over their synchronous gateways; payment
// cancellation goes out as a refund request event and suspends the pass until
// the refund result comes back.
type Compensator struct {
	orderRepository domain.OrderRepository
	sagaRepository  domain.SagaRepository

	stockGateway       domain.StockGateway
	hubDeliveryGateway domain.HubDeliveryGateway
	lastMileGateway    domain.LastMileGateway

	eventPublisher events.Publisher
}

// NewCompensator creates a new Compensator
func NewCompensator(
	orderRepository domain.OrderRepository,
	sagaRepository domain.SagaRepository,
	stockGateway domain.StockGateway,
	hubDeliveryGateway domain.HubDeliveryGateway,
	lastMileGateway domain.LastMileGateway,
	eventPublisher events.Publisher,
) *Compensator {
	return &Compensator{
		orderRepository:    orderRepository,
		sagaRepository:     sagaRepository,
		stockGateway:       stockGateway,
		hubDeliveryGateway: hubDeliveryGateway,
		lastMileGateway:    lastMileGateway,
		eventPublisher:     eventPublisher,
	}
}

// Execute loads the aggregates, turns the saga around if it is not already
// compensating, and runs the pass. A completed saga still unwinds here; only
// a saga whose compensation already closed is left alone.
func (c *Compensator) Execute(ctx context.Context, orderID models.ID, reason string) error {
	order, err := c.orderRepository.FindByID(ctx, orderID)
	if err != nil {
		return errors.Wrap(err, "failed to find order")
	}
	if order == nil {
		return errors.Wrapf(domain.ErrOrderNotFound, "order %s", orderID)
	}

	saga, err := c.sagaRepository.FindByOrderID(ctx, orderID)
	if err != nil {
		return errors.Wrap(err, "failed to find saga")
	}
	if saga == nil {
		return errors.Wrapf(domain.ErrSagaNotFound, "saga for order %s", orderID)
	}

	if saga.CompensationClosed() {
		return nil
	}
	if saga.Status != domain.SagaStatusCompensating {
		if err := saga.StartCompensation(reason); err != nil {
			return err
		}
		if err := persistSaga(ctx, c.sagaRepository, c.eventPublisher, saga); err != nil {
			return err
		}
	}

	return c.Run(ctx, order, saga)
}

// Run works through the pending compensations back to front. Returns nil both
// when the pass finishes and when it suspends on a refund request; returns
// ErrCompensationFailed when an undo breaks and the saga lands in
// COMPENSATION_FAILED.
func (c *Compensator) Run(ctx context.Context, order *domain.Order, saga *domain.Saga) error {
	for {
		pending := saga.CompletedStepsNeedingCompensation()
		if len(pending) == 0 {
			return c.finish(ctx, order, saga)
		}

		// most recently completed step first
		step := pending[len(pending)-1]
		def, ok := domain.StepDef(step)
		if !ok {
			return errors.Wrapf(domain.ErrSagaStateMismatch, "unknown step %s in history", step)
		}
		comp := def.Compensation

		if err := saga.ExecuteCompensation(step, comp); err != nil {
			return err
		}
		if err := persistSaga(ctx, c.sagaRepository, c.eventPublisher, saga); err != nil {
			return err
		}

		if comp == domain.CompensationPaymentCancel {
			return c.requestRefund(ctx, order, saga)
		}

		if err := c.undo(ctx, order, saga, step, comp); err != nil {
			return c.failPass(ctx, order, saga, comp, err)
		}

		if err := saga.CompleteCompensation(comp); err != nil {
			return err
		}
		if err := persistSaga(ctx, c.sagaRepository, c.eventPublisher, saga); err != nil {
			return err
		}
	}
}

func (c *Compensator) undo(ctx context.Context, order *domain.Order, saga *domain.Saga, step domain.Step, comp domain.CompensationStep) error {
	data := saga.CompensationData[step]

	switch comp {
	case domain.CompensationStockRestore:
		var payload domain.StockReservePayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return errors.Wrap(err, "failed to unmarshal stock payload")
		}
		return c.stockGateway.Restore(ctx, domain.RestoreStockRequest{
			ReservationID: payload.ReservationID,
			OrderID:       order.ID,
			Items:         payload.ReservedItems,
			Reason:        saga.FailureReason,
		})

	case domain.CompensationHubDeliveryCancel:
		var payload domain.HubDeliveryPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return errors.Wrap(err, "failed to unmarshal hub delivery payload")
		}
		// nothing to cancel when the create never yielded a delivery id
		if payload.HubDeliveryID == "" {
			return nil
		}
		return c.hubDeliveryGateway.Cancel(ctx, payload.HubDeliveryID)

	case domain.CompensationLastMileDeliveryCancel:
		var payload domain.LastMilePayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return errors.Wrap(err, "failed to unmarshal last mile payload")
		}
		if payload.LastMileDeliveryID == "" {
			return nil
		}
		return c.lastMileGateway.Cancel(ctx, payload.LastMileDeliveryID)
	}

	return errors.Errorf("no handler for compensation step %s", comp)
}

// requestRefund publishes the refund request and leaves the pass suspended.
// The refund result handler completes or fails the PAYMENT_CANCEL entry and
// resumes.
func (c *Compensator) requestRefund(ctx context.Context, order *domain.Order, saga *domain.Saga) error {
	var payload domain.PaymentVerifyPayload
	if err := json.Unmarshal(saga.CompensationData[domain.StepPaymentVerify], &payload); err != nil {
		return errors.Wrap(err, "failed to unmarshal payment payload")
	}

	event := events.NewEvent(order.ID, events.PaymentRefundRequestedEvent, domain.RefundRequestData{
		OrderID:   order.ID,
		SagaID:    saga.ID,
		PaymentID: payload.PaymentID,
		Amount:    payload.Amount,
		Reason:    saga.FailureReason,
	}).WithCorrelationID(saga.ID)

	if err := c.eventPublisher.Publish(ctx, event); err != nil {
		return c.failPass(ctx, order, saga, domain.CompensationPaymentCancel, err)
	}
	return nil
}

// finish closes out a fully unwound saga. An order cancelled by its owner
// keeps CANCELLED; anything else becomes COMPENSATED.
func (c *Compensator) finish(ctx context.Context, order *domain.Order, saga *domain.Saga) error {
	if err := saga.CompleteAllCompensations(); err != nil {
		return err
	}
	if err := persistSaga(ctx, c.sagaRepository, c.eventPublisher, saga); err != nil {
		return err
	}

	if !order.IsTerminal() {
		if err := order.Compensate(); err != nil {
			return err
		}
		if err := persistOrder(ctx, c.orderRepository, c.eventPublisher, order); err != nil {
			return err
		}
	}
	return nil
}

// failPass stops the whole pass on a broken undo. The saga keeps its
// compensation data for manual recovery.
func (c *Compensator) failPass(ctx context.Context, order *domain.Order, saga *domain.Saga, comp domain.CompensationStep, cause error) error {
	if err := saga.FailCompensation(comp, cause.Error()); err != nil {
		return err
	}
	if err := persistSaga(ctx, c.sagaRepository, c.eventPublisher, saga); err != nil {
		return err
	}

	if !order.IsTerminal() {
		if err := order.Fail(); err != nil {
			return err
		}
		if err := persistOrder(ctx, c.orderRepository, c.eventPublisher, order); err != nil {
			return err
		}
	}

	return errors.Wrapf(domain.ErrCompensationFailed, "%s: %v", comp, cause)
}
