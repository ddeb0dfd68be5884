package application

import (
	"context"

	"github.com/pkg/errors"

	"github.com/EarlyExpress/order-service/order-service/domain"
	"github.com/EarlyExpress/order-service/shared/events"
	"github.com/EarlyExpress/order-service/shared/models"
)

// ProcessRefundResultCommand represents the refund outcome reported by the
// payment service
type ProcessRefundResultCommand struct {
	OrderID   models.ID `json:"order_id"`
	Succeeded bool      `json:"succeeded"`
	RefundID  string    `json:"refund_id,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// ProcessRefundResult use case resumes a compensation pass suspended on
// PAYMENT_CANCEL. A completed refund closes the entry and continues the pass;
// a failed refund stops it cold.
type ProcessRefundResult struct {
	orderRepository domain.OrderRepository
	sagaRepository  domain.SagaRepository
	compensator     *Compensator
	eventPublisher  events.Publisher
}

// NewProcessRefundResult creates a new ProcessRefundResult use case
func NewProcessRefundResult(
	orderRepository domain.OrderRepository,
	sagaRepository domain.SagaRepository,
	compensator *Compensator,
	eventPublisher events.Publisher,
) *ProcessRefundResult {
	return &ProcessRefundResult{
		orderRepository: orderRepository,
		sagaRepository:  sagaRepository,
		compensator:     compensator,
		eventPublisher:  eventPublisher,
	}
}

// Execute executes the process refund result use case
func (uc *ProcessRefundResult) Execute(ctx context.Context, cmd *ProcessRefundResultCommand) error {
	order, err := uc.orderRepository.FindByID(ctx, cmd.OrderID)
	if err != nil {
		return errors.Wrap(err, "failed to find order")
	}
	if order == nil {
		return errors.Wrapf(domain.ErrOrderNotFound, "order %s", cmd.OrderID)
	}

	saga, err := uc.sagaRepository.FindByOrderID(ctx, cmd.OrderID)
	if err != nil {
		return errors.Wrap(err, "failed to find saga")
	}
	if saga == nil {
		return errors.Wrapf(domain.ErrSagaNotFound, "saga for order %s", cmd.OrderID)
	}

	// duplicate or late delivery, the pass already ended
	if saga.Status != domain.SagaStatusCompensating {
		return nil
	}

	if !cmd.Succeeded {
		reason := cmd.Reason
		if reason == "" {
			reason = "refund failed"
		}
		if err := saga.FailCompensation(domain.CompensationPaymentCancel, reason); err != nil {
			return err
		}
		if err := persistSaga(ctx, uc.sagaRepository, uc.eventPublisher, saga); err != nil {
			return err
		}
		if !order.IsTerminal() {
			if err := order.Fail(); err != nil {
				return err
			}
			if err := persistOrder(ctx, uc.orderRepository, uc.eventPublisher, order); err != nil {
				return err
			}
		}
		return nil
	}

	if err := saga.CompleteCompensation(domain.CompensationPaymentCancel); err != nil {
		return err
	}
	if err := persistSaga(ctx, uc.sagaRepository, uc.eventPublisher, saga); err != nil {
		return err
	}

	return uc.compensator.Run(ctx, order, saga)
}
