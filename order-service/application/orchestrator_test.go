package application

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EarlyExpress/order-service/order-service/domain"
	"github.com/EarlyExpress/order-service/shared/events"
	"github.com/EarlyExpress/order-service/shared/models"
)

func TestCreateOrder_HappyPathSyncPhase(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	response, err := f.createOrder.Execute(ctx, validCommand())
	require.NoError(t, err)

	assert.Equal(t, domain.OrderStatusPaymentVerified, response.Status)
	assert.Equal(t, domain.SagaStatusInProgress, response.SagaStatus)
	assert.NotEmpty(t, response.OrderNumber)

	order, _ := f.orderRepo.FindByID(ctx, response.OrderID)
	require.NotNil(t, order)
	assert.Equal(t, "HUB-001", order.ProductHubID)
	assert.True(t, order.RequiresHubDelivery)
	assert.Equal(t, int64(5000), order.TotalAmount.Amount)

	saga, _ := f.sagaRepo.FindByOrderID(ctx, response.OrderID)
	require.NotNil(t, saga)
	assert.Equal(t, domain.StepRouteCalculate, saga.CurrentStep)

	// exactly one payment-verified event hands off to the async phase
	assert.Len(t, f.publisher.byType(events.OrderPaymentVerifiedEvent), 1)
}

func TestOrchestrator_FullSuccess(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	response, err := f.createOrder.Execute(ctx, validCommand())
	require.NoError(t, err)

	require.NoError(t, f.orchestrator.ExecuteAsyncPhase(ctx, response.OrderID))

	order, _ := f.orderRepo.FindByID(ctx, response.OrderID)
	assert.Equal(t, domain.OrderStatusConfirmed, order.Status)
	require.NotNil(t, order.Route)
	assert.Equal(t, "HUB-002", order.Route.DestinationHubID)
	require.NotNil(t, order.Schedule)
	assert.Equal(t, "hub-delivery-1", order.HubDeliveryID)
	assert.Equal(t, "last-mile-1", order.LastMileDeliveryID)
	assert.Equal(t, "Lee", order.DriverName)

	saga, _ := f.sagaRepo.FindByOrderID(ctx, response.OrderID)
	assert.Equal(t, domain.SagaStatusCompleted, saga.Status)

	assert.Len(t, f.publisher.byType(events.OrderConfirmedEvent), 1)
	assert.Len(t, f.publisher.byType(events.NotificationSendRequestedEvent), 1)
	assert.Len(t, f.publisher.byType(events.TrackingStartRequestedEvent), 1)

	// redelivery of the trigger event is a no-op
	require.NoError(t, f.orchestrator.ExecuteAsyncPhase(ctx, response.OrderID))
	assert.Len(t, f.publisher.byType(events.OrderConfirmedEvent), 1)
}

func TestOrchestrator_SameHubSkipsHubDelivery(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	cmd := validCommand()
	cmd.ReceiverHubID = "HUB-001" // same hub the stock sits in

	response, err := f.createOrder.Execute(ctx, cmd)
	require.NoError(t, err)
	require.NoError(t, f.orchestrator.ExecuteAsyncPhase(ctx, response.OrderID))

	order, _ := f.orderRepo.FindByID(ctx, response.OrderID)
	assert.Equal(t, domain.OrderStatusConfirmed, order.Status)
	assert.Empty(t, order.HubDeliveryID)
	assert.Equal(t, 0, f.hub.creates)

	saga, _ := f.sagaRepo.FindByOrderID(ctx, response.OrderID)
	assert.Equal(t, domain.SagaStatusCompleted, saga.Status)

	var skipped bool
	for _, entry := range saga.History {
		if entry.Step == string(domain.StepHubDeliveryCreate) {
			skipped = entry.Status == domain.StepAttemptSkipped
		}
	}
	assert.True(t, skipped, "hub delivery step should be recorded as skipped")
}

func TestCreateOrder_StockFailure(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.stock.reserveFn = func(_ context.Context, req domain.ReserveStockRequest) (*domain.ReservationResult, error) {
		return &domain.ReservationResult{AllReserved: false}, nil
	}

	response, err := f.createOrder.Execute(ctx, validCommand())
	require.NoError(t, err, "step failure is an outcome, not an error")

	assert.Equal(t, domain.OrderStatusCompensated, response.Status)
	assert.Equal(t, domain.SagaStatusCompensated, response.SagaStatus)
	assert.Equal(t, 0, f.payment.calls, "payment gateway must never be called after stock failed")
	assert.Empty(t, f.stock.restored, "nothing completed, nothing to restore")
}

func TestCreateOrder_PaymentFailure(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.payment.verifyFn = func(_ context.Context, req domain.VerifyPaymentRequest) (*domain.VerifyPaymentResult, error) {
		return &domain.VerifyPaymentResult{Status: "REJECTED"}, nil
	}

	response, err := f.createOrder.Execute(ctx, validCommand())
	require.NoError(t, err)

	assert.Equal(t, domain.OrderStatusCompensated, response.Status)
	assert.Equal(t, domain.SagaStatusCompensated, response.SagaStatus)
	require.Len(t, f.stock.restored, 1)
	assert.Equal(t, "reservation-1", f.stock.restored[0])
	// payment never completed, so no refund goes out
	assert.Empty(t, f.publisher.byType(events.PaymentRefundRequestedEvent))
}

func TestCreateOrder_AmountMismatch(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.payment.verifyFn = func(_ context.Context, req domain.VerifyPaymentRequest) (*domain.VerifyPaymentResult, error) {
		return &domain.VerifyPaymentResult{
			Status:         domain.PaymentVerifiedStatus,
			PaymentID:      "payment-1",
			VerifiedAmount: models.NewMoney(req.Amount.Amount-1, req.Amount.Currency),
		}, nil
	}

	response, err := f.createOrder.Execute(ctx, validCommand())
	require.NoError(t, err)

	assert.Equal(t, domain.OrderStatusCompensated, response.Status)
	require.Len(t, f.stock.restored, 1)
}

func TestOrchestrator_RouteFailureSuspendsOnRefund(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.routing.calculateFn = func(_ context.Context, _ domain.RouteRequest) (*domain.RouteResult, error) {
		return nil, errors.New("no route available")
	}

	response, err := f.createOrder.Execute(ctx, validCommand())
	require.NoError(t, err)

	err = f.orchestrator.ExecuteAsyncPhase(ctx, response.OrderID)
	assert.True(t, errors.Is(err, domain.ErrStepExecutionFailed))

	// payment undoes first (reverse order) and suspends the pass
	saga, _ := f.sagaRepo.FindByOrderID(ctx, response.OrderID)
	assert.Equal(t, domain.SagaStatusCompensating, saga.Status)
	require.Len(t, f.publisher.byType(events.PaymentRefundRequestedEvent), 1)
	assert.Empty(t, f.stock.restored, "stock restore waits for the refund result")

	// refund completed resumes the pass and finishes the rollback
	require.NoError(t, f.refundResult.Execute(ctx, &ProcessRefundResultCommand{
		OrderID:   response.OrderID,
		Succeeded: true,
		RefundID:  "refund-1",
	}))

	saga, _ = f.sagaRepo.FindByOrderID(ctx, response.OrderID)
	assert.Equal(t, domain.SagaStatusCompensated, saga.Status)
	require.Len(t, f.stock.restored, 1)

	order, _ := f.orderRepo.FindByID(ctx, response.OrderID)
	assert.Equal(t, domain.OrderStatusCompensated, order.Status)
}

func TestProcessRefundResult_Failure(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.routing.calculateFn = func(_ context.Context, _ domain.RouteRequest) (*domain.RouteResult, error) {
		return nil, errors.New("no route available")
	}

	response, err := f.createOrder.Execute(ctx, validCommand())
	require.NoError(t, err)
	_ = f.orchestrator.ExecuteAsyncPhase(ctx, response.OrderID)

	require.NoError(t, f.refundResult.Execute(ctx, &ProcessRefundResultCommand{
		OrderID:   response.OrderID,
		Succeeded: false,
		Reason:    "provider rejected refund",
	}))

	saga, _ := f.sagaRepo.FindByOrderID(ctx, response.OrderID)
	assert.Equal(t, domain.SagaStatusCompensationFailed, saga.Status)
	// payloads stay queryable for the operator
	assert.NotEmpty(t, saga.CompensationData)

	order, _ := f.orderRepo.FindByID(ctx, response.OrderID)
	assert.Equal(t, domain.OrderStatusFailed, order.Status)

	// duplicate result deliveries after the terminal state are ignored
	require.NoError(t, f.refundResult.Execute(ctx, &ProcessRefundResultCommand{
		OrderID:   response.OrderID,
		Succeeded: true,
	}))
	saga, _ = f.sagaRepo.FindByOrderID(ctx, response.OrderID)
	assert.Equal(t, domain.SagaStatusCompensationFailed, saga.Status)
}

func TestOrchestrator_HubDeliveryFailureUnwindsReverse(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.hub.createFn = func(_ context.Context, _ domain.CreateHubDeliveryRequest) (*domain.HubDeliveryResult, error) {
		return nil, errors.New("transport service down")
	}

	response, err := f.createOrder.Execute(ctx, validCommand())
	require.NoError(t, err)

	err = f.orchestrator.ExecuteAsyncPhase(ctx, response.OrderID)
	assert.True(t, errors.Is(err, domain.ErrStepExecutionFailed))

	// nothing after payment completed, so the pass starts at the refund
	saga, _ := f.sagaRepo.FindByOrderID(ctx, response.OrderID)
	assert.Equal(t, domain.SagaStatusCompensating, saga.Status)
	assert.Len(t, f.publisher.byType(events.PaymentRefundRequestedEvent), 1)
	assert.Empty(t, f.lastMile.cancelled)
	assert.Empty(t, f.hub.cancelled, "a failed create leaves nothing to cancel")
}

func TestOrchestrator_BestEffortFailureNeverCompensates(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.publisher.failOn = func(event *events.Event) error {
		if event.EventType == events.NotificationSendRequestedEvent {
			return errors.New("sns unavailable")
		}
		return nil
	}

	response, err := f.createOrder.Execute(ctx, validCommand())
	require.NoError(t, err)
	require.NoError(t, f.orchestrator.ExecuteAsyncPhase(ctx, response.OrderID))

	order, _ := f.orderRepo.FindByID(ctx, response.OrderID)
	assert.Equal(t, domain.OrderStatusConfirmed, order.Status)

	saga, _ := f.sagaRepo.FindByOrderID(ctx, response.OrderID)
	assert.Equal(t, domain.SagaStatusCompleted, saga.Status)
	assert.Len(t, f.publisher.byType(events.TrackingStartRequestedEvent), 1)
	assert.Empty(t, f.stock.restored)
	assert.Empty(t, f.publisher.byType(events.PaymentRefundRequestedEvent))
}

func TestCancelOrder(t *testing.T) {
	t.Run("cancel after confirmation unwinds the saga", func(t *testing.T) {
		f := newFixture()
		ctx := context.Background()

		created, err := f.createOrder.Execute(ctx, validCommand())
		require.NoError(t, err)
		require.NoError(t, f.orchestrator.ExecuteAsyncPhase(ctx, created.OrderID))

		response, err := f.cancelOrder.Execute(ctx, &CancelOrderCommand{
			OrderID: created.OrderID,
			Reason:  "customer changed mind",
		})
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusCancelled, response.Status)

		// deliveries cancel synchronously, then the pass suspends on refund
		assert.Equal(t, []string{"last-mile-1"}, f.lastMile.cancelled)
		assert.Equal(t, []string{"hub-delivery-1"}, f.hub.cancelled)
		assert.Len(t, f.publisher.byType(events.PaymentRefundRequestedEvent), 1)
		assert.Equal(t, domain.SagaStatusCompensating, response.SagaStatus)

		// refund result finishes the rollback; order stays CANCELLED
		require.NoError(t, f.refundResult.Execute(ctx, &ProcessRefundResultCommand{
			OrderID:   created.OrderID,
			Succeeded: true,
		}))
		order, _ := f.orderRepo.FindByID(ctx, created.OrderID)
		assert.Equal(t, domain.OrderStatusCancelled, order.Status)
		saga, _ := f.sagaRepo.FindByOrderID(ctx, created.OrderID)
		assert.Equal(t, domain.SagaStatusCompensated, saga.Status)
		require.Len(t, f.stock.restored, 1)
	})

	t.Run("hub cancel is skipped when the create yielded no delivery id", func(t *testing.T) {
		f := newFixture()
		ctx := context.Background()

		f.hub.createFn = func(context.Context, domain.CreateHubDeliveryRequest) (*domain.HubDeliveryResult, error) {
			return &domain.HubDeliveryResult{}, nil
		}

		created, err := f.createOrder.Execute(ctx, validCommand())
		require.NoError(t, err)
		require.NoError(t, f.orchestrator.ExecuteAsyncPhase(ctx, created.OrderID))

		response, err := f.cancelOrder.Execute(ctx, &CancelOrderCommand{
			OrderID: created.OrderID,
			Reason:  "customer changed mind",
		})
		require.NoError(t, err)
		assert.Equal(t, domain.SagaStatusCompensating, response.SagaStatus)

		// the hub leg has nothing to cancel; the rest unwinds normally
		assert.Empty(t, f.hub.cancelled)
		assert.Equal(t, []string{"last-mile-1"}, f.lastMile.cancelled)

		require.NoError(t, f.refundResult.Execute(ctx, &ProcessRefundResultCommand{
			OrderID:   created.OrderID,
			Succeeded: true,
		}))
		saga, _ := f.sagaRepo.FindByOrderID(ctx, created.OrderID)
		assert.Equal(t, domain.SagaStatusCompensated, saga.Status)
	})

	t.Run("cancel refused once the order left the hub", func(t *testing.T) {
		f := newFixture()
		ctx := context.Background()

		created, err := f.createOrder.Execute(ctx, validCommand())
		require.NoError(t, err)
		require.NoError(t, f.orchestrator.ExecuteAsyncPhase(ctx, created.OrderID))

		order, _ := f.orderRepo.FindByID(ctx, created.OrderID)
		require.NoError(t, order.MarkHubWaiting())
		require.NoError(t, order.DepartHub(time.Now()))
		require.NoError(t, f.orderRepo.Save(ctx, order))

		_, err = f.cancelOrder.Execute(ctx, &CancelOrderCommand{
			OrderID: created.OrderID,
			Reason:  "too late",
		})
		assert.True(t, errors.Is(err, domain.ErrInvalidStateTransition))
	})

	t.Run("unknown order", func(t *testing.T) {
		f := newFixture()

		_, err := f.cancelOrder.Execute(context.Background(), &CancelOrderCommand{
			OrderID: models.GenerateUUID(),
			Reason:  "whatever",
		})
		assert.True(t, errors.Is(err, domain.ErrOrderNotFound))
	})
}
