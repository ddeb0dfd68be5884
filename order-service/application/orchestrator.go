package application

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/EarlyExpress/order-service/order-service/domain"
	"github.com/EarlyExpress/order-service/shared/events"
	"github.com/EarlyExpress/order-service/shared/models"
)

// Orchestrator drives the order fulfillment saga. The synchronous phase runs
// inside the create-order request (stock, payment); the asynchronous phase is
// triggered by the payment-verified event and runs the remaining steps off
// the event bus. Every mutation is saved before the next collaborator call so
// a crash never loses recorded progress.
type Orchestrator struct {
	orderRepository domain.OrderRepository
	sagaRepository  domain.SagaRepository

	stockGateway       domain.StockGateway
	paymentGateway     domain.PaymentGateway
	routingGateway     domain.RoutingGateway
	timeGateway        domain.TimeEstimationGateway
	hubDeliveryGateway domain.HubDeliveryGateway
	lastMileGateway    domain.LastMileGateway

	eventPublisher events.Publisher
	compensator    *Compensator
}

// NewOrchestrator creates a new Orchestrator
func NewOrchestrator(
	orderRepository domain.OrderRepository,
	sagaRepository domain.SagaRepository,
	stockGateway domain.StockGateway,
	paymentGateway domain.PaymentGateway,
	routingGateway domain.RoutingGateway,
	timeGateway domain.TimeEstimationGateway,
	hubDeliveryGateway domain.HubDeliveryGateway,
	lastMileGateway domain.LastMileGateway,
	eventPublisher events.Publisher,
	compensator *Compensator,
) *Orchestrator {
	return &Orchestrator{
		orderRepository:    orderRepository,
		sagaRepository:     sagaRepository,
		stockGateway:       stockGateway,
		paymentGateway:     paymentGateway,
		routingGateway:     routingGateway,
		timeGateway:        timeGateway,
		hubDeliveryGateway: hubDeliveryGateway,
		lastMileGateway:    lastMileGateway,
		eventPublisher:     eventPublisher,
		compensator:        compensator,
	}
}

// ExecuteSyncPhase runs stock reservation and payment verification on the
// caller's request path. A step failure triggers compensation and surfaces as
// ErrStepExecutionFailed; the order carries the resulting status either way.
func (o *Orchestrator) ExecuteSyncPhase(ctx context.Context, order *domain.Order, saga *domain.Saga) error {
	if err := o.runStockReserve(ctx, order, saga); err != nil {
		return err
	}
	return o.runPaymentVerify(ctx, order, saga)
}

// ExecuteAsyncPhase runs routing, delivery creation and the best-effort tail.
// Invoked from the payment-verified event handler; duplicate deliveries are
// no-ops because the saga is no longer positioned at ROUTE_CALCULATE.
func (o *Orchestrator) ExecuteAsyncPhase(ctx context.Context, orderID models.ID) error {
	order, saga, err := o.load(ctx, orderID)
	if err != nil {
		return err
	}

	if saga.Status != domain.SagaStatusInProgress || saga.CurrentStep != domain.StepRouteCalculate {
		return nil
	}

	if err := o.runRouteCalculate(ctx, order, saga); err != nil {
		return err
	}
	if err := o.runHubDeliveryCreate(ctx, order, saga); err != nil {
		return err
	}
	if err := o.runLastMileCreate(ctx, order, saga); err != nil {
		return err
	}

	if err := order.Confirm(); err != nil {
		return err
	}
	if err := persistOrder(ctx, o.orderRepository, o.eventPublisher, order); err != nil {
		return err
	}

	o.runBestEffort(ctx, order, saga, domain.StepNotificationSend, events.NotificationSendRequestedEvent)
	o.runBestEffort(ctx, order, saga, domain.StepTrackingStart, events.TrackingStartRequestedEvent)

	return persistSaga(ctx, o.sagaRepository, o.eventPublisher, saga)
}

func (o *Orchestrator) runStockReserve(ctx context.Context, order *domain.Order, saga *domain.Saga) error {
	if err := order.StartStockChecking(); err != nil {
		return err
	}
	if err := persistOrder(ctx, o.orderRepository, o.eventPublisher, order); err != nil {
		return err
	}

	req := domain.ReserveStockRequest{
		OrderID:   order.ID,
		ProductID: order.ProductID,
		Quantity:  order.Quantity,
		HubID:     order.CompanyHubID,
	}
	if err := o.startStep(ctx, saga, domain.StepStockReserve, req); err != nil {
		return err
	}

	result, err := o.stockGateway.Reserve(ctx, req)
	if err != nil {
		return o.handleStepFailure(ctx, order, saga, domain.StepStockReserve, err.Error())
	}
	if !result.AllReserved {
		return o.handleStepFailure(ctx, order, saga, domain.StepStockReserve, "insufficient stock")
	}

	if err := order.CompleteStockReservation(result.ProductHubID); err != nil {
		return err
	}
	if err := persistOrder(ctx, o.orderRepository, o.eventPublisher, order); err != nil {
		return err
	}

	return o.completeStep(ctx, saga, domain.StepStockReserve, domain.StockReservePayload{
		ReservationID: result.ReservationID,
		ReservedItems: result.ReservedItems,
		ProductHubID:  result.ProductHubID,
	})
}

func (o *Orchestrator) runPaymentVerify(ctx context.Context, order *domain.Order, saga *domain.Saga) error {
	if err := order.StartPaymentVerification(); err != nil {
		return err
	}
	if err := persistOrder(ctx, o.orderRepository, o.eventPublisher, order); err != nil {
		return err
	}

	req := domain.VerifyPaymentRequest{
		OrderID:      order.ID,
		PgProvider:   order.PgProvider,
		PgPaymentID:  order.PgPaymentID,
		PgPaymentKey: order.PgPaymentKey,
		Amount:       order.TotalAmount,
	}
	if err := o.startStep(ctx, saga, domain.StepPaymentVerify, req); err != nil {
		return err
	}

	result, err := o.paymentGateway.Verify(ctx, req)
	if err != nil {
		return o.handleStepFailure(ctx, order, saga, domain.StepPaymentVerify, err.Error())
	}
	if result.Status != domain.PaymentVerifiedStatus {
		return o.handleStepFailure(ctx, order, saga, domain.StepPaymentVerify, "payment not verified: status "+result.Status)
	}
	if err := order.ValidatePaymentAmount(result.VerifiedAmount); err != nil {
		return o.handleStepFailure(ctx, order, saga, domain.StepPaymentVerify, err.Error())
	}

	if err := order.CompletePaymentVerification(result.PaymentID); err != nil {
		return err
	}
	// publishing the payment-verified event is what hands the saga to the
	// asynchronous phase
	if err := persistOrder(ctx, o.orderRepository, o.eventPublisher, order); err != nil {
		return err
	}

	return o.completeStep(ctx, saga, domain.StepPaymentVerify, domain.PaymentVerifyPayload{
		PaymentID: result.PaymentID,
		Amount:    order.TotalAmount,
	})
}

func (o *Orchestrator) runRouteCalculate(ctx context.Context, order *domain.Order, saga *domain.Saga) error {
	if err := order.StartRouteCalculation(); err != nil {
		return err
	}
	if err := persistOrder(ctx, o.orderRepository, o.eventPublisher, order); err != nil {
		return err
	}

	req := domain.RouteRequest{
		OrderID:       order.ID,
		ProductHubID:  order.ProductHubID,
		ReceiverHubID: order.ReceiverHubID,
	}
	if err := o.startStep(ctx, saga, domain.StepRouteCalculate, req); err != nil {
		return err
	}

	route, err := o.routingGateway.CalculateRoute(ctx, req)
	if err != nil {
		return o.handleStepFailure(ctx, order, saga, domain.StepRouteCalculate, err.Error())
	}

	estimate, err := o.timeGateway.Estimate(ctx, domain.TimeEstimateRequest{
		OrderID:             order.ID,
		RouteHubs:           route.RouteHubs,
		DistanceKM:          route.DistanceKM,
		RequestedDeliveryAt: order.RequestedDeliveryAt,
	})
	if err != nil {
		return o.handleStepFailure(ctx, order, saga, domain.StepRouteCalculate, err.Error())
	}

	err = order.CompleteRouteCalculation(
		domain.RoutePlan{
			OriginHubID:         route.OriginHubID,
			DestinationHubID:    route.DestinationHubID,
			RouteHubs:           route.RouteHubs,
			RequiresHubDelivery: route.RequiresHubDelivery,
			DistanceKM:          route.DistanceKM,
			RouteInfo:           route.RouteInfo,
		},
		domain.DeliverySchedule{
			DepartureDeadline:   estimate.DepartureDeadline,
			EstimatedDeliveryAt: estimate.EstimatedDeliveryAt,
		},
	)
	if err != nil {
		return err
	}
	if err := persistOrder(ctx, o.orderRepository, o.eventPublisher, order); err != nil {
		return err
	}

	return o.completeStep(ctx, saga, domain.StepRouteCalculate, route)
}

func (o *Orchestrator) runHubDeliveryCreate(ctx context.Context, order *domain.Order, saga *domain.Saga) error {
	if !order.RequiresHubDelivery {
		if err := saga.SkipStep(domain.StepHubDeliveryCreate); err != nil {
			return err
		}
		return persistSaga(ctx, o.sagaRepository, o.eventPublisher, saga)
	}

	req := domain.CreateHubDeliveryRequest{
		OrderID:          order.ID,
		OriginHubID:      order.Route.OriginHubID,
		DestinationHubID: order.Route.DestinationHubID,
		RouteHubs:        order.Route.RouteHubs,
	}
	if order.Schedule != nil {
		req.DepartureDeadline = &order.Schedule.DepartureDeadline
	}
	if err := o.startStep(ctx, saga, domain.StepHubDeliveryCreate, req); err != nil {
		return err
	}

	result, err := o.hubDeliveryGateway.Create(ctx, req)
	if err != nil {
		return o.handleStepFailure(ctx, order, saga, domain.StepHubDeliveryCreate, err.Error())
	}

	if err := order.SetHubDelivery(result.HubDeliveryID); err != nil {
		return err
	}
	if err := persistOrder(ctx, o.orderRepository, o.eventPublisher, order); err != nil {
		return err
	}

	return o.completeStep(ctx, saga, domain.StepHubDeliveryCreate, domain.HubDeliveryPayload{
		HubDeliveryID: result.HubDeliveryID,
	})
}

func (o *Orchestrator) runLastMileCreate(ctx context.Context, order *domain.Order, saga *domain.Saga) error {
	hubID := order.ReceiverHubID
	if order.Route != nil && order.Route.DestinationHubID != "" {
		hubID = order.Route.DestinationHubID
	}
	req := domain.CreateLastMileRequest{
		OrderID:         order.ID,
		HubID:           hubID,
		ReceiverName:    order.ReceiverName,
		ReceiverPhone:   order.ReceiverPhone,
		DeliveryAddress: order.DeliveryAddress,
		AddressDetail:   order.AddressDetail,
		DeliveryNote:    order.DeliveryNote,
	}
	if order.Schedule != nil {
		req.EstimatedDeliveryAt = &order.Schedule.EstimatedDeliveryAt
	}
	if err := o.startStep(ctx, saga, domain.StepLastMileDeliveryCreate, req); err != nil {
		return err
	}

	result, err := o.lastMileGateway.Create(ctx, req)
	if err != nil {
		return o.handleStepFailure(ctx, order, saga, domain.StepLastMileDeliveryCreate, err.Error())
	}

	if err := order.SetLastMileDelivery(result.LastMileDeliveryID, result.DriverName, result.DriverPhone); err != nil {
		return err
	}
	if err := persistOrder(ctx, o.orderRepository, o.eventPublisher, order); err != nil {
		return err
	}

	return o.completeStep(ctx, saga, domain.StepLastMileDeliveryCreate, domain.LastMilePayload{
		LastMileDeliveryID: result.LastMileDeliveryID,
		DriverName:         result.DriverName,
		DriverPhone:        result.DriverPhone,
	})
}

// runBestEffort publishes a downstream request event for a best-effort step.
// Failures advance the saga exactly like a success and never compensate, so
// errors end up in the step history and nowhere else.
func (o *Orchestrator) runBestEffort(ctx context.Context, order *domain.Order, saga *domain.Saga, step domain.Step, eventType string) {
	if saga.Status != domain.SagaStatusInProgress || saga.CurrentStep != step {
		return
	}
	if err := saga.StartStep(step, nil); err != nil {
		return
	}

	event := events.NewEvent(order.ID, eventType, BestEffortRequestData{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
	}).WithCorrelationID(saga.ID)

	if err := o.eventPublisher.Publish(ctx, event); err != nil {
		_ = saga.FailStep(step, err.Error())
		return
	}
	_ = saga.CompleteStep(step, nil)
}

// handleStepFailure records the failure on the saga, which turns it around
// for mandatory steps, then runs the compensation pass. The caller receives
// ErrStepExecutionFailed; the aggregates carry the final state.
func (o *Orchestrator) handleStepFailure(ctx context.Context, order *domain.Order, saga *domain.Saga, step domain.Step, message string) error {
	if err := saga.FailStep(step, message); err != nil {
		return err
	}
	if err := persistSaga(ctx, o.sagaRepository, o.eventPublisher, saga); err != nil {
		return err
	}

	if saga.Status == domain.SagaStatusCompensating {
		if err := o.compensator.Run(ctx, order, saga); err != nil {
			return err
		}
	}

	return errors.Wrapf(domain.ErrStepExecutionFailed, "step %s: %s", step, message)
}

func (o *Orchestrator) startStep(ctx context.Context, saga *domain.Saga, step domain.Step, request interface{}) error {
	raw, err := json.Marshal(request)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal %s request", step)
	}
	if err := saga.StartStep(step, raw); err != nil {
		return err
	}
	return persistSaga(ctx, o.sagaRepository, o.eventPublisher, saga)
}

func (o *Orchestrator) completeStep(ctx context.Context, saga *domain.Saga, step domain.Step, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal %s payload", step)
	}
	if err := saga.CompleteStep(step, raw); err != nil {
		return err
	}
	return persistSaga(ctx, o.sagaRepository, o.eventPublisher, saga)
}

func (o *Orchestrator) load(ctx context.Context, orderID models.ID) (*domain.Order, *domain.Saga, error) {
	order, err := o.orderRepository.FindByID(ctx, orderID)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to find order")
	}
	if order == nil {
		return nil, nil, errors.Wrapf(domain.ErrOrderNotFound, "order %s", orderID)
	}

	saga, err := o.sagaRepository.FindByOrderID(ctx, orderID)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to find saga")
	}
	if saga == nil {
		return nil, nil, errors.Wrapf(domain.ErrSagaNotFound, "saga for order %s", orderID)
	}

	return order, saga, nil
}

// BestEffortRequestData is the payload of notification and tracking request
// events
type BestEffortRequestData struct {
	OrderID     models.ID `json:"order_id"`
	OrderNumber string    `json:"order_number"`
}

// persistOrder saves the aggregate and flushes its recorded events
func persistOrder(ctx context.Context, repo domain.OrderRepository, publisher events.Publisher, order *domain.Order) error {
	if err := repo.Save(ctx, order); err != nil {
		return errors.Wrap(err, "failed to save order")
	}
	if recorded := order.Events(); len(recorded) > 0 {
		if err := publisher.Publish(ctx, recorded...); err != nil {
			return errors.Wrap(err, "failed to publish order events")
		}
		order.ClearEvents()
	}
	return nil
}

// persistSaga saves the aggregate and flushes its recorded events
func persistSaga(ctx context.Context, repo domain.SagaRepository, publisher events.Publisher, saga *domain.Saga) error {
	if err := repo.Save(ctx, saga); err != nil {
		return errors.Wrap(err, "failed to save saga")
	}
	if recorded := saga.Events(); len(recorded) > 0 {
		if err := publisher.Publish(ctx, recorded...); err != nil {
			return errors.Wrap(err, "failed to publish saga events")
		}
		saga.ClearEvents()
	}
	return nil
}
