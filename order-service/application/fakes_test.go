package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/EarlyExpress/order-service/order-service/domain"
	"github.com/EarlyExpress/order-service/shared/events"
	"github.com/EarlyExpress/order-service/shared/models"
)

// In-memory fakes for saga scenario tests. Gateways are function fields with
// successful defaults so each case only overrides what it breaks.

type fakeOrderRepository struct {
	mu     sync.Mutex
	orders map[models.ID]*domain.Order
}

func newFakeOrderRepository() *fakeOrderRepository {
	return &fakeOrderRepository{orders: make(map[models.ID]*domain.Order)}
}

func (r *fakeOrderRepository) Save(_ context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[order.ID] = order
	return nil
}

func (r *fakeOrderRepository) FindByID(_ context.Context, id models.ID) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.orders[id], nil
}

type fakeSagaRepository struct {
	mu    sync.Mutex
	sagas map[models.ID]*domain.Saga // keyed by order ID
}

func newFakeSagaRepository() *fakeSagaRepository {
	return &fakeSagaRepository{sagas: make(map[models.ID]*domain.Saga)}
}

func (r *fakeSagaRepository) Save(_ context.Context, saga *domain.Saga) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sagas[saga.OrderID] = saga
	return nil
}

func (r *fakeSagaRepository) FindByOrderID(_ context.Context, orderID models.ID) (*domain.Saga, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sagas[orderID], nil
}

func (r *fakeSagaRepository) FindStalled(_ context.Context, olderThan time.Duration) ([]*domain.Saga, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var stalled []*domain.Saga
	for _, saga := range r.sagas {
		switch saga.Status {
		case domain.SagaStatusInProgress, domain.SagaStatusCompensating:
			if saga.StartedAt.Before(cutoff) {
				stalled = append(stalled, saga)
			}
		}
	}
	return stalled, nil
}

// capturingPublisher records everything published, with optional per-event
// failure injection
type capturingPublisher struct {
	mu     sync.Mutex
	events []*events.Event
	failOn func(*events.Event) error
}

func (p *capturingPublisher) Publish(_ context.Context, evts ...*events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, event := range evts {
		if p.failOn != nil {
			if err := p.failOn(event); err != nil {
				return err
			}
		}
		p.events = append(p.events, event)
	}
	return nil
}

func (p *capturingPublisher) byType(eventType string) []*events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var matched []*events.Event
	for _, event := range p.events {
		if event.EventType == eventType {
			matched = append(matched, event)
		}
	}
	return matched
}

type stubStockGateway struct {
	reserveFn  func(context.Context, domain.ReserveStockRequest) (*domain.ReservationResult, error)
	restoreFn  func(context.Context, domain.RestoreStockRequest) error
	restored   []string
	restoredMu sync.Mutex
}

func (g *stubStockGateway) Reserve(ctx context.Context, req domain.ReserveStockRequest) (*domain.ReservationResult, error) {
	if g.reserveFn != nil {
		return g.reserveFn(ctx, req)
	}
	return &domain.ReservationResult{
		ReservationID: "reservation-1",
		AllReserved:   true,
		ReservedItems: []domain.ReservedItem{{ProductID: req.ProductID, Quantity: req.Quantity, HubID: "HUB-001"}},
		ProductHubID:  "HUB-001",
	}, nil
}

func (g *stubStockGateway) Restore(ctx context.Context, req domain.RestoreStockRequest) error {
	g.restoredMu.Lock()
	g.restored = append(g.restored, req.ReservationID)
	g.restoredMu.Unlock()
	if g.restoreFn != nil {
		return g.restoreFn(ctx, req)
	}
	return nil
}

type stubPaymentGateway struct {
	verifyFn func(context.Context, domain.VerifyPaymentRequest) (*domain.VerifyPaymentResult, error)
	calls    int
}

func (g *stubPaymentGateway) Verify(ctx context.Context, req domain.VerifyPaymentRequest) (*domain.VerifyPaymentResult, error) {
	g.calls++
	if g.verifyFn != nil {
		return g.verifyFn(ctx, req)
	}
	return &domain.VerifyPaymentResult{
		Status:         domain.PaymentVerifiedStatus,
		PaymentID:      "payment-1",
		VerifiedAmount: req.Amount,
	}, nil
}

type stubRoutingGateway struct {
	calculateFn func(context.Context, domain.RouteRequest) (*domain.RouteResult, error)
}

func (g *stubRoutingGateway) CalculateRoute(ctx context.Context, req domain.RouteRequest) (*domain.RouteResult, error) {
	if g.calculateFn != nil {
		return g.calculateFn(ctx, req)
	}
	return &domain.RouteResult{
		OriginHubID:         req.ProductHubID,
		DestinationHubID:    req.ReceiverHubID,
		RouteHubs:           []string{req.ProductHubID, req.ReceiverHubID},
		RequiresHubDelivery: req.ProductHubID != req.ReceiverHubID,
		DistanceKM:          120.5,
	}, nil
}

type stubTimeGateway struct {
	estimateFn func(context.Context, domain.TimeEstimateRequest) (*domain.TimeEstimateResult, error)
}

func (g *stubTimeGateway) Estimate(ctx context.Context, req domain.TimeEstimateRequest) (*domain.TimeEstimateResult, error) {
	if g.estimateFn != nil {
		return g.estimateFn(ctx, req)
	}
	return &domain.TimeEstimateResult{
		DepartureDeadline:   time.Now().Add(6 * time.Hour),
		EstimatedDeliveryAt: time.Now().Add(30 * time.Hour),
	}, nil
}

type stubHubDeliveryGateway struct {
	createFn  func(context.Context, domain.CreateHubDeliveryRequest) (*domain.HubDeliveryResult, error)
	cancelled []string
	creates   int
	mu        sync.Mutex
}

func (g *stubHubDeliveryGateway) Create(ctx context.Context, req domain.CreateHubDeliveryRequest) (*domain.HubDeliveryResult, error) {
	g.mu.Lock()
	g.creates++
	g.mu.Unlock()
	if g.createFn != nil {
		return g.createFn(ctx, req)
	}
	return &domain.HubDeliveryResult{HubDeliveryID: "hub-delivery-1"}, nil
}

func (g *stubHubDeliveryGateway) Cancel(_ context.Context, hubDeliveryID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled = append(g.cancelled, hubDeliveryID)
	return nil
}

type stubLastMileGateway struct {
	createFn  func(context.Context, domain.CreateLastMileRequest) (*domain.LastMileResult, error)
	cancelled []string
	mu        sync.Mutex
}

func (g *stubLastMileGateway) Create(ctx context.Context, req domain.CreateLastMileRequest) (*domain.LastMileResult, error) {
	if g.createFn != nil {
		return g.createFn(ctx, req)
	}
	return &domain.LastMileResult{
		LastMileDeliveryID: "last-mile-1",
		DriverName:         "Lee",
		DriverPhone:        "010-9999-0000",
	}, nil
}

func (g *stubLastMileGateway) Cancel(_ context.Context, lastMileDeliveryID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled = append(g.cancelled, lastMileDeliveryID)
	return nil
}

type stubAllocator struct {
	next int
}

func (a *stubAllocator) Next(_ context.Context, day time.Time) (string, error) {
	a.next++
	return fmt.Sprintf("ORD-%s-%06d", day.Format("20060102"), a.next), nil
}

// fixture wires a full saga stack on fakes
type fixture struct {
	orderRepo *fakeOrderRepository
	sagaRepo  *fakeSagaRepository
	publisher *capturingPublisher

	stock    *stubStockGateway
	payment  *stubPaymentGateway
	routing  *stubRoutingGateway
	estimate *stubTimeGateway
	hub      *stubHubDeliveryGateway
	lastMile *stubLastMileGateway

	compensator  *Compensator
	orchestrator *Orchestrator
	createOrder  *CreateOrder
	cancelOrder  *CancelOrder
	refundResult *ProcessRefundResult
}

func newFixture() *fixture {
	f := &fixture{
		orderRepo: newFakeOrderRepository(),
		sagaRepo:  newFakeSagaRepository(),
		publisher: &capturingPublisher{},
		stock:     &stubStockGateway{},
		payment:   &stubPaymentGateway{},
		routing:   &stubRoutingGateway{},
		estimate:  &stubTimeGateway{},
		hub:       &stubHubDeliveryGateway{},
		lastMile:  &stubLastMileGateway{},
	}

	f.compensator = NewCompensator(f.orderRepo, f.sagaRepo, f.stock, f.hub, f.lastMile, f.publisher)
	f.orchestrator = NewOrchestrator(
		f.orderRepo, f.sagaRepo,
		f.stock, f.payment, f.routing, f.estimate, f.hub, f.lastMile,
		f.publisher, f.compensator,
	)
	f.createOrder = NewCreateOrder(f.orderRepo, f.sagaRepo, &stubAllocator{}, f.orchestrator, f.publisher)
	f.cancelOrder = NewCancelOrder(f.orderRepo, f.sagaRepo, f.compensator, f.publisher)
	f.refundResult = NewProcessRefundResult(f.orderRepo, f.sagaRepo, f.compensator, f.publisher)
	return f
}

func validCommand() *CreateOrderCommand {
	return &CreateOrderCommand{
		CompanyID:           "company-1",
		CompanyHubID:        "HUB-001",
		ProductID:           "product-1",
		ProductName:         "Widget",
		Quantity:            2,
		UnitPrice:           2500,
		Currency:            "KRW",
		ReceiverName:        "Kim",
		ReceiverPhone:       "010-1234-5678",
		DeliveryAddress:     "123 Main St",
		ReceiverHubID:       "HUB-002",
		RequestedDeliveryAt: time.Now().Add(48 * time.Hour),
		PgProvider:          "toss",
		PgPaymentID:         "pg-1",
		PgPaymentKey:        "key-1",
	}
}
