package application

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/EarlyExpress/order-service/order-service/domain"
	"github.com/EarlyExpress/order-service/shared/events"
	"github.com/EarlyExpress/order-service/shared/models"
)

// CreateOrderCommand represents the command to create a shipping order
type CreateOrderCommand struct {
	CompanyID    string `json:"company_id"`
	CompanyHubID string `json:"company_hub_id"`

	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unit_price"`
	Currency    string `json:"currency"`

	ReceiverName    string `json:"receiver_name"`
	ReceiverPhone   string `json:"receiver_phone"`
	DeliveryAddress string `json:"delivery_address"`
	AddressDetail   string `json:"address_detail,omitempty"`
	ReceiverHubID   string `json:"receiver_hub_id"`

	RequestedDeliveryAt time.Time `json:"requested_delivery_at"`
	DeliveryNote        string    `json:"delivery_note,omitempty"`

	PgProvider   string `json:"pg_provider"`
	PgPaymentID  string `json:"pg_payment_id"`
	PgPaymentKey string `json:"pg_payment_key"`
}

// CreateOrderResponse represents the response after the synchronous phase
type CreateOrderResponse struct {
	OrderID     models.ID          `json:"order_id"`
	OrderNumber string             `json:"order_number"`
	Status      domain.OrderStatus `json:"status"`
	SagaStatus  domain.SagaStatus  `json:"saga_status"`
}

// CreateOrder use case opens an order and drives the synchronous saga phase.
// A step failure does not surface as an error: the order comes back with the
// status the failure left it in and the caller reads the outcome from there.
type CreateOrder struct {
	orderRepository domain.OrderRepository
	sagaRepository  domain.SagaRepository
	orderNumbers    domain.OrderNumberAllocator
	orchestrator    *Orchestrator
	eventPublisher  events.Publisher
}

// NewCreateOrder creates a new CreateOrder use case
func NewCreateOrder(
	orderRepository domain.OrderRepository,
	sagaRepository domain.SagaRepository,
	orderNumbers domain.OrderNumberAllocator,
	orchestrator *Orchestrator,
	eventPublisher events.Publisher,
) *CreateOrder {
	return &CreateOrder{
		orderRepository: orderRepository,
		sagaRepository:  sagaRepository,
		orderNumbers:    orderNumbers,
		orchestrator:    orchestrator,
		eventPublisher:  eventPublisher,
	}
}

// Execute executes the create order use case
func (uc *CreateOrder) Execute(ctx context.Context, cmd *CreateOrderCommand) (*CreateOrderResponse, error) {
	if err := uc.validateCommand(cmd); err != nil {
		return nil, errors.Wrap(err, "invalid command")
	}

	orderNumber, err := uc.orderNumbers.Next(ctx, time.Now())
	if err != nil {
		return nil, errors.Wrap(err, "failed to allocate order number")
	}

	order, err := domain.CreateOrder(domain.CreateOrderParams{
		OrderNumber:         orderNumber,
		CompanyID:           cmd.CompanyID,
		CompanyHubID:        cmd.CompanyHubID,
		ProductID:           cmd.ProductID,
		ProductName:         cmd.ProductName,
		Quantity:            cmd.Quantity,
		UnitPrice:           models.NewMoney(cmd.UnitPrice, cmd.Currency),
		ReceiverName:        cmd.ReceiverName,
		ReceiverPhone:       cmd.ReceiverPhone,
		DeliveryAddress:     cmd.DeliveryAddress,
		AddressDetail:       cmd.AddressDetail,
		ReceiverHubID:       cmd.ReceiverHubID,
		RequestedDeliveryAt: cmd.RequestedDeliveryAt,
		DeliveryNote:        cmd.DeliveryNote,
		PgProvider:          cmd.PgProvider,
		PgPaymentID:         cmd.PgPaymentID,
		PgPaymentKey:        cmd.PgPaymentKey,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create order")
	}

	if err := persistOrder(ctx, uc.orderRepository, uc.eventPublisher, order); err != nil {
		return nil, err
	}

	saga := domain.NewSaga(order.ID)
	if err := saga.Start(); err != nil {
		return nil, err
	}
	if err := persistSaga(ctx, uc.sagaRepository, uc.eventPublisher, saga); err != nil {
		return nil, err
	}

	if err := uc.orchestrator.ExecuteSyncPhase(ctx, order, saga); err != nil {
		// step failures are an outcome, not an error: the failure is
		// already recorded and compensated, and the order carries the
		// resulting status
		if !errors.Is(err, domain.ErrStepExecutionFailed) && !errors.Is(err, domain.ErrCompensationFailed) {
			return nil, err
		}
	}

	return &CreateOrderResponse{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Status:      order.Status,
		SagaStatus:  saga.Status,
	}, nil
}

func (uc *CreateOrder) validateCommand(cmd *CreateOrderCommand) error {
	if cmd.ProductID == "" {
		return errors.New("product ID is required")
	}
	if cmd.Quantity <= 0 {
		return errors.New("quantity must be positive")
	}
	if cmd.UnitPrice <= 0 {
		return errors.New("unit price must be positive")
	}
	if cmd.Currency == "" {
		return errors.New("currency is required")
	}
	if cmd.ReceiverName == "" {
		return errors.New("receiver name is required")
	}
	if cmd.DeliveryAddress == "" {
		return errors.New("delivery address is required")
	}
	if cmd.ReceiverHubID == "" {
		return errors.New("receiver hub ID is required")
	}
	if cmd.PgProvider == "" || cmd.PgPaymentID == "" {
		return errors.New("payment gateway reference is required")
	}
	return nil
}
