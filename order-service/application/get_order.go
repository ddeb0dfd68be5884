package application

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/EarlyExpress/order-service/order-service/domain"
	"github.com/EarlyExpress/order-service/shared/models"
)

// GetOrderQuery represents the query to retrieve an order
type GetOrderQuery struct {
	OrderID models.ID `json:"order_id"`
}

// GetOrderResponse represents the order state and its saga execution view
type GetOrderResponse struct {
	OrderID     models.ID          `json:"order_id"`
	OrderNumber string             `json:"order_number"`
	Status      domain.OrderStatus `json:"status"`

	ProductID   string       `json:"product_id"`
	ProductName string       `json:"product_name,omitempty"`
	Quantity    int          `json:"quantity"`
	TotalAmount models.Money `json:"total_amount"`

	ReceiverName    string `json:"receiver_name"`
	DeliveryAddress string `json:"delivery_address"`

	RequiresHubDelivery bool                     `json:"requires_hub_delivery"`
	Route               *domain.RoutePlan        `json:"route,omitempty"`
	Schedule            *domain.DeliverySchedule `json:"schedule,omitempty"`

	PaymentID          string `json:"payment_id,omitempty"`
	HubDeliveryID      string `json:"hub_delivery_id,omitempty"`
	LastMileDeliveryID string `json:"last_mile_delivery_id,omitempty"`
	DriverName         string `json:"driver_name,omitempty"`
	DriverPhone        string `json:"driver_phone,omitempty"`

	HubDepartedAt *time.Time `json:"hub_departed_at,omitempty"`
	HubArrivedAt  *time.Time `json:"hub_arrived_at,omitempty"`
	PickedUpAt    *time.Time `json:"picked_up_at,omitempty"`
	DeliveredAt   *time.Time `json:"delivered_at,omitempty"`

	CancelReason string     `json:"cancel_reason,omitempty"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`

	SagaStatus  domain.SagaStatus         `json:"saga_status,omitempty"`
	CurrentStep domain.Step               `json:"current_step,omitempty"`
	StepHistory []domain.StepHistoryEntry `json:"step_history,omitempty"`
}

// GetOrder use case retrieves an order with its saga execution view
type GetOrder struct {
	orderRepository domain.OrderRepository
	sagaRepository  domain.SagaRepository
}

// NewGetOrder creates a new GetOrder use case
func NewGetOrder(orderRepository domain.OrderRepository, sagaRepository domain.SagaRepository) *GetOrder {
	return &GetOrder{
		orderRepository: orderRepository,
		sagaRepository:  sagaRepository,
	}
}

// Execute executes the get order use case
func (uc *GetOrder) Execute(ctx context.Context, query *GetOrderQuery) (*GetOrderResponse, error) {
	order, err := uc.orderRepository.FindByID(ctx, query.OrderID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find order")
	}
	if order == nil {
		return nil, errors.Wrapf(domain.ErrOrderNotFound, "order %s", query.OrderID)
	}

	response := &GetOrderResponse{
		OrderID:             order.ID,
		OrderNumber:         order.OrderNumber,
		Status:              order.Status,
		ProductID:           order.ProductID,
		ProductName:         order.ProductName,
		Quantity:            order.Quantity,
		TotalAmount:         order.TotalAmount,
		ReceiverName:        order.ReceiverName,
		DeliveryAddress:     order.DeliveryAddress,
		RequiresHubDelivery: order.RequiresHubDelivery,
		Route:               order.Route,
		Schedule:            order.Schedule,
		PaymentID:           order.PaymentID,
		HubDeliveryID:       order.HubDeliveryID,
		LastMileDeliveryID:  order.LastMileDeliveryID,
		DriverName:          order.DriverName,
		DriverPhone:         order.DriverPhone,
		HubDepartedAt:       order.HubDepartedAt,
		HubArrivedAt:        order.HubArrivedAt,
		PickedUpAt:          order.PickedUpAt,
		DeliveredAt:         order.DeliveredAt,
		CancelReason:        order.CancelReason,
		CancelledAt:         order.CancelledAt,
		CreatedAt:           order.Timestamps.CreatedAt,
	}

	saga, err := uc.sagaRepository.FindByOrderID(ctx, query.OrderID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find saga")
	}
	if saga != nil {
		response.SagaStatus = saga.Status
		response.CurrentStep = saga.CurrentStep
		response.StepHistory = saga.History
	}

	return response, nil
}
