package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/EarlyExpress/order-service/shared/models"
)

// ReserveStockRequest asks the stock service to hold inventory for an order
type ReserveStockRequest struct {
	OrderID   models.ID `json:"order_id"`
	ProductID string    `json:"product_id"`
	Quantity  int       `json:"quantity"`
	HubID     string    `json:"hub_id,omitempty"`
}

// ReservationResult is the stock service's answer
type ReservationResult struct {
	ReservationID string         `json:"reservation_id"`
	AllReserved   bool           `json:"all_reserved"`
	ReservedItems []ReservedItem `json:"reserved_items"`
	ProductHubID  string         `json:"product_hub_id"`
}

// ReservedItem is one reserved line
type ReservedItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	HubID     string `json:"hub_id"`
}

// RestoreStockRequest returns previously reserved inventory
type RestoreStockRequest struct {
	ReservationID string         `json:"reservation_id"`
	OrderID       models.ID      `json:"order_id"`
	Items         []ReservedItem `json:"items"`
	Reason        string         `json:"reason,omitempty"`
}

// StockGateway fronts the stock service
type StockGateway interface {
	Reserve(ctx context.Context, req ReserveStockRequest) (*ReservationResult, error)
	Restore(ctx context.Context, req RestoreStockRequest) error
}

// VerifyPaymentRequest asks the payment service to verify a PG payment
// against the order's expected amount
type VerifyPaymentRequest struct {
	OrderID      models.ID    `json:"order_id"`
	PgProvider   string       `json:"pg_provider"`
	PgPaymentID  string       `json:"pg_payment_id"`
	PgPaymentKey string       `json:"pg_payment_key"`
	Amount       models.Money `json:"amount"`
}

// VerifyPaymentResult is the payment service's answer. Status other than
// VERIFIED counts as a step failure.
type VerifyPaymentResult struct {
	Status         string       `json:"status"`
	PaymentID      string       `json:"payment_id"`
	VerifiedAmount models.Money `json:"verified_amount"`
}

// PaymentVerifiedStatus is the only accepted verification outcome
const PaymentVerifiedStatus = "VERIFIED"

// PaymentGateway fronts the payment service's synchronous surface. Refunds
// run over the event bus, not through this interface.
type PaymentGateway interface {
	Verify(ctx context.Context, req VerifyPaymentRequest) (*VerifyPaymentResult, error)
}

// RouteRequest asks the routing service for a hub path
type RouteRequest struct {
	OrderID       models.ID `json:"order_id"`
	ProductHubID  string    `json:"product_hub_id"`
	ReceiverHubID string    `json:"receiver_hub_id"`
}

// RouteResult carries the computed route plan
type RouteResult struct {
	OriginHubID         string          `json:"origin_hub_id"`
	DestinationHubID    string          `json:"destination_hub_id"`
	RouteHubs           []string        `json:"route_hubs"`
	RequiresHubDelivery bool            `json:"requires_hub_delivery"`
	DistanceKM          float64         `json:"distance_km"`
	RouteInfo           json.RawMessage `json:"route_info,omitempty"`
}

// RoutingGateway fronts the hub routing service
type RoutingGateway interface {
	CalculateRoute(ctx context.Context, req RouteRequest) (*RouteResult, error)
}

// TimeEstimateRequest asks for a delivery schedule for a computed route
type TimeEstimateRequest struct {
	OrderID             models.ID `json:"order_id"`
	RouteHubs           []string  `json:"route_hubs"`
	DistanceKM          float64   `json:"distance_km"`
	RequestedDeliveryAt time.Time `json:"requested_delivery_at"`
}

// TimeEstimateResult carries the delivery schedule
type TimeEstimateResult struct {
	DepartureDeadline   time.Time `json:"departure_deadline"`
	EstimatedDeliveryAt time.Time `json:"estimated_delivery_at"`
}

// TimeEstimationGateway fronts the delivery time estimation service
type TimeEstimationGateway interface {
	Estimate(ctx context.Context, req TimeEstimateRequest) (*TimeEstimateResult, error)
}

// CreateHubDeliveryRequest asks the hub transport service for a hub-to-hub leg
type CreateHubDeliveryRequest struct {
	OrderID           models.ID  `json:"order_id"`
	OriginHubID       string     `json:"origin_hub_id"`
	DestinationHubID  string     `json:"destination_hub_id"`
	RouteHubs         []string   `json:"route_hubs"`
	DepartureDeadline *time.Time `json:"departure_deadline,omitempty"`
}

// HubDeliveryResult is the transport service's answer
type HubDeliveryResult struct {
	HubDeliveryID string `json:"hub_delivery_id"`
}

// HubDeliveryGateway fronts the hub transport service
type HubDeliveryGateway interface {
	Create(ctx context.Context, req CreateHubDeliveryRequest) (*HubDeliveryResult, error)
	Cancel(ctx context.Context, hubDeliveryID string) error
}

// CreateLastMileRequest asks the last-mile service for a final delivery leg
type CreateLastMileRequest struct {
	OrderID             models.ID  `json:"order_id"`
	HubID               string     `json:"hub_id"`
	ReceiverName        string     `json:"receiver_name"`
	ReceiverPhone       string     `json:"receiver_phone"`
	DeliveryAddress     string     `json:"delivery_address"`
	AddressDetail       string     `json:"address_detail,omitempty"`
	DeliveryNote        string     `json:"delivery_note,omitempty"`
	EstimatedDeliveryAt *time.Time `json:"estimated_delivery_at,omitempty"`
}

// LastMileResult is the last-mile service's answer
type LastMileResult struct {
	LastMileDeliveryID string `json:"last_mile_delivery_id"`
	DriverName         string `json:"driver_name,omitempty"`
	DriverPhone        string `json:"driver_phone,omitempty"`
}

// LastMileGateway fronts the last-mile delivery service
type LastMileGateway interface {
	Create(ctx context.Context, req CreateLastMileRequest) (*LastMileResult, error)
	Cancel(ctx context.Context, lastMileDeliveryID string) error
}
