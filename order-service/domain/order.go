package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/EarlyExpress/order-service/shared/events"
	"github.com/EarlyExpress/order-service/shared/models"
)

// OrderStatus represents the status of a shipping order
type OrderStatus string

const (
	OrderStatusPending           OrderStatus = "PENDING"
	OrderStatusStockChecking     OrderStatus = "STOCK_CHECKING"
	OrderStatusStockReserved     OrderStatus = "STOCK_RESERVED"
	OrderStatusPaymentVerifying  OrderStatus = "PAYMENT_VERIFYING"
	OrderStatusPaymentVerified   OrderStatus = "PAYMENT_VERIFIED"
	OrderStatusRouteCalculating  OrderStatus = "ROUTE_CALCULATING"
	OrderStatusDeliveryCreating  OrderStatus = "DELIVERY_CREATING"
	OrderStatusConfirmed         OrderStatus = "CONFIRMED"
	OrderStatusHubWaiting        OrderStatus = "HUB_WAITING"
	OrderStatusHubInTransit      OrderStatus = "HUB_IN_TRANSIT"
	OrderStatusHubArrived        OrderStatus = "HUB_ARRIVED"
	OrderStatusLastMileReady     OrderStatus = "LAST_MILE_READY"
	OrderStatusInDelivery        OrderStatus = "IN_DELIVERY"
	OrderStatusCompleted         OrderStatus = "COMPLETED"
	OrderStatusCancelled         OrderStatus = "CANCELLED"
	OrderStatusFailed            OrderStatus = "FAILED"
	OrderStatusCompensated       OrderStatus = "COMPENSATED"
)

// cancellableStatuses is the window in which a user-driven cancel is legal:
// everything up to and including HUB_WAITING.
var cancellableStatuses = map[OrderStatus]bool{
	OrderStatusPending:          true,
	OrderStatusStockChecking:    true,
	OrderStatusStockReserved:    true,
	OrderStatusPaymentVerifying: true,
	OrderStatusPaymentVerified:  true,
	OrderStatusRouteCalculating: true,
	OrderStatusDeliveryCreating: true,
	OrderStatusConfirmed:        true,
	OrderStatusHubWaiting:       true,
}

var terminalStatuses = map[OrderStatus]bool{
	OrderStatusCompleted:   true,
	OrderStatusCancelled:   true,
	OrderStatusFailed:      true,
	OrderStatusCompensated: true,
}

// RoutePlan is the routing gateway's answer written onto the order
type RoutePlan struct {
	OriginHubID         string          `json:"origin_hub_id"`
	DestinationHubID    string          `json:"destination_hub_id"`
	RouteHubs           []string        `json:"route_hubs"`
	RequiresHubDelivery bool            `json:"requires_hub_delivery"`
	DistanceKM          float64         `json:"distance_km"`
	RouteInfo           json.RawMessage `json:"route_info,omitempty"`
}

// DeliverySchedule is the time-estimation gateway's answer written onto the order
type DeliverySchedule struct {
	DepartureDeadline   time.Time `json:"departure_deadline"`
	EstimatedDeliveryAt time.Time `json:"estimated_delivery_at"`
}

// Order aggregate root. Pure state and validation: all mutation goes through
// the transition methods below, persistence is the repository's business.
type Order struct {
	ID          models.ID
	OrderNumber string

	CompanyID    string
	CompanyHubID string

	ProductID   string
	ProductName string
	Quantity    int
	UnitPrice   models.Money
	TotalAmount models.Money

	ReceiverName    string
	ReceiverPhone   string
	DeliveryAddress string
	AddressDetail   string
	ReceiverHubID   string

	RequestedDeliveryAt time.Time
	DeliveryNote        string

	// Facts resolved during saga execution
	ProductHubID        string
	RequiresHubDelivery bool
	Route               *RoutePlan
	Schedule            *DeliverySchedule
	PaymentID           string
	PgProvider          string
	PgPaymentID         string
	PgPaymentKey        string
	HubDeliveryID       string
	LastMileDeliveryID  string
	DriverName          string
	DriverPhone         string

	// Delivery progress timestamps
	HubDepartedAt *time.Time
	HubArrivedAt  *time.Time
	PickedUpAt    *time.Time
	DeliveredAt   *time.Time

	Status       OrderStatus
	CancelReason string
	CancelledAt  *time.Time

	Timestamps models.Timestamps
	Version    models.Version

	events []*events.Event
}

// CreateOrderParams carries the facts needed to open a new order
type CreateOrderParams struct {
	OrderNumber         string
	CompanyID           string
	CompanyHubID        string
	ProductID           string
	ProductName         string
	Quantity            int
	UnitPrice           models.Money
	ReceiverName        string
	ReceiverPhone       string
	DeliveryAddress     string
	AddressDetail       string
	ReceiverHubID       string
	RequestedDeliveryAt time.Time
	DeliveryNote        string
	PgProvider          string
	PgPaymentID         string
	PgPaymentKey        string
}

// CreateOrder factory method. The total is fixed here as unit price times
// quantity and is never recomputed afterwards.
func CreateOrder(p CreateOrderParams) (*Order, error) {
	if p.OrderNumber == "" {
		return nil, errors.New("order number is required")
	}
	if p.ProductID == "" {
		return nil, errors.New("product ID is required")
	}
	if p.Quantity <= 0 {
		return nil, errors.New("quantity must be positive")
	}
	if !p.UnitPrice.IsPositive() {
		return nil, errors.New("unit price must be positive")
	}
	if p.DeliveryAddress == "" {
		return nil, errors.New("delivery address is required")
	}
	if p.ReceiverHubID == "" {
		return nil, errors.New("receiver hub is required")
	}

	order := &Order{
		ID:                  models.GenerateUUID(),
		OrderNumber:         p.OrderNumber,
		CompanyID:           p.CompanyID,
		CompanyHubID:        p.CompanyHubID,
		ProductID:           p.ProductID,
		ProductName:         p.ProductName,
		Quantity:            p.Quantity,
		UnitPrice:           p.UnitPrice,
		TotalAmount:         p.UnitPrice.Multiply(p.Quantity),
		ReceiverName:        p.ReceiverName,
		ReceiverPhone:       p.ReceiverPhone,
		DeliveryAddress:     p.DeliveryAddress,
		AddressDetail:       p.AddressDetail,
		ReceiverHubID:       p.ReceiverHubID,
		RequestedDeliveryAt: p.RequestedDeliveryAt,
		DeliveryNote:        p.DeliveryNote,
		PgProvider:          p.PgProvider,
		PgPaymentID:         p.PgPaymentID,
		PgPaymentKey:        p.PgPaymentKey,
		Status:              OrderStatusPending,
		Timestamps:          models.NewTimestamps(),
		Version:             models.NewVersion(),
	}

	order.recordEvent(events.NewEvent(order.ID, events.OrderCreatedEvent, OrderCreatedData{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		ProductID:   order.ProductID,
		Quantity:    order.Quantity,
		TotalAmount: order.TotalAmount,
	}))

	return order, nil
}

// transition moves the order to the target status if the current status is
// one of the allowed sources, and fails with ErrInvalidStateTransition
// otherwise. No silent no-ops.
func (o *Order) transition(op string, to OrderStatus, from ...OrderStatus) error {
	for _, source := range from {
		if o.Status == source {
			o.Status = to
			o.touch()
			return nil
		}
	}
	return errors.Wrapf(ErrInvalidStateTransition, "%s: illegal from status %s", op, o.Status)
}

func (o *Order) touch() {
	o.Timestamps = o.Timestamps.Update()
	o.Version = o.Version.Update()
}

// StartStockChecking marks the stock reservation attempt as running
func (o *Order) StartStockChecking() error {
	return o.transition("startStockChecking", OrderStatusStockChecking, OrderStatusPending)
}

// CompleteStockReservation records the hub that holds the stock and computes
// whether a hub-to-hub leg is required by comparing it against the receiver's
// home hub.
func (o *Order) CompleteStockReservation(productHubID string) error {
	if err := o.transition("completeStockReservation", OrderStatusStockReserved, OrderStatusStockChecking); err != nil {
		return err
	}
	o.ProductHubID = productHubID
	o.RequiresHubDelivery = productHubID != o.ReceiverHubID
	return nil
}

// StartPaymentVerification marks the payment step as running
func (o *Order) StartPaymentVerification() error {
	return o.transition("startPaymentVerification", OrderStatusPaymentVerifying, OrderStatusStockReserved)
}

// ValidatePaymentAmount fails with ErrAmountMismatch when the externally
// verified amount differs from the order's fixed total. Status is untouched.
func (o *Order) ValidatePaymentAmount(amount models.Money) error {
	if !amount.Equals(o.TotalAmount) {
		return errors.Wrapf(ErrAmountMismatch, "verified %d %s, expected %d %s",
			amount.Amount, amount.Currency, o.TotalAmount.Amount, o.TotalAmount.Currency)
	}
	return nil
}

// CompletePaymentVerification records the external payment reference
func (o *Order) CompletePaymentVerification(paymentID string) error {
	if err := o.transition("completePaymentVerification", OrderStatusPaymentVerified, OrderStatusPaymentVerifying); err != nil {
		return err
	}
	o.PaymentID = paymentID
	o.recordEvent(events.NewEvent(o.ID, events.OrderPaymentVerifiedEvent, OrderPaymentVerifiedData{
		OrderID:   o.ID,
		PaymentID: paymentID,
		Amount:    o.TotalAmount,
	}))
	return nil
}

// StartRouteCalculation marks the routing step as running
func (o *Order) StartRouteCalculation() error {
	return o.transition("startRouteCalculation", OrderStatusRouteCalculating, OrderStatusPaymentVerified)
}

// CompleteRouteCalculation writes the route plan and delivery schedule onto
// the order. The routing gateway's hub-leg verdict overrides the provisional
// one derived at reservation time.
func (o *Order) CompleteRouteCalculation(plan RoutePlan, schedule DeliverySchedule) error {
	if err := o.transition("completeRouteCalculation", OrderStatusDeliveryCreating, OrderStatusRouteCalculating); err != nil {
		return err
	}
	o.Route = &plan
	o.Schedule = &schedule
	o.RequiresHubDelivery = plan.RequiresHubDelivery
	return nil
}

// SetHubDelivery records the hub transport's delivery reference
func (o *Order) SetHubDelivery(hubDeliveryID string) error {
	if o.Status != OrderStatusDeliveryCreating {
		return errors.Wrapf(ErrInvalidStateTransition, "setHubDelivery: illegal from status %s", o.Status)
	}
	o.HubDeliveryID = hubDeliveryID
	o.touch()
	return nil
}

// SetLastMileDelivery records the last-mile delivery reference and driver facts
func (o *Order) SetLastMileDelivery(lastMileDeliveryID, driverName, driverPhone string) error {
	if o.Status != OrderStatusDeliveryCreating {
		return errors.Wrapf(ErrInvalidStateTransition, "setLastMileDelivery: illegal from status %s", o.Status)
	}
	o.LastMileDeliveryID = lastMileDeliveryID
	o.DriverName = driverName
	o.DriverPhone = driverPhone
	o.touch()
	return nil
}

// Confirm seals the forward path. Legal from PAYMENT_VERIFIED (no async phase
// ran yet) or DELIVERY_CREATING (deliveries just created).
func (o *Order) Confirm() error {
	if err := o.transition("confirm", OrderStatusConfirmed, OrderStatusPaymentVerified, OrderStatusDeliveryCreating); err != nil {
		return err
	}
	o.recordEvent(events.NewEvent(o.ID, events.OrderConfirmedEvent, OrderConfirmedData{
		OrderID:             o.ID,
		OrderNumber:         o.OrderNumber,
		EstimatedDeliveryAt: o.Schedule,
	}))
	return nil
}

// MarkHubWaiting parks the order at the origin hub awaiting departure
func (o *Order) MarkHubWaiting() error {
	return o.transition("markHubWaiting", OrderStatusHubWaiting, OrderStatusConfirmed)
}

// DepartHub records the hub-to-hub leg departure
func (o *Order) DepartHub(at time.Time) error {
	if err := o.transition("departHub", OrderStatusHubInTransit, OrderStatusConfirmed, OrderStatusHubWaiting); err != nil {
		return err
	}
	o.HubDepartedAt = &at
	return nil
}

// ArriveAtHub records arrival at the destination hub
func (o *Order) ArriveAtHub(at time.Time) error {
	if err := o.transition("arriveAtHub", OrderStatusHubArrived, OrderStatusHubInTransit); err != nil {
		return err
	}
	o.HubArrivedAt = &at
	return nil
}

// MarkLastMileReady readies the order for pickup. Same-hub orders reach this
// directly from CONFIRMED.
func (o *Order) MarkLastMileReady() error {
	return o.transition("markLastMileReady", OrderStatusLastMileReady, OrderStatusConfirmed, OrderStatusHubArrived)
}

// StartDelivery records the driver pickup
func (o *Order) StartDelivery(at time.Time) error {
	if err := o.transition("startDelivery", OrderStatusInDelivery, OrderStatusLastMileReady); err != nil {
		return err
	}
	o.PickedUpAt = &at
	return nil
}

// CompleteDelivery closes the order lifecycle
func (o *Order) CompleteDelivery(at time.Time) error {
	if err := o.transition("completeDelivery", OrderStatusCompleted, OrderStatusInDelivery); err != nil {
		return err
	}
	o.DeliveredAt = &at
	o.recordEvent(events.NewEvent(o.ID, events.OrderCompletedEvent, OrderDeliveredData{
		OrderID:     o.ID,
		DeliveredAt: at,
	}))
	return nil
}

// IsTerminal reports whether the order reached a final status
func (o *Order) IsTerminal() bool {
	return terminalStatuses[o.Status]
}

// IsCancellable reports whether a user-driven cancel is still legal
func (o *Order) IsCancellable() bool {
	return cancellableStatuses[o.Status]
}

// Cancel performs a user-driven cancel. Legal only while the order has not
// left the origin hub.
func (o *Order) Cancel(reason string) error {
	if !o.IsCancellable() {
		return errors.Wrapf(ErrInvalidStateTransition, "cancel: illegal from status %s", o.Status)
	}
	now := time.Now()
	o.Status = OrderStatusCancelled
	o.CancelReason = reason
	o.CancelledAt = &now
	o.touch()
	o.recordEvent(events.NewEvent(o.ID, events.OrderCancelledEvent, OrderCancelledData{
		OrderID: o.ID,
		Reason:  reason,
	}))
	return nil
}

// Fail marks the order as failed. Reached when compensation itself broke down.
func (o *Order) Fail() error {
	if terminalStatuses[o.Status] {
		return errors.Wrapf(ErrInvalidStateTransition, "fail: illegal from status %s", o.Status)
	}
	o.Status = OrderStatusFailed
	o.touch()
	o.recordEvent(events.NewEvent(o.ID, events.OrderFailedEvent, OrderFailedData{OrderID: o.ID}))
	return nil
}

// Compensate marks the order as fully rolled back
func (o *Order) Compensate() error {
	if terminalStatuses[o.Status] {
		return errors.Wrapf(ErrInvalidStateTransition, "compensate: illegal from status %s", o.Status)
	}
	o.Status = OrderStatusCompensated
	o.touch()
	o.recordEvent(events.NewEvent(o.ID, events.OrderCompensatedEvent, OrderCompensatedData{OrderID: o.ID}))
	return nil
}

// Events returns domain events
func (o *Order) Events() []*events.Event {
	return o.events
}

// ClearEvents clears domain events
func (o *Order) ClearEvents() {
	o.events = make([]*events.Event, 0)
}

func (o *Order) recordEvent(event *events.Event) {
	o.events = append(o.events, event)
}

// Event Data Structures
type OrderCreatedData struct {
	OrderID     models.ID    `json:"order_id"`
	OrderNumber string       `json:"order_number"`
	ProductID   string       `json:"product_id"`
	Quantity    int          `json:"quantity"`
	TotalAmount models.Money `json:"total_amount"`
}

type OrderPaymentVerifiedData struct {
	OrderID   models.ID    `json:"order_id"`
	PaymentID string       `json:"payment_id"`
	Amount    models.Money `json:"amount"`
}

type OrderConfirmedData struct {
	OrderID             models.ID         `json:"order_id"`
	OrderNumber         string            `json:"order_number"`
	EstimatedDeliveryAt *DeliverySchedule `json:"estimated_delivery_at,omitempty"`
}

type OrderCancelledData struct {
	OrderID models.ID `json:"order_id"`
	Reason  string    `json:"reason"`
}

type OrderFailedData struct {
	OrderID models.ID `json:"order_id"`
}

type OrderCompensatedData struct {
	OrderID models.ID `json:"order_id"`
}

type OrderDeliveredData struct {
	OrderID     models.ID `json:"order_id"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// OrderRepository interface. FindByID returns (nil, nil) when absent; the
// application layer maps that to ErrOrderNotFound.
type OrderRepository interface {
	Save(ctx context.Context, order *Order) error
	FindByID(ctx context.Context, id models.ID) (*Order, error)
}

// OrderNumberAllocator hands out date-scoped, human-readable order numbers.
// Backed by an external crash-tolerant sequence, not process memory.
type OrderNumberAllocator interface {
	Next(ctx context.Context, day time.Time) (string, error)
}
