package domain

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EarlyExpress/order-service/shared/models"
)

func validCreateParams() CreateOrderParams {
	return CreateOrderParams{
		OrderNumber:         "ORD-20260830-000001",
		CompanyID:           "company-1",
		CompanyHubID:        "hub-seoul",
		ProductID:           "product-1",
		ProductName:         "Widget",
		Quantity:            3,
		UnitPrice:           models.NewMoney(1500, "KRW"),
		ReceiverName:        "Kim",
		ReceiverPhone:       "010-1234-5678",
		DeliveryAddress:     "123 Main St",
		ReceiverHubID:       "hub-busan",
		RequestedDeliveryAt: time.Now().Add(48 * time.Hour),
		PgProvider:          "toss",
		PgPaymentID:         "pg-123",
		PgPaymentKey:        "key-123",
	}
}

func TestCreateOrder(t *testing.T) {
	t.Run("fixes total as unit price times quantity", func(t *testing.T) {
		order, err := CreateOrder(validCreateParams())
		require.NoError(t, err)

		assert.Equal(t, OrderStatusPending, order.Status)
		assert.Equal(t, int64(4500), order.TotalAmount.Amount)
		assert.Equal(t, "KRW", order.TotalAmount.Currency)
		assert.NotEmpty(t, order.ID)
	})

	t.Run("records created event", func(t *testing.T) {
		order, err := CreateOrder(validCreateParams())
		require.NoError(t, err)

		require.Len(t, order.Events(), 1)
		assert.Equal(t, "order.created", order.Events()[0].EventType)
	})

	tests := []struct {
		name   string
		mutate func(*CreateOrderParams)
	}{
		{"missing order number", func(p *CreateOrderParams) { p.OrderNumber = "" }},
		{"missing product", func(p *CreateOrderParams) { p.ProductID = "" }},
		{"zero quantity", func(p *CreateOrderParams) { p.Quantity = 0 }},
		{"negative quantity", func(p *CreateOrderParams) { p.Quantity = -1 }},
		{"zero unit price", func(p *CreateOrderParams) { p.UnitPrice = models.NewMoney(0, "KRW") }},
		{"missing address", func(p *CreateOrderParams) { p.DeliveryAddress = "" }},
		{"missing receiver hub", func(p *CreateOrderParams) { p.ReceiverHubID = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := validCreateParams()
			tt.mutate(&params)

			_, err := CreateOrder(params)
			assert.Error(t, err)
		})
	}
}

func TestOrder_ForwardTransitions(t *testing.T) {
	order, err := CreateOrder(validCreateParams())
	require.NoError(t, err)

	require.NoError(t, order.StartStockChecking())
	assert.Equal(t, OrderStatusStockChecking, order.Status)

	require.NoError(t, order.CompleteStockReservation("hub-seoul"))
	assert.Equal(t, OrderStatusStockReserved, order.Status)
	assert.Equal(t, "hub-seoul", order.ProductHubID)
	assert.True(t, order.RequiresHubDelivery, "product hub differs from receiver hub")

	require.NoError(t, order.StartPaymentVerification())
	require.NoError(t, order.CompletePaymentVerification("payment-1"))
	assert.Equal(t, OrderStatusPaymentVerified, order.Status)
	assert.Equal(t, "payment-1", order.PaymentID)

	require.NoError(t, order.StartRouteCalculation())
	require.NoError(t, order.CompleteRouteCalculation(
		RoutePlan{
			OriginHubID:         "hub-seoul",
			DestinationHubID:    "hub-busan",
			RouteHubs:           []string{"hub-seoul", "hub-daejeon", "hub-busan"},
			RequiresHubDelivery: true,
			DistanceKM:          325.5,
		},
		DeliverySchedule{
			DepartureDeadline:   time.Now().Add(6 * time.Hour),
			EstimatedDeliveryAt: time.Now().Add(30 * time.Hour),
		},
	))
	assert.Equal(t, OrderStatusDeliveryCreating, order.Status)
	require.NotNil(t, order.Route)
	assert.Len(t, order.Route.RouteHubs, 3)

	require.NoError(t, order.SetHubDelivery("hub-delivery-1"))
	require.NoError(t, order.SetLastMileDelivery("lm-1", "Lee", "010-9999-0000"))
	require.NoError(t, order.Confirm())
	assert.Equal(t, OrderStatusConfirmed, order.Status)
}

func TestOrder_SameHubSkipsHubLeg(t *testing.T) {
	params := validCreateParams()
	params.ReceiverHubID = "hub-seoul"
	order, err := CreateOrder(params)
	require.NoError(t, err)

	require.NoError(t, order.StartStockChecking())
	require.NoError(t, order.CompleteStockReservation("hub-seoul"))

	assert.False(t, order.RequiresHubDelivery)
}

func TestOrder_InvalidTransitions(t *testing.T) {
	tests := []struct {
		name string
		run  func(*Order) error
	}{
		{"payment before stock", func(o *Order) error { return o.StartPaymentVerification() }},
		{"route before payment", func(o *Order) error { return o.StartRouteCalculation() }},
		{"confirm from pending", func(o *Order) error { return o.Confirm() }},
		{"complete stock from pending", func(o *Order) error { return o.CompleteStockReservation("hub-x") }},
		{"hub delivery from pending", func(o *Order) error { return o.SetHubDelivery("hd-1") }},
		{"depart hub from pending", func(o *Order) error { return o.DepartHub(time.Now()) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order, err := CreateOrder(validCreateParams())
			require.NoError(t, err)

			err = tt.run(order)
			assert.True(t, errors.Is(err, ErrInvalidStateTransition), "got %v", err)
		})
	}
}

func TestOrder_ValidatePaymentAmount(t *testing.T) {
	order, err := CreateOrder(validCreateParams())
	require.NoError(t, err)

	assert.NoError(t, order.ValidatePaymentAmount(models.NewMoney(4500, "KRW")))

	err = order.ValidatePaymentAmount(models.NewMoney(4000, "KRW"))
	assert.True(t, errors.Is(err, ErrAmountMismatch))

	err = order.ValidatePaymentAmount(models.NewMoney(4500, "USD"))
	assert.True(t, errors.Is(err, ErrAmountMismatch), "currency mismatch counts too")
}

func TestOrder_DeliveryProgress(t *testing.T) {
	order := confirmedOrder(t)

	require.NoError(t, order.MarkHubWaiting())
	assert.Equal(t, OrderStatusHubWaiting, order.Status)

	departed := time.Now()
	require.NoError(t, order.DepartHub(departed))
	assert.Equal(t, OrderStatusHubInTransit, order.Status)
	require.NotNil(t, order.HubDepartedAt)
	assert.Equal(t, departed, *order.HubDepartedAt)

	require.NoError(t, order.ArriveAtHub(time.Now()))
	require.NoError(t, order.MarkLastMileReady())
	require.NoError(t, order.StartDelivery(time.Now()))
	assert.Equal(t, OrderStatusInDelivery, order.Status)

	require.NoError(t, order.CompleteDelivery(time.Now()))
	assert.Equal(t, OrderStatusCompleted, order.Status)
	assert.NotNil(t, order.DeliveredAt)
	assert.True(t, order.IsTerminal())
}

func TestOrder_SameHubProgressSkipsHubStates(t *testing.T) {
	order := confirmedOrder(t)

	// a same-hub order goes straight to last mile ready
	require.NoError(t, order.MarkLastMileReady())
	assert.Equal(t, OrderStatusLastMileReady, order.Status)
}

func TestOrder_Cancel(t *testing.T) {
	t.Run("cancellable before departure", func(t *testing.T) {
		order := confirmedOrder(t)
		require.NoError(t, order.MarkHubWaiting())
		assert.True(t, order.IsCancellable())

		require.NoError(t, order.Cancel("changed my mind"))
		assert.Equal(t, OrderStatusCancelled, order.Status)
		assert.Equal(t, "changed my mind", order.CancelReason)
		assert.NotNil(t, order.CancelledAt)
	})

	t.Run("not cancellable after departure", func(t *testing.T) {
		order := confirmedOrder(t)
		require.NoError(t, order.MarkHubWaiting())
		require.NoError(t, order.DepartHub(time.Now()))
		assert.False(t, order.IsCancellable())

		err := order.Cancel("too late")
		assert.True(t, errors.Is(err, ErrInvalidStateTransition))
	})

	t.Run("not cancellable twice", func(t *testing.T) {
		order := confirmedOrder(t)
		require.NoError(t, order.Cancel("first"))

		err := order.Cancel("second")
		assert.True(t, errors.Is(err, ErrInvalidStateTransition))
	})
}

func TestOrder_FailAndCompensate(t *testing.T) {
	t.Run("fail from mid-flight", func(t *testing.T) {
		order, err := CreateOrder(validCreateParams())
		require.NoError(t, err)
		require.NoError(t, order.StartStockChecking())

		require.NoError(t, order.Fail())
		assert.Equal(t, OrderStatusFailed, order.Status)
	})

	t.Run("compensate from mid-flight", func(t *testing.T) {
		order, err := CreateOrder(validCreateParams())
		require.NoError(t, err)
		require.NoError(t, order.StartStockChecking())

		require.NoError(t, order.Compensate())
		assert.Equal(t, OrderStatusCompensated, order.Status)
	})

	t.Run("terminal orders stay terminal", func(t *testing.T) {
		order := confirmedOrder(t)
		require.NoError(t, order.Cancel("done"))

		assert.Error(t, order.Fail())
		assert.Error(t, order.Compensate())
	})
}

func confirmedOrder(t *testing.T) *Order {
	t.Helper()

	order, err := CreateOrder(validCreateParams())
	require.NoError(t, err)
	require.NoError(t, order.StartStockChecking())
	require.NoError(t, order.CompleteStockReservation("hub-seoul"))
	require.NoError(t, order.StartPaymentVerification())
	require.NoError(t, order.CompletePaymentVerification("payment-1"))
	require.NoError(t, order.StartRouteCalculation())
	require.NoError(t, order.CompleteRouteCalculation(
		RoutePlan{OriginHubID: "hub-seoul", DestinationHubID: "hub-busan", RequiresHubDelivery: true},
		DeliverySchedule{
			DepartureDeadline:   time.Now().Add(6 * time.Hour),
			EstimatedDeliveryAt: time.Now().Add(30 * time.Hour),
		},
	))
	require.NoError(t, order.Confirm())
	order.ClearEvents()
	return order
}
