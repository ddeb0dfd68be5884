package domain

import "github.com/EarlyExpress/order-service/shared/models"

// Step payloads captured into the saga's compensation data on success. Each
// carries exactly what its compensation counterpart needs to undo the step.

type StockReservePayload struct {
	ReservationID string         `json:"reservation_id"`
	ReservedItems []ReservedItem `json:"reserved_items"`
	ProductHubID  string         `json:"product_hub_id"`
}

type PaymentVerifyPayload struct {
	PaymentID string       `json:"payment_id"`
	Amount    models.Money `json:"amount"`
}

type HubDeliveryPayload struct {
	HubDeliveryID string `json:"hub_delivery_id"`
}

type LastMilePayload struct {
	LastMileDeliveryID string `json:"last_mile_delivery_id"`
	DriverName         string `json:"driver_name,omitempty"`
	DriverPhone        string `json:"driver_phone,omitempty"`
}

// RefundRequestData is the payload of the refund request event published when
// PAYMENT_CANCEL suspends the compensation pass
type RefundRequestData struct {
	OrderID   models.ID    `json:"order_id"`
	SagaID    models.ID    `json:"saga_id"`
	PaymentID string       `json:"payment_id"`
	Amount    models.Money `json:"amount"`
	Reason    string       `json:"reason"`
}

// RefundResultData is the payload of refund completed/failed events consumed
// to resume a suspended compensation pass
type RefundResultData struct {
	OrderID   models.ID `json:"order_id"`
	PaymentID string    `json:"payment_id"`
	RefundID  string    `json:"refund_id,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}
