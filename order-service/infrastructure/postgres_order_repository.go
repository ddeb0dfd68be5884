package infrastructure

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/EarlyExpress/order-service/order-service/domain"
	"github.com/EarlyExpress/order-service/shared/models"
)

// PostgresOrderRepository implements OrderRepository using PostgreSQL
type PostgresOrderRepository struct {
	db *sqlx.DB
}

// NewPostgresOrderRepository creates a new PostgresOrderRepository
func NewPostgresOrderRepository(db *sqlx.DB) *PostgresOrderRepository {
	return &PostgresOrderRepository{db: db}
}

// postgresOrder represents an order in the database
type postgresOrder struct {
	ID          string `db:"id"`
	OrderNumber string `db:"order_number"`

	CompanyID    string `db:"company_id"`
	CompanyHubID string `db:"company_hub_id"`

	ProductID   string `db:"product_id"`
	ProductName string `db:"product_name"`
	Quantity    int    `db:"quantity"`
	UnitPrice   int64  `db:"unit_price"`
	TotalAmount int64  `db:"total_amount"`
	Currency    string `db:"currency"`

	ReceiverName    string `db:"receiver_name"`
	ReceiverPhone   string `db:"receiver_phone"`
	DeliveryAddress string `db:"delivery_address"`
	AddressDetail   string `db:"address_detail"`
	ReceiverHubID   string `db:"receiver_hub_id"`

	RequestedDeliveryAt time.Time `db:"requested_delivery_at"`
	DeliveryNote        string    `db:"delivery_note"`

	ProductHubID        string          `db:"product_hub_id"`
	RequiresHubDelivery bool            `db:"requires_hub_delivery"`
	OriginHubID         string          `db:"origin_hub_id"`
	DestinationHubID    string          `db:"destination_hub_id"`
	RouteHubs           pq.StringArray  `db:"route_hubs"`
	DistanceKM          float64         `db:"distance_km"`
	RouteInfo           json.RawMessage `db:"route_info"`
	HasRoute            bool            `db:"has_route"`

	DepartureDeadline   *time.Time `db:"departure_deadline"`
	EstimatedDeliveryAt *time.Time `db:"estimated_delivery_at"`

	PaymentID    string `db:"payment_id"`
	PgProvider   string `db:"pg_provider"`
	PgPaymentID  string `db:"pg_payment_id"`
	PgPaymentKey string `db:"pg_payment_key"`

	HubDeliveryID      string `db:"hub_delivery_id"`
	LastMileDeliveryID string `db:"last_mile_delivery_id"`
	DriverName         string `db:"driver_name"`
	DriverPhone        string `db:"driver_phone"`

	HubDepartedAt *time.Time `db:"hub_departed_at"`
	HubArrivedAt  *time.Time `db:"hub_arrived_at"`
	PickedUpAt    *time.Time `db:"picked_up_at"`
	DeliveredAt   *time.Time `db:"delivered_at"`

	Status       string     `db:"status"`
	CancelReason string     `db:"cancel_reason"`
	CancelledAt  *time.Time `db:"cancelled_at"`

	CreatedAt time.Time  `db:"created_at"`
	UpdatedAt time.Time  `db:"updated_at"`
	DeletedAt *time.Time `db:"deleted_at"`
	Version   int        `db:"version"`
}

// Save upserts the order. The aggregate is saved after every transition of a
// saga run, so inserts and updates go through the same statement.
func (r *PostgresOrderRepository) Save(ctx context.Context, order *domain.Order) error {
	query := `
		INSERT INTO orders (
			id, order_number, company_id, company_hub_id,
			product_id, product_name, quantity, unit_price, total_amount, currency,
			receiver_name, receiver_phone, delivery_address, address_detail, receiver_hub_id,
			requested_delivery_at, delivery_note,
			product_hub_id, requires_hub_delivery, origin_hub_id, destination_hub_id,
			route_hubs, distance_km, route_info, has_route,
			departure_deadline, estimated_delivery_at,
			payment_id, pg_provider, pg_payment_id, pg_payment_key,
			hub_delivery_id, last_mile_delivery_id, driver_name, driver_phone,
			hub_departed_at, hub_arrived_at, picked_up_at, delivered_at,
			status, cancel_reason, cancelled_at,
			created_at, updated_at, version
		) VALUES (
			:id, :order_number, :company_id, :company_hub_id,
			:product_id, :product_name, :quantity, :unit_price, :total_amount, :currency,
			:receiver_name, :receiver_phone, :delivery_address, :address_detail, :receiver_hub_id,
			:requested_delivery_at, :delivery_note,
			:product_hub_id, :requires_hub_delivery, :origin_hub_id, :destination_hub_id,
			:route_hubs, :distance_km, :route_info, :has_route,
			:departure_deadline, :estimated_delivery_at,
			:payment_id, :pg_provider, :pg_payment_id, :pg_payment_key,
			:hub_delivery_id, :last_mile_delivery_id, :driver_name, :driver_phone,
			:hub_departed_at, :hub_arrived_at, :picked_up_at, :delivered_at,
			:status, :cancel_reason, :cancelled_at,
			:created_at, :updated_at, :version
		)
		ON CONFLICT (id) DO UPDATE SET
			product_hub_id = EXCLUDED.product_hub_id,
			requires_hub_delivery = EXCLUDED.requires_hub_delivery,
			origin_hub_id = EXCLUDED.origin_hub_id,
			destination_hub_id = EXCLUDED.destination_hub_id,
			route_hubs = EXCLUDED.route_hubs,
			distance_km = EXCLUDED.distance_km,
			route_info = EXCLUDED.route_info,
			has_route = EXCLUDED.has_route,
			departure_deadline = EXCLUDED.departure_deadline,
			estimated_delivery_at = EXCLUDED.estimated_delivery_at,
			payment_id = EXCLUDED.payment_id,
			hub_delivery_id = EXCLUDED.hub_delivery_id,
			last_mile_delivery_id = EXCLUDED.last_mile_delivery_id,
			driver_name = EXCLUDED.driver_name,
			driver_phone = EXCLUDED.driver_phone,
			hub_departed_at = EXCLUDED.hub_departed_at,
			hub_arrived_at = EXCLUDED.hub_arrived_at,
			picked_up_at = EXCLUDED.picked_up_at,
			delivered_at = EXCLUDED.delivered_at,
			status = EXCLUDED.status,
			cancel_reason = EXCLUDED.cancel_reason,
			cancelled_at = EXCLUDED.cancelled_at,
			updated_at = EXCLUDED.updated_at,
			version = EXCLUDED.version`

	_, err := r.db.NamedExecContext(ctx, query, r.toPostgres(order))
	if err != nil {
		return errors.Wrap(err, "failed to save order")
	}
	return nil
}

// FindByID finds an order by ID
func (r *PostgresOrderRepository) FindByID(ctx context.Context, id models.ID) (*domain.Order, error) {
	query := `
		SELECT id, order_number, company_id, company_hub_id,
			   product_id, product_name, quantity, unit_price, total_amount, currency,
			   receiver_name, receiver_phone, delivery_address, address_detail, receiver_hub_id,
			   requested_delivery_at, delivery_note,
			   product_hub_id, requires_hub_delivery, origin_hub_id, destination_hub_id,
			   route_hubs, distance_km, route_info, has_route,
			   departure_deadline, estimated_delivery_at,
			   payment_id, pg_provider, pg_payment_id, pg_payment_key,
			   hub_delivery_id, last_mile_delivery_id, driver_name, driver_phone,
			   hub_departed_at, hub_arrived_at, picked_up_at, delivered_at,
			   status, cancel_reason, cancelled_at,
			   created_at, updated_at, deleted_at, version
		FROM orders
		WHERE id = $1 AND deleted_at IS NULL`

	var pgOrder postgresOrder
	err := r.db.GetContext(ctx, &pgOrder, query, id.String())
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Order not found
		}
		return nil, errors.Wrap(err, "failed to find order")
	}

	return r.toDomain(&pgOrder), nil
}

func (r *PostgresOrderRepository) toPostgres(order *domain.Order) *postgresOrder {
	pgOrder := &postgresOrder{
		ID:                  order.ID.String(),
		OrderNumber:         order.OrderNumber,
		CompanyID:           order.CompanyID,
		CompanyHubID:        order.CompanyHubID,
		ProductID:           order.ProductID,
		ProductName:         order.ProductName,
		Quantity:            order.Quantity,
		UnitPrice:           order.UnitPrice.Amount,
		TotalAmount:         order.TotalAmount.Amount,
		Currency:            order.TotalAmount.Currency,
		ReceiverName:        order.ReceiverName,
		ReceiverPhone:       order.ReceiverPhone,
		DeliveryAddress:     order.DeliveryAddress,
		AddressDetail:       order.AddressDetail,
		ReceiverHubID:       order.ReceiverHubID,
		RequestedDeliveryAt: order.RequestedDeliveryAt,
		DeliveryNote:        order.DeliveryNote,
		ProductHubID:        order.ProductHubID,
		RequiresHubDelivery: order.RequiresHubDelivery,
		PaymentID:           order.PaymentID,
		PgProvider:          order.PgProvider,
		PgPaymentID:         order.PgPaymentID,
		PgPaymentKey:        order.PgPaymentKey,
		HubDeliveryID:       order.HubDeliveryID,
		LastMileDeliveryID:  order.LastMileDeliveryID,
		DriverName:          order.DriverName,
		DriverPhone:         order.DriverPhone,
		HubDepartedAt:       order.HubDepartedAt,
		HubArrivedAt:        order.HubArrivedAt,
		PickedUpAt:          order.PickedUpAt,
		DeliveredAt:         order.DeliveredAt,
		Status:              string(order.Status),
		CancelReason:        order.CancelReason,
		CancelledAt:         order.CancelledAt,
		CreatedAt:           order.Timestamps.CreatedAt,
		UpdatedAt:           order.Timestamps.UpdatedAt,
		Version:             order.Version.Value,
	}

	if order.Route != nil {
		pgOrder.HasRoute = true
		pgOrder.OriginHubID = order.Route.OriginHubID
		pgOrder.DestinationHubID = order.Route.DestinationHubID
		pgOrder.RouteHubs = pq.StringArray(order.Route.RouteHubs)
		pgOrder.DistanceKM = order.Route.DistanceKM
		pgOrder.RouteInfo = order.Route.RouteInfo
	}
	if pgOrder.RouteInfo == nil {
		pgOrder.RouteInfo = json.RawMessage("null")
	}
	if order.Schedule != nil {
		deadline := order.Schedule.DepartureDeadline
		estimated := order.Schedule.EstimatedDeliveryAt
		pgOrder.DepartureDeadline = &deadline
		pgOrder.EstimatedDeliveryAt = &estimated
	}

	return pgOrder
}

func (r *PostgresOrderRepository) toDomain(pgOrder *postgresOrder) *domain.Order {
	order := &domain.Order{
		ID:                  models.ID(pgOrder.ID),
		OrderNumber:         pgOrder.OrderNumber,
		CompanyID:           pgOrder.CompanyID,
		CompanyHubID:        pgOrder.CompanyHubID,
		ProductID:           pgOrder.ProductID,
		ProductName:         pgOrder.ProductName,
		Quantity:            pgOrder.Quantity,
		UnitPrice:           models.NewMoney(pgOrder.UnitPrice, pgOrder.Currency),
		TotalAmount:         models.NewMoney(pgOrder.TotalAmount, pgOrder.Currency),
		ReceiverName:        pgOrder.ReceiverName,
		ReceiverPhone:       pgOrder.ReceiverPhone,
		DeliveryAddress:     pgOrder.DeliveryAddress,
		AddressDetail:       pgOrder.AddressDetail,
		ReceiverHubID:       pgOrder.ReceiverHubID,
		RequestedDeliveryAt: pgOrder.RequestedDeliveryAt,
		DeliveryNote:        pgOrder.DeliveryNote,
		ProductHubID:        pgOrder.ProductHubID,
		RequiresHubDelivery: pgOrder.RequiresHubDelivery,
		PaymentID:           pgOrder.PaymentID,
		PgProvider:          pgOrder.PgProvider,
		PgPaymentID:         pgOrder.PgPaymentID,
		PgPaymentKey:        pgOrder.PgPaymentKey,
		HubDeliveryID:       pgOrder.HubDeliveryID,
		LastMileDeliveryID:  pgOrder.LastMileDeliveryID,
		DriverName:          pgOrder.DriverName,
		DriverPhone:         pgOrder.DriverPhone,
		HubDepartedAt:       pgOrder.HubDepartedAt,
		HubArrivedAt:        pgOrder.HubArrivedAt,
		PickedUpAt:          pgOrder.PickedUpAt,
		DeliveredAt:         pgOrder.DeliveredAt,
		Status:              domain.OrderStatus(pgOrder.Status),
		CancelReason:        pgOrder.CancelReason,
		CancelledAt:         pgOrder.CancelledAt,
		Timestamps: models.Timestamps{
			CreatedAt: pgOrder.CreatedAt,
			UpdatedAt: pgOrder.UpdatedAt,
			DeletedAt: pgOrder.DeletedAt,
		},
		Version: models.Version{Value: pgOrder.Version},
	}

	if pgOrder.HasRoute {
		routeInfo := pgOrder.RouteInfo
		if string(routeInfo) == "null" {
			routeInfo = nil
		}
		order.Route = &domain.RoutePlan{
			OriginHubID:         pgOrder.OriginHubID,
			DestinationHubID:    pgOrder.DestinationHubID,
			RouteHubs:           []string(pgOrder.RouteHubs),
			RequiresHubDelivery: pgOrder.RequiresHubDelivery,
			DistanceKM:          pgOrder.DistanceKM,
			RouteInfo:           routeInfo,
		}
	}
	if pgOrder.DepartureDeadline != nil && pgOrder.EstimatedDeliveryAt != nil {
		order.Schedule = &domain.DeliverySchedule{
			DepartureDeadline:   *pgOrder.DepartureDeadline,
			EstimatedDeliveryAt: *pgOrder.EstimatedDeliveryAt,
		}
	}

	return order
}
