package config

import (
	"context"
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/EarlyExpress/order-service/order-service/application"
	"github.com/EarlyExpress/order-service/order-service/handlers"
	"github.com/EarlyExpress/order-service/order-service/infrastructure"
	"github.com/EarlyExpress/order-service/shared/events"
	sharedinfra "github.com/EarlyExpress/order-service/shared/infrastructure"
	"github.com/EarlyExpress/order-service/shared/telemetry"
)

type Dependencies struct {
	// Database
	DB    *sqlx.DB
	Redis *redis.Client

	// Repositories
	OrderRepository *infrastructure.PostgresOrderRepository
	SagaRepository  *infrastructure.PostgresSagaRepository

	// Use Cases
	CreateOrder         *application.CreateOrder
	GetOrder            *application.GetOrder
	CancelOrder         *application.CancelOrder
	FindStalledSagas    *application.FindStalledSagas
	Orchestrator        *application.Orchestrator
	Compensator         *application.Compensator
	ProcessRefundResult *application.ProcessRefundResult
	TrackProgress       *application.TrackDeliveryProgress

	// HTTP Handlers
	OrderHandlers *handlers.OrderHandlers

	// Event Handlers
	OrderEventHandlers *handlers.OrderEventHandlers

	// Infrastructure
	EventPublisher  events.Publisher
	EventSubscriber *sharedinfra.SQSSubscriberAdapter

	// Telemetry
	Telemetry         *telemetry.Telemetry
	TelemetryShutdown func()

	rawPublisher *sharedinfra.SNSEventPublisher
}

func BuildDependencies(ctx context.Context, config *Config) (*Dependencies, error) {
	deps := &Dependencies{}

	// Initialize telemetry first
	if config.Telemetry.Enabled {
		telConfig := telemetry.OrderServiceConfig.WithOTLPEndpoint(config.Telemetry.OTLPEndpoint)
		tel, telemetryShutdown, err := telemetry.InitTelemetry(ctx, telConfig)
		if err != nil {
			log.Printf("Failed to initialize telemetry: %v", err)
			// Continue without telemetry rather than failing
		} else {
			deps.Telemetry = tel
			deps.TelemetryShutdown = telemetryShutdown
		}
	}

	// Initialize database
	db, err := sqlx.Connect("postgres", config.GetDatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	deps.DB = db

	// Initialize Redis
	deps.Redis = redis.NewClient(&redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
	})
	if err := deps.Redis.Ping(ctx).Err(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	// Initialize AWS infrastructure
	snsPublisher, err := sharedinfra.NewSNSEventPublisherFromEnv(ctx, config.AWS.SNSTopicArn)
	if err != nil {
		return nil, fmt.Errorf("failed to create SNS publisher: %w", err)
	}
	deps.rawPublisher = snsPublisher

	// Every published event also lands in the event store, giving a
	// durable stream alongside the bus
	eventStore := sharedinfra.NewPostgresEventStore(db)
	deps.EventPublisher = sharedinfra.NewStoringPublisher(eventStore, snsPublisher)

	eventSubscriber, err := sharedinfra.NewSQSSubscriberAdapter(config.AWS.SQSQueueURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create SQS subscriber: %w", err)
	}
	deps.EventSubscriber = eventSubscriber

	// Initialize repositories
	deps.OrderRepository = infrastructure.NewPostgresOrderRepository(db)
	deps.SagaRepository = infrastructure.NewPostgresSagaRepository(db)

	// Initialize gateways
	stockGateway := infrastructure.NewHTTPStockGateway(config.Gateways.StockURL)
	paymentGateway := infrastructure.NewHTTPPaymentGateway(config.Gateways.PaymentURL)
	routingGateway := infrastructure.NewHTTPRoutingGateway(config.Gateways.RoutingURL)
	timeGateway := infrastructure.NewHTTPTimeEstimationGateway(config.Gateways.TimeEstimationURL)
	hubDeliveryGateway := infrastructure.NewHTTPHubDeliveryGateway(config.Gateways.HubDeliveryURL)
	lastMileGateway := infrastructure.NewHTTPLastMileGateway(config.Gateways.LastMileURL)

	orderNumbers := infrastructure.NewRedisOrderNumberAllocator(deps.Redis)

	// Initialize use cases
	deps.Compensator = application.NewCompensator(
		deps.OrderRepository,
		deps.SagaRepository,
		stockGateway,
		hubDeliveryGateway,
		lastMileGateway,
		deps.EventPublisher,
	)
	deps.Orchestrator = application.NewOrchestrator(
		deps.OrderRepository,
		deps.SagaRepository,
		stockGateway,
		paymentGateway,
		routingGateway,
		timeGateway,
		hubDeliveryGateway,
		lastMileGateway,
		deps.EventPublisher,
		deps.Compensator,
	)
	deps.CreateOrder = application.NewCreateOrder(
		deps.OrderRepository,
		deps.SagaRepository,
		orderNumbers,
		deps.Orchestrator,
		deps.EventPublisher,
	)
	deps.GetOrder = application.NewGetOrder(deps.OrderRepository, deps.SagaRepository)
	deps.CancelOrder = application.NewCancelOrder(
		deps.OrderRepository,
		deps.SagaRepository,
		deps.Compensator,
		deps.EventPublisher,
	)
	deps.FindStalledSagas = application.NewFindStalledSagas(deps.SagaRepository)
	deps.ProcessRefundResult = application.NewProcessRefundResult(
		deps.OrderRepository,
		deps.SagaRepository,
		deps.Compensator,
		deps.EventPublisher,
	)
	deps.TrackProgress = application.NewTrackDeliveryProgress(deps.OrderRepository, deps.EventPublisher)

	// Initialize handlers
	deps.OrderHandlers = handlers.NewOrderHandlers(
		deps.CreateOrder,
		deps.GetOrder,
		deps.CancelOrder,
		deps.FindStalledSagas,
	)
	deps.OrderEventHandlers = handlers.NewOrderEventHandlers(
		deps.Orchestrator,
		deps.ProcessRefundResult,
		deps.TrackProgress,
	)

	return deps, nil
}

// Close closes all dependencies
func (d *Dependencies) Close() error {
	var errs []error

	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}
	}

	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		}
	}

	if d.rawPublisher != nil {
		if err := d.rawPublisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close event publisher: %w", err))
		}
	}

	if d.EventSubscriber != nil {
		if err := d.EventSubscriber.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close event subscriber: %w", err))
		}
	}

	if d.TelemetryShutdown != nil {
		d.TelemetryShutdown()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing dependencies: %v", errs)
	}

	return nil
}
