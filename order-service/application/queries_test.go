package application

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EarlyExpress/order-service/order-service/domain"
	"github.com/EarlyExpress/order-service/shared/events"
	"github.com/EarlyExpress/order-service/shared/models"
)

func TestGetOrder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	getOrder := NewGetOrder(f.orderRepo, f.sagaRepo)

	created, err := f.createOrder.Execute(ctx, validCommand())
	require.NoError(t, err)
	require.NoError(t, f.orchestrator.ExecuteAsyncPhase(ctx, created.OrderID))

	response, err := getOrder.Execute(ctx, &GetOrderQuery{OrderID: created.OrderID})
	require.NoError(t, err)

	assert.Equal(t, domain.OrderStatusConfirmed, response.Status)
	assert.Equal(t, created.OrderNumber, response.OrderNumber)
	assert.Equal(t, domain.SagaStatusCompleted, response.SagaStatus)
	assert.NotEmpty(t, response.StepHistory)
	require.NotNil(t, response.Route)
	assert.Equal(t, "HUB-002", response.Route.DestinationHubID)

	_, err = getOrder.Execute(ctx, &GetOrderQuery{OrderID: models.GenerateUUID()})
	assert.True(t, errors.Is(err, domain.ErrOrderNotFound))
}

func TestTrackDeliveryProgress(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	track := NewTrackDeliveryProgress(f.orderRepo, f.publisher)

	created, err := f.createOrder.Execute(ctx, validCommand())
	require.NoError(t, err)
	require.NoError(t, f.orchestrator.ExecuteAsyncPhase(ctx, created.OrderID))

	steps := []string{
		events.DeliveryHubWaitingEvent,
		events.DeliveryHubDepartedEvent,
		events.DeliveryHubArrivedEvent,
		events.DeliveryLastMileReadyEvent,
		events.DeliveryPickupEvent,
		events.DeliveryCompletedEvent,
	}
	for _, eventType := range steps {
		require.NoError(t, track.Execute(ctx, &TrackDeliveryProgressCommand{
			OrderID:    created.OrderID,
			EventType:  eventType,
			OccurredAt: time.Now(),
		}), eventType)
	}

	order, _ := f.orderRepo.FindByID(ctx, created.OrderID)
	assert.Equal(t, domain.OrderStatusCompleted, order.Status)
	assert.NotNil(t, order.HubDepartedAt)
	assert.NotNil(t, order.PickedUpAt)
	assert.NotNil(t, order.DeliveredAt)
	assert.Len(t, f.publisher.byType(events.OrderCompletedEvent), 1)

	// a report that does not fit the current status surfaces the guard error
	err = track.Execute(ctx, &TrackDeliveryProgressCommand{
		OrderID:   created.OrderID,
		EventType: events.DeliveryPickupEvent,
	})
	assert.True(t, errors.Is(err, domain.ErrInvalidStateTransition))

	// unknown event types are ignored
	assert.NoError(t, track.Execute(ctx, &TrackDeliveryProgressCommand{
		OrderID:   created.OrderID,
		EventType: "delivery.unknown",
	}))
}

func TestFindStalledSagas(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	findStalled := NewFindStalledSagas(f.sagaRepo)

	fresh := domain.NewSaga(models.GenerateUUID())
	require.NoError(t, fresh.Start())
	require.NoError(t, f.sagaRepo.Save(ctx, fresh))

	stalled := domain.NewSaga(models.GenerateUUID())
	require.NoError(t, stalled.Start())
	stalled.StartedAt = time.Now().Add(-2 * time.Hour)
	require.NoError(t, f.sagaRepo.Save(ctx, stalled))

	done := domain.NewSaga(models.GenerateUUID())
	require.NoError(t, done.Start())
	done.StartedAt = time.Now().Add(-3 * time.Hour)
	done.Status = domain.SagaStatusCompleted
	require.NoError(t, f.sagaRepo.Save(ctx, done))

	views, err := findStalled.Execute(ctx, &FindStalledSagasQuery{OlderThan: time.Hour})
	require.NoError(t, err)

	require.Len(t, views, 1)
	assert.Equal(t, stalled.ID, views[0].SagaID)
	assert.Equal(t, stalled.OrderID, views[0].OrderID)
}
