package application

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/EarlyExpress/order-service/order-service/domain"
	"github.com/EarlyExpress/order-service/shared/models"
)

// FindStalledSagasQuery represents the query for sagas stuck mid-flight
type FindStalledSagasQuery struct {
	OlderThan time.Duration `json:"older_than"`
}

// StalledSagaView is one stuck saga in the operator's report
type StalledSagaView struct {
	SagaID      models.ID         `json:"saga_id"`
	OrderID     models.ID         `json:"order_id"`
	Status      domain.SagaStatus `json:"status"`
	CurrentStep domain.Step       `json:"current_step"`
	StartedAt   time.Time         `json:"started_at"`
}

// FindStalledSagas use case reports sagas that have been IN_PROGRESS or
// COMPENSATING longer than the given age. These are candidates for manual
// recovery, typically a compensation pass suspended on a refund that never
// came back.
type FindStalledSagas struct {
	sagaRepository domain.SagaRepository
}

// NewFindStalledSagas creates a new FindStalledSagas use case
func NewFindStalledSagas(sagaRepository domain.SagaRepository) *FindStalledSagas {
	return &FindStalledSagas{sagaRepository: sagaRepository}
}

// Execute executes the find stalled sagas query
func (uc *FindStalledSagas) Execute(ctx context.Context, query *FindStalledSagasQuery) ([]StalledSagaView, error) {
	olderThan := query.OlderThan
	if olderThan <= 0 {
		olderThan = time.Hour
	}

	sagas, err := uc.sagaRepository.FindStalled(ctx, olderThan)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find stalled sagas")
	}

	views := make([]StalledSagaView, 0, len(sagas))
	for _, saga := range sagas {
		views = append(views, StalledSagaView{
			SagaID:      saga.ID,
			OrderID:     saga.OrderID,
			Status:      saga.Status,
			CurrentStep: saga.CurrentStep,
			StartedAt:   saga.StartedAt,
		})
	}
	return views, nil
}
