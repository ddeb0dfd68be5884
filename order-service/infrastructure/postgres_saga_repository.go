package infrastructure

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/EarlyExpress/order-service/order-service/domain"
	"github.com/EarlyExpress/order-service/shared/models"
)

// PostgresSagaRepository implements SagaRepository using PostgreSQL. Step
// history and compensation data are stored as JSONB documents: they are
// read and written whole with the aggregate and never queried by field.
type PostgresSagaRepository struct {
	db *sqlx.DB
}

// NewPostgresSagaRepository creates a new PostgresSagaRepository
func NewPostgresSagaRepository(db *sqlx.DB) *PostgresSagaRepository {
	return &PostgresSagaRepository{db: db}
}

// postgresSaga represents a saga in the database
type postgresSaga struct {
	ID               string          `db:"id"`
	OrderID          string          `db:"order_id"`
	Status           string          `db:"status"`
	CurrentStep      string          `db:"current_step"`
	History          json.RawMessage `db:"history"`
	CompensationData json.RawMessage `db:"compensation_data"`
	FailureReason    string          `db:"failure_reason"`
	StartedAt        time.Time       `db:"started_at"`
	EndedAt          *time.Time      `db:"ended_at"`
	CreatedAt        time.Time       `db:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at"`
	Version          int             `db:"version"`
}

// Save upserts the saga
func (r *PostgresSagaRepository) Save(ctx context.Context, saga *domain.Saga) error {
	pgSaga, err := r.toPostgres(saga)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO sagas (
			id, order_id, status, current_step,
			history, compensation_data, failure_reason,
			started_at, ended_at, created_at, updated_at, version
		) VALUES (
			:id, :order_id, :status, :current_step,
			:history, :compensation_data, :failure_reason,
			:started_at, :ended_at, :created_at, :updated_at, :version
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			current_step = EXCLUDED.current_step,
			history = EXCLUDED.history,
			compensation_data = EXCLUDED.compensation_data,
			failure_reason = EXCLUDED.failure_reason,
			ended_at = EXCLUDED.ended_at,
			updated_at = EXCLUDED.updated_at,
			version = EXCLUDED.version`

	if _, err := r.db.NamedExecContext(ctx, query, pgSaga); err != nil {
		return errors.Wrap(err, "failed to save saga")
	}
	return nil
}

// FindByOrderID finds the saga for an order
func (r *PostgresSagaRepository) FindByOrderID(ctx context.Context, orderID models.ID) (*domain.Saga, error) {
	query := `
		SELECT id, order_id, status, current_step,
			   history, compensation_data, failure_reason,
			   started_at, ended_at, created_at, updated_at, version
		FROM sagas
		WHERE order_id = $1
		ORDER BY started_at DESC
		LIMIT 1`

	var pgSaga postgresSaga
	err := r.db.GetContext(ctx, &pgSaga, query, orderID.String())
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Saga not found
		}
		return nil, errors.Wrap(err, "failed to find saga")
	}

	return r.toDomain(&pgSaga)
}

// FindStalled returns sagas still IN_PROGRESS or COMPENSATING after the
// given age, oldest first
func (r *PostgresSagaRepository) FindStalled(ctx context.Context, olderThan time.Duration) ([]*domain.Saga, error) {
	query := `
		SELECT id, order_id, status, current_step,
			   history, compensation_data, failure_reason,
			   started_at, ended_at, created_at, updated_at, version
		FROM sagas
		WHERE status IN ('IN_PROGRESS', 'COMPENSATING')
		  AND started_at < $1
		ORDER BY started_at ASC`

	cutoff := time.Now().Add(-olderThan)

	var pgSagas []postgresSaga
	if err := r.db.SelectContext(ctx, &pgSagas, query, cutoff); err != nil {
		return nil, errors.Wrap(err, "failed to find stalled sagas")
	}

	sagas := make([]*domain.Saga, 0, len(pgSagas))
	for i := range pgSagas {
		saga, err := r.toDomain(&pgSagas[i])
		if err != nil {
			return nil, err
		}
		sagas = append(sagas, saga)
	}
	return sagas, nil
}

func (r *PostgresSagaRepository) toPostgres(saga *domain.Saga) (*postgresSaga, error) {
	history, err := json.Marshal(saga.History)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal saga history")
	}
	compensationData, err := json.Marshal(saga.CompensationData)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal compensation data")
	}

	return &postgresSaga{
		ID:               saga.ID.String(),
		OrderID:          saga.OrderID.String(),
		Status:           string(saga.Status),
		CurrentStep:      string(saga.CurrentStep),
		History:          history,
		CompensationData: compensationData,
		FailureReason:    saga.FailureReason,
		StartedAt:        saga.StartedAt,
		EndedAt:          saga.EndedAt,
		CreatedAt:        saga.Timestamps.CreatedAt,
		UpdatedAt:        saga.Timestamps.UpdatedAt,
		Version:          saga.Version.Value,
	}, nil
}

func (r *PostgresSagaRepository) toDomain(pgSaga *postgresSaga) (*domain.Saga, error) {
	var history []domain.StepHistoryEntry
	if len(pgSaga.History) > 0 {
		if err := json.Unmarshal(pgSaga.History, &history); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal saga history")
		}
	}

	compensationData := make(map[domain.Step]json.RawMessage)
	if len(pgSaga.CompensationData) > 0 {
		if err := json.Unmarshal(pgSaga.CompensationData, &compensationData); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal compensation data")
		}
	}

	return &domain.Saga{
		ID:               models.ID(pgSaga.ID),
		OrderID:          models.ID(pgSaga.OrderID),
		Status:           domain.SagaStatus(pgSaga.Status),
		CurrentStep:      domain.Step(pgSaga.CurrentStep),
		History:          history,
		CompensationData: compensationData,
		FailureReason:    pgSaga.FailureReason,
		StartedAt:        pgSaga.StartedAt,
		EndedAt:          pgSaga.EndedAt,
		Timestamps: models.Timestamps{
			CreatedAt: pgSaga.CreatedAt,
			UpdatedAt: pgSaga.UpdatedAt,
		},
		Version: models.Version{Value: pgSaga.Version},
	}, nil
}
