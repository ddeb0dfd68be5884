package domain

import (
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EarlyExpress/order-service/shared/models"
)

func startedSaga(t *testing.T) *Saga {
	t.Helper()
	saga := NewSaga(models.GenerateUUID())
	require.NoError(t, saga.Start())
	saga.ClearEvents()
	return saga
}

func completeForward(t *testing.T, saga *Saga, step Step, payload string) {
	t.Helper()
	require.NoError(t, saga.StartStep(step, json.RawMessage(`{}`)))
	require.NoError(t, saga.CompleteStep(step, json.RawMessage(payload)))
}

func TestNewSaga(t *testing.T) {
	saga := NewSaga(models.GenerateUUID())

	assert.Equal(t, SagaStatusPending, saga.Status)
	assert.Equal(t, StepStockReserve, saga.CurrentStep)
	assert.Empty(t, saga.History)
	assert.Empty(t, saga.CompensationData)
}

func TestSaga_Start(t *testing.T) {
	saga := NewSaga(models.GenerateUUID())

	require.NoError(t, saga.Start())
	assert.Equal(t, SagaStatusInProgress, saga.Status)
	require.Len(t, saga.Events(), 1)
	assert.Equal(t, "saga.started", saga.Events()[0].EventType)

	err := saga.Start()
	assert.True(t, errors.Is(err, ErrSagaStateMismatch))
}

func TestSaga_StepsRunInOrder(t *testing.T) {
	saga := startedSaga(t)

	// only the current step may run
	err := saga.StartStep(StepPaymentVerify, nil)
	assert.True(t, errors.Is(err, ErrSagaStateMismatch))

	completeForward(t, saga, StepStockReserve, `{"reservation_id":"r1"}`)
	assert.Equal(t, StepPaymentVerify, saga.CurrentStep)

	// completing the wrong step is also rejected
	require.NoError(t, saga.StartStep(StepPaymentVerify, nil))
	err = saga.CompleteStep(StepRouteCalculate, nil)
	assert.True(t, errors.Is(err, ErrSagaStateMismatch))
}

func TestSaga_CompleteStepCapturesCompensationData(t *testing.T) {
	saga := startedSaga(t)

	completeForward(t, saga, StepStockReserve, `{"reservation_id":"r1"}`)
	completeForward(t, saga, StepPaymentVerify, `{"payment_id":"p1"}`)

	assert.Contains(t, saga.CompensationData, StepStockReserve)
	assert.Contains(t, saga.CompensationData, StepPaymentVerify)

	completeForward(t, saga, StepRouteCalculate, `{"route":"x"}`)
	// route calculation has nothing to undo
	assert.NotContains(t, saga.CompensationData, StepRouteCalculate)
}

func TestSaga_FullForwardRunCompletes(t *testing.T) {
	saga := startedSaga(t)

	completeForward(t, saga, StepStockReserve, `{}`)
	completeForward(t, saga, StepPaymentVerify, `{}`)
	completeForward(t, saga, StepRouteCalculate, `{}`)
	completeForward(t, saga, StepHubDeliveryCreate, `{}`)
	completeForward(t, saga, StepLastMileDeliveryCreate, `{}`)
	completeForward(t, saga, StepNotificationSend, `{}`)
	completeForward(t, saga, StepTrackingStart, `{}`)

	assert.Equal(t, SagaStatusCompleted, saga.Status)
	assert.NotNil(t, saga.EndedAt)
	assert.True(t, saga.IsTerminal())
	// payloads stay available for a cancel inside the cancel window
	assert.Contains(t, saga.CompensationData, StepStockReserve)
}

func TestSaga_SkipStep(t *testing.T) {
	saga := startedSaga(t)

	completeForward(t, saga, StepStockReserve, `{}`)
	completeForward(t, saga, StepPaymentVerify, `{}`)
	completeForward(t, saga, StepRouteCalculate, `{}`)

	require.NoError(t, saga.SkipStep(StepHubDeliveryCreate))
	assert.Equal(t, StepLastMileDeliveryCreate, saga.CurrentStep)
	assert.NotContains(t, saga.CompensationData, StepHubDeliveryCreate)

	last := saga.History[len(saga.History)-1]
	assert.Equal(t, StepAttemptSkipped, last.Status)
}

func TestSaga_FailStep(t *testing.T) {
	t.Run("mandatory failure turns the saga around", func(t *testing.T) {
		saga := startedSaga(t)
		completeForward(t, saga, StepStockReserve, `{}`)

		require.NoError(t, saga.StartStep(StepPaymentVerify, nil))
		require.NoError(t, saga.FailStep(StepPaymentVerify, "payment declined"))

		assert.Equal(t, SagaStatusCompensating, saga.Status)
		assert.Contains(t, saga.FailureReason, "payment declined")
	})

	t.Run("best effort failure advances like success", func(t *testing.T) {
		saga := startedSaga(t)
		completeForward(t, saga, StepStockReserve, `{}`)
		completeForward(t, saga, StepPaymentVerify, `{}`)
		completeForward(t, saga, StepRouteCalculate, `{}`)
		require.NoError(t, saga.SkipStep(StepHubDeliveryCreate))
		completeForward(t, saga, StepLastMileDeliveryCreate, `{}`)

		require.NoError(t, saga.StartStep(StepNotificationSend, nil))
		require.NoError(t, saga.FailStep(StepNotificationSend, "sns down"))

		assert.Equal(t, SagaStatusInProgress, saga.Status)
		assert.Equal(t, StepTrackingStart, saga.CurrentStep)
	})

	t.Run("best effort terminal failure still completes the saga", func(t *testing.T) {
		saga := startedSaga(t)
		completeForward(t, saga, StepStockReserve, `{}`)
		completeForward(t, saga, StepPaymentVerify, `{}`)
		completeForward(t, saga, StepRouteCalculate, `{}`)
		require.NoError(t, saga.SkipStep(StepHubDeliveryCreate))
		completeForward(t, saga, StepLastMileDeliveryCreate, `{}`)
		completeForward(t, saga, StepNotificationSend, `{}`)

		require.NoError(t, saga.StartStep(StepTrackingStart, nil))
		require.NoError(t, saga.FailStep(StepTrackingStart, "tracker down"))

		assert.Equal(t, SagaStatusCompleted, saga.Status)
	})
}

func TestSaga_CompensationFlow(t *testing.T) {
	saga := startedSaga(t)
	completeForward(t, saga, StepStockReserve, `{"reservation_id":"r1"}`)
	completeForward(t, saga, StepPaymentVerify, `{"payment_id":"p1"}`)
	require.NoError(t, saga.StartStep(StepRouteCalculate, nil))
	require.NoError(t, saga.FailStep(StepRouteCalculate, "no route"))
	require.Equal(t, SagaStatusCompensating, saga.Status)

	// execution order; callers undo from the back
	pending := saga.CompletedStepsNeedingCompensation()
	require.Equal(t, []Step{StepStockReserve, StepPaymentVerify}, pending)

	require.NoError(t, saga.ExecuteCompensation(StepPaymentVerify, CompensationPaymentCancel))
	entry := saga.History[len(saga.History)-1]
	assert.Equal(t, string(CompensationPaymentCancel), entry.Step)
	assert.JSONEq(t, `{"payment_id":"p1"}`, string(entry.Request))

	require.NoError(t, saga.CompleteCompensation(CompensationPaymentCancel))
	pending = saga.CompletedStepsNeedingCompensation()
	assert.Equal(t, []Step{StepStockReserve}, pending)

	require.NoError(t, saga.ExecuteCompensation(StepStockReserve, CompensationStockRestore))
	require.NoError(t, saga.CompleteCompensation(CompensationStockRestore))
	assert.Empty(t, saga.CompletedStepsNeedingCompensation())

	require.NoError(t, saga.CompleteAllCompensations())
	assert.Equal(t, SagaStatusCompensated, saga.Status)
	assert.Empty(t, saga.CompensationData)
	assert.True(t, saga.IsTerminal())
	assert.True(t, saga.CompensationClosed())
}

func TestSaga_FailCompensation(t *testing.T) {
	saga := startedSaga(t)
	completeForward(t, saga, StepStockReserve, `{"reservation_id":"r1"}`)
	require.NoError(t, saga.StartStep(StepPaymentVerify, nil))
	require.NoError(t, saga.FailStep(StepPaymentVerify, "declined"))

	require.NoError(t, saga.ExecuteCompensation(StepStockReserve, CompensationStockRestore))
	require.NoError(t, saga.FailCompensation(CompensationStockRestore, "stock service down"))

	assert.Equal(t, SagaStatusCompensationFailed, saga.Status)
	assert.True(t, saga.IsTerminal())
	assert.True(t, saga.CompensationClosed())
	// kept for manual recovery
	assert.Contains(t, saga.CompensationData, StepStockReserve)
}

func TestSaga_StartCompensationAfterCompletion(t *testing.T) {
	saga := startedSaga(t)
	completeForward(t, saga, StepStockReserve, `{}`)
	completeForward(t, saga, StepPaymentVerify, `{}`)
	completeForward(t, saga, StepRouteCalculate, `{}`)
	require.NoError(t, saga.SkipStep(StepHubDeliveryCreate))
	completeForward(t, saga, StepLastMileDeliveryCreate, `{}`)
	completeForward(t, saga, StepNotificationSend, `{}`)
	completeForward(t, saga, StepTrackingStart, `{}`)
	require.Equal(t, SagaStatusCompleted, saga.Status)

	// terminal forward, but the compensation window is still open
	assert.True(t, saga.IsTerminal())
	assert.False(t, saga.CompensationClosed())

	require.NoError(t, saga.StartCompensation("order cancelled"))
	assert.Equal(t, SagaStatusCompensating, saga.Status)
	assert.Equal(t, []Step{StepStockReserve, StepPaymentVerify, StepLastMileDeliveryCreate},
		saga.CompletedStepsNeedingCompensation())
}

func TestSaga_RetryCountGrows(t *testing.T) {
	saga := startedSaga(t)

	require.NoError(t, saga.StartStep(StepStockReserve, nil))
	assert.Equal(t, 0, saga.History[0].RetryCount)
	// a failed mandatory attempt flips to compensating; rebuild for retry shape
	saga.History[0].Status = StepAttemptFailed

	require.NoError(t, saga.StartStep(StepStockReserve, nil))
	assert.Equal(t, 1, saga.History[1].RetryCount)
}

func TestSaga_ExecuteCompensationGuards(t *testing.T) {
	saga := startedSaga(t)
	completeForward(t, saga, StepStockReserve, `{}`)

	// not compensating yet
	err := saga.ExecuteCompensation(StepStockReserve, CompensationStockRestore)
	assert.True(t, errors.Is(err, ErrSagaStateMismatch))

	require.NoError(t, saga.StartCompensation("test"))

	// no captured payload for a step that never completed
	err = saga.ExecuteCompensation(StepPaymentVerify, CompensationPaymentCancel)
	assert.True(t, errors.Is(err, ErrSagaStateMismatch))
}
