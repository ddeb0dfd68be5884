package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/EarlyExpress/order-service/shared/events"
	"github.com/EarlyExpress/order-service/shared/models"
)

// SagaStatus represents the status of a saga execution
type SagaStatus string

const (
	SagaStatusPending            SagaStatus = "PENDING"
	SagaStatusInProgress         SagaStatus = "IN_PROGRESS"
	SagaStatusCompleted          SagaStatus = "COMPLETED"
	SagaStatusCompensating       SagaStatus = "COMPENSATING"
	SagaStatusCompensated        SagaStatus = "COMPENSATED"
	SagaStatusCompensationFailed SagaStatus = "COMPENSATION_FAILED"
)

// StepAttemptStatus represents the outcome of one step attempt
type StepAttemptStatus string

const (
	StepAttemptPending     StepAttemptStatus = "PENDING"
	StepAttemptInProgress  StepAttemptStatus = "IN_PROGRESS"
	StepAttemptSucceeded   StepAttemptStatus = "SUCCEEDED"
	StepAttemptFailed      StepAttemptStatus = "FAILED"
	StepAttemptCompensated StepAttemptStatus = "COMPENSATED"
	StepAttemptSkipped     StepAttemptStatus = "SKIPPED"
)

// StepHistoryEntry is one attempt in the saga's append-only history. Forward
// entries carry the step name; compensation entries carry the compensation
// step name plus the forward step they undo in Compensates.
type StepHistoryEntry struct {
	Step         string            `json:"step"`
	Status       StepAttemptStatus `json:"status"`
	Request      json.RawMessage   `json:"request,omitempty"`
	Response     json.RawMessage   `json:"response,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	RetryCount   int               `json:"retry_count"`
	Compensates  Step              `json:"compensates,omitempty"`
	StartedAt    time.Time         `json:"started_at"`
	EndedAt      *time.Time        `json:"ended_at,omitempty"`
}

// Saga aggregate root. Tracks the execution of the order fulfillment flow:
// which step runs now, everything that happened so far, and the payloads a
// rollback would need.
type Saga struct {
	ID      models.ID
	OrderID models.ID

	Status      SagaStatus
	CurrentStep Step

	History          []StepHistoryEntry
	CompensationData map[Step]json.RawMessage

	FailureReason string

	StartedAt  time.Time
	EndedAt    *time.Time
	Timestamps models.Timestamps
	Version    models.Version

	events []*events.Event
}

// NewSaga opens a saga for an order, positioned at the first step
func NewSaga(orderID models.ID) *Saga {
	return &Saga{
		ID:               models.GenerateUUID(),
		OrderID:          orderID,
		Status:           SagaStatusPending,
		CurrentStep:      FirstStep,
		History:          make([]StepHistoryEntry, 0),
		CompensationData: make(map[Step]json.RawMessage),
		StartedAt:        time.Now(),
		Timestamps:       models.NewTimestamps(),
		Version:          models.NewVersion(),
	}
}

// Start moves the saga into execution
func (s *Saga) Start() error {
	if s.Status != SagaStatusPending {
		return errors.Wrapf(ErrSagaStateMismatch, "start: saga is %s", s.Status)
	}
	s.Status = SagaStatusInProgress
	s.touch()
	s.recordEvent(events.NewEvent(s.ID, events.SagaStartedEvent, SagaStatusData{
		SagaID:  s.ID,
		OrderID: s.OrderID,
	}))
	return nil
}

// StartStep opens a history entry for an attempt at the current step. The
// step argument must match CurrentStep; anything else is a caller bug.
func (s *Saga) StartStep(step Step, request json.RawMessage) error {
	if s.Status != SagaStatusInProgress {
		return errors.Wrapf(ErrSagaStateMismatch, "startStep %s: saga is %s", step, s.Status)
	}
	if step != s.CurrentStep {
		return errors.Wrapf(ErrSagaStateMismatch, "startStep %s: current step is %s", step, s.CurrentStep)
	}
	s.History = append(s.History, StepHistoryEntry{
		Step:       string(step),
		Status:     StepAttemptInProgress,
		Request:    request,
		RetryCount: s.attemptCount(step),
		StartedAt:  time.Now(),
	})
	s.touch()
	return nil
}

// CompleteStep records step success. When the step's definition demands
// compensation, the payload is captured so a later rollback does not depend
// on re-reading anything. Advances to the next step or completes the saga.
func (s *Saga) CompleteStep(step Step, payload json.RawMessage) error {
	def, err := s.checkCurrent("completeStep", step)
	if err != nil {
		return err
	}
	s.closeEntry(string(step), StepAttemptSucceeded, payload, "")
	if def.NeedsCompensation {
		s.CompensationData[step] = payload
	}
	s.advance(def)
	return nil
}

// FailStep records step failure. Best-effort steps advance exactly like a
// success; everything else turns the saga around into compensation.
func (s *Saga) FailStep(step Step, message string) error {
	def, err := s.checkCurrent("failStep", step)
	if err != nil {
		return err
	}
	s.closeEntry(string(step), StepAttemptFailed, nil, message)
	if def.BestEffort {
		s.advance(def)
		return nil
	}
	return s.StartCompensation("step " + string(step) + " failed: " + message)
}

// SkipStep records a conditional step that does not apply to this order and
// advances past it. Skipped steps never enter CompensationData.
func (s *Saga) SkipStep(step Step) error {
	def, err := s.checkCurrent("skipStep", step)
	if err != nil {
		return err
	}
	now := time.Now()
	s.History = append(s.History, StepHistoryEntry{
		Step:      string(step),
		Status:    StepAttemptSkipped,
		StartedAt: now,
		EndedAt:   &now,
	})
	s.advance(def)
	return nil
}

// StartCompensation turns the saga around. Legal mid-flight and after a
// completed run (an order cancelled inside its cancel window unwinds a
// finished saga). Idempotent when already compensating.
func (s *Saga) StartCompensation(reason string) error {
	if s.Status == SagaStatusCompensating {
		return nil
	}
	if s.Status != SagaStatusInProgress && s.Status != SagaStatusCompleted {
		return errors.Wrapf(ErrSagaStateMismatch, "startCompensation: saga is %s", s.Status)
	}
	s.EndedAt = nil
	s.Status = SagaStatusCompensating
	s.FailureReason = reason
	s.touch()
	return nil
}

// ExecuteCompensation opens a history entry for undoing a completed step.
// The entry's request is the payload captured when the step succeeded.
func (s *Saga) ExecuteCompensation(original Step, comp CompensationStep) error {
	if s.Status != SagaStatusCompensating {
		return errors.Wrapf(ErrSagaStateMismatch, "executeCompensation %s: saga is %s", comp, s.Status)
	}
	data, ok := s.CompensationData[original]
	if !ok {
		return errors.Wrapf(ErrSagaStateMismatch, "executeCompensation %s: no compensation data for %s", comp, original)
	}
	s.History = append(s.History, StepHistoryEntry{
		Step:        string(comp),
		Status:      StepAttemptInProgress,
		Request:     data,
		Compensates: original,
		StartedAt:   time.Now(),
	})
	s.touch()
	return nil
}

// CompleteCompensation records a successful undo: the compensation entry
// succeeds and the forward step it undoes is marked COMPENSATED, dropping it
// from the remaining-work computation.
func (s *Saga) CompleteCompensation(comp CompensationStep) error {
	if s.Status != SagaStatusCompensating {
		return errors.Wrapf(ErrSagaStateMismatch, "completeCompensation %s: saga is %s", comp, s.Status)
	}
	entry := s.openEntry(string(comp))
	if entry == nil {
		return errors.Wrapf(ErrSagaStateMismatch, "completeCompensation %s: no in-progress entry", comp)
	}
	now := time.Now()
	entry.Status = StepAttemptSucceeded
	entry.EndedAt = &now
	s.markCompensated(entry.Compensates)
	s.touch()
	return nil
}

// FailCompensation records a failed undo and stops the whole pass. The saga
// lands in COMPENSATION_FAILED for manual recovery; CompensationData is kept
// so an operator can see what was pending.
func (s *Saga) FailCompensation(comp CompensationStep, message string) error {
	if s.Status != SagaStatusCompensating {
		return errors.Wrapf(ErrSagaStateMismatch, "failCompensation %s: saga is %s", comp, s.Status)
	}
	now := time.Now()
	if entry := s.openEntry(string(comp)); entry != nil {
		entry.Status = StepAttemptFailed
		entry.ErrorMessage = message
		entry.EndedAt = &now
	}
	s.Status = SagaStatusCompensationFailed
	s.EndedAt = &now
	s.touch()
	s.recordEvent(events.NewEvent(s.ID, events.SagaCompensationFailedEvent, SagaStatusData{
		SagaID:  s.ID,
		OrderID: s.OrderID,
		Reason:  message,
	}))
	return nil
}

// CompleteAllCompensations closes out a fully rolled back saga
func (s *Saga) CompleteAllCompensations() error {
	if s.Status != SagaStatusCompensating {
		return errors.Wrapf(ErrSagaStateMismatch, "completeAllCompensations: saga is %s", s.Status)
	}
	now := time.Now()
	s.Status = SagaStatusCompensated
	s.EndedAt = &now
	s.CompensationData = make(map[Step]json.RawMessage)
	s.touch()
	s.recordEvent(events.NewEvent(s.ID, events.SagaCompensatedEvent, SagaStatusData{
		SagaID:  s.ID,
		OrderID: s.OrderID,
		Reason:  s.FailureReason,
	}))
	return nil
}

// CompletedStepsNeedingCompensation returns the forward steps that succeeded,
// demand compensation by definition, and have not been compensated yet, in
// execution order. Callers undo them back to front.
func (s *Saga) CompletedStepsNeedingCompensation() []Step {
	// most recent entry per step is authoritative
	latest := make(map[Step]StepAttemptStatus)
	var order []Step
	for _, entry := range s.History {
		step := Step(entry.Step)
		def, known := StepDef(step)
		if !known || !def.NeedsCompensation {
			continue
		}
		if _, seen := latest[step]; !seen {
			order = append(order, step)
		}
		latest[step] = entry.Status
	}

	var pending []Step
	for _, step := range order {
		if latest[step] == StepAttemptSucceeded {
			pending = append(pending, step)
		}
	}
	return pending
}

// IsTerminal reports whether the saga reached a final status
func (s *Saga) IsTerminal() bool {
	switch s.Status {
	case SagaStatusCompleted, SagaStatusCompensated, SagaStatusCompensationFailed:
		return true
	}
	return false
}

// CompensationClosed reports whether compensation already ran to its end,
// successfully or not. A COMPLETED saga is not closed: its compensation data
// is kept so a cancellation inside the cancel window can still unwind it.
func (s *Saga) CompensationClosed() bool {
	return s.Status == SagaStatusCompensated || s.Status == SagaStatusCompensationFailed
}

func (s *Saga) checkCurrent(op string, step Step) (StepDefinition, error) {
	if s.Status != SagaStatusInProgress {
		return StepDefinition{}, errors.Wrapf(ErrSagaStateMismatch, "%s %s: saga is %s", op, step, s.Status)
	}
	if step != s.CurrentStep {
		return StepDefinition{}, errors.Wrapf(ErrSagaStateMismatch, "%s %s: current step is %s", op, step, s.CurrentStep)
	}
	def, ok := StepDef(step)
	if !ok {
		return StepDefinition{}, errors.Wrapf(ErrSagaStateMismatch, "%s: unknown step %s", op, step)
	}
	return def, nil
}

func (s *Saga) advance(def StepDefinition) {
	if def.Next == "" {
		s.complete()
		return
	}
	s.CurrentStep = def.Next
	s.touch()
}

// complete keeps CompensationData around: a later cancel inside the order's
// cancel window still needs the captured payloads to unwind.
func (s *Saga) complete() {
	now := time.Now()
	s.Status = SagaStatusCompleted
	s.EndedAt = &now
	s.touch()
	s.recordEvent(events.NewEvent(s.ID, events.SagaCompletedEvent, SagaStatusData{
		SagaID:  s.ID,
		OrderID: s.OrderID,
	}))
}

// closeEntry closes the newest in-progress entry for the step
func (s *Saga) closeEntry(step string, status StepAttemptStatus, response json.RawMessage, message string) {
	now := time.Now()
	if entry := s.openEntry(step); entry != nil {
		entry.Status = status
		entry.Response = response
		entry.ErrorMessage = message
		entry.EndedAt = &now
	}
	s.touch()
}

func (s *Saga) openEntry(step string) *StepHistoryEntry {
	for i := len(s.History) - 1; i >= 0; i-- {
		if s.History[i].Step == step && s.History[i].Status == StepAttemptInProgress {
			return &s.History[i]
		}
	}
	return nil
}

func (s *Saga) markCompensated(step Step) {
	for i := len(s.History) - 1; i >= 0; i-- {
		if s.History[i].Step == string(step) && s.History[i].Status == StepAttemptSucceeded {
			s.History[i].Status = StepAttemptCompensated
			return
		}
	}
}

func (s *Saga) attemptCount(step Step) int {
	count := 0
	for _, entry := range s.History {
		if entry.Step == string(step) {
			count++
		}
	}
	return count
}

func (s *Saga) touch() {
	s.Timestamps = s.Timestamps.Update()
	s.Version = s.Version.Update()
}

// Events returns domain events
func (s *Saga) Events() []*events.Event {
	return s.events
}

// ClearEvents clears domain events
func (s *Saga) ClearEvents() {
	s.events = make([]*events.Event, 0)
}

func (s *Saga) recordEvent(event *events.Event) {
	s.events = append(s.events, event)
}

// SagaStatusData is the payload for saga lifecycle events
type SagaStatusData struct {
	SagaID  models.ID `json:"saga_id"`
	OrderID models.ID `json:"order_id"`
	Reason  string    `json:"reason,omitempty"`
}

// SagaRepository interface. FindByOrderID returns (nil, nil) when absent.
type SagaRepository interface {
	Save(ctx context.Context, saga *Saga) error
	FindByOrderID(ctx context.Context, orderID models.ID) (*Saga, error)
	FindStalled(ctx context.Context, olderThan time.Duration) ([]*Saga, error)
}
