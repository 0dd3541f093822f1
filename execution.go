package trigger

import (
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus is the state of one execution attempt.
type ExecutionStatus string

const (
	ExecutionPending ExecutionStatus = "pending"
	ExecutionRunning ExecutionStatus = "running"
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionFailure ExecutionStatus = "failure"
	ExecutionTimeout ExecutionStatus = "timeout"
)

// Terminal reports whether the status accepts no further transitions.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionSuccess || s == ExecutionFailure || s == ExecutionTimeout
}

// Execution is one attempt at running an action for an event. The
// orchestrator owns all state transitions; terminal executions are never
// mutated, a retry creates a new linked record instead.
type Execution struct {
	ID          string
	ActionID    string
	EventID     string
	EventType   string
	EventData   map[string]any
	Context     map[string]any
	Status      ExecutionStatus
	RetryCount  int
	RetryOf     string
	StartedAt   time.Time
	CompletedAt time.Time
	Result      any
	Error       string
	CreatedAt   time.Time
}

// NewExecution creates a pending execution snapshotting the event payload.
func NewExecution(action *Action, event Event, execCtx map[string]any) *Execution {
	return &Execution{
		ID:        uuid.NewString(),
		ActionID:  action.ID,
		EventID:   event.ID,
		EventType: event.Type,
		EventData: copyMap(event.Data),
		Context:   copyMap(execCtx),
		Status:    ExecutionPending,
		CreatedAt: time.Now().UTC(),
	}
}

// NewRetry derives a fresh pending execution from a terminal one, carrying
// the incremented retry count and a back-reference to the original.
func (e *Execution) NewRetry() *Execution {
	return &Execution{
		ID:         uuid.NewString(),
		ActionID:   e.ActionID,
		EventID:    e.EventID,
		EventType:  e.EventType,
		EventData:  copyMap(e.EventData),
		Context:    copyMap(e.Context),
		Status:     ExecutionPending,
		RetryCount: e.RetryCount + 1,
		RetryOf:    e.ID,
		CreatedAt:  time.Now().UTC(),
	}
}

// Start moves pending to running.
func (e *Execution) Start() error {
	if e.Status != ExecutionPending {
		return transitionError(e, ExecutionRunning)
	}
	e.Status = ExecutionRunning
	e.StartedAt = time.Now().UTC()
	return nil
}

// Complete marks the running execution successful with the handler payload.
func (e *Execution) Complete(result any) error {
	if e.Status != ExecutionRunning {
		return transitionError(e, ExecutionSuccess)
	}
	e.Status = ExecutionSuccess
	e.Result = result
	e.CompletedAt = time.Now().UTC()
	return nil
}

// Fail marks the running execution failed with an error message.
func (e *Execution) Fail(message string) error {
	if e.Status != ExecutionRunning {
		return transitionError(e, ExecutionFailure)
	}
	e.Status = ExecutionFailure
	e.Error = message
	e.CompletedAt = time.Now().UTC()
	return nil
}

// Expire marks the running execution timed out.
func (e *Execution) Expire() error {
	if e.Status != ExecutionRunning {
		return transitionError(e, ExecutionTimeout)
	}
	e.Status = ExecutionTimeout
	e.Error = "handler timed out"
	e.CompletedAt = time.Now().UTC()
	return nil
}

// CanRetry reports whether a retry may be issued against the action's retry
// budget.
func (e *Execution) CanRetry(maxRetries int) bool {
	if e.Status != ExecutionFailure && e.Status != ExecutionTimeout {
		return false
	}
	return e.RetryCount < maxRetries
}

func transitionError(e *Execution, to ExecutionStatus) error {
	return ErrInvalidTransition.Clone().WithMetadata(map[string]any{
		"execution_id": e.ID,
		"from":         string(e.Status),
		"to":           string(to),
	})
}

// ToMap serializes the execution for persistence.
func (e *Execution) ToMap() map[string]any {
	return map[string]any{
		"id":           e.ID,
		"action_id":    e.ActionID,
		"event_id":     e.EventID,
		"event_type":   e.EventType,
		"event_data":   copyMap(e.EventData),
		"context":      copyMap(e.Context),
		"status":       string(e.Status),
		"retry_count":  e.RetryCount,
		"retry_of":     e.RetryOf,
		"started_at":   e.StartedAt,
		"completed_at": e.CompletedAt,
		"result":       e.Result,
		"error":        e.Error,
		"created_at":   e.CreatedAt,
	}
}

// ExecutionFromMap rebuilds an execution from its persisted form.
func ExecutionFromMap(m map[string]any) *Execution {
	e := &Execution{}
	if s, ok := m["id"].(string); ok {
		e.ID = s
	}
	if s, ok := m["action_id"].(string); ok {
		e.ActionID = s
	}
	if s, ok := m["event_id"].(string); ok {
		e.EventID = s
	}
	if s, ok := m["event_type"].(string); ok {
		e.EventType = s
	}
	if d, ok := m["event_data"].(map[string]any); ok {
		e.EventData = d
	}
	if c, ok := m["context"].(map[string]any); ok {
		e.Context = c
	}
	if s, ok := m["status"].(string); ok {
		e.Status = ExecutionStatus(s)
	}
	if n, err := toFloat(m["retry_count"]); err == nil {
		e.RetryCount = int(n)
	}
	if s, ok := m["retry_of"].(string); ok {
		e.RetryOf = s
	}
	e.StartedAt = toTime(m["started_at"])
	e.CompletedAt = toTime(m["completed_at"])
	e.Result = m["result"]
	if s, ok := m["error"].(string); ok {
		e.Error = s
	}
	e.CreatedAt = toTime(m["created_at"])
	return e
}
