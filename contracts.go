package trigger

import "context"

// Handler executes one family of actions. Implementations live outside the
// core; webhook, email, and the rest plug in through this contract.
type Handler interface {
	// CanHandle reports whether this handler accepts the action.
	CanHandle(action *Action) bool
	// Handle runs the action against the event. The returned payload is
	// opaque to the core and stored on the execution as its result.
	Handle(ctx context.Context, event Event, action *Action, execCtx map[string]any) (any, error)
}

// HandlerFunc adapts a function into a Handler that accepts every action.
type HandlerFunc func(ctx context.Context, event Event, action *Action, execCtx map[string]any) (any, error)

func (f HandlerFunc) CanHandle(*Action) bool { return true }

func (f HandlerFunc) Handle(ctx context.Context, event Event, action *Action, execCtx map[string]any) (any, error) {
	return f(ctx, event, action, execCtx)
}

// Store is the persistence contract the registry and orchestrator consume.
// Implementations serialize their own writes; the core performs no
// cross-call transactions.
type Store interface {
	ActionsByEventType(ctx context.Context, eventType string, activeOnly bool) ([]*Action, error)
	SaveAction(ctx context.Context, action *Action) error
	UpdateAction(ctx context.Context, action *Action) error
	// DeleteAction archives the action when soft is true.
	DeleteAction(ctx context.Context, actionID string, soft bool) error
	Action(ctx context.Context, actionID string) (*Action, error)

	SaveExecution(ctx context.Context, execution *Execution) error
	UpdateExecution(ctx context.Context, execution *Execution) error
	Execution(ctx context.Context, executionID string) (*Execution, error)
	// PendingExecutions returns queued work for the external worker, oldest
	// first, up to limit.
	PendingExecutions(ctx context.Context, limit int) ([]*Execution, error)
}

// NotificationService delivers out-of-band notifications. Optional and
// injected; the core algorithms never call it themselves.
type NotificationService interface {
	SendNotification(ctx context.Context, recipient, notificationType string, data map[string]any) (string, error)
}
