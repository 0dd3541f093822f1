// Package orchestrator dispatches matched actions by execution mode with
// bounded concurrency, hard per-action timeouts, and explicit retries.
package orchestrator

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/goliatone/go-errors"
	trigger "github.com/goliatone/go-trigger"
)

// DefaultMaxConcurrent bounds the async dispatch fan-out.
const DefaultMaxConcurrent = 10

// Orchestrator runs actions through registered handlers and owns every
// execution record it creates.
type Orchestrator struct {
	mu       sync.RWMutex
	handlers map[trigger.HandlerType]trigger.Handler

	store         trigger.Store
	logger        trigger.Logger
	notifier      trigger.NotificationService
	maxConcurrent int
	retryStrategy RetryStrategy
	sleepFn       func(context.Context, time.Duration) error
}

// Option configures an orchestrator.
type Option func(*Orchestrator)

// WithMaxConcurrent bounds concurrent async handler invocations.
func WithMaxConcurrent(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxConcurrent = n
		}
	}
}

// WithLogger sets the orchestrator logger.
func WithLogger(logger trigger.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = trigger.NormalizeLogger(logger)
	}
}

// WithRetryStrategy overrides the backoff applied before explicit retries.
func WithRetryStrategy(s RetryStrategy) Option {
	return func(o *Orchestrator) {
		if s != nil {
			o.retryStrategy = s
		}
	}
}

// WithNotificationService injects an optional notification collaborator for
// handlers that want one; the orchestrator itself never calls it.
func WithNotificationService(n trigger.NotificationService) Option {
	return func(o *Orchestrator) {
		o.notifier = n
	}
}

// New builds an orchestrator persisting executions through store.
func New(store trigger.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		handlers:      make(map[trigger.HandlerType]trigger.Handler),
		store:         store,
		logger:        trigger.NewFmtLogger(nil),
		maxConcurrent: DefaultMaxConcurrent,
		retryStrategy: ExponentialBackoff{Factor: 2, Max: 5 * time.Minute},
		sleepFn:       sleepContext,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// RegisterHandler binds a handler to one handler type. The table is built at
// startup; later registrations for the same type replace the earlier one.
func (o *Orchestrator) RegisterHandler(handlerType trigger.HandlerType, handler trigger.Handler) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.handlers[handlerType] = handler
}

// Notifier exposes the injected notification service to handlers wired
// through this orchestrator.
func (o *Orchestrator) Notifier() trigger.NotificationService {
	return o.notifier
}

func (o *Orchestrator) handlerFor(action *trigger.Action) (trigger.Handler, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	h, ok := o.handlers[action.HandlerType]
	if !ok || !h.CanHandle(action) {
		return nil, false
	}
	return h, true
}

// ExecuteAction runs one action against an event, producing a persisted
// execution record in a terminal state. A missing handler, a handler error,
// and a timeout become the execution's state, not a returned error; the
// error return is reserved for persistence failures.
func (o *Orchestrator) ExecuteAction(ctx context.Context, action *trigger.Action, event trigger.Event, execCtx map[string]any) (*trigger.Execution, error) {
	execution := trigger.NewExecution(action, event, execCtx)
	if err := o.store.SaveExecution(ctx, execution); err != nil {
		return execution, errors.Wrap(err, errors.CategoryExternal, "persist pending execution").
			WithMetadata(map[string]any{"action_id": action.ID})
	}
	return execution, o.runExecution(ctx, execution, action, event)
}

// runExecution drives an existing pending execution through the handler and
// persists each state change. Shared by first attempts and retries.
func (o *Orchestrator) runExecution(ctx context.Context, execution *trigger.Execution, action *trigger.Action, event trigger.Event) error {
	if err := execution.Start(); err != nil {
		return err
	}
	if err := o.store.UpdateExecution(ctx, execution); err != nil {
		return errors.Wrap(err, errors.CategoryExternal, "persist running execution").
			WithMetadata(map[string]any{"execution_id": execution.ID})
	}

	handler, ok := o.handlerFor(action)
	if !ok {
		o.logger.Warn("no handler for type %s, failing execution %s", action.HandlerType, execution.ID)
		_ = execution.Fail(fmt.Sprintf("no handler for type %s", action.HandlerType))
		return o.persistFinal(ctx, execution)
	}

	result, err := o.invoke(ctx, handler, event, action, execution.Context)
	switch {
	case err == nil:
		_ = execution.Complete(result)
	case stderrors.Is(err, context.DeadlineExceeded):
		_ = execution.Expire()
	default:
		_ = execution.Fail(err.Error())
	}
	return o.persistFinal(ctx, execution)
}

// invoke runs the handler under a hard wall-clock timeout. The handler call
// runs on its own goroutine; when the deadline fires the execution is marked
// timed out but the goroutine may keep running until the handler observes
// its context. Handlers that ignore cancellation are not preempted.
func (o *Orchestrator) invoke(ctx context.Context, handler trigger.Handler, event trigger.Event, action *trigger.Action, execCtx map[string]any) (any, error) {
	timeout := time.Duration(action.TimeoutSeconds) * time.Second
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type handlerResult struct {
		payload any
		err     error
	}
	done := make(chan handlerResult, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- handlerResult{err: errors.New(fmt.Sprintf("handler panicked: %v", rec), errors.CategoryHandler).
					WithTextCode("HANDLER_PANIC").
					WithMetadata(map[string]any{"action_id": action.ID})}
			}
		}()
		payload, err := handler.Handle(ctx, event, action, execCtx)
		done <- handlerResult{payload: payload, err: err}
	}()

	select {
	case res := <-done:
		return res.payload, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (o *Orchestrator) persistFinal(ctx context.Context, execution *trigger.Execution) error {
	if err := o.store.UpdateExecution(ctx, execution); err != nil {
		return errors.Wrap(err, errors.CategoryExternal, "persist final execution state").
			WithMetadata(map[string]any{"execution_id": execution.ID, "status": string(execution.Status)})
	}
	return nil
}

// ExecuteForEvent dispatches a batch of actions for one event. Actions are
// stable-sorted by priority descending and partitioned by execution mode:
// sync actions run strictly in order, async actions run concurrently bounded
// by the semaphore, queued actions only produce pending records for the
// external worker. A failed or timed out CRITICAL sync action stops the
// remaining sync actions; the async and queued phases still run. Results
// come back in sync, async, queued order.
func (o *Orchestrator) ExecuteForEvent(ctx context.Context, event trigger.Event, actions []*trigger.Action, execCtx map[string]any) ([]*trigger.Execution, error) {
	for _, action := range actions {
		if !action.Priority.Valid() {
			return nil, errors.New("action has no sortable priority", errors.CategoryBadInput).
				WithTextCode(trigger.ErrCodeConfigInvalid).
				WithMetadata(map[string]any{"action_id": action.ID, "priority": string(action.Priority)})
		}
	}

	sorted := append([]*trigger.Action(nil), actions...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority.Rank() > sorted[j].Priority.Rank()
	})

	var syncActions, asyncActions, queuedActions []*trigger.Action
	for _, action := range sorted {
		switch action.ExecutionMode {
		case trigger.ModeSync:
			syncActions = append(syncActions, action)
		case trigger.ModeQueued:
			queuedActions = append(queuedActions, action)
		default:
			asyncActions = append(asyncActions, action)
		}
	}

	results := o.runSyncPhase(ctx, event, syncActions, execCtx)
	results = append(results, o.runAsyncPhase(ctx, event, asyncActions, execCtx)...)
	results = append(results, o.runQueuedPhase(ctx, event, queuedActions, execCtx)...)
	return results, nil
}

func (o *Orchestrator) runSyncPhase(ctx context.Context, event trigger.Event, actions []*trigger.Action, execCtx map[string]any) []*trigger.Execution {
	var results []*trigger.Execution
	for _, action := range actions {
		execution, err := o.ExecuteAction(ctx, action, event, execCtx)
		if err != nil {
			o.logger.Error("sync execution persistence failed: %v", err)
		}
		results = append(results, execution)

		failed := execution.Status == trigger.ExecutionFailure || execution.Status == trigger.ExecutionTimeout
		if failed && action.Priority == trigger.PriorityCritical {
			o.logger.Warn("critical sync action %s %s, halting remaining sync actions", action.ID, execution.Status)
			break
		}
	}
	return results
}

func (o *Orchestrator) runAsyncPhase(ctx context.Context, event trigger.Event, actions []*trigger.Action, execCtx map[string]any) []*trigger.Execution {
	if len(actions) == 0 {
		return nil
	}
	results := make([]*trigger.Execution, len(actions))
	semaphore := make(chan struct{}, o.maxConcurrent)
	var wg sync.WaitGroup

	for i, action := range actions {
		wg.Add(1)
		go func(index int, action *trigger.Action) {
			defer wg.Done()

			select {
			case semaphore <- struct{}{}:
			case <-ctx.Done():
				results[index] = o.cancelledExecution(ctx, action, event, execCtx)
				return
			}
			defer func() { <-semaphore }()

			execution, err := o.ExecuteAction(ctx, action, event, execCtx)
			if err != nil {
				o.logger.Error("async execution persistence failed: %v", err)
			}
			results[index] = execution
		}(i, action)
	}
	wg.Wait()
	return results
}

// cancelledExecution records an async action the batch context cancelled
// before a handler slot opened.
func (o *Orchestrator) cancelledExecution(ctx context.Context, action *trigger.Action, event trigger.Event, execCtx map[string]any) *trigger.Execution {
	execution := trigger.NewExecution(action, event, execCtx)
	_ = execution.Start()
	_ = execution.Fail("batch cancelled before execution")
	if err := o.store.SaveExecution(context.WithoutCancel(ctx), execution); err != nil {
		o.logger.Error("persist cancelled execution: %v", err)
	}
	return execution
}

func (o *Orchestrator) runQueuedPhase(ctx context.Context, event trigger.Event, actions []*trigger.Action, execCtx map[string]any) []*trigger.Execution {
	var results []*trigger.Execution
	for _, action := range actions {
		execution := trigger.NewExecution(action, event, execCtx)
		if err := o.store.SaveExecution(ctx, execution); err != nil {
			o.logger.Error("persist queued execution: %v", err)
		}
		results = append(results, execution)
	}
	return results
}

// RetryExecution re-runs a failed or timed out execution as a brand-new
// linked record after an exponential backoff delay. Retry is an explicit
// operation, so exhaustion and ineligibility come back as errors instead of
// being swallowed.
func (o *Orchestrator) RetryExecution(ctx context.Context, executionID, reason string) (*trigger.Execution, error) {
	previous, err := o.store.Execution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if previous.Status != trigger.ExecutionFailure && previous.Status != trigger.ExecutionTimeout {
		return nil, trigger.ErrNotRetryable.Clone().WithMetadata(map[string]any{
			"execution_id": executionID,
			"status":       string(previous.Status),
		})
	}
	action, err := o.store.Action(ctx, previous.ActionID)
	if err != nil {
		return nil, err
	}
	if previous.RetryCount >= action.MaxRetries {
		return nil, trigger.ErrRetryExhausted.Clone().WithMetadata(map[string]any{
			"execution_id": executionID,
			"retry_count":  previous.RetryCount,
			"max_retries":  action.MaxRetries,
		})
	}

	base := time.Duration(action.RetryDelaySeconds) * time.Second
	if delay := o.retryStrategy.Delay(previous.RetryCount, base); delay > 0 {
		if err := o.sleepFn(ctx, delay); err != nil {
			return nil, err
		}
	}

	o.logger.Info("retrying execution %s (attempt %d): %s", executionID, previous.RetryCount+1, reason)

	next := previous.NewRetry()
	if err := o.store.SaveExecution(ctx, next); err != nil {
		return next, errors.Wrap(err, errors.CategoryExternal, "persist retry execution").
			WithMetadata(map[string]any{"execution_id": next.ID})
	}
	event := trigger.Event{
		ID:   previous.EventID,
		Type: previous.EventType,
		Data: previous.EventData,
	}
	return next, o.runExecution(ctx, next, action, event)
}

// RunPending drives an already-persisted pending execution through its
// handler. The queued-mode worker consumes store records with this.
func (o *Orchestrator) RunPending(ctx context.Context, execution *trigger.Execution) error {
	action, err := o.store.Action(ctx, execution.ActionID)
	if err != nil {
		return err
	}
	event := trigger.Event{
		ID:   execution.EventID,
		Type: execution.EventType,
		Data: execution.EventData,
	}
	return o.runExecution(ctx, execution, action, event)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
