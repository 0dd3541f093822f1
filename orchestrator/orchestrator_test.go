package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	trigger "github.com/goliatone/go-trigger"
	"github.com/goliatone/go-trigger/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingStore wraps the memory store counting execution saves.
type recordingStore struct {
	*registry.MemoryStore
	saves int32
}

func (s *recordingStore) SaveExecution(ctx context.Context, execution *trigger.Execution) error {
	atomic.AddInt32(&s.saves, 1)
	return s.MemoryStore.SaveExecution(ctx, execution)
}

func newRecordingStore() *recordingStore {
	return &recordingStore{MemoryStore: registry.NewMemoryStore()}
}

func storedAction(t *testing.T, store trigger.Store, name string, opts ...trigger.ActionOption) *trigger.Action {
	t.Helper()
	a, err := trigger.NewAction(name, trigger.HandlerCustom, nil, []string{"test.event"}, opts...)
	require.NoError(t, err)
	require.NoError(t, store.SaveAction(context.Background(), a))
	return a
}

func okHandler(result any) trigger.Handler {
	return trigger.HandlerFunc(func(ctx context.Context, event trigger.Event, action *trigger.Action, execCtx map[string]any) (any, error) {
		return result, nil
	})
}

func failHandler(msg string) trigger.Handler {
	return trigger.HandlerFunc(func(ctx context.Context, event trigger.Event, action *trigger.Action, execCtx map[string]any) (any, error) {
		return nil, fmt.Errorf("%s", msg)
	})
}

func TestExecuteActionSuccess(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	orch := New(store)
	orch.RegisterHandler(trigger.HandlerCustom, okHandler(map[string]any{"delivered": true}))

	action := storedAction(t, store, "notify")
	event := trigger.NewEvent("test.event", map[string]any{"id": "e1"})

	execution, err := orch.ExecuteAction(ctx, action, event, nil)
	require.NoError(t, err)
	assert.Equal(t, trigger.ExecutionSuccess, execution.Status)
	assert.NotZero(t, execution.StartedAt)
	assert.NotZero(t, execution.CompletedAt)

	// the terminal state made it to the store
	stored, err := store.Execution(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, trigger.ExecutionSuccess, stored.Status)
}

func TestExecuteActionHandlerError(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	orch := New(store)
	orch.RegisterHandler(trigger.HandlerCustom, failHandler("downstream unavailable"))

	action := storedAction(t, store, "notify")
	execution, err := orch.ExecuteAction(ctx, action, trigger.NewEvent("test.event", nil), nil)
	require.NoError(t, err, "a handler error is execution state, not a call error")
	assert.Equal(t, trigger.ExecutionFailure, execution.Status)
	assert.Contains(t, execution.Error, "downstream unavailable")
}

func TestExecuteActionNoHandler(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	orch := New(store)

	action := storedAction(t, store, "notify")
	execution, err := orch.ExecuteAction(ctx, action, trigger.NewEvent("test.event", nil), nil)
	require.NoError(t, err)
	assert.Equal(t, trigger.ExecutionFailure, execution.Status)
	assert.Contains(t, execution.Error, "no handler for type")
}

func TestExecuteActionHandlerPanic(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	orch := New(store)
	orch.RegisterHandler(trigger.HandlerCustom, trigger.HandlerFunc(func(context.Context, trigger.Event, *trigger.Action, map[string]any) (any, error) {
		panic("boom")
	}))

	action := storedAction(t, store, "notify")
	execution, err := orch.ExecuteAction(ctx, action, trigger.NewEvent("test.event", nil), nil)
	require.NoError(t, err)
	assert.Equal(t, trigger.ExecutionFailure, execution.Status)
	assert.Contains(t, execution.Error, "panicked")
}

func TestExecuteActionTimeout(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	orch := New(store)
	orch.RegisterHandler(trigger.HandlerCustom, trigger.HandlerFunc(func(ctx context.Context, _ trigger.Event, _ *trigger.Action, _ map[string]any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))

	action := storedAction(t, store, "slow", trigger.WithTimeout(1))
	execution, err := orch.ExecuteAction(ctx, action, trigger.NewEvent("test.event", nil), nil)
	require.NoError(t, err)
	assert.Equal(t, trigger.ExecutionTimeout, execution.Status)

	stored, err := store.Execution(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, trigger.ExecutionTimeout, stored.Status)
}

func TestExecuteForEventRejectsUnknownPriority(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	orch := New(store)

	action := storedAction(t, store, "notify")
	action.Priority = trigger.Priority("bogus")

	_, err := orch.ExecuteForEvent(ctx, trigger.NewEvent("test.event", nil), []*trigger.Action{action}, nil)
	require.Error(t, err)
}

func TestExecuteForEventPartitionsByMode(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	orch := New(store)
	orch.RegisterHandler(trigger.HandlerCustom, okHandler("ok"))

	syncAction := storedAction(t, store, "sync", trigger.WithExecutionMode(trigger.ModeSync))
	asyncAction := storedAction(t, store, "async", trigger.WithExecutionMode(trigger.ModeAsync))
	queuedAction := storedAction(t, store, "queued", trigger.WithExecutionMode(trigger.ModeQueued))

	// deliberately scrambled input order
	results, err := orch.ExecuteForEvent(ctx, trigger.NewEvent("test.event", nil),
		[]*trigger.Action{queuedAction, asyncAction, syncAction}, nil)
	require.NoError(t, err)
	require.Len(t, results, 3)

	// results come back sync, async, queued
	assert.Equal(t, syncAction.ID, results[0].ActionID)
	assert.Equal(t, trigger.ExecutionSuccess, results[0].Status)
	assert.Equal(t, asyncAction.ID, results[1].ActionID)
	assert.Equal(t, trigger.ExecutionSuccess, results[1].Status)
	assert.Equal(t, queuedAction.ID, results[2].ActionID)
	assert.Equal(t, trigger.ExecutionPending, results[2].Status, "queued actions only produce pending records")

	pending, err := store.PendingExecutions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, queuedAction.ID, pending[0].ActionID)
}

func TestExecuteForEventCriticalSyncFailureHaltsSyncPhase(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	orch := New(store)
	orch.RegisterHandler(trigger.HandlerCustom, trigger.HandlerFunc(func(_ context.Context, _ trigger.Event, action *trigger.Action, _ map[string]any) (any, error) {
		if strings.HasPrefix(action.Name, "fail") {
			return nil, fmt.Errorf("forced failure")
		}
		return "ok", nil
	}))

	critical := storedAction(t, store, "fail-critical",
		trigger.WithExecutionMode(trigger.ModeSync), trigger.WithPriority(trigger.PriorityCritical))
	laterSync := storedAction(t, store, "later-sync",
		trigger.WithExecutionMode(trigger.ModeSync))
	asyncAction := storedAction(t, store, "async-still-runs",
		trigger.WithExecutionMode(trigger.ModeAsync))

	results, err := orch.ExecuteForEvent(ctx, trigger.NewEvent("test.event", nil),
		[]*trigger.Action{laterSync, critical, asyncAction}, nil)
	require.NoError(t, err)

	// critical sorts first, fails, and the second sync action never runs
	require.Len(t, results, 2)
	assert.Equal(t, critical.ID, results[0].ActionID)
	assert.Equal(t, trigger.ExecutionFailure, results[0].Status)
	assert.Equal(t, asyncAction.ID, results[1].ActionID)
	assert.Equal(t, trigger.ExecutionSuccess, results[1].Status, "async phase still runs after the sync halt")
}

func TestExecuteForEventNonCriticalSyncFailureContinues(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	orch := New(store)
	orch.RegisterHandler(trigger.HandlerCustom, trigger.HandlerFunc(func(_ context.Context, _ trigger.Event, action *trigger.Action, _ map[string]any) (any, error) {
		if strings.HasPrefix(action.Name, "fail") {
			return nil, fmt.Errorf("forced failure")
		}
		return "ok", nil
	}))

	first := storedAction(t, store, "fail-first",
		trigger.WithExecutionMode(trigger.ModeSync), trigger.WithPriority(trigger.PriorityHigh))
	second := storedAction(t, store, "second",
		trigger.WithExecutionMode(trigger.ModeSync))

	results, err := orch.ExecuteForEvent(ctx, trigger.NewEvent("test.event", nil),
		[]*trigger.Action{first, second}, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, trigger.ExecutionFailure, results[0].Status)
	assert.Equal(t, trigger.ExecutionSuccess, results[1].Status)
}

func TestAsyncPhaseBoundsConcurrency(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	orch := New(store, WithMaxConcurrent(2))

	var mu sync.Mutex
	inFlight, peak := 0, 0
	release := make(chan struct{})

	orch.RegisterHandler(trigger.HandlerCustom, trigger.HandlerFunc(func(context.Context, trigger.Event, *trigger.Action, map[string]any) (any, error) {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()
		<-release
		mu.Lock()
		inFlight--
		mu.Unlock()
		return "ok", nil
	}))

	actions := make([]*trigger.Action, 4)
	for i := range actions {
		actions[i] = storedAction(t, store, fmt.Sprintf("async-%d", i))
	}

	done := make(chan []*trigger.Execution, 1)
	go func() {
		results, _ := orch.ExecuteForEvent(ctx, trigger.NewEvent("test.event", nil), actions, nil)
		done <- results
	}()

	// wait for the semaphore to fill
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return inFlight == 2
	}, 2*time.Second, 5*time.Millisecond)

	// give any extra goroutine a chance to sneak past the bound
	time.Sleep(50 * time.Millisecond)
	close(release)

	results := <-done
	require.Len(t, results, 4)
	for _, execution := range results {
		assert.Equal(t, trigger.ExecutionSuccess, execution.Status)
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, peak, "no more than maxConcurrent handlers may run at once")
}

func TestRetryExecution(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	orch := New(store, WithRetryStrategy(NoDelayStrategy{}))
	orch.RegisterHandler(trigger.HandlerCustom, failHandler("flaky"))

	action := storedAction(t, store, "flaky", trigger.WithRetry(3, 1))
	failed, err := orch.ExecuteAction(ctx, action, trigger.NewEvent("test.event", nil), nil)
	require.NoError(t, err)
	require.Equal(t, trigger.ExecutionFailure, failed.Status)

	// the dependency recovered
	orch.RegisterHandler(trigger.HandlerCustom, okHandler("recovered"))

	retried, err := orch.RetryExecution(ctx, failed.ID, "manual retry")
	require.NoError(t, err)
	assert.NotEqual(t, failed.ID, retried.ID)
	assert.Equal(t, failed.ID, retried.RetryOf)
	assert.Equal(t, 1, retried.RetryCount)
	assert.Equal(t, trigger.ExecutionSuccess, retried.Status)

	// the original record is untouched
	original, err := store.Execution(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, trigger.ExecutionFailure, original.Status)
}

func TestRetryExecutionNotRetryable(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	orch := New(store, WithRetryStrategy(NoDelayStrategy{}))
	orch.RegisterHandler(trigger.HandlerCustom, okHandler("ok"))

	action := storedAction(t, store, "fine")
	execution, err := orch.ExecuteAction(ctx, action, trigger.NewEvent("test.event", nil), nil)
	require.NoError(t, err)
	require.Equal(t, trigger.ExecutionSuccess, execution.Status)

	_, err = orch.RetryExecution(ctx, execution.ID, "should not work")
	require.Error(t, err)
}

func TestRetryExecutionExhaustsBudget(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	orch := New(store, WithRetryStrategy(NoDelayStrategy{}))
	orch.RegisterHandler(trigger.HandlerCustom, failHandler("always"))

	action := storedAction(t, store, "doomed", trigger.WithRetry(2, 1))
	execution, err := orch.ExecuteAction(ctx, action, trigger.NewEvent("test.event", nil), nil)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		execution, err = orch.RetryExecution(ctx, execution.ID, "again")
		require.NoError(t, err)
		require.Equal(t, trigger.ExecutionFailure, execution.Status)
	}

	savesBefore := atomic.LoadInt32(&store.saves)
	_, err = orch.RetryExecution(ctx, execution.ID, "one too many")
	require.True(t, trigger.IsRetryExhausted(err), "expected retry exhaustion, got %v", err)
	assert.Equal(t, savesBefore, atomic.LoadInt32(&store.saves), "exhausted retry must not create a record")
}

func TestRetryBackoffUsesRetryCount(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	orch := New(store)
	orch.RegisterHandler(trigger.HandlerCustom, failHandler("always"))

	var slept []time.Duration
	orch.sleepFn = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	action := storedAction(t, store, "flaky", trigger.WithRetry(3, 2))
	execution, err := orch.ExecuteAction(ctx, action, trigger.NewEvent("test.event", nil), nil)
	require.NoError(t, err)

	execution, err = orch.RetryExecution(ctx, execution.ID, "first")
	require.NoError(t, err)
	_, err = orch.RetryExecution(ctx, execution.ID, "second")
	require.NoError(t, err)

	// base 2s doubled per prior attempt
	require.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, slept)
}

func TestRunPendingDrivesQueuedExecution(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	orch := New(store)
	orch.RegisterHandler(trigger.HandlerCustom, okHandler("done"))

	action := storedAction(t, store, "queued", trigger.WithExecutionMode(trigger.ModeQueued))
	results, err := orch.ExecuteForEvent(ctx, trigger.NewEvent("test.event", nil), []*trigger.Action{action}, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, trigger.ExecutionPending, results[0].Status)

	pending, err := store.PendingExecutions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, orch.RunPending(ctx, pending[0]))

	stored, err := store.Execution(ctx, pending[0].ID)
	require.NoError(t, err)
	assert.Equal(t, trigger.ExecutionSuccess, stored.Status)
}
