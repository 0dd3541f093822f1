// Package worker consumes the pending execution records the orchestrator
// writes for queued-mode actions. It is a poller, not a job queue: records
// live in the store and the orchestrator still owns every state transition.
package worker

import (
	"context"
	"sync"

	"github.com/goliatone/go-errors"
	trigger "github.com/goliatone/go-trigger"
	"github.com/goliatone/go-trigger/orchestrator"
	rcron "github.com/robfig/cron/v3"
)

// DefaultSchedule polls every thirty seconds.
const DefaultSchedule = "@every 30s"

// DefaultBatchSize bounds how many pending executions one poll drains.
const DefaultBatchSize = 50

// Worker periodically drains pending queued executions through the
// orchestrator.
type Worker struct {
	mu      sync.Mutex
	store   trigger.Store
	orch    *orchestrator.Orchestrator
	logger  trigger.Logger
	cron    *rcron.Cron
	entryID rcron.EntryID

	schedule  string
	batchSize int
}

// Option configures a worker.
type Option func(*Worker)

// WithSchedule sets the poll cron expression (robfig/cron syntax, @every
// shorthand included).
func WithSchedule(expr string) Option {
	return func(w *Worker) {
		if expr != "" {
			w.schedule = expr
		}
	}
}

// WithBatchSize bounds how many executions each poll picks up.
func WithBatchSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

// WithLogger sets the worker logger.
func WithLogger(logger trigger.Logger) Option {
	return func(w *Worker) {
		w.logger = trigger.NormalizeLogger(logger)
	}
}

// New builds a worker over the store the orchestrator persists into.
func New(store trigger.Store, orch *orchestrator.Orchestrator, opts ...Option) *Worker {
	w := &Worker{
		store:     store,
		orch:      orch,
		logger:    trigger.NewFmtLogger(nil),
		cron:      rcron.New(),
		schedule:  DefaultSchedule,
		batchSize: DefaultBatchSize,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// Start schedules the poll loop. The returned error reports a bad schedule
// expression.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	id, err := w.cron.AddFunc(w.schedule, func() {
		if n, err := w.Drain(ctx); err != nil {
			w.logger.Error("queued execution poll failed: %v", err)
		} else if n > 0 {
			w.logger.Debug("drained %d queued executions", n)
		}
	})
	if err != nil {
		return errors.Wrap(err, errors.CategoryBadInput, "invalid worker schedule").
			WithMetadata(map[string]any{"schedule": w.schedule})
	}
	w.entryID = id
	w.cron.Start()
	return nil
}

// Stop halts scheduling and waits for an in-flight poll to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	stopCtx := w.cron.Stop()
	<-stopCtx.Done()
}

// Drain runs one poll cycle: fetch up to batchSize pending executions and
// run each through the orchestrator. Per-record failures are logged and do
// not stop the batch.
func (w *Worker) Drain(ctx context.Context) (int, error) {
	pending, err := w.store.PendingExecutions(ctx, w.batchSize)
	if err != nil {
		return 0, errors.Wrap(err, errors.CategoryExternal, "list pending executions")
	}
	processed := 0
	for _, execution := range pending {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}
		if err := w.orch.RunPending(ctx, execution); err != nil {
			w.logger.Error("queued execution %s failed to run: %v", execution.ID, err)
			continue
		}
		processed++
	}
	return processed, nil
}
