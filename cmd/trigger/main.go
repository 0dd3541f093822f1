package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/goliatone/go-logger/glog"
	trigger "github.com/goliatone/go-trigger"
	"github.com/goliatone/go-trigger/config"
	"github.com/goliatone/go-trigger/handlers"
	"github.com/goliatone/go-trigger/orchestrator"
	"github.com/goliatone/go-trigger/registry"
	redisstore "github.com/goliatone/go-trigger/store/redis"
	sqlitestore "github.com/goliatone/go-trigger/store/sqlite"
	"github.com/goliatone/go-trigger/worker"
)

type cli struct {
	Validate validateCmd `cmd:"" help:"Validate an action set file."`
	Load     loadCmd     `cmd:"" help:"Load an action set file into the store."`
	Fire     fireCmd     `cmd:"" help:"Fire an event against the registered actions."`
	Worker   workerCmd   `cmd:"" help:"Run the queued execution worker."`
}

type validateCmd struct {
	Path string `arg:"" help:"Action set file." type:"existingfile"`
}

func (c *validateCmd) Run(app *appContext) error {
	set, err := config.LoadActionSet(c.Path)
	if err != nil {
		return err
	}
	actions, err := config.BuildActions(set)
	if err != nil {
		return err
	}
	app.logger.Info("action set %s is valid: %d actions", c.Path, len(actions))
	return nil
}

type loadCmd struct {
	Path string `arg:"" help:"Action set file." type:"existingfile"`
}

func (c *loadCmd) Run(app *appContext) error {
	set, err := config.LoadActionSet(c.Path)
	if err != nil {
		return err
	}
	actions, err := config.BuildActions(set)
	if err != nil {
		return err
	}
	for _, action := range actions {
		if err := app.registry.Register(app.ctx, action); err != nil {
			return err
		}
		app.logger.Info("registered action %s (%s)", action.Name, action.ID)
	}
	return nil
}

type fireCmd struct {
	Type string            `arg:"" help:"Event type, e.g. user.created."`
	Data map[string]string `help:"Event payload as key=value pairs." mapsep:","`
}

func (c *fireCmd) Run(app *appContext) error {
	data := make(map[string]any, len(c.Data))
	for k, v := range c.Data {
		data[k] = v
	}
	event := trigger.NewEvent(c.Type, data)
	actions, err := app.registry.ActionsForEvent(app.ctx, event.Type, event.Data, nil)
	if err != nil {
		return err
	}
	executions, err := app.orch.ExecuteForEvent(app.ctx, event, actions, nil)
	if err != nil {
		return err
	}
	for _, execution := range executions {
		app.logger.Info("execution %s action=%s status=%s", execution.ID, execution.ActionID, execution.Status)
	}
	return nil
}

type workerCmd struct {
	Schedule string `help:"Poll schedule override (cron expression)."`
}

func (c *workerCmd) Run(app *appContext) error {
	var opts []worker.Option
	if c.Schedule != "" {
		opts = append(opts, worker.WithSchedule(c.Schedule))
	}
	opts = append(opts,
		worker.WithBatchSize(app.settings.WorkerBatchSize),
		worker.WithLogger(app.logger),
	)
	w := worker.New(app.store, app.orch, opts...)
	if err := w.Start(app.ctx); err != nil {
		return err
	}
	app.logger.Info("queued execution worker running")
	<-app.ctx.Done()
	w.Stop()
	return nil
}

// appContext carries the wired dependencies into command handlers.
type appContext struct {
	ctx      context.Context
	settings config.Settings
	logger   trigger.Logger
	store    trigger.Store
	registry *registry.Registry
	orch     *orchestrator.Orchestrator
}

// glogAdapter exposes a glog logger through the trigger logging contract.
type glogAdapter struct {
	logger glog.Logger
}

func (l glogAdapter) Trace(msg string, args ...any) { l.logger.Trace(msg, args...) }
func (l glogAdapter) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l glogAdapter) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l glogAdapter) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l glogAdapter) Error(msg string, args ...any) { l.logger.Error(msg, args...) }
func (l glogAdapter) Fatal(msg string, args ...any) { l.logger.Fatal(msg, args...) }

func (l glogAdapter) WithContext(ctx context.Context) trigger.Logger {
	return glogAdapter{logger: l.logger.WithContext(ctx)}
}

func main() {
	settings, err := config.LoadSettings()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load settings: %v\n", err)
		os.Exit(1)
	}

	logger := glogAdapter{logger: glog.NewLogger(
		glog.WithLevel(settings.LogLevel),
	)}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closer, err := openStore(settings)
	if err != nil {
		logger.Error("open store: %v", err)
		os.Exit(1)
	}
	defer closer()

	reg := registry.New(store,
		registry.WithCacheTTL(settings.CacheTTL),
		registry.WithCacheCapacity(settings.CacheCapacity),
		registry.WithLogger(logger),
	)
	orch := orchestrator.New(store,
		orchestrator.WithMaxConcurrent(settings.MaxConcurrent),
		orchestrator.WithLogger(logger),
	)
	orch.RegisterHandler(trigger.HandlerWebhook, handlers.NewWebhookHandler(
		handlers.WithSigningSecret(settings.WebhookSecret),
	))
	orch.RegisterHandler(trigger.HandlerFunction, handlers.NewFunctionHandler())

	app := &appContext{
		ctx:      ctx,
		settings: settings,
		logger:   logger,
		store:    store,
		registry: reg,
		orch:     orch,
	}

	kctx := kong.Parse(&cli{},
		kong.Name("trigger"),
		kong.Description("Event-triggered action engine."),
		kong.Bind(app),
	)
	if err := kctx.Run(app); err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
}

func openStore(settings config.Settings) (trigger.Store, func(), error) {
	if settings.RedisAddr != "" {
		store := redisstore.Open(settings.RedisAddr, settings.RedisPassword, settings.RedisDB)
		return store, func() { _ = store.Close() }, nil
	}
	store, err := sqlitestore.Open(settings.StorePath)
	if err != nil {
		return nil, nil, err
	}
	return store, func() { _ = store.Close() }, nil
}
