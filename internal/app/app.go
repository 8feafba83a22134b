// Package app builds the long-lived services once at startup and tears them
// down in dependency order.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"livecode-sandbox/internal/assistant"
	"livecode-sandbox/internal/config"
	"livecode-sandbox/internal/executor"
	"livecode-sandbox/internal/hooks"
	"livecode-sandbox/internal/monitor"
	"livecode-sandbox/internal/notify"
	"livecode-sandbox/internal/runtime"
	"livecode-sandbox/internal/sandbox"
	"livecode-sandbox/internal/storage"
)

// App is the explicit context every handler works against.
type App struct {
	Config *config.Config

	Languages *runtime.Registry
	Metrics   *monitor.Metrics
	Tracer    *monitor.Tracer

	// Backend is nil when no sandbox could be probed; executions then
	// return an unavailable result instead of failing startup.
	Backend sandbox.Backend
	DB      *storage.DB
	Audit   *storage.AuditWriter

	Connections *notify.Registry
	Router      *notify.Router
	Bus         *notify.Bus

	// Assistant is nil when no API key is configured.
	Assistant    hooks.Assistant
	Hooks        *hooks.Manager
	Orchestrator *executor.Orchestrator
	Live         *executor.LiveRunner

	StartTime time.Time

	stopPrune func()
}

// New wires every component from cfg. Optional dependencies (database,
// redis, assistant, sandbox backend) degrade with a warning instead of
// failing.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{
		Config:    cfg,
		Languages: runtime.NewRegistry(),
		Metrics:   monitor.NewMetrics(),
		StartTime: time.Now(),
	}

	tracer, err := monitor.NewOTLPTracer(ctx, cfg.Tracing)
	if err != nil {
		log.Warn().Err(err).Msg("tracing disabled")
		tracer = monitor.NewTracer()
	}
	a.Tracer = tracer

	backend, err := sandbox.Probe(ctx, cfg, a.Languages)
	if err != nil {
		log.Warn().Err(err).Msg("no sandbox backend available, executions will be refused")
	} else {
		a.Backend = backend
		if cfg.Sandbox.PrepareImages {
			go func() {
				if err := sandbox.Prepare(ctx, backend, a.Languages.Images(), cfg.Sandbox.PrepareConcurrency); err != nil {
					log.Warn().Err(err).Msg("some language images could not be prepared")
				}
			}()
		}
	}

	if cfg.Database.DSN != "" {
		if err := a.openDatabase(ctx); err != nil {
			log.Warn().Err(err).Msg("database unavailable, audit logging disabled")
		}
	}

	a.Connections = notify.NewRegistry(cfg.Notify.WriteTimeout, a.Metrics)
	if cfg.Redis.Enabled {
		bus, err := notify.NewBus(ctx, cfg.Redis.URL, cfg.Redis.ChannelPrefix, a.Metrics)
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable, notifications stay local to this instance")
		} else {
			a.Bus = bus
		}
	}
	a.Router = notify.NewRouter(a.Connections, a.Bus)
	if a.Bus != nil {
		if err := a.Bus.Start(ctx, a.Router.Deliver); err != nil {
			a.closeEarly()
			return nil, fmt.Errorf("starting notification bus: %w", err)
		}
	}

	if cfg.Assistant.Enabled && cfg.Assistant.APIKey != "" {
		a.Assistant = assistant.New(assistant.Options{
			BaseURL:     cfg.Assistant.BaseURL,
			APIKey:      cfg.Assistant.APIKey,
			Model:       cfg.Assistant.Model,
			Temperature: cfg.Assistant.Temperature,
			MaxTokens:   cfg.Assistant.MaxTokens,
			Timeout:     cfg.Assistant.Timeout,
			MaxRetries:  cfg.Assistant.MaxRetries,
		})
	} else {
		log.Warn().Msg("assistant not configured, hooks will report failures and chat uses canned replies")
	}

	hookOpts := hooks.Options{
		Assistant:    a.Assistant,
		Publisher:    a.Router,
		Metrics:      a.Metrics,
		Tracer:       a.Tracer,
		Enabled:      enabledHooks(cfg),
		HistorySize:  cfg.Hooks.HistorySize,
		MaxListeners: cfg.Hooks.MaxListeners,
		Timeout:      cfg.Hooks.Timeout,
	}
	orchOpts := executor.Options{
		Registry:       a.Languages,
		Backend:        a.Backend,
		Detector:       monitor.NewEscapeDetector(),
		Metrics:        a.Metrics,
		Tracer:         a.Tracer,
		DefaultTimeout: cfg.Sandbox.DefaultTimeout,
		MaxTimeout:     cfg.Sandbox.MaxTimeout,
	}
	// Assign only when set so the interfaces never hold a typed nil.
	if a.Audit != nil {
		hookOpts.Recorder = a.Audit
		orchOpts.Audit = a.Audit
	}

	a.Hooks = hooks.NewManager(hookOpts)
	if cfg.Hooks.PruneSchedule != "" && cfg.Hooks.MaxAge > 0 {
		stop, err := a.Hooks.SchedulePrune(cfg.Hooks.PruneSchedule, cfg.Hooks.MaxAge)
		if err != nil {
			a.closeEarly()
			return nil, err
		}
		a.stopPrune = stop
	}

	a.Orchestrator = executor.New(orchOpts)
	a.Live = executor.NewLiveRunner(a.Orchestrator, a.Router, a.Hooks, cfg.Notify.OutputChunk)

	log.Info().
		Str("backend", a.Orchestrator.BackendName()).
		Bool("database", a.DB != nil).
		Bool("redis", a.Bus != nil).
		Bool("assistant", a.Assistant != nil).
		Msg("application initialized")
	return a, nil
}

func (a *App) openDatabase(ctx context.Context) error {
	db, err := storage.New(ctx, a.Config.Database.DSN, storage.PoolOptions{
		MaxConns:        a.Config.Database.MaxOpenConns,
		MinConns:        a.Config.Database.MaxIdleConns,
		MaxConnLifetime: a.Config.Database.ConnMaxLifetime,
	})
	if err != nil {
		return err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return fmt.Errorf("migrating audit schema: %w", err)
	}
	a.DB = db
	a.Audit = storage.NewAuditWriter(db, a.Config.Database.AuditBuffer)
	a.Audit.Start()
	return nil
}

func enabledHooks(cfg *config.Config) map[hooks.EventType]bool {
	out := make(map[hooks.EventType]bool, len(cfg.Hooks.Enabled))
	for _, t := range hooks.EventTypes() {
		out[t] = cfg.HookEnabled(string(t))
	}
	return out
}

// closeEarly releases what New had opened before it failed.
func (a *App) closeEarly() {
	if a.Bus != nil {
		_ = a.Bus.Close()
	}
	if a.Audit != nil {
		a.Audit.Flush(time.Second)
	}
	if a.DB != nil {
		a.DB.Close()
	}
	if a.Backend != nil {
		_ = a.Backend.Close()
	}
	_ = a.Tracer.Shutdown(context.Background())
}

// Close drains hook reactions, then stops the backend, the audit writer, the
// bus and the span exporter. ctx bounds the whole teardown.
func (a *App) Close(ctx context.Context) error {
	var errs []error

	if a.stopPrune != nil {
		a.stopPrune()
	}
	if err := a.Hooks.Wait(ctx); err != nil {
		errs = append(errs, fmt.Errorf("draining hooks: %w", err))
	}
	if a.Backend != nil {
		if err := a.Backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing backend: %w", err))
		}
	}
	if a.Audit != nil {
		timeout := 10 * time.Second
		if dl, ok := ctx.Deadline(); ok {
			timeout = max(time.Until(dl), 0)
		}
		a.Audit.Flush(timeout)
	}
	if a.DB != nil {
		a.DB.Close()
	}
	if a.Bus != nil {
		if err := a.Bus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing bus: %w", err))
		}
	}
	if err := a.Tracer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flushing traces: %w", err))
	}
	return errors.Join(errs...)
}
