// Package app wires the rapport subsystems into a running host.
//
// The App struct owns the full lifecycle: New loads the definition library,
// builds the social engine and runs the configured scenario, Run drives the
// tick loop, the telemetry HTTP server and the config watcher, and Shutdown
// tears everything down in order.
//
// For testing, inject collaborators via functional options (WithRegistry,
// WithMetrics, etc.). When an option is not provided, New uses the
// package-level defaults.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/rapport/internal/binding"
	"github.com/MrWong99/rapport/internal/config"
	"github.com/MrWong99/rapport/internal/health"
	"github.com/MrWong99/rapport/internal/library"
	"github.com/MrWong99/rapport/internal/observe"
	"github.com/MrWong99/rapport/internal/scenario"
	"github.com/MrWong99/rapport/internal/social"
)

// heartbeatFactor is how many tick intervals may pass without a tick before
// /readyz reports the tick loop as stalled.
const heartbeatFactor = 3

// App owns the social engine and everything that drives or observes it.
type App struct {
	configPath string
	registry   *binding.Registry
	metrics    *observe.Metrics
	gatherer   prometheus.Gatherer
	logLevel   *slog.LevelVar

	// mu guards cfg and engine. The engine itself is not safe for
	// concurrent use.
	mu     sync.Mutex
	cfg    *config.Config
	engine *social.Engine

	tickReset chan time.Duration
	libraryOK *health.Gate
	heartbeat *health.Heartbeat
	server    *http.Server

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithRegistry injects the precondition/effect registry used to build the
// library. The default is [binding.NewDefaultRegistry].
func WithRegistry(r *binding.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithMetrics injects the metric instruments. The default is
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithGatherer sets the Prometheus registry served on /metrics. The default
// is [prometheus.DefaultGatherer].
func WithGatherer(g prometheus.Gatherer) Option {
	return func(a *App) { a.gatherer = g }
}

// WithLogLevel hands New the level variable of the installed slog handler so
// that config reloads can change verbosity.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// WithConfigPath enables hot reload: Run watches path and the files it
// refers to.
func WithConfigPath(path string) Option {
	return func(a *App) { a.configPath = path }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New loads the library named by cfg, builds the engine and runs the
// configured scenario against it. A failing scenario fails New. Zero
// fields of cfg are set to their defaults.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	cfg.ApplyDefaults()
	a := &App{
		cfg:       cfg,
		tickReset: make(chan time.Duration, 1),
		libraryOK: health.NewGate("library"),
		heartbeat: health.NewHeartbeat("ticks", heartbeatFactor*cfg.Engine.TickInterval),
	}
	for _, o := range opts {
		o(a)
	}
	if a.registry == nil {
		a.registry = binding.NewDefaultRegistry()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.gatherer == nil {
		a.gatherer = prometheus.DefaultGatherer
	}

	// ── 1. Library + engine ──────────────────────────────────────────────
	e, err := a.buildEngine(ctx, cfg)
	if err != nil {
		a.libraryOK.Set(err)
		return nil, fmt.Errorf("app: %w", err)
	}
	a.engine = e
	a.libraryOK.Set(nil)

	// ── 2. HTTP server ───────────────────────────────────────────────────
	if cfg.Server.MetricsAddr != "" {
		a.server = &http.Server{
			Addr:              cfg.Server.MetricsAddr,
			Handler:           a.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		a.closers = append(a.closers, a.server.Close)
	}

	return a, nil
}

// buildEngine loads the library and runs the scenario of cfg on a fresh
// engine.
func (a *App) buildEngine(ctx context.Context, cfg *config.Config) (*social.Engine, error) {
	lib, err := library.Load(a.registry, cfg.Library.Files...)
	if err != nil {
		return nil, fmt.Errorf("load library: %w", err)
	}
	slog.Info("app: library loaded",
		"files", len(cfg.Library.Files),
		"traits", len(lib.TraitIDs()),
		"rules", len(lib.RuleIDs()),
		"events", len(lib.Events()),
	)

	e := social.NewEngine(lib,
		social.WithCascadeLimit(cfg.Engine.CascadeLimit),
		social.WithListener(a.metrics.Listener(context.WithoutCancel(ctx))),
	)

	if cfg.Scenario.File != "" {
		if err := a.runScenario(ctx, e, cfg.Scenario.File); err != nil {
			return nil, err
		}
	}
	a.metrics.RecordGraphSize(ctx, e)
	return e, nil
}

func (a *App) runScenario(ctx context.Context, e *social.Engine, path string) error {
	sc, err := scenario.Load(path)
	if err != nil {
		return err
	}
	start := time.Now()
	rep, err := scenario.Run(ctx, e, sc)
	a.metrics.ScenarioDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return err
	}
	slog.Info("app: scenario passed", "path", path, "steps", rep.Steps, "expectations", rep.Expectations)
	return nil
}

// Handler returns the telemetry routes (/metrics, /healthz, /readyz)
// wrapped in [observe.Middleware].
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))
	health.New(a.libraryOK.Checker(), a.heartbeat.Checker()).Register(mux)
	return observe.Middleware(a.metrics)(mux)
}

// Engine runs fn with exclusive access to the current engine.
func (a *App) Engine(fn func(*social.Engine) error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return fn(a.engine)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run drives the tick loop, serves telemetry and watches the config until
// ctx is cancelled or engine.max_ticks ticks have run. It returns nil after
// the last tick and the context's error on cancellation.
func (a *App) Run(ctx context.Context) error {
	parent := ctx
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, func(c config.Change) { a.reload(ctx, c) },
			config.WithInterval(a.cfg.Scenario.PollInterval))
		if err != nil {
			return fmt.Errorf("app: %w", err)
		}
		g.Go(func() error {
			<-ctx.Done()
			w.Stop()
			return nil
		})
	}

	g.Go(func() error { return a.tickLoop(ctx, stop) })

	if a.server != nil {
		g.Go(func() error {
			slog.Info("app: serving telemetry", "addr", a.server.Addr)
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: telemetry server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			return a.server.Shutdown(shutdownCtx)
		})
	}

	slog.Info("app: running", "tick_interval", a.cfg.Engine.TickInterval, "max_ticks", a.cfg.Engine.MaxTicks)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return parent.Err()
}

// tickLoop ticks the engine every tick interval. It calls done and returns
// after engine.max_ticks ticks when that limit is set.
func (a *App) tickLoop(ctx context.Context, done context.CancelFunc) error {
	a.mu.Lock()
	interval, maxTicks := a.cfg.Engine.TickInterval, a.cfg.Engine.MaxTicks
	a.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for n := 1; ; n++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d := <-a.tickReset:
			ticker.Reset(d)
			n--
			continue
		case <-ticker.C:
		}
		if err := a.tick(ctx); err != nil {
			slog.Warn("app: tick failed", "err", err)
		}
		if maxTicks > 0 && n >= maxTicks {
			slog.Info("app: tick limit reached", "ticks", n)
			done()
			return nil
		}
	}
}

func (a *App) tick(ctx context.Context) error {
	return observe.WithSpan(ctx, "engine.tick", func(ctx context.Context) error {
		a.mu.Lock()
		defer a.mu.Unlock()

		start := time.Now()
		err := a.engine.Tick()
		a.metrics.TickDuration.Record(ctx, time.Since(start).Seconds())
		a.metrics.RecordGraphSize(ctx, a.engine)
		a.heartbeat.Beat()
		return err
	})
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// reload applies a config or definition change. Log level and tick interval
// are applied in place. Library or scenario changes build and verify a new
// engine first; on failure the running engine is kept and the library
// readiness gate reports the error until a later reload succeeds.
func (a *App) reload(ctx context.Context, c config.Change) {
	d := config.Diff(c.Old, c.New)
	log := observe.Logger(ctx)

	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(SlogLevel(d.NewLogLevel))
		log.Info("app: log level changed", "level", d.NewLogLevel)
	}
	if d.TickIntervalChanged {
		a.heartbeat.SetMaxAge(heartbeatFactor * d.NewTickInterval)
		select {
		case a.tickReset <- d.NewTickInterval:
		default:
		}
		log.Info("app: tick interval changed", "interval", d.NewTickInterval)
	}
	if len(d.RestartRequired) > 0 {
		log.Warn("app: changes need a restart to take effect", "fields", d.RestartRequired)
	}

	rebuild := d.LibraryChanged || d.ScenarioChanged
	for _, f := range c.Files {
		if f != a.configPath {
			rebuild = true
		}
	}
	if !rebuild {
		a.mu.Lock()
		a.cfg = c.New
		a.mu.Unlock()
		return
	}

	err := observe.WithSpan(ctx, "app.reload", func(ctx context.Context) error {
		e, err := a.buildEngine(ctx, c.New)
		if err != nil {
			return err
		}
		a.mu.Lock()
		a.cfg, a.engine = c.New, e
		a.mu.Unlock()
		return nil
	})
	a.libraryOK.Set(err)
	a.metrics.RecordReload(ctx, err)
	if err != nil {
		log.Error("app: reload rejected, keeping the running engine", "files", c.Files, "err", err)
		return
	}
	log.Info("app: engine rebuilt", "files", c.Files)
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown closes the telemetry server and any other registered closers. It
// respects the context deadline: if ctx expires before all closers finish,
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("app: shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("app: shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("app: closer error", "index", i, "err", err)
			}
		}
		a.mu.Lock()
		slog.Info("app: shutdown complete", "ticks", a.engine.Ticks())
		a.mu.Unlock()
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// SlogLevel converts a config log level to its slog equivalent. Unknown
// levels map to info.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
