// Command rapport hosts a reactive social-graph engine: it loads trait,
// rule and event definitions, runs a scenario against them and keeps the
// engine ticking while serving metrics and health probes.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/MrWong99/rapport/internal/app"
	"github.com/MrWong99/rapport/internal/config"
	"github.com/MrWong99/rapport/internal/observe"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "rapport.yaml", "path to the YAML configuration file")
	check := flag.Bool("check", false, "load the library, run the scenario once and exit")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "rapport: config file %q not found; copy configs/rapport.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "rapport: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(os.Stderr, cfg.Server.LogFormat, level))

	slog.Info("rapport starting",
		"version", version,
		"config", *configPath,
		"log_level", cfg.Server.LogLevel,
		"library_files", len(cfg.Library.Files),
		"scenario", cfg.Scenario.File,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	provCfg := observe.ProviderConfig{ServiceVersion: version, Registerer: reg}
	if cfg.Server.OTLPEndpoint != "" {
		exp, err := observe.NewOTLPTraceExporter(ctx, cfg.Server.OTLPEndpoint, cfg.Server.OTLPInsecure)
		if err != nil {
			slog.Error("failed to create trace exporter", "err", err)
			return 1
		}
		provCfg.TraceExporter = exp
	}
	shutdownTelemetry, err := observe.InitProvider(ctx, provCfg)
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Application ───────────────────────────────────────────────────────────
	opts := []app.Option{
		app.WithGatherer(reg),
		app.WithLogLevel(level),
	}
	if cfg.Scenario.Watch {
		opts = append(opts, app.WithConfigPath(*configPath))
	}
	application, err := app.New(ctx, cfg, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	if *check {
		slog.Info("check passed")
		return 0
	}

	slog.Info("engine ready; press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// newLogger builds the process logger. The handler reads its level from
// level so that config reloads take effect without rebuilding it.
func newLogger(w io.Writer, format config.LogFormat, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == config.FormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
