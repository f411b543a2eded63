package app_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/rapport/internal/app"
	"github.com/MrWong99/rapport/internal/config"
	"github.com/MrWong99/rapport/internal/observe"
	"github.com/MrWong99/rapport/internal/social"
)

const defsYAML = `
stats:
  relationship:
    - {name: affection, base: 0, min: -100, max: 100}
traits:
  - id: Kind
  - id: Flustered
    duration: 2
rules:
  - id: kind_affection
    preconditions:
      - {type: has_trait, trait: Kind}
    effects: [raise_stat owner->target affection 10]
`

const scenarioYAML = `
name: startup
steps:
  - add_trait: {entity: A, trait: Kind}
  - add_trait: {entity: A, trait: Flustered}
  - add_rule: {entity: A, rule: kind_affection}
  - create_relationship: {owner: A, target: B}
  - expect_stat: {owner: A, target: B, stat: affection, value: 10}
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
}

// testConfig writes defs and scenario into a fresh directory and returns a
// config referencing them, plus the config file path.
func testConfig(t *testing.T) (*config.Config, string) {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "defs.yaml"), defsYAML)
	writeFile(t, filepath.Join(dir, "scenario.yaml"), scenarioYAML)
	path := filepath.Join(dir, "rapport.yaml")
	writeFile(t, path, `
engine:
  tick_interval: 10ms
library:
  files: [defs.yaml]
scenario:
  file: scenario.yaml
  poll_interval: 20ms
`)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	return cfg, path
}

func testMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func counter(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestNew_RunsScenario(t *testing.T) {
	t.Parallel()
	cfg, _ := testConfig(t)
	m, _ := testMetrics(t)

	a, err := app.New(context.Background(), cfg, app.WithMetrics(m))
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	err = a.Engine(func(e *social.Engine) error {
		rel, err := e.Relationship("A", "B")
		if err != nil {
			return err
		}
		if len(rel.ActiveRules()) != 1 {
			t.Errorf("active rules = %d, want 1", len(rel.ActiveRules()))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Engine: %v", err)
	}
}

func TestNew_ExampleConfig(t *testing.T) {
	t.Parallel()
	cfg, err := config.Load(filepath.Join("..", "..", "configs", "rapport.yaml"))
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	m, _ := testMetrics(t)
	if _, err := app.New(context.Background(), cfg, app.WithMetrics(m)); err != nil {
		t.Fatalf("example scenario failed: %v", err)
	}
}

func TestNew_FailingScenario(t *testing.T) {
	t.Parallel()
	cfg, _ := testConfig(t)
	writeFile(t, cfg.Scenario.File, "steps: [{expect_trait: {entity: A, trait: Kind}}]\n")
	m, _ := testMetrics(t)

	_, err := app.New(context.Background(), cfg, app.WithMetrics(m))
	if !errors.Is(err, social.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for an unknown entity, got %v", err)
	}
}

func TestNew_InvalidLibrary(t *testing.T) {
	t.Parallel()
	cfg, _ := testConfig(t)
	writeFile(t, cfg.Library.Files[0], "traits: [{id: Kind, effects: [hug self]}]\n")
	m, _ := testMetrics(t)

	_, err := app.New(context.Background(), cfg, app.WithMetrics(m))
	if err == nil || !strings.Contains(err.Error(), "load library") {
		t.Fatalf("expected a library error, got %v", err)
	}
}

func TestRun_StopsAfterMaxTicks(t *testing.T) {
	t.Parallel()
	cfg, _ := testConfig(t)
	cfg.Engine.MaxTicks = 3
	m, reader := testMetrics(t)

	a, err := app.New(context.Background(), cfg, app.WithMetrics(m))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	_ = a.Engine(func(e *social.Engine) error {
		if e.Ticks() != 3 {
			t.Errorf("Ticks() = %d, want 3", e.Ticks())
		}
		ent, err := e.Entity("A")
		if err != nil {
			return err
		}
		if ent.HasTrait("Flustered") {
			t.Error("Flustered should have expired after 2 ticks")
		}
		return nil
	})
	if got := counter(t, reader, "rapport.ticks"); got != 3 {
		t.Errorf("rapport.ticks = %d, want 3", got)
	}
	if got := counter(t, reader, "rapport.expirations"); got != 1 {
		t.Errorf("rapport.expirations = %d, want 1", got)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestRun_Cancelled(t *testing.T) {
	t.Parallel()
	cfg, _ := testConfig(t)
	m, _ := testMetrics(t)

	a, err := app.New(context.Background(), cfg, app.WithMetrics(m))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := a.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run error = %v, want DeadlineExceeded", err)
	}
}

func TestHandler_Routes(t *testing.T) {
	t.Parallel()
	cfg, _ := testConfig(t)
	m, _ := testMetrics(t)

	a, err := app.New(context.Background(), cfg, app.WithMetrics(m), app.WithGatherer(prometheus.NewRegistry()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h := a.Handler()

	tests := []struct {
		path       string
		wantStatus int
		wantBody   string
	}{
		{"/healthz", http.StatusOK, `"status":"ok"`},
		{"/readyz", http.StatusServiceUnavailable, `"ticks":"fail: not ready"`},
		{"/readyz", http.StatusServiceUnavailable, `"library":"ok"`},
		{"/metrics", http.StatusOK, ""},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest("GET", tc.path, nil))
			if rec.Code != tc.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			if !strings.Contains(rec.Body.String(), tc.wantBody) {
				t.Errorf("body %q does not contain %q", rec.Body.String(), tc.wantBody)
			}
		})
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRun_ReloadsChangedDefinitions(t *testing.T) {
	t.Parallel()
	cfg, path := testConfig(t)
	m, reader := testMetrics(t)

	a, err := app.New(context.Background(), cfg, app.WithMetrics(m), app.WithConfigPath(path))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	hasTrait := func(id string) func() bool {
		return func() bool {
			return a.Engine(func(e *social.Engine) error {
				_, err := e.Library().Trait(id)
				return err
			}) == nil
		}
	}

	time.Sleep(50 * time.Millisecond)
	writeFile(t, cfg.Library.Files[0], defsYAML+"  - id: Rude\n")
	waitFor(t, "the Rude trait", hasTrait("Rude"))

	h := a.Handler()
	readyz := func() (int, string) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", "/readyz", nil))
		return rec.Code, rec.Body.String()
	}
	waitFor(t, "readiness", func() bool { code, _ := readyz(); return code == http.StatusOK })

	// A broken document is rejected, the running engine kept and readiness
	// withdrawn until the library loads again.
	reloads := counter(t, reader, "rapport.reloads")
	writeFile(t, cfg.Library.Files[0], "traits: [{id: Rude, effects: [hug self]}]\n")
	waitFor(t, "the rejected reload", func() bool { return counter(t, reader, "rapport.reloads") > reloads })
	if !hasTrait("Kind")() {
		t.Error("a rejected reload must keep the previous engine")
	}
	code, body := readyz()
	if code != http.StatusServiceUnavailable {
		t.Errorf("/readyz after rejected reload = %d, want %d", code, http.StatusServiceUnavailable)
	}
	if !strings.Contains(body, `"library":"fail: `) || !strings.Contains(body, "hug") {
		t.Errorf("/readyz body %q does not report the library error", body)
	}

	writeFile(t, cfg.Library.Files[0], defsYAML)
	waitFor(t, "readiness after a good reload", func() bool {
		code, body := readyz()
		return code == http.StatusOK && strings.Contains(body, `"library":"ok"`)
	})

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run error = %v, want context.Canceled", err)
	}
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   config.LogLevel
		want string
	}{
		{config.LogDebug, "DEBUG"},
		{config.LogInfo, "INFO"},
		{config.LogWarn, "WARN"},
		{config.LogError, "ERROR"},
		{"", "INFO"},
	}
	for _, tc := range tests {
		if got := app.SlogLevel(tc.in).String(); got != tc.want {
			t.Errorf("SlogLevel(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}
