// Package observe provides application-wide observability primitives for
// rapport: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/rapport/internal/social"
)

// meterName is the instrumentation scope name used for all rapport metrics.
const meterName = "github.com/MrWong99/rapport"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// TickDuration tracks how long one engine tick takes, cascades included.
	TickDuration metric.Float64Histogram

	// ScenarioDuration tracks the wall time of a full scenario run.
	ScenarioDuration metric.Float64Histogram

	// --- Engine counters ---

	// RuleTransitions counts rule activations and deactivations. Use with
	// attributes:
	//   attribute.String("rule", ...), attribute.String("change", "activated"|"deactivated")
	RuleTransitions metric.Int64Counter

	// TraitChanges counts trait attachments and detachments. Use with
	// attributes:
	//   attribute.String("trait", ...), attribute.String("change", "added"|"removed")
	TraitChanges metric.Int64Counter

	// StatChanges counts effective-value changes. Use with attribute:
	//   attribute.String("stat", ...)
	StatChanges metric.Int64Counter

	// Ticks counts completed engine ticks.
	Ticks metric.Int64Counter

	// Expirations counts modifiers and traits that ran out during ticks.
	Expirations metric.Int64Counter

	// Reloads counts definition reloads. Use with attribute:
	//   attribute.String("status", "ok"|"error")
	Reloads metric.Int64Counter

	// --- Gauges ---

	// Entities reports the number of entities in the graph.
	Entities metric.Int64Gauge

	// Relationships reports the number of relationships in the graph.
	Relationships metric.Int64Gauge

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes:
	//   attribute.String("method", ...), attribute.String("route", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// engineBuckets defines histogram bucket boundaries (in seconds) for
// in-memory graph work, which is usually far below a millisecond.
var engineBuckets = []float64{
	0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TickDuration, err = m.Float64Histogram("rapport.tick.duration",
		metric.WithDescription("Latency of one engine tick including cascades."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(engineBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ScenarioDuration, err = m.Float64Histogram("rapport.scenario.duration",
		metric.WithDescription("Wall time of a scenario run."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(engineBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.RuleTransitions, err = m.Int64Counter("rapport.rule.transitions",
		metric.WithDescription("Rule activations and deactivations by rule and change."),
	); err != nil {
		return nil, err
	}
	if met.TraitChanges, err = m.Int64Counter("rapport.trait.changes",
		metric.WithDescription("Trait attachments and detachments by trait and change."),
	); err != nil {
		return nil, err
	}
	if met.StatChanges, err = m.Int64Counter("rapport.stat.changes",
		metric.WithDescription("Effective stat value changes by stat name."),
	); err != nil {
		return nil, err
	}
	if met.Ticks, err = m.Int64Counter("rapport.ticks",
		metric.WithDescription("Completed engine ticks."),
	); err != nil {
		return nil, err
	}
	if met.Expirations, err = m.Int64Counter("rapport.expirations",
		metric.WithDescription("Modifiers and traits that expired during ticks."),
	); err != nil {
		return nil, err
	}
	if met.Reloads, err = m.Int64Counter("rapport.reloads",
		metric.WithDescription("Definition reloads by status."),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.Entities, err = m.Int64Gauge("rapport.entities",
		metric.WithDescription("Number of entities in the social graph."),
	); err != nil {
		return nil, err
	}
	if met.Relationships, err = m.Int64Gauge("rapport.relationships",
		metric.WithDescription("Number of relationships in the social graph."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("rapport.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordNotification translates one engine notification into counter
// increments.
func (m *Metrics) RecordNotification(ctx context.Context, n social.Notification) {
	switch n.Kind {
	case social.RuleActivated:
		m.RuleTransitions.Add(ctx, 1, metric.WithAttributes(Attr("rule", n.Rule), Attr("change", "activated")))
	case social.RuleDeactivated:
		m.RuleTransitions.Add(ctx, 1, metric.WithAttributes(Attr("rule", n.Rule), Attr("change", "deactivated")))
	case social.TraitAdded:
		m.TraitChanges.Add(ctx, 1, metric.WithAttributes(Attr("trait", n.Trait), Attr("change", "added")))
	case social.TraitRemoved:
		m.TraitChanges.Add(ctx, 1, metric.WithAttributes(Attr("trait", n.Trait), Attr("change", "removed")))
	case social.StatChanged:
		m.StatChanges.Add(ctx, 1, metric.WithAttributes(Attr("stat", n.Stat)))
	case social.TickCompleted:
		m.Ticks.Add(ctx, 1)
		if n.Expired > 0 {
			m.Expirations.Add(ctx, int64(n.Expired))
		}
	}
}

// Listener returns a [social.Listener] feeding [Metrics.RecordNotification].
func (m *Metrics) Listener(ctx context.Context) social.Listener {
	return func(n social.Notification) { m.RecordNotification(ctx, n) }
}

// RecordGraphSize sets the entity and relationship gauges from e. The caller
// must hold whatever lock serialises access to e.
func (m *Metrics) RecordGraphSize(ctx context.Context, e *social.Engine) {
	m.Entities.Record(ctx, int64(len(e.Entities())))
	m.Relationships.Record(ctx, int64(len(e.Relationships())))
}

// RecordReload records the outcome of a definition reload.
func (m *Metrics) RecordReload(ctx context.Context, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.Reloads.Add(ctx, 1, metric.WithAttributes(Attr("status", status)))
}
