// Package observability exposes turn-level metrics through OpenTelemetry
// with a Prometheus exporter. All record methods are nil-safe so callers
// can run without metrics configured.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/kadirpekel/conductor/pkg/llms"
)

// Config controls the metrics endpoint.
type Config struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Host    string `yaml:"host,omitempty"`
	Port    int    `yaml:"port,omitempty"`
}

func (c *Config) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port <= 0 {
		c.Port = 9090
	}
}

func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Metrics bundles the turn-level instruments.
type Metrics struct {
	provider *sdkmetric.MeterProvider
	registry *prometheus.Registry

	turns        metric.Int64Counter
	toolCalls    metric.Int64Counter
	replans      metric.Int64Counter
	tokens       metric.Int64Counter
	turnDuration metric.Float64Histogram
}

func New() (*Metrics, error) {
	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("conductor")

	m := &Metrics{provider: provider, registry: registry}

	if m.turns, err = meter.Int64Counter("conductor.turns",
		metric.WithDescription("Completed turns by route")); err != nil {
		return nil, err
	}
	if m.toolCalls, err = meter.Int64Counter("conductor.tool_calls",
		metric.WithDescription("Tool invocations by name and outcome")); err != nil {
		return nil, err
	}
	if m.replans, err = meter.Int64Counter("conductor.replans",
		metric.WithDescription("Replan rounds triggered by inadequate answers")); err != nil {
		return nil, err
	}
	if m.tokens, err = meter.Int64Counter("conductor.tokens",
		metric.WithDescription("Model tokens consumed by direction")); err != nil {
		return nil, err
	}
	if m.turnDuration, err = meter.Float64Histogram("conductor.turn_duration_seconds",
		metric.WithDescription("Turn wall-clock duration"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return m, nil
}

// Handler serves the Prometheus scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

// RecordTurn counts a completed turn and its duration. Route is the
// branch that produced the answer (fastpath, direct, plan).
func (m *Metrics) RecordTurn(ctx context.Context, route string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("route", route))
	m.turns.Add(ctx, 1, attrs)
	m.turnDuration.Record(ctx, d.Seconds(), attrs)
}

func (m *Metrics) RecordToolCall(ctx context.Context, tool string, isError bool) {
	if m == nil {
		return
	}
	m.toolCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.Bool("error", isError),
	))
}

func (m *Metrics) RecordReplan(ctx context.Context) {
	if m == nil {
		return
	}
	m.replans.Add(ctx, 1)
}

func (m *Metrics) RecordUsage(ctx context.Context, usage llms.Usage) {
	if m == nil {
		return
	}
	m.tokens.Add(ctx, int64(usage.InputTokens), metric.WithAttributes(attribute.String("direction", "input")))
	m.tokens.Add(ctx, int64(usage.OutputTokens), metric.WithAttributes(attribute.String("direction", "output")))
}
