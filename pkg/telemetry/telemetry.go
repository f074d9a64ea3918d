// Package telemetry wires OpenTelemetry metrics with a Prometheus exporter.
// The Metrics struct fields are named for the observability hooks this
// module's operations require (queries_total, responses_total,
// query_duration, cache_ops, cache_size, upstream_queries,
// upstream_duration, rate_limit_events, security_events,
// circuit_breaker_state); the metrics transport wire format itself is out
// of scope — Prometheus/OTel are the transport used here, not a
// requirement every caller must match.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/wardendns/warden/pkg/config"
	"github.com/wardendns/warden/pkg/logging"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// Telemetry owns the meter provider and (optionally) a Prometheus HTTP
// endpoint for it.
type Telemetry struct {
	cfg      config.TelemetryConfig
	provider metric.MeterProvider
	server   *http.Server
	logger   *logging.Logger
	Metrics  *Metrics
}

// Metrics holds every counter/gauge/histogram this server exports.
type Metrics struct {
	QueriesTotal        metric.Int64Counter   // queries_total{protocol,qtype,zone}
	ResponsesTotal       metric.Int64Counter   // responses_total{rcode,protocol,qtype}
	QueryDuration        metric.Float64Histogram // query_duration{protocol,qtype,cache_hit}
	CacheOps             metric.Int64Counter   // cache_ops{op,qtype}
	CacheSize            metric.Int64UpDownCounter
	UpstreamQueries      metric.Int64Counter   // upstream_queries{upstream,status}
	UpstreamDuration     metric.Float64Histogram // upstream_duration{upstream}
	RateLimitEvents      metric.Int64Counter   // rate_limit_events{action,client_class}
	SecurityEvents       metric.Int64Counter   // security_events{kind,severity,action}
	CircuitBreakerState  metric.Int64UpDownCounter // circuit_breaker_state{upstream}
}

// New builds a Telemetry instance. When disabled it returns a fully
// functional no-op provider (matching its noop.NewMeterProvider
// fallback) so callers never need a nil check.
func New(ctx context.Context, cfg config.TelemetryConfig, logger *logging.Logger) (*Telemetry, error) {
	if !cfg.Enabled {
		logger.Info("telemetry disabled")
		t := &Telemetry{cfg: cfg, provider: noop.NewMeterProvider(), logger: logger}
		t.Metrics = buildMetrics(t.provider)
		return t, nil
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	t := &Telemetry{cfg: cfg, logger: logger}

	if cfg.PrometheusEnabled {
		exporter, err := prometheus.New()
		if err != nil {
			return nil, fmt.Errorf("telemetry: prometheus exporter: %w", err)
		}
		provider := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(exporter))
		t.provider = provider
		otel.SetMeterProvider(provider)

		if err := t.startPrometheusServer(); err != nil {
			return nil, err
		}
	} else {
		t.provider = noop.NewMeterProvider()
	}

	t.Metrics = buildMetrics(t.provider)
	logger.Info("telemetry initialized", "prometheus", cfg.PrometheusEnabled, "port", cfg.PrometheusPort)
	return t, nil
}

func buildMetrics(provider metric.MeterProvider) *Metrics {
	meter := provider.Meter("warden")

	m := &Metrics{}
	m.QueriesTotal, _ = meter.Int64Counter("queries_total")
	m.ResponsesTotal, _ = meter.Int64Counter("responses_total")
	m.QueryDuration, _ = meter.Float64Histogram("query_duration_seconds")
	m.CacheOps, _ = meter.Int64Counter("cache_ops")
	m.CacheSize, _ = meter.Int64UpDownCounter("cache_size")
	m.UpstreamQueries, _ = meter.Int64Counter("upstream_queries")
	m.UpstreamDuration, _ = meter.Float64Histogram("upstream_duration_seconds")
	m.RateLimitEvents, _ = meter.Int64Counter("rate_limit_events")
	m.SecurityEvents, _ = meter.Int64Counter("security_events")
	m.CircuitBreakerState, _ = meter.Int64UpDownCounter("circuit_breaker_state")
	return m
}

func (t *Telemetry) startPrometheusServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	t.server = &http.Server{Addr: fmt.Sprintf(":%d", t.cfg.PrometheusPort), Handler: mux}

	go func() {
		if err := t.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.logger.Error("prometheus server error", "error", err)
		}
	}()
	return nil
}

// Shutdown stops the Prometheus HTTP server if one was started.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return t.server.Shutdown(shutdownCtx)
}
