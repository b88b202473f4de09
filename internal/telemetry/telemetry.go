// Package telemetry wires OpenTelemetry tracing and metrics for the engine.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/nexus-scanner/nexus/internal/config"
	"github.com/nexus-scanner/nexus/internal/core"
	"github.com/nexus-scanner/nexus/pkg/types"
)

type telemetry struct {
	tracer         trace.Tracer
	tracerProvider *sdktrace.TracerProvider

	scanCounter    metric.Int64Counter
	scanDuration   metric.Float64Histogram
	findingCounter metric.Int64Counter
	activeScans    metric.Int64UpDownCounter
}

// New builds the OTLP-backed telemetry. When disabled it returns a no-op
// implementation so callers never branch on the config.
func New(ctx context.Context, cfg config.TelemetryConfig) (core.Telemetry, error) {
	if !cfg.Enabled {
		return Noop(), nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion("1.0.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	client := otlptracehttp.NewClient(
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithInsecure(),
	)
	exporter, err := otlptrace.New(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SampleRate)),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	meter := otel.Meter(cfg.ServiceName)

	scanCounter, err := meter.Int64Counter("nexus.scans.total",
		metric.WithDescription("Total number of scans"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	scanDuration, err := meter.Float64Histogram("nexus.scan.duration",
		metric.WithDescription("Scan duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	findingCounter, err := meter.Int64Counter("nexus.findings.total",
		metric.WithDescription("Total number of findings"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	activeScans, err := meter.Int64UpDownCounter("nexus.scans.active",
		metric.WithDescription("Number of scans currently running"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return &telemetry{
		tracer:         tp.Tracer(cfg.ServiceName),
		tracerProvider: tp,
		scanCounter:    scanCounter,
		scanDuration:   scanDuration,
		findingCounter: findingCounter,
		activeScans:    activeScans,
	}, nil
}

func (t *telemetry) RecordScan(ctx context.Context, status types.ScanStatus, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("scan.status", string(status)),
	}
	t.scanCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	t.scanDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

func (t *telemetry) RecordFinding(ctx context.Context, severity types.Severity) {
	t.findingCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("finding.severity", string(severity)),
	))
}

func (t *telemetry) ScanStarted(ctx context.Context) {
	t.activeScans.Add(ctx, 1)
}

func (t *telemetry) ScanFinished(ctx context.Context) {
	t.activeScans.Add(ctx, -1)
}

func (t *telemetry) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return t.tracerProvider.Shutdown(ctx)
}

// Noop returns a telemetry that records nothing.
func Noop() core.Telemetry { return &noop{} }

type noop struct{}

func (n *noop) RecordScan(ctx context.Context, status types.ScanStatus, duration time.Duration) {}
func (n *noop) RecordFinding(ctx context.Context, severity types.Severity)                      {}
func (n *noop) ScanStarted(ctx context.Context)                                                 {}
func (n *noop) ScanFinished(ctx context.Context)                                                {}
func (n *noop) Close(ctx context.Context) error                                                 { return nil }
