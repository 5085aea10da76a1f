package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

type Config struct {
	ServiceName    string
	TracingEnabled bool
	JaegerEndpoint string
}

// Observability owns the OpenTelemetry meter and tracer providers.
type Observability struct {
	meterProvider  *metric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer
	queryCounter   otelmetric.Int64Counter
	queryDuration  otelmetric.Float64Histogram
}

// New wires the prometheus meter exporter and, when enabled, a Jaeger span exporter.
// A failing exporter degrades to a no-op rather than aborting startup.
func New(cfg Config) (*Observability, error) {
	o := &Observability{tracer: otel.Tracer(cfg.ServiceName)}

	exporter, err := prometheus.New()
	if err != nil {
		return o, fmt.Errorf("prometheus exporter: %w", err)
	}

	o.meterProvider = metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(o.meterProvider)
	meter := o.meterProvider.Meter(cfg.ServiceName)

	o.queryCounter, _ = meter.Int64Counter(
		"queries.processed",
		otelmetric.WithDescription("Number of queries processed"),
	)
	o.queryDuration, _ = meter.Float64Histogram(
		"queries.duration",
		otelmetric.WithDescription("Query processing duration"),
		otelmetric.WithUnit("ms"),
	)

	if cfg.TracingEnabled && cfg.JaegerEndpoint != "" {
		spanExporter, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.JaegerEndpoint)))
		if err != nil {
			return o, fmt.Errorf("jaeger exporter: %w", err)
		}
		o.tracerProvider = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(spanExporter),
			sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName))),
		)
		otel.SetTracerProvider(o.tracerProvider)
		o.tracer = o.tracerProvider.Tracer(cfg.ServiceName)
	}

	return o, nil
}

// Tracer returns the service tracer (a no-op tracer until tracing is enabled).
func (o *Observability) Tracer() trace.Tracer {
	return o.tracer
}

// RecordQuery counts one orchestrated query and its duration.
func (o *Observability) RecordQuery(ctx context.Context, duration time.Duration, outcome string) {
	attrs := otelmetric.WithAttributes(attribute.String("outcome", outcome))
	if o.queryCounter != nil {
		o.queryCounter.Add(ctx, 1, attrs)
	}
	if o.queryDuration != nil {
		o.queryDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
	}
}

func (o *Observability) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if o.tracerProvider != nil {
		_ = o.tracerProvider.Shutdown(ctx)
	}
	if o.meterProvider != nil {
		_ = o.meterProvider.Shutdown(ctx)
	}
}
