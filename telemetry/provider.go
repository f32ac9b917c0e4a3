package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/lighthouse/bridge/core"
)

// Provider implements core.Telemetry with OpenTelemetry, exporting both
// traces and metrics over OTLP/HTTP. It holds no package-level state;
// every bridge component that wants spans/metrics is handed one explicitly
// at construction.
type Provider struct {
	tracer         trace.Tracer
	metrics        *MetricInstruments
	traceProvider  *sdktrace.TracerProvider
	metricProvider *sdkmetric.MeterProvider

	mu       sync.RWMutex
	shutdown bool
}

// NewProvider creates a Provider exporting to endpoint (an OTLP/HTTP
// collector address, e.g. "localhost:4318"). serviceName tags every span
// and metric via the OTel resource.
func NewProvider(serviceName, endpoint string) (*Provider, error) {
	if serviceName == "" {
		return nil, fmt.Errorf("telemetry: service name required: %w", core.ErrInvalidConfiguration)
	}
	if endpoint == "" {
		endpoint = "localhost:4318"
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(serviceName),
		semconv.ServiceVersionKey.String("1.0.0"),
	)

	ctx := context.Background()

	traceExporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create trace exporter for %s: %w", endpoint, err)
	}

	metricExporter, err := otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpoint(endpoint),
		otlpmetrichttp.WithInsecure(),
	)
	if err != nil {
		_ = traceExporter.Shutdown(ctx)
		return nil, fmt.Errorf("telemetry: create metric exporter for %s: %w", endpoint, err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(30*time.Second))),
		sdkmetric.WithResource(res),
	)

	otel.SetTextMapPropagator(propagation.TraceContext{})

	return &Provider{
		tracer:         tp.Tracer("lighthouse-bridge"),
		metrics:        NewMetricInstruments(mp.Meter("lighthouse-bridge")),
		traceProvider:  tp,
		metricProvider: mp,
	}, nil
}

// StartSpan implements core.Telemetry.
func (p *Provider) StartSpan(ctx context.Context, name string) (context.Context, core.Span) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.shutdown || p.tracer == nil {
		return ctx, &core.NoOpSpan{}
	}
	ctx, span := p.tracer.Start(ctx, name)
	return ctx, &otelSpan{span: span}
}

// RecordMetric implements core.Telemetry, routing to a histogram or
// counter instrument based on the metric name's suffix.
func (p *Provider) RecordMetric(name string, value float64, labels map[string]string) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.shutdown || p.metrics == nil {
		return
	}

	var attrs []attribute.KeyValue
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, v))
	}

	ctx := context.Background()
	switch {
	case hasAnySuffix(name, "count", "total", "errors", "violations"):
		_ = p.metrics.RecordCounter(ctx, name, int64(value), metric.WithAttributes(attrs...))
	default:
		_ = p.metrics.RecordHistogram(ctx, name, value, metric.WithAttributes(attrs...))
	}
}

func hasAnySuffix(name string, suffixes ...string) bool {
	for _, s := range suffixes {
		if len(name) >= len(s) && name[len(name)-len(s):] == s {
			return true
		}
	}
	return false
}

// Shutdown flushes pending spans/metrics and releases exporters. Further
// StartSpan/RecordMetric calls become no-ops.
func (p *Provider) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return nil
	}
	p.shutdown = true
	p.mu.Unlock()

	var errs []error
	if err := p.traceProvider.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := p.metricProvider.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("telemetry: shutdown errors: %v", errs)
	}
	return nil
}

type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End() { s.span.End() }

func (s *otelSpan) SetAttribute(key string, value interface{}) {
	switch v := value.(type) {
	case string:
		s.span.SetAttributes(attribute.String(key, v))
	case int:
		s.span.SetAttributes(attribute.Int(key, v))
	case int64:
		s.span.SetAttributes(attribute.Int64(key, v))
	case float64:
		s.span.SetAttributes(attribute.Float64(key, v))
	case bool:
		s.span.SetAttributes(attribute.Bool(key, v))
	default:
		s.span.SetAttributes(attribute.String(key, fmt.Sprintf("%v", v)))
	}
}

func (s *otelSpan) RecordError(err error) {
	s.span.RecordError(err)
}
