// Package telemetry sets up tracing and the prometheus collectors served on
// /metrics.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/mohammad-safakhou/contentpipe/config"
)

// Telemetry encapsulates tracer and meter providers.
type Telemetry struct {
	tp *sdktrace.TracerProvider
	mp *sdkmetric.MeterProvider
}

// Options configures telemetry initialization.
type Options struct {
	ServiceVersion string
	// Registry receives the otel prometheus exporter. Nil skips it.
	Registry *prometheus.Registry
}

// Setup installs global tracer and meter providers. When telemetry is
// disabled the otel no-op globals stay in place.
func Setup(ctx context.Context, cfg config.TelemetryConfig, opts Options) (*Telemetry, error) {
	if !cfg.Enabled {
		return &Telemetry{}, nil
	}
	name := cfg.ServiceName
	if name == "" {
		name = "contentpipe"
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(name),
			attribute.String("service.namespace", "contentpipe"),
			attribute.String("service.version", opts.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("resource init: %w", err)
	}

	endpoint := cfg.OTLPEndpoint
	if endpoint == "" {
		endpoint = "localhost:4317"
	}
	traceExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("otlp init: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	readers := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if opts.Registry != nil {
		promExporter, err := promexporter.New(promexporter.WithRegisterer(opts.Registry))
		if err != nil {
			return nil, fmt.Errorf("prom exporter: %w", err)
		}
		readers = append(readers, sdkmetric.WithReader(promExporter))
	}
	metricExporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("otlp metric init: %w", err)
	}
	readers = append(readers, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(15*time.Second))))
	mp := sdkmetric.NewMeterProvider(readers...)
	otel.SetMeterProvider(mp)

	return &Telemetry{tp: tp, mp: mp}, nil
}

// Shutdown flushes providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	var errs []error
	if t.tp != nil {
		if err := t.tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("trace shutdown: %w", err))
		}
	}
	if t.mp != nil {
		if err := t.mp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metric shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}
