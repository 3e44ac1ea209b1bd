// Package telemetry installs the process-wide OpenTelemetry tracer provider.
package telemetry

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Config configures tracing.
type Config struct {
	// ServiceName is reported as service.name on every span.
	ServiceName string

	// Endpoint is the OTLP/HTTP collector base URL, e.g.
	// http://localhost:4318. Empty keeps spans in process only.
	Endpoint string

	// SampleRatio is the fraction of root spans sampled (0 = always sample).
	SampleRatio float64

	// ExportTimeout bounds each export request (0 = 10 seconds).
	ExportTimeout time.Duration
}

// DefaultConfig returns a config for service execd with no exporter.
func DefaultConfig() Config {
	return Config{
		ServiceName:   "execd",
		ExportTimeout: 10 * time.Second,
	}
}

// ShutdownFunc flushes pending spans and stops the provider.
type ShutdownFunc func(ctx context.Context) error

// Init builds a tracer provider from config and installs it globally along
// with the W3C trace context propagator.
func Init(ctx context.Context, config Config) (*sdktrace.TracerProvider, ShutdownFunc, error) {
	if config.ServiceName == "" {
		config.ServiceName = "execd"
	}
	if config.ExportTimeout <= 0 {
		config.ExportTimeout = 10 * time.Second
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", config.ServiceName),
	))
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	sampler := sdktrace.AlwaysSample()
	if config.SampleRatio > 0 && config.SampleRatio < 1 {
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(config.SampleRatio))
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	}

	if config.Endpoint != "" {
		exporter, err := newExporter(ctx, config)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	provider := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return provider, provider.Shutdown, nil
}

func newExporter(ctx context.Context, config Config) (*otlptrace.Exporter, error) {
	u, err := url.Parse(config.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("telemetry: parse endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("telemetry: endpoint %q must be an http or https URL", config.Endpoint)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/v1/traces"
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpointURL(u.String()),
		otlptracehttp.WithTimeout(config.ExportTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create exporter: %w", err)
	}
	return exporter, nil
}
