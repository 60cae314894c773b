// Package telemetry sets up OpenTelemetry tracing for the command line
// tools. Spans are no-ops until Init is called with tracing enabled.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// TracerName names the tracer every package uses.
const TracerName = "wasm-coredump"

// Config holds OpenTelemetry configuration.
type Config struct {
	Enabled     bool   `mapstructure:"enabled"`
	ExporterURL string `mapstructure:"exporter_url"`
	ServiceName string `mapstructure:"service_name"`
}

// Init installs an OTLP/HTTP trace provider and returns its cleanup
// function. The exporter connects lazily, so an unreachable collector does
// not make Init fail.
func Init(ctx context.Context, config Config) (func(), error) {
	if !config.Enabled {
		return func() {}, nil
	}
	if config.ServiceName == "" {
		config.ServiceName = TracerName
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(config.ExporterURL),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(config.ServiceName),
			semconv.ServiceVersionKey.String("dev"),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(ctx)
	}, nil
}

// GetTracer returns the global tracer.
func GetTracer() oteltrace.Tracer {
	return otel.Tracer(TracerName)
}
