// Package telemetry wires OpenTelemetry tracing for sweeps and engine
// invocations.
package telemetry

import (
	"context"
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Settings are read from the environment.
type Settings struct {
	Endpoint string `env:"CHAOSRUN_OTEL_ENDPOINT"`
	Enabled  string `env:"CHAOSRUN_OTEL_ENABLED"`
}

// Active reports whether tracing should be exported.
func (s Settings) Active() bool {
	return s.Endpoint != "" && !strings.EqualFold(s.Enabled, "false")
}

// Shutdown flushes pending spans.
type Shutdown func(context.Context) error

// Setup initialises tracing for serviceName.
//
// Tracing is opt-in: when CHAOSRUN_OTEL_ENDPOINT is empty or
// CHAOSRUN_OTEL_ENABLED is "false", Setup returns a no-op shutdown and the
// global provider stays the default no-op one.
func Setup(ctx context.Context, serviceName, version string) (Shutdown, error) {
	noop := func(context.Context) error { return nil }

	var s Settings
	if err := env.Parse(&s); err != nil {
		return noop, fmt.Errorf("parse env: %w", err)
	}
	if !s.Active() {
		return noop, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(s.Endpoint))
	if err != nil {
		return noop, fmt.Errorf("creating trace exporter: %w", err)
	}
	return install(ctx, exporter, serviceName, version)
}

func install(ctx context.Context, exporter sdktrace.SpanExporter, serviceName, version string) (Shutdown, error) {
	noop := func(context.Context) error { return nil }

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return noop, fmt.Errorf("building resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return tp.Shutdown, nil
}
