// Package tracing installs the OpenTelemetry tracer provider. Tracing is off
// unless PIPEBOARD_TRACE_STDOUT=true, in which case spans are written to
// stdout.
package tracing

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/pipeboard/pipeboard/internal/platform/env"
)

const Scope = "github.com/pipeboard/pipeboard"

type Config struct {
	Service string
	Stdout  bool
}

func ConfigFromEnv(service string) (Config, error) {
	stdout, err := env.Bool("PIPEBOARD_TRACE_STDOUT", false)
	if err != nil {
		return Config{}, err
	}
	return Config{Service: service, Stdout: stdout}, nil
}

// Init installs a global tracer provider and returns its shutdown func.
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	return initWithWriter(ctx, cfg, os.Stdout)
}

func initWithWriter(ctx context.Context, cfg Config, w io.Writer) (func(context.Context) error, error) {
	if !cfg.Stdout {
		otel.SetTracerProvider(tracenoop.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx, resource.WithAttributes(attribute.String("service.name", cfg.Service)))
	if err != nil {
		return nil, fmt.Errorf("tracing: resource: %w", err)
	}
	exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("tracing: stdout exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithBatcher(exp),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

func Tracer(name string) trace.Tracer {
	if name == "" {
		name = Scope
	}
	return otel.Tracer(name)
}
