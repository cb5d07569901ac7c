// Package tracing installs the process OpenTelemetry tracer provider.
package tracing

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/opensource-finance/heron/internal/domain"
)

// Setup installs the W3C trace-context propagator and, when tracing is
// enabled, an SDK tracer provider so every span carries a real trace id
// that request logs and X-Trace-ID headers share. When disabled the global
// no-op provider stays in place and only upstream trace ids propagate. The
// returned function flushes and shuts the provider down.
//
// TODO: register an OTLP exporter once a collector endpoint is configurable.
func Setup(cfg domain.TracingConfig) func(context.Context) error {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if !cfg.Enabled {
		return func(context.Context) error { return nil }
	}

	name := cfg.ServiceName
	if name == "" {
		name = "heron"
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", name))),
	)
	otel.SetTracerProvider(tp)

	slog.Info("tracing enabled", "service_name", name)
	return tp.Shutdown
}
