package tracer

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"openlegalrag/internal/config"
	"openlegalrag/internal/pkg/logger"
)

const moduleTracer = "platform.tracer"

// Init installs an OTLP/HTTP tracer provider when tracing is enabled and
// returns its shutdown function. With tracing disabled the global no-op
// provider stays in place and shutdown does nothing.
func Init(ctx context.Context, cfg config.TracingConfig, serviceName string, log logger.ILogger) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	if !cfg.Enabled {
		log.Debug(moduleTracer, "tracing disabled", nil)
		return noop, nil
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return noop, fmt.Errorf("create otlp exporter failed: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", serviceName),
		)),
	)
	otel.SetTracerProvider(tp)
	log.Info(moduleTracer, "tracing enabled", map[string]interface{}{"endpoint": cfg.Endpoint})
	return tp.Shutdown, nil
}
