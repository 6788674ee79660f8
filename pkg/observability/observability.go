// Package observability wires structured logging and OpenTelemetry tracing
// for the control plane.
package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config configures logging and tracing.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string // e.g. "localhost:4317" for gRPC
	BatchTimeout   time.Duration
	TracingEnabled bool
	Insecure       bool
	LogLevel       slog.Level
}

// DefaultConfig returns build-mode defaults. Tracing is off until an OTLP
// endpoint is deployed alongside the runtime.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "foundry-core",
		ServiceVersion: "0.1.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		BatchTimeout:   5 * time.Second,
		TracingEnabled: false,
		Insecure:       true,
		LogLevel:       slog.LevelInfo,
	}
}

// NewLogger builds the process logger: JSON lines to w, one record per
// control-plane decision.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// Provider owns the tracer provider lifecycle.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	logger         *slog.Logger
}

// New sets up the global tracer provider and propagators. With tracing
// disabled it returns a no-op provider.
func New(ctx context.Context, config *Config, logger *slog.Logger) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Provider{
		config: config,
		logger: logger.With("component", "observability"),
	}

	if !config.TracingEnabled {
		p.logger.InfoContext(ctx, "tracing disabled")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: create resource: %w", err)
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(config.OTLPEndpoint)}
	if config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("observability: create trace exporter: %w", err)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(config.BatchTimeout)),
	)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	p.logger.InfoContext(ctx, "tracing initialized",
		"service", config.ServiceName,
		"endpoint", config.OTLPEndpoint,
	)
	return p, nil
}

// Tracer returns a tracer from the configured provider.
func (p *Provider) Tracer() trace.Tracer {
	return otel.Tracer(p.config.ServiceName)
}

// Shutdown flushes and stops the tracer provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider == nil {
		return nil
	}
	if err := p.tracerProvider.Shutdown(ctx); err != nil {
		p.logger.ErrorContext(ctx, "failed to shutdown trace provider", "error", err)
		return err
	}
	return nil
}
