// Package telemetry configures OpenTelemetry tracing for the guard service.
package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope used by guard components.
const TracerName = "github.com/okian/txguard"

// ErrInvalidSampleRatio is returned when the sample ratio is outside [0,1].
var ErrInvalidSampleRatio = errors.New("telemetry: sample ratio must be within [0,1]")

// ShutdownFunc flushes and stops the tracer provider.
type ShutdownFunc func(ctx context.Context) error

type settings struct {
	serviceName    string
	serviceVersion string
	endpoint       string
	insecure       bool
	sampleRatio    float64
}

// Option configures Init.
type Option func(*settings)

// WithServiceName sets the service.name resource attribute.
func WithServiceName(name string) Option {
	return func(s *settings) {
		if name != "" {
			s.serviceName = name
		}
	}
}

// WithServiceVersion sets the service.version resource attribute.
func WithServiceVersion(v string) Option {
	return func(s *settings) {
		if v != "" {
			s.serviceVersion = v
		}
	}
}

// WithEndpoint sets the OTLP/HTTP collector endpoint (host:port).
// An empty endpoint keeps tracing local: spans are created but not exported.
func WithEndpoint(endpoint string) Option {
	return func(s *settings) { s.endpoint = endpoint }
}

// WithInsecure disables TLS towards the collector.
func WithInsecure(insecure bool) Option {
	return func(s *settings) { s.insecure = insecure }
}

// WithSampleRatio sets the parent-based trace id ratio sampler.
func WithSampleRatio(r float64) Option {
	return func(s *settings) { s.sampleRatio = r }
}

// Init installs a global tracer provider and W3C propagators.
func Init(ctx context.Context, opts ...Option) (ShutdownFunc, error) {
	s := settings{
		serviceName:    "txguard",
		serviceVersion: "dev",
		insecure:       true,
		sampleRatio:    1,
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.sampleRatio < 0 || s.sampleRatio > 1 {
		return nil, ErrInvalidSampleRatio
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(s.serviceName),
			semconv.ServiceVersionKey.String(s.serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create resource: %w", err)
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(s.sampleRatio))),
	}

	if s.endpoint != "" {
		expOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(s.endpoint)}
		if s.insecure {
			expOpts = append(expOpts, otlptracehttp.WithInsecure())
		}
		exporter, err := otlptracehttp.New(ctx, expOpts...)
		if err != nil {
			return nil, fmt.Errorf("telemetry: create OTLP exporter: %w", err)
		}
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp.Shutdown, nil
}

// Tracer returns the guard tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}
