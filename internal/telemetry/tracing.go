// Package telemetry installs the global OpenTelemetry tracer and meter
// providers.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/MrSnakeDoc/lbwatch/internal/version"
)

const (
	ModeNone   = "none"
	ModeStdout = "stdout"
	ModeOTLP   = "otlp"
)

// ErrUnknownMode is returned by Setup for an unsupported tracing mode.
var ErrUnknownMode = errors.New("unknown tracing mode")

// ShutdownFunc flushes pending spans and metrics and stops the exporters.
type ShutdownFunc func(ctx context.Context) error

// Options configures Setup.
type Options struct {
	Mode        string    // none, stdout or otlp
	Endpoint    string    // OTLP gRPC collector, host:port
	ServiceName string    // reported as service.name
	Writer      io.Writer // stdout exporter output, nil = os.Stdout

	// MetricReader backs GET /metrics, nil when it is disabled.
	MetricReader sdkmetric.Reader
	// MetricInterval is the OTLP metric export period, 0 for the SDK default.
	MetricInterval time.Duration
}

// Setup builds a tracer provider for opts.Mode and a meter provider, and
// registers both globally. In ModeNone the no-op tracer provider stays in
// place; the meter provider is installed whenever opts.MetricReader is set
// or metrics are exported.
func Setup(ctx context.Context, opts Options) (ShutdownFunc, error) {
	exporter, err := newExporter(ctx, opts)
	if err != nil {
		return nil, err
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(opts.ServiceName),
		semconv.ServiceVersion(version.Version),
	)

	var shutdowns []ShutdownFunc

	if exporter != nil {
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.TraceContext{})
		shutdowns = append(shutdowns, tp.Shutdown)
	}

	mp, err := newMeterProvider(ctx, opts, res)
	if err != nil {
		return nil, errors.Join(err, shutdownAll(ctx, shutdowns))
	}
	if mp != nil {
		otel.SetMeterProvider(mp)
		shutdowns = append(shutdowns, mp.Shutdown)
	}

	return func(ctx context.Context) error { return shutdownAll(ctx, shutdowns) }, nil
}

func shutdownAll(ctx context.Context, fns []ShutdownFunc) error {
	var errs []error
	for _, fn := range fns {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func newExporter(ctx context.Context, opts Options) (sdktrace.SpanExporter, error) {
	switch opts.Mode {
	case "", ModeNone:
		return nil, nil
	case ModeStdout:
		stdOpts := []stdouttrace.Option{stdouttrace.WithPrettyPrint()}
		if opts.Writer != nil {
			stdOpts = append(stdOpts, stdouttrace.WithWriter(opts.Writer))
		}
		exp, err := stdouttrace.New(stdOpts...)
		if err != nil {
			return nil, fmt.Errorf("create stdout exporter: %w", err)
		}
		return exp, nil
	case ModeOTLP:
		// The gRPC connection is established lazily, an unreachable
		// collector only shows up when spans are exported.
		exp, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(opts.Endpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("create otlp exporter for %s: %w", opts.Endpoint, err)
		}
		return exp, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, opts.Mode)
	}
}
