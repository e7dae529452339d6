// Package telemetry initializes OpenTelemetry tracing and metrics exporters
// and defines the instruments the epoch engine records.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Export cadence for the OTLP pipelines.
const (
	traceBatchTimeout = 5 * time.Second
	metricInterval    = 15 * time.Second
)

// Shutdown flushes and stops the providers installed by Init.
type Shutdown func(ctx context.Context) error

// Init installs global OTLP/HTTP tracer and meter providers for endpoint.
// An empty endpoint leaves the no-op providers in place. The returned
// Shutdown must run during graceful shutdown so the last epoch's spans and
// counters are exported.
func Init(ctx context.Context, endpoint, serviceName, version string, insecure bool) (Shutdown, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create resource: %w", err)
	}

	tp, err := newTracerProvider(ctx, endpoint, insecure, res)
	if err != nil {
		return nil, err
	}
	mp, err := newMeterProvider(ctx, endpoint, insecure, res)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, err
	}

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	// W3C Trace Context and Baggage, so oracle calls carry the epoch span.
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

func newTracerProvider(ctx context.Context, endpoint string, insecure bool, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
	if insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exp, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create trace exporter: %w", err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp, sdktrace.WithBatchTimeout(traceBatchTimeout)),
		sdktrace.WithResource(res),
	), nil
}

func newMeterProvider(ctx context.Context, endpoint string, insecure bool, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(endpoint)}
	if insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	exp, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create metric exporter: %w", err)
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(metricInterval))),
		sdkmetric.WithResource(res),
	), nil
}

// Meter returns the global meter for the given instrumentation scope.
func Meter(name string) metric.Meter {
	return otel.GetMeterProvider().Meter(name)
}

// Tracer returns the global tracer for the given instrumentation scope.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// EngineInstruments are the per-epoch measurements.
type EngineInstruments struct {
	EpochDuration  metric.Float64Histogram
	Trades         metric.Int64Counter
	Volume         metric.Float64Counter
	Bankruptcies   metric.Int64Counter
	AnchorFailures metric.Int64Counter
}

// NewEngineInstruments registers the engine instruments on m. Instrument
// creation only fails on invalid names, so errors are joined and returned
// for the caller to log.
func NewEngineInstruments(m metric.Meter) (EngineInstruments, error) {
	var (
		in   EngineInstruments
		errs []error
		err  error
	)
	in.EpochDuration, err = m.Float64Histogram("ichiba.epoch.duration",
		metric.WithDescription("Wall time of one epoch (ms)"), metric.WithUnit("ms"))
	errs = append(errs, err)
	in.Trades, err = m.Int64Counter("ichiba.trades",
		metric.WithDescription("Committed trades, by matching phase"))
	errs = append(errs, err)
	in.Volume, err = m.Float64Counter("ichiba.volume",
		metric.WithDescription("Committed trade volume in currency units"))
	errs = append(errs, err)
	in.Bankruptcies, err = m.Int64Counter("ichiba.bankruptcies",
		metric.WithDescription("Agents retired for insolvency"))
	errs = append(errs, err)
	in.AnchorFailures, err = m.Int64Counter("ichiba.anchor.failures",
		metric.WithDescription("Epochs left unanchored after commit"))
	errs = append(errs, err)
	return in, errors.Join(errs...)
}
