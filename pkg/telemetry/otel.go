package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	tracetype "go.opentelemetry.io/otel/trace"
)

// Options selects which stdout exporters are attached.
// Metrics always go to the Prometheus exporter.
type Options struct {
	ServiceName    string
	ServiceVersion string
	StdoutTrace    bool
	StdoutLogs     bool
}

// Telemetry owns the installed OTel providers
type Telemetry struct {
	tp *trace.TracerProvider
	mp *sdkmetric.MeterProvider
	lp *sdklog.LoggerProvider
}

// Setup installs providers with both stdout exporters attached
func Setup(serviceName string) (*Telemetry, error) {
	return SetupWithOptions(Options{ServiceName: serviceName, StdoutTrace: true, StdoutLogs: true})
}

// SetupWithOptions installs the global trace, meter and log providers and
// registers the arbitrage instruments on the meter
func SetupWithOptions(opts Options) (*Telemetry, error) {
	attrs := []resource.Option{resource.WithAttributes(semconv.ServiceName(opts.ServiceName))}
	if opts.ServiceVersion != "" {
		attrs = append(attrs, resource.WithAttributes(semconv.ServiceVersion(opts.ServiceVersion)))
	}
	res, err := resource.New(context.Background(), attrs...)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp, err := newTracerProvider(res, opts.StdoutTrace)
	if err != nil {
		return nil, err
	}
	mp, err := newMeterProvider(res)
	if err != nil {
		return nil, err
	}
	lp, err := newLoggerProvider(res, opts.StdoutLogs)
	if err != nil {
		return nil, err
	}

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	global.SetLoggerProvider(lp)

	if err := GetGlobalMetrics().InitMetrics(mp.Meter(opts.ServiceName)); err != nil {
		return nil, fmt.Errorf("failed to init metrics: %w", err)
	}
	return &Telemetry{tp: tp, mp: mp, lp: lp}, nil
}

func newTracerProvider(res *resource.Resource, stdout bool) (*trace.TracerProvider, error) {
	opts := []trace.TracerProviderOption{trace.WithResource(res)}
	if stdout {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		opts = append(opts, trace.WithBatcher(exp))
	}
	return trace.NewTracerProvider(opts...), nil
}

// newMeterProvider exports through the default Prometheus registry that
// the /metrics handler serves
func newMeterProvider(res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	exp, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}
	return sdkmetric.NewMeterProvider(sdkmetric.WithReader(exp), sdkmetric.WithResource(res)), nil
}

func newLoggerProvider(res *resource.Resource, stdout bool) (*sdklog.LoggerProvider, error) {
	opts := []sdklog.LoggerProviderOption{sdklog.WithResource(res)}
	if stdout {
		exp, err := stdoutlog.New(stdoutlog.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create log exporter: %w", err)
		}
		opts = append(opts, sdklog.WithProcessor(sdklog.NewBatchProcessor(exp)))
	}
	return sdklog.NewLoggerProvider(opts...), nil
}

// Shutdown flushes and stops every provider, returning all failures
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if err := t.tp.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("trace provider: %w", err))
	}
	if err := t.mp.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("meter provider: %w", err))
	}
	if err := t.lp.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("log provider: %w", err))
	}
	return errors.Join(errs...)
}

func GetMeter(name string) metric.Meter {
	return otel.GetMeterProvider().Meter(name)
}

func GetTracer(name string) tracetype.Tracer {
	return otel.GetTracerProvider().Tracer(name)
}
