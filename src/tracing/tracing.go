// Package tracing bootstraps the OpenTelemetry SDK for traces, metrics and
// logs.
package tracing

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

type ExporterType string

const (
	ExporterTypeStdout   ExporterType = "stdout"
	ExporterTypeOTLP     ExporterType = "otlp"
	ExporterTypeOTLPHTTP ExporterType = "otlp-http"
	ExporterTypeNone     ExporterType = "none"
)

// ParseExporterType maps a configuration value to an exporter type. Unknown
// and empty values disable exporting.
func ParseExporterType(value string) ExporterType {
	switch t := ExporterType(strings.ToLower(strings.TrimSpace(value))); t {
	case ExporterTypeStdout, ExporterTypeOTLP, ExporterTypeOTLPHTTP:
		return t
	default:
		return ExporterTypeNone
	}
}

// Config describes the service reported in every resource.
type Config struct {
	ExporterType   ExporterType
	ServiceName    string
	ServiceVersion string
}

// SetupOTelSDK bootstraps the OpenTelemetry pipeline.
// If it does not return an error, make sure to call shutdown for proper cleanup.
func SetupOTelSDK(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	log.Printf("Setting up OpenTelemetry with exporter: %s", cfg.ExporterType)
	var shutdownFuncs []func(context.Context) error
	var err error

	// shutdown calls cleanup functions registered via shutdownFuncs.
	// The errors from the calls are joined.
	// Each registered cleanup will be invoked once.
	shutdown := func(ctx context.Context) error {
		var err error
		for _, fn := range shutdownFuncs {
			err = errors.Join(err, fn(ctx))
		}
		shutdownFuncs = nil
		return err
	}

	// handleErr calls shutdown for cleanup and makes sure that all errors are returned.
	handleErr := func(inErr error) {
		err = errors.Join(inErr, shutdown(ctx))
	}

	otel.SetTextMapPropagator(newPropagator())

	res, err := newResource(ctx, cfg)
	if err != nil {
		handleErr(err)
		return shutdown, err
	}

	tracerProvider, err := newTracerProvider(ctx, cfg.ExporterType, res)
	if err != nil {
		handleErr(err)
		return shutdown, err
	}
	shutdownFuncs = append(shutdownFuncs, tracerProvider.Shutdown)
	otel.SetTracerProvider(tracerProvider)

	meterProvider, err := newMeterProvider(cfg.ExporterType, res)
	if err != nil {
		handleErr(err)
		return shutdown, err
	}
	shutdownFuncs = append(shutdownFuncs, meterProvider.Shutdown)
	otel.SetMeterProvider(meterProvider)

	loggerProvider, err := newLoggerProvider(cfg.ExporterType, res)
	if err != nil {
		handleErr(err)
		return shutdown, err
	}
	shutdownFuncs = append(shutdownFuncs, loggerProvider.Shutdown)
	global.SetLoggerProvider(loggerProvider)

	return shutdown, err
}

func newPropagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
}

func newResource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	name := cfg.ServiceName
	if name == "" {
		name = "iptvmerge"
	}

	return resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(name),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		),
	)
}

func newTracerProvider(ctx context.Context, exporterType ExporterType, res *resource.Resource) (*trace.TracerProvider, error) {
	traceExporter, err := newSpanExporter(ctx, exporterType)
	if err != nil {
		return nil, err
	}

	opts := []trace.TracerProviderOption{
		trace.WithResource(res),
	}

	if traceExporter != nil {
		opts = append(opts, trace.WithBatcher(traceExporter,
			trace.WithBatchTimeout(time.Second)))
	}

	return trace.NewTracerProvider(opts...), nil
}

func newSpanExporter(ctx context.Context, exporterType ExporterType) (trace.SpanExporter, error) {
	switch exporterType {
	case ExporterTypeOTLP:
		return otlptracegrpc.New(ctx)
	case ExporterTypeOTLPHTTP:
		return otlptracehttp.New(ctx)
	case ExporterTypeStdout:
		return stdouttrace.New(
			stdouttrace.WithPrettyPrint())
	default:
		return nil, nil
	}
}

// newMeterProvider exports metrics only to stdout. Other exporter types get
// a provider without reader so instruments stay cheap no-ops.
func newMeterProvider(exporterType ExporterType, res *resource.Resource) (*metric.MeterProvider, error) {
	opts := []metric.Option{metric.WithResource(res)}

	if exporterType == ExporterTypeStdout {
		metricExporter, err := stdoutmetric.New()
		if err != nil {
			return nil, err
		}
		opts = append(opts, metric.WithReader(metric.NewPeriodicReader(metricExporter,
			metric.WithInterval(30*time.Second))))
	}

	return metric.NewMeterProvider(opts...), nil
}

func newLoggerProvider(exporterType ExporterType, res *resource.Resource) (*sdklog.LoggerProvider, error) {
	opts := []sdklog.LoggerProviderOption{sdklog.WithResource(res)}

	if exporterType == ExporterTypeStdout {
		logExporter, err := stdoutlog.New()
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)))
	}

	return sdklog.NewLoggerProvider(opts...), nil
}
