// Package telemetry wires the OTLP exporters and the slog fanout for
// batch runs. The HTTP service configures its own exporters through
// the autoexport env variables instead.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/google/uuid"
	sloglogrus "github.com/samber/slog-logrus/v2"
	slogmulti "github.com/samber/slog-multi"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
	"golang.org/x/sync/errgroup"
)

// Pipeline owns the three signal providers for a run. Init returns it
// fully populated or not at all.
type Pipeline struct {
	log *slog.Logger

	traces  *trace.TracerProvider
	metrics *metric.MeterProvider
	logs    *log.LoggerProvider
}

// Init points the OTLP exporters at endpoint and swaps the default
// slog logger for a fanout to the otel bridge and logrus. An empty
// endpoint disables telemetry and yields (nil, nil).
func Init(ctx context.Context, service, endpoint string) (*Pipeline, error) {
	if endpoint == "" {
		return nil, nil
	}

	p := &Pipeline{log: slog.With("component", "telemetry")}
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(cause error) {
		p.log.ErrorContext(ctx, "otel error", "error", cause.Error())
	}))

	res, err := runResource(service)
	if err != nil {
		return nil, err
	}

	if p.metrics, err = newMeterProvider(ctx, res, endpoint); err != nil {
		return nil, err
	}
	otel.SetMeterProvider(p.metrics)
	if err := markUp(ctx, service); err != nil {
		return nil, err
	}
	p.log.InfoContext(ctx, "metrics provider initialized")

	if p.traces, err = newTracerProvider(ctx, res, endpoint); err != nil {
		return nil, err
	}
	otel.SetTracerProvider(p.traces)
	p.log.InfoContext(ctx, "tracing provider initialized")

	if p.logs, err = newLoggerProvider(ctx, res, endpoint); err != nil {
		return nil, err
	}
	installDefaultLogger(p.logs)
	p.log.InfoContext(ctx, "logger provider initialized")

	// recreate the component logger on the new default
	p.log = slog.With("component", "telemetry")

	runtime.SetMutexProfileFraction(5)
	runtime.SetBlockProfileRate(5)

	return p, nil
}

func (p *Pipeline) Flush(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.metrics.ForceFlush(ctx) })
	g.Go(func() error { return p.traces.ForceFlush(ctx) })
	g.Go(func() error { return p.logs.ForceFlush(ctx) })
	return g.Wait()
}

// Close shuts the providers down, logging failures rather than
// returning them. The logger provider goes down last.
func (p *Pipeline) Close(ctx context.Context) {
	stages := []struct {
		name     string
		shutdown func(context.Context) error
	}{
		{"metric", p.metrics.Shutdown},
		{"tracer", p.traces.Shutdown},
		{"logger", p.logs.Shutdown},
	}
	for _, stage := range stages {
		if err := stage.shutdown(ctx); err != nil {
			p.log.ErrorContext(ctx, "error shutting down provider", "provider", stage.name, "error", err.Error())
		}
	}
}

func runResource(service string) (*resource.Resource, error) {
	host, _ := os.Hostname()
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
			semconv.HostName(host),
			semconv.ServiceInstanceID(uuid.NewString()),
		),
	)
}

// newMeterProvider pairs the OTLP push exporter with a pull-based
// prometheus reader.
func newMeterProvider(ctx context.Context, res *resource.Resource, endpoint string) (*metric.MeterProvider, error) {
	otlp, err := otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpoint(endpoint),
		otlpmetrichttp.WithRetry(otlpmetrichttp.RetryConfig{Enabled: false}),
	)
	if err != nil {
		return nil, err
	}
	prom, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize prometheus exporter: %w", err)
	}
	return metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(metric.NewPeriodicReader(otlp)),
		metric.WithReader(prom),
	), nil
}

// markUp emits the up counter once at startup.
func markUp(ctx context.Context, service string) error {
	counter, err := otel.Meter(service + "/telemetry").Int64Counter("up")
	if err != nil {
		return err
	}
	counter.Add(ctx, 1)
	return nil
}

func newTracerProvider(ctx context.Context, res *resource.Resource, endpoint string) (*trace.TracerProvider, error) {
	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithRetry(otlptracehttp.RetryConfig{Enabled: false}),
	)
	if err != nil {
		return nil, err
	}
	return trace.NewTracerProvider(
		trace.WithResource(res),
		trace.WithBatcher(exporter, trace.WithExportTimeout(time.Second)),
	), nil
}

func newLoggerProvider(ctx context.Context, res *resource.Resource, endpoint string) (*log.LoggerProvider, error) {
	exporter, err := otlploghttp.New(ctx,
		otlploghttp.WithEndpoint(endpoint),
		otlploghttp.WithRetry(otlploghttp.RetryConfig{Enabled: false}),
	)
	if err != nil {
		return nil, err
	}
	return log.NewLoggerProvider(
		log.WithResource(res),
		log.WithProcessor(log.NewBatchProcessor(exporter, log.WithExportInterval(time.Second))),
	), nil
}

func installDefaultLogger(provider *log.LoggerProvider) {
	slog.SetDefault(slog.New(slogmulti.Fanout(
		otelslog.NewHandler("", otelslog.WithLoggerProvider(provider)),
		sloglogrus.Option{Level: slog.LevelDebug, Logger: logrus.StandardLogger()}.NewLogrusHandler(),
	)))
}
