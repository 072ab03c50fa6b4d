package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	sloglogrus "github.com/samber/slog-logrus/v2"
	slogmulti "github.com/samber/slog-multi"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/exporters/autoexport"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	logsdk "go.opentelemetry.io/otel/sdk/log"
	metricsdk "go.opentelemetry.io/otel/sdk/metric"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"

	logglobal "go.opentelemetry.io/otel/log/global"
)

// autoexport defaults to an otlp exporter at localhost; opt out
// unless the environment asks for one.
var exporterDefaults = map[string]string{
	"OTEL_TRACES_EXPORTER":  "none",
	"OTEL_LOGS_EXPORTER":    "none",
	"OTEL_METRICS_EXPORTER": "none",
}

func setupTelemetry(ctx context.Context) error {
	for key, value := range exporterDefaults {
		if _, ok := os.LookupEnv(key); !ok {
			os.Setenv(key, value)
		}
	}

	if err := setupMetrics(ctx); err != nil {
		return err
	}
	if err := setupTraces(ctx); err != nil {
		return err
	}
	return setupLogs(ctx)
}

// setupMetrics registers a meter provider that serves a local
// prometheus scrape endpoint alongside whatever reader the
// environment selects.
func setupMetrics(ctx context.Context) error {
	prom, err := prometheus.New(prometheus.WithNamespace("peatland"))
	if err != nil {
		return fmt.Errorf("failed to initialize prometheus exporter: %w", err)
	}
	reader, err := autoexport.NewMetricReader(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize metric exporter: %w", err)
	}
	otel.SetMeterProvider(metricsdk.NewMeterProvider(
		metricsdk.WithReader(prom),
		metricsdk.WithReader(reader),
	))
	return nil
}

func setupTraces(ctx context.Context) error {
	spans, err := autoexport.NewSpanExporter(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize trace exporter: %w", err)
	}
	otel.SetTracerProvider(tracesdk.NewTracerProvider(tracesdk.WithBatcher(spans)))
	return nil
}

// setupLogs installs the log provider and rewires the default slog
// logger to fan out across logrus and the otel bridge.
func setupLogs(ctx context.Context) error {
	exporter, err := autoexport.NewLogExporter(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize log exporter: %w", err)
	}
	provider := logsdk.NewLoggerProvider(logsdk.WithProcessor(logsdk.NewBatchProcessor(exporter)))
	logglobal.SetLoggerProvider(provider)

	slog.SetDefault(slog.New(slogmulti.Fanout(
		sloglogrus.Option{Level: slog.LevelDebug, Logger: logrus.StandardLogger()}.NewLogrusHandler(),
		otelslog.NewHandler(""),
	)))
	return nil
}
