// Package telemetry wires the engine's metrics and logs into OpenTelemetry,
// with metrics read by the OTel Prometheus exporter into the default
// Prometheus registry (no HTTP scrape handler is started), following the teacher's
// pkg/telemetry/otel.go setup trimmed to what a single-instrument grid
// engine emits (no tracing: there is no cross-service call fan-out to trace
// inside one process's tick loop).
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Telemetry owns the metric and log providers for clean shutdown.
type Telemetry struct {
	mp *sdkmetric.MeterProvider
	lp *sdklog.LoggerProvider
}

// Setup initializes the Prometheus metric exporter and the OTel log bridge,
// then builds the package-level instruments.
func Setup(serviceName string) (*Telemetry, error) {
	metricExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(metricExporter))
	otel.SetMeterProvider(mp)

	logExporter, err := stdoutlog.New(stdoutlog.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("log exporter: %w", err)
	}
	lp := sdklog.NewLoggerProvider(sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)))
	global.SetLoggerProvider(lp)

	if err := initInstruments(mp.Meter(serviceName)); err != nil {
		return nil, fmt.Errorf("instruments: %w", err)
	}

	return &Telemetry{mp: mp, lp: lp}, nil
}

// Shutdown flushes and stops the providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if err := t.mp.Shutdown(ctx); err != nil {
		return fmt.Errorf("meter provider shutdown: %w", err)
	}
	if err := t.lp.Shutdown(ctx); err != nil {
		return fmt.Errorf("log provider shutdown: %w", err)
	}
	return nil
}
