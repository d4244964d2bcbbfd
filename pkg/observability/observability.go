// Package observability wires structured logging and OpenTelemetry metrics
// for the engine: match counts, dispatch outcomes, execution durations.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// SetupLogger configures the default slog logger at the given level.
func SetupLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger
}

// Config configures the metrics provider.
type Config struct {
	ServiceName  string
	OTLPEndpoint string
	Enabled      bool
	Insecure     bool
}

// Provider owns the meter provider and the engine's instruments.
type Provider struct {
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter

	matches       metric.Int64Counter
	skips         metric.Int64Counter
	executions    metric.Int64Counter
	execDuration  metric.Float64Histogram
}

// New builds a Provider. When cfg.Enabled is false, instruments record
// against the global (no-op) meter and no exporter is started.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	p := &Provider{}

	if cfg.Enabled {
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.Insecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		exporter, err := otlpmetricgrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("observability: creating OTLP metric exporter: %w", err)
		}

		res, err := resource.New(ctx, resource.WithAttributes(
			attribute.String("service.name", cfg.ServiceName),
		))
		if err != nil {
			return nil, fmt.Errorf("observability: building resource: %w", err)
		}

		p.meterProvider = sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(15*time.Second))),
		)
		otel.SetMeterProvider(p.meterProvider)
	}

	p.meter = otel.Meter("geolink")

	var err error
	if p.matches, err = p.meter.Int64Counter("geolink.matches",
		metric.WithDescription("Rules matched by ingested location updates")); err != nil {
		return nil, err
	}
	if p.skips, err = p.meter.Int64Counter("geolink.skips",
		metric.WithDescription("Dispatch skips by reason")); err != nil {
		return nil, err
	}
	if p.executions, err = p.meter.Int64Counter("geolink.executions",
		metric.WithDescription("Contract executions by outcome")); err != nil {
		return nil, err
	}
	if p.execDuration, err = p.meter.Float64Histogram("geolink.execution.duration",
		metric.WithDescription("Contract execution duration in seconds")); err != nil {
		return nil, err
	}
	return p, nil
}

// RecordMatch counts rules matched for one update.
func (p *Provider) RecordMatch(ctx context.Context, n int) {
	p.matches.Add(ctx, int64(n))
}

// RecordSkip counts one dispatch skip.
func (p *Provider) RecordSkip(ctx context.Context, reason string) {
	p.skips.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordExecution counts one execution and its duration.
func (p *Provider) RecordExecution(ctx context.Context, outcome string, d time.Duration) {
	p.executions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	p.execDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("outcome", outcome)))
}

// Shutdown flushes and stops the meter provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.meterProvider == nil {
		return nil
	}
	return p.meterProvider.Shutdown(ctx)
}
