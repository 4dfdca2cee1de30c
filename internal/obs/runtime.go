package obs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	otelexport "github.com/Meraviglioso8/ZeroTrust-DeepLearning/metrics/export/otel"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// MetricsOptions configures the OpenTelemetry meter provider.
type MetricsOptions struct {
	ServiceName string
	Environment string
	// OTLPEndpoint enables the OTLP/gRPC exporter when non-empty.
	OTLPEndpoint string
	OTLPInsecure bool
	Interval     time.Duration
}

// Runtime owns the meter provider and the engine metrics bridge.
type Runtime struct {
	MeterProvider *sdkmetric.MeterProvider
	exporter      *otelexport.Exporter
}

// InitMetrics installs a global meter provider, used by otelhttp, and
// publishes the engine counters on it when source is non-nil.
func InitMetrics(ctx context.Context, opts MetricsOptions, source otelexport.MetricsSource, logger *slog.Logger) (*Runtime, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", opts.ServiceName),
			attribute.String("deployment.environment", opts.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create metric resource: %w", err)
	}

	providerOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if opts.OTLPEndpoint != "" {
		exportOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(opts.OTLPEndpoint)}
		if opts.OTLPInsecure {
			exportOpts = append(exportOpts, otlpmetricgrpc.WithInsecure())
		}
		exp, err := otlpmetricgrpc.New(ctx, exportOpts...)
		if err != nil {
			return nil, fmt.Errorf("create otlp metric exporter: %w", err)
		}
		interval := opts.Interval
		if interval <= 0 {
			interval = 30 * time.Second
		}
		providerOpts = append(providerOpts,
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval))))
		logger.Info("otel metrics enabled", slog.String("endpoint", opts.OTLPEndpoint))
	} else {
		logger.Info("otel metrics export disabled")
	}

	mp := sdkmetric.NewMeterProvider(providerOpts...)
	otel.SetMeterProvider(mp)

	rt := &Runtime{MeterProvider: mp}
	if source != nil {
		exp, err := otelexport.NewExporter(mp.Meter("zerotrust"), source)
		if err != nil {
			_ = mp.Shutdown(ctx)
			return nil, err
		}
		rt.exporter = exp
	}
	return rt, nil
}

// Shutdown flushes and stops the provider.
func (r *Runtime) Shutdown(ctx context.Context) error {
	if r == nil {
		return nil
	}
	var errs []error
	if r.exporter != nil {
		if err := r.exporter.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if r.MeterProvider != nil {
		if err := r.MeterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
