package otelcol

import (
	"context"

	"staking-controlplane/pkg/config"
	"staking-controlplane/pkg/otelcol/exporters"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("otelcol",
	fx.Provide(
		exporters.Provide,
		NewResource,
		NewTracerProvider,
		NewMeterReader,
		NewMeterProvider,
	),
	fx.Invoke(Install),
)

func NewResource(cfg *config.Config) *resource.Resource {
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", cfg.AppName),
		attribute.String("service.version", cfg.AppVersion),
		attribute.String("deployment.environment", cfg.AppEnv),
	))
	if err != nil {
		zap.L().Warn("failed to merge otel resource", zap.Error(err))
		return resource.Default()
	}
	return res
}

func NewTracerProvider(res *resource.Resource, exporter *otlptrace.Exporter) *trace.TracerProvider {
	opts := []trace.TracerProviderOption{trace.WithResource(res)}
	if exporter == nil {
		return ProvideTrace(nil, opts...)
	}
	return ProvideTrace(exporter, opts...)
}

// NewMeterReader keeps instruments in process; the staking counters are
// collected from it by whatever reader the deployment attaches.
func NewMeterReader() metric.Reader {
	return metric.NewManualReader()
}

func NewMeterProvider(res *resource.Resource, reader metric.Reader) *metric.MeterProvider {
	return ProvideMetric(reader, metric.WithResource(res))
}

// Install makes the providers global so packages that call otel.Tracer and
// otel.Meter pick them up, and flushes them on shutdown.
func Install(lc fx.Lifecycle, tp *trace.TracerProvider, mp *metric.MeterProvider) {
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			if err := tp.Shutdown(ctx); err != nil {
				zap.L().Error("failed to shutdown tracer provider", zap.Error(err))
			}
			return mp.Shutdown(ctx)
		},
	})
}

func ProvideTrace(exporter trace.SpanExporter, opts ...trace.TracerProviderOption) *trace.TracerProvider {
	if len(opts) == 0 {
		opts = []trace.TracerProviderOption{trace.WithResource(resource.Default())}
	}
	if exporter != nil {
		opts = append(opts, trace.WithBatcher(exporter))
	}
	return trace.NewTracerProvider(opts...)
}

func ProvideMetric(reader metric.Reader, opts ...metric.Option) *metric.MeterProvider {
	if len(opts) == 0 {
		opts = []metric.Option{metric.WithResource(resource.Default())}
	}
	opts = append(opts, metric.WithReader(reader))
	return metric.NewMeterProvider(opts...)
}
