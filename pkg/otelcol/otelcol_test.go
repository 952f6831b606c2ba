package otelcol

import (
	"context"
	"testing"

	"staking-controlplane/pkg/config"
	"staking-controlplane/pkg/otelcol/exporters"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestMeterProviderCollectsCounters(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{AppName: "staking-worker"}

	exporter, err := exporters.Provide(cfg)
	require.NoError(t, err)
	require.Nil(t, exporter)

	tp := NewTracerProvider(NewResource(cfg), exporter)
	_, span := tp.Tracer("test").Start(ctx, "announce")
	span.End()
	require.NoError(t, tp.Shutdown(ctx))

	reader := metric.NewManualReader()
	mp := NewMeterProvider(NewResource(cfg), reader)
	counter, err := mp.Meter("staking").Int64Counter("staking_job_failures_total")
	require.NoError(t, err)
	counter.Add(ctx, 2)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)
	require.Equal(t, "staking_job_failures_total", rm.ScopeMetrics[0].Metrics[0].Name)

	sum, ok := rm.ScopeMetrics[0].Metrics[0].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Equal(t, int64(2), sum.DataPoints[0].Value)
}
