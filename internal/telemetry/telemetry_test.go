package telemetry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/breatheroute/sensorbridge/internal/telemetry"
)

func TestInit_Disabled(t *testing.T) {
	ctx := context.Background()

	provider, err := telemetry.Init(ctx, telemetry.Config{
		ServiceVersion: "1.0.0",
		CollectionPath: "/measurements",
		OTLPEndpoint:   "localhost:4317",
		Enabled:        false,
	})
	require.NoError(t, err)
	assert.NotNil(t, provider.Tracer)
	assert.NotNil(t, provider.Meter)
	assert.Nil(t, provider.TracerProvider)
	assert.Nil(t, provider.MeterProvider)
	assert.NoError(t, provider.Shutdown(ctx))
}

func TestProvider_Shutdown_NilProviders(t *testing.T) {
	provider := &telemetry.Provider{}
	assert.NoError(t, provider.Shutdown(context.Background()))
}

func resourceAttrs(set *attribute.Set) map[attribute.Key]string {
	out := map[attribute.Key]string{}
	for _, kv := range set.ToSlice() {
		out[kv.Key] = kv.Value.Emit()
	}
	return out
}

func TestNewResource(t *testing.T) {
	res, err := telemetry.NewResource(context.Background(), telemetry.Config{
		ServiceVersion: "1.4.0",
		Environment:    "production",
		CollectionPath: "/medidas",
		OutputPath:     "/data/fiba_data.XLSX",
	})
	require.NoError(t, err)

	attrs := resourceAttrs(res.Set())
	assert.Equal(t, telemetry.DefaultServiceName, attrs["service.name"])
	assert.Equal(t, "1.4.0", attrs["service.version"])
	assert.NotEmpty(t, attrs["service.instance.id"])
	assert.Equal(t, "/medidas", attrs[telemetry.AttrCollectionPath])
	assert.Equal(t, "/data/fiba_data.XLSX", attrs[telemetry.AttrOutputPath])
	assert.Equal(t, "xlsx", attrs[telemetry.AttrOutputFormat])
}

func TestNewResource_OmitsUnknownPaths(t *testing.T) {
	res, err := telemetry.NewResource(context.Background(), telemetry.Config{})
	require.NoError(t, err)

	attrs := resourceAttrs(res.Set())
	assert.NotContains(t, attrs, telemetry.AttrCollectionPath)
	assert.NotContains(t, attrs, telemetry.AttrOutputFormat)
}

func TestInit_CycleSpansAndMetricsCarryBridgeResource(t *testing.T) {
	ctx := context.Background()
	spans := tracetest.NewInMemoryExporter()
	reader := sdkmetric.NewManualReader()

	provider, err := telemetry.Init(ctx, telemetry.Config{
		ServiceVersion: "test",
		CollectionPath: "/measurements",
		OutputPath:     "/data/measurements.csv",
		Enabled:        true,
		SpanExporter:   spans,
		MetricReader:   reader,
	})
	require.NoError(t, err)
	defer func() { _ = provider.Shutdown(ctx) }()

	_, span := provider.Tracer.Start(ctx, "sync.cycle")
	span.End()
	require.NoError(t, provider.TracerProvider.ForceFlush(ctx))

	got := spans.GetSpans()
	require.Len(t, got, 1)
	assert.Equal(t, "sync.cycle", got[0].Name)
	attrs := resourceAttrs(got[0].Resource.Set())
	assert.Equal(t, "/measurements", attrs[telemetry.AttrCollectionPath])
	assert.Equal(t, "csv", attrs[telemetry.AttrOutputFormat])

	inst, err := telemetry.NewSyncInstruments(provider.Meter)
	require.NoError(t, err)
	inst.RecordCycle(ctx, telemetry.OutcomeEmpty, "", 0, 10*time.Millisecond)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	assert.Equal(t, "/measurements", resourceAttrs(rm.Resource.Set())[telemetry.AttrCollectionPath])
	require.NotEmpty(t, rm.ScopeMetrics)
}

func TestSyncInstruments_RecordCycle(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = mp.Shutdown(ctx) }()

	inst, err := telemetry.NewSyncInstruments(mp.Meter("test"))
	require.NoError(t, err)

	inst.RecordCycle(ctx, telemetry.OutcomeWritten, "", 12, 250*time.Millisecond)
	inst.RecordCycle(ctx, telemetry.OutcomeFailed, "FETCH", 0, time.Second)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	byName := map[string]metricdata.Metrics{}
	for _, m := range rm.ScopeMetrics[0].Metrics {
		byName[m.Name] = m
	}

	cycles, ok := byName["sensorbridge.sync.cycles"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	assert.Len(t, cycles.DataPoints, 2)

	rows, ok := byName["sensorbridge.sync.rows"].Data.(metricdata.Histogram[int64])
	require.True(t, ok)
	require.Len(t, rows.DataPoints, 1)
	assert.Equal(t, uint64(1), rows.DataPoints[0].Count)
	assert.Equal(t, int64(12), rows.DataPoints[0].Sum)
}

func TestSyncInstruments_NilIsNoop(t *testing.T) {
	var inst *telemetry.SyncInstruments
	assert.NotPanics(t, func() {
		inst.RecordCycle(context.Background(), telemetry.OutcomeEmpty, "", 0, time.Millisecond)
	})
}
