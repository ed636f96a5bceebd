package metrics

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collectInvocations(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "cravings.invocations.total" {
				continue
			}
			gauge, ok := m.Data.(metricdata.Gauge[int64])
			require.True(t, ok, "unexpected data type %T", m.Data)

			out := make(map[string]int64)
			for _, dp := range gauge.DataPoints {
				if v, ok := dp.Attributes.Value("mode"); ok {
					out[v.AsString()] = dp.Value
				}
			}
			return out
		}
	}
	t.Fatal("cravings.invocations.total not collected")
	return nil
}

func TestInvocationGauge(t *testing.T) {
	ResetOTelForTesting()
	t.Cleanup(ResetOTelForTesting)

	store, err := NewStore(filepath.Join(t.TempDir(), "stats.db"))
	require.NoError(t, err)
	SetStoreForTesting(store)
	t.Cleanup(func() { _ = Close() })

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	require.NoError(t, InitOTelMetrics())

	assert.Equal(t, map[string]int64{"craving": 0, "recommend": 0, "reembed": 0, "mcp": 0}, collectInvocations(t, reader))

	require.NoError(t, store.Increment(ModeCraving))
	require.NoError(t, store.Increment(ModeCraving))
	require.NoError(t, store.Increment(ModeMCP))

	got := collectInvocations(t, reader)
	assert.Equal(t, int64(2), got["craving"])
	assert.Equal(t, int64(1), got["mcp"])
	assert.Equal(t, int64(0), got["reembed"])
}

func TestInvocationGauge_WithoutStoreReportsZeros(t *testing.T) {
	ResetOTelForTesting()
	t.Cleanup(ResetOTelForTesting)
	require.NoError(t, Close())

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	require.NoError(t, InitOTelMetrics())
	got := collectInvocations(t, reader)
	assert.Len(t, got, 4)
	for mode, v := range got {
		assert.Zero(t, v, mode)
	}
}
