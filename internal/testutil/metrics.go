package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/momentics/lwm2mux/control"
)

// MetricsRecorder couples control.Metrics with a manual reader.
type MetricsRecorder struct {
	Metrics *control.Metrics
	reader  *sdkmetric.ManualReader
}

// NewMetricsRecorder returns instruments backed by an in-memory SDK provider.
func NewMetricsRecorder(t testing.TB) *MetricsRecorder {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := control.NewMetrics(mp.Meter(control.MeterName))
	require.NoError(t, err)
	return &MetricsRecorder{Metrics: m, reader: reader}
}

// Sum returns the summed value of the int64 sum instrument called name, or 0 if
// nothing was recorded yet.
func (r *MetricsRecorder) Sum(t testing.TB, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, r.reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is %T, not an int64 sum", name, m.Data)
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}
