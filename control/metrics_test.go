package control_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/lwm2mux/control"
	"github.com/momentics/lwm2mux/internal/testutil"
)

func TestMetricsRecord(t *testing.T) {
	rec := testutil.NewMetricsRecorder(t)
	ctx := context.Background()

	rec.Metrics.NotificationsDispatched.Add(ctx, 3)
	rec.Metrics.BytesCaptured.Add(ctx, 2048)

	assert.Equal(t, int64(3), rec.Sum(t, "lwm2mux_notifications_dispatched_total"))
	assert.Equal(t, int64(2048), rec.Sum(t, "lwm2mux_bytes_captured_total"))
	assert.Equal(t, int64(0), rec.Sum(t, "lwm2mux_notifications_orphaned_total"))
}

func TestDefaultAndNoopMetrics(t *testing.T) {
	require.NotNil(t, control.DefaultMetrics())
	assert.Same(t, control.DefaultMetrics(), control.DefaultMetrics())

	m := control.NoopMetrics()
	require.NotNil(t, m)
	m.InstancesActive.Add(context.Background(), 1)
}
