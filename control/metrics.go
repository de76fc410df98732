// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// OpenTelemetry instruments for notification routing and outbound capture.

package control

import (
	"errors"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope of all bridge instruments.
const MeterName = "github.com/momentics/lwm2mux"

// Metrics holds the bridge instruments.
type Metrics struct {
	NotificationsDispatched metric.Int64Counter
	NotificationsOrphaned   metric.Int64Counter
	NotificationsDropped    metric.Int64Counter
	NotificationsDelivered  metric.Int64Counter
	HandlerPanics           metric.Int64Counter
	PacketsIngested         metric.Int64Counter
	PacketsCaptured         metric.Int64Counter
	BytesCaptured           metric.Int64Counter
	OutboxOverflows         metric.Int64Counter
	InstancesActive         metric.Int64UpDownCounter
}

// NewMetrics creates all instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m    Metrics
		errs []error
	)
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		errs = append(errs, err)
		return c
	}

	m.NotificationsDispatched = counter("lwm2mux_notifications_dispatched_total",
		"Notifications routed from the engine to an instance mailbox")
	m.NotificationsOrphaned = counter("lwm2mux_notifications_orphaned_total",
		"Notifications for an identity with no registered instance")
	m.NotificationsDropped = counter("lwm2mux_notifications_dropped_total",
		"Notifications dropped because the mailbox was full or closed")
	m.NotificationsDelivered = counter("lwm2mux_notifications_delivered_total",
		"Notifications received by a waiting owner")
	m.HandlerPanics = counter("lwm2mux_handler_panics_total",
		"Monitoring handler invocations that panicked")
	m.PacketsIngested = counter("lwm2mux_packets_ingested_total",
		"Inbound packets handed to the engine")
	m.PacketsCaptured = counter("lwm2mux_packets_captured_total",
		"Outbound packets captured from the engine")
	m.BytesCaptured = counter("lwm2mux_bytes_captured_total",
		"Outbound bytes captured after truncation")
	m.OutboxOverflows = counter("lwm2mux_outbox_overflows_total",
		"Outbound packets evicted from a full per-instance outbox")

	active, err := meter.Int64UpDownCounter("lwm2mux_instances_active",
		metric.WithDescription("Instances currently registered"))
	errs = append(errs, err)
	m.InstancesActive = active

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &m, nil
}

var (
	defaultMetricsOnce sync.Once
	defaultMetrics     *Metrics
)

// DefaultMetrics returns instruments bound to the global meter provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(otel.Meter(MeterName))
		if err != nil {
			otel.Handle(err)
			m, _ = NewMetrics(noopMeter())
		}
		defaultMetrics = m
	})
	return defaultMetrics
}
