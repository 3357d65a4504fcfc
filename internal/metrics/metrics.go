// Package metrics implements Prometheus metrics for the topology runtime
// core (spec §4.5, §6 "Observable emissions").
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsReceivedTotal counts events a transform or sink has accepted
	// from upstream, labeled by component id and component kind.
	EventsReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "topology_events_received_total",
			Help: "Total number of events received by a component",
		},
		[]string{"component_id", "component_kind"},
	)

	// EventsReceivedBytes sums the estimated byte size of received events.
	EventsReceivedBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "topology_events_received_bytes_total",
			Help: "Estimated total byte size of events received by a component",
		},
		[]string{"component_id", "component_kind"},
	)

	// EventsSentTotal counts events a component emitted downstream,
	// labeled by the output port (spec §4.5 "dropped" port included).
	EventsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "topology_events_sent_total",
			Help: "Total number of events sent downstream by a component",
		},
		[]string{"component_id", "component_kind", "port"},
	)

	// EventsSentBytes sums the estimated byte size of sent events.
	EventsSentBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "topology_events_sent_bytes_total",
			Help: "Estimated total byte size of events sent downstream by a component",
		},
		[]string{"component_id", "component_kind", "port"},
	)

	// FanoutConsumersRemovedTotal counts consumers a fanout dropped after
	// a failed Send (spec §4.1 "Failure").
	FanoutConsumersRemovedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "topology_fanout_consumers_removed_total",
			Help: "Total number of fanout consumers removed after a failed send",
		},
		[]string{"component_id"},
	)

	// BufferEventsDroppedTotal counts events dropped by a DropNewest buffer.
	BufferEventsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "topology_buffer_events_dropped_total",
			Help: "Total number of events dropped by a full buffer using the drop_newest policy",
		},
		[]string{"component_id"},
	)

	// HealthcheckStatus tracks the last healthcheck outcome per sink.
	// 0=failed, 1=passed, 2=timeout, 3=disabled (spec §4.7).
	HealthcheckStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "topology_healthcheck_status",
			Help: "Last healthcheck outcome for a sink (0=failed, 1=passed, 2=timeout, 3=disabled)",
		},
		[]string{"component_id"},
	)

	// BuildErrorsTotal counts component build failures observed by the
	// builder, labeled by component id (spec §4.6).
	BuildErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "topology_build_errors_total",
			Help: "Total number of component build failures",
		},
		[]string{"component_id"},
	)
)

// The HealthcheckStatus* constants are the numeric encoding used by
// HealthcheckStatus.
const (
	HealthcheckStatusFailed   = 0
	HealthcheckStatusPassed   = 1
	HealthcheckStatusTimeout  = 2
	HealthcheckStatusDisabled = 3
)
