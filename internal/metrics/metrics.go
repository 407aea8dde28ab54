// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SamplesTotal counts ingress samples by outcome
	SamplesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tdmesh_samples_total",
			Help: "Total number of samples offered to the mesh engine",
		},
		[]string{"result"},
	)

	// TopologyErrorsTotal counts unknown-sender streaks that reached the escalation limit
	TopologyErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tdmesh_topology_errors_total",
			Help: "Total number of escalated unknown-sender streaks",
		},
	)

	// VibrationWritesTotal counts writes to the reserved vibration slot
	VibrationWritesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tdmesh_vibration_writes_total",
			Help: "Total number of vibration slot writes",
		},
	)

	// BoundariesTotal counts cycle boundaries by outcome (published, coalesced)
	BoundariesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tdmesh_boundaries_total",
			Help: "Total number of cycle boundaries",
		},
		[]string{"outcome"},
	)

	// Cycle tracks the number of frames published since the last Init
	Cycle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tdmesh_cycle",
			Help: "Frames published since the mesh was initialised",
		},
	)

	// BoundaryLatencySeconds measures how long a boundary plus transmit takes
	BoundaryLatencySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tdmesh_boundary_latency_seconds",
			Help:    "Latency of the boundary and transmit step in seconds",
			Buckets: prometheus.ExponentialBuckets(0.000001, 2, 20), // 1µs to ~1s
		},
	)

	// IngressPacketsTotal counts received datagrams by decoded kind
	IngressPacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tdmesh_ingress_packets_total",
			Help: "Total number of datagrams received by the ingress listener",
		},
		[]string{"kind"},
	)

	// IngressDecodeErrorsTotal counts datagrams that failed to decode
	IngressDecodeErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tdmesh_ingress_decode_errors_total",
			Help: "Total number of datagrams rejected by the decoder",
		},
		[]string{"reason"},
	)

	// EgressFramesTotal counts frames handed to a transmitter
	EgressFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tdmesh_egress_frames_total",
			Help: "Total number of frames transmitted",
		},
		[]string{"transmitter"},
	)

	// EgressErrorsTotal counts transmit failures
	EgressErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tdmesh_egress_errors_total",
			Help: "Total number of frame transmit errors",
		},
		[]string{"transmitter"},
	)

	// EgressSkippedTotal counts published frames dropped because the
	// previous transmit was still running
	EgressSkippedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tdmesh_egress_skipped_total",
			Help: "Total number of published frames not transmitted due to a busy transmitter",
		},
	)

	// SensorReadingsTotal counts sensor reads by outcome (ok, error)
	SensorReadingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tdmesh_sensor_readings_total",
			Help: "Total number of sensor polls",
		},
		[]string{"result"},
	)

	// BatteryPercent tracks the last reported battery charge
	BatteryPercent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tdmesh_battery_percent",
			Help: "Last reported battery state of charge in percent",
		},
	)
)

// Sample results used with SamplesTotal.
const (
	ResultAccepted          = "accepted"
	ResultUnknownSender     = "unknown_sender"
	ResultReservedViolation = "reserved_violation"
	ResultUninitialized     = "uninitialized"
)
