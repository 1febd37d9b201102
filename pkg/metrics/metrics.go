// Package metrics provides Prometheus metrics for the nexus data plane,
// ported from the teacher repo's promauto-based CSI operation counters
// (pkg/metrics/metrics.go) to this domain's error-ring, fault, and NVMe-oF
// subsystem lifecycle concerns.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "nexusd"

var (
	// DispatchDropped counts error records dropped because the
	// management reactor's queue was full (C3 back-pressure policy).
	DispatchDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dispatch",
		Name:      "records_dropped_total",
		Help:      "Error records dropped because the management reactor queue was full.",
	})

	// DispatchQueueDepth samples the management reactor's pending task
	// count.
	DispatchQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "dispatch",
		Name:      "queue_depth",
		Help:      "Number of tasks currently queued on the management reactor.",
	})

	// RingInsertsTotal counts records appended to per-child error rings.
	RingInsertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ring",
		Name:      "inserts_total",
		Help:      "Error records inserted into a child's error ring.",
	}, []string{"nexus", "child", "op"})

	// ChildFaultsTotal counts child fault transitions.
	ChildFaultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "nexus",
		Name:      "child_faults_total",
		Help:      "Number of times a child has been transitioned to Faulted.",
	}, []string{"nexus", "child"})

	// NexusStateGauge reports the current nexus state as 0=Online,
	// 1=Degraded, 2=Faulted.
	NexusStateGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "nexus",
		Name:      "state",
		Help:      "Current nexus state (0=Online, 1=Degraded, 2=Faulted).",
	}, []string{"nexus"})

	// SubsystemStateGauge reports the current NVMe-oF subsystem state as
	// an integer ordinal matching subsystem.State.
	SubsystemStateGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "nvmf",
		Name:      "subsystem_state",
		Help:      "Current NVMe-oF subsystem state ordinal.",
	}, []string{"nqn"})

	// SubsystemTransitionDuration times subsystem lifecycle transitions.
	SubsystemTransitionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "nvmf",
		Name:      "subsystem_transition_duration_seconds",
		Help:      "Duration of NVMe-oF subsystem lifecycle transitions.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
	}, []string{"transition", "status"})

	// InitiatorAttachDuration times the initiator's attach() poll loop.
	InitiatorAttachDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "initiator",
		Name:      "attach_duration_seconds",
		Help:      "Time spent attaching to an NVMe-oF target, including poll retries.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
	})
)

// ObserveSubsystemTransition mirrors the teacher's OperationTimer pattern,
// collapsed to a single helper since subsystem transitions are already
// wrapped by a one-shot completion channel.
func ObserveSubsystemTransition(transition, status string, start time.Time) {
	SubsystemTransitionDuration.WithLabelValues(transition, status).Observe(time.Since(start).Seconds())
}

// SetNexusState records the current nexus state as a gauge ordinal so
// dashboards can graph Online/Degraded/Faulted transitions over time.
func SetNexusState(nexusName string, ordinal int) {
	NexusStateGauge.WithLabelValues(nexusName).Set(float64(ordinal))
}

// SetSubsystemState records the current subsystem state as a gauge
// ordinal.
func SetSubsystemState(nqn string, ordinal int) {
	SubsystemStateGauge.WithLabelValues(nqn).Set(float64(ordinal))
}
