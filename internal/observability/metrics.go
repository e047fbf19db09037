package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "spicycat"

// Process-wide collectors, registered once with the default registry.
var (
	DecoyEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "decoy_events_total",
		Help:      "Decoy emissions by method and outcome.",
	}, []string{"method", "result"})

	Rotations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "rotations_total",
		Help:      "Profile rotations by trigger.",
	}, []string{"trigger"})

	EnforcementRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "enforcement_requests_total",
		Help:      "Enforcement requests by outcome (applied, failed, skipped, dropped).",
	}, []string{"result"})

	ThreatLevel = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "threat_level",
		Help:      "Current threat level, 0-100.",
	})

	AgentRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "agent_running",
		Help:      "1 while the agent is in the running state.",
	})

	SchedulerStopTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "scheduler_stop_timeouts_total",
		Help:      "Scheduler stops that exceeded their deadline.",
	})

	StatusWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "status_write_failures_total",
		Help:      "Failed status file writes.",
	})
)
