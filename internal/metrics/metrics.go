package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry is the process-wide metrics registry served on /metrics.
var Registry = prometheus.NewRegistry()

var (
	// RunsCompleted tracks terminal job runs by status
	RunsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supercheck_runs_completed_total",
			Help: "Total number of job runs that reached a terminal status",
		},
		[]string{"status"},
	)

	// RunsSkipped tracks scheduler fires skipped because a run was in flight
	RunsSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "supercheck_runs_skipped_total",
			Help: "Total number of scheduled fires skipped due to a running run",
		},
	)

	// CapacityDeferrals tracks executions requeued by the capacity gate
	CapacityDeferrals = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "supercheck_capacity_deferrals_total",
			Help: "Total number of executions deferred by the capacity gate",
		},
	)

	// ProbesTotal tracks monitor checks by monitor type and result status
	ProbesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supercheck_probes_total",
			Help: "Total number of monitor checks by type and result status",
		},
		[]string{"type", "status"},
	)

	// ProbeDurationSeconds tracks probe latency by monitor type
	ProbeDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "supercheck_probe_duration_seconds",
			Help:    "Monitor check latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	// AlertsTotal tracks alert fan-outs by type and aggregate status
	AlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supercheck_alerts_total",
			Help: "Total number of alerts dispatched by type and aggregate status",
		},
		[]string{"type", "status"},
	)

	// HeartbeatsReceived tracks inbound heartbeat pings
	HeartbeatsReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "supercheck_heartbeats_received_total",
			Help: "Total number of inbound heartbeat pings accepted",
		},
	)

	// JanitorKeysExpired tracks queue-backend keys the janitor applied TTLs to
	JanitorKeysExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "supercheck_janitor_keys_expired_total",
			Help: "Total number of orphan queue keys given a TTL by the janitor",
		},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		RunsCompleted,
		RunsSkipped,
		CapacityDeferrals,
		ProbesTotal,
		ProbeDurationSeconds,
		AlertsTotal,
		HeartbeatsReceived,
		JanitorKeysExpired,
	)
}
