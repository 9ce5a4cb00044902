package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ─── Manager ─────────────────────────────────────────────────────────────────

	ManagerTasksSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskpool",
		Subsystem: "manager",
		Name:      "tasks_submitted_total",
		Help:      "Total tasks admitted by the manager, labelled by priority tier.",
	}, []string{"priority"})

	ManagerTasksCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskpool",
		Subsystem: "manager",
		Name:      "tasks_completed_total",
		Help:      "Total completed tasks, labelled by result source (worker or cache).",
	}, []string{"source"})

	ManagerTasksFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "taskpool",
		Subsystem: "manager",
		Name:      "tasks_failed_total",
		Help:      "Total task execution failures reported by workers.",
	})

	ManagerTasksDeadLettered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "taskpool",
		Subsystem: "manager",
		Name:      "tasks_dead_lettered_total",
		Help:      "Total tasks moved to the dead-letter queue after exhausting retries.",
	})

	ManagerTaskDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "taskpool",
		Subsystem: "manager",
		Name:      "task_duration_seconds",
		Help:      "Worker-side task execution time in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	})

	ManagerQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "taskpool",
		Subsystem: "manager",
		Name:      "queue_depth",
		Help:      "Ready tasks waiting for a worker, labelled by priority tier.",
	}, []string{"priority"})

	// ─── Worker pool ─────────────────────────────────────────────────────────────

	PoolWorkersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "taskpool",
		Subsystem: "pool",
		Name:      "workers_active",
		Help:      "Worker processes currently connected.",
	})

	PoolWorkerRestartsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "taskpool",
		Subsystem: "pool",
		Name:      "worker_restarts_total",
		Help:      "Total worker process restarts after a crash.",
	})

	PoolWorkersLostTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "taskpool",
		Subsystem: "pool",
		Name:      "workers_lost_total",
		Help:      "Workers permanently lost after exhausting their restart budget.",
	})

	PoolHealthProbeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "taskpool",
		Subsystem: "pool",
		Name:      "health_probe_failures_total",
		Help:      "Health probes that timed out or failed to send.",
	})

	// ─── Ingestion ───────────────────────────────────────────────────────────────

	BridgeTasksConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "taskpool",
		Subsystem: "bridge",
		Name:      "tasks_consumed_total",
		Help:      "Task submissions consumed from Kafka.",
	})

	BridgeTasksRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "taskpool",
		Subsystem: "bridge",
		Name:      "tasks_rejected_total",
		Help:      "Kafka submissions rejected as malformed or invalid.",
	})
)
