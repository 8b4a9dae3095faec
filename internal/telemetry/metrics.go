package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики жизненного цикла runs. Экспортируются через /metrics
// (promhttp) в бинаре pressline-runner.
var (
	// RunsExecuted — завершённые runs по итоговому статусу.
	RunsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pressline_runs_executed_total",
		Help: "Runs driven to a terminal state, by final status.",
	}, []string{"status"})

	// RunsClaimed — runs, забранные воркером из очереди.
	RunsClaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pressline_runs_claimed_total",
		Help: "Queued runs claimed by the worker loop.",
	})

	// BulkPollAttempts — выполненные опросы bulk jobs.
	BulkPollAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pressline_bulk_poll_attempts_total",
		Help: "Bulk job status polls issued against the Tool API.",
	})

	// RollbackHandles — применённые компенсирующие действия по результату.
	RollbackHandles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pressline_rollback_handles_total",
		Help: "Rollback handles processed during rollback, by result.",
	}, []string{"result"})

	// RunsRecovered — runs, принудительно завершённые восстановлением.
	RunsRecovered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pressline_runs_recovered_total",
		Help: "Stale active runs force-failed by the startup reconciler.",
	})

	// RunDuration — длительность выполнения run от забора до терминального статуса.
	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pressline_run_duration_seconds",
		Help:    "Wall-clock duration of a run execution.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	// WorkerTicks — тики воркера с признаком, нашёлся ли queued run.
	WorkerTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pressline_worker_ticks_total",
		Help: "Worker timer ticks, by whether any run was claimed.",
	}, []string{"outcome"})
)
