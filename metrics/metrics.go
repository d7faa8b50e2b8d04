// Package metrics holds the Prometheus instruments of the reset pipeline.
// Collectors are registered with the global registry, so importing this
// package is enough to expose them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	AdminActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admin_actions_total",
			Help: "Reset and backup runs by action type, dry-run flag and terminal status.",
		}, []string{"action_type", "dry_run", "status"})

	AdminActionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "admin_action_duration_seconds",
			Help:    "Wall time of reset and backup runs.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}, []string{"action_type"})

	ResetRowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reset_rows_deleted_total",
			Help: "Rows removed by non dry-run resets, per table.",
		}, []string{"table"})

	ResetLockContentionTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reset_lock_contention_total",
			Help: "Resets refused because another run held the advisory lock.",
		})

	ResetJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reset_jobs_total",
			Help: "File cleanup jobs finished by the worker, by status.",
		}, []string{"status"})

	ResetJobFilesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reset_job_files_total",
			Help: "Files handled by the cleanup worker, by storage kind and result.",
		}, []string{"storage_kind", "result"})

	NotificationErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "admin_action_notification_errors_total",
			Help: "Notifications that could not be dispatched.",
		})
)

func init() {
	prometheus.MustRegister(
		AdminActionsTotal,
		AdminActionDuration,
		ResetRowsTotal,
		ResetLockContentionTotal,
		ResetJobsTotal,
		ResetJobFilesTotal,
		NotificationErrorsTotal,
	)
}
