// Package metrics provides Prometheus metrics for the backup service.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Registry holds every collector of this package. It is served by the HTTP
// server and pushed to the Pushgateway at the end of a run.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	// BackupAttempts tracks the total number of backup attempts.
	BackupAttempts = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "mongo_backup_attempts_total",
		Help: "Total number of backup attempts",
	}, []string{"status"})

	// BackupFailures tracks failed runs by the stage that failed.
	BackupFailures = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "mongo_backup_failures_total",
		Help: "Total number of failed backups by stage",
	}, []string{"stage"})

	// BackupDuration tracks the duration of backup operations.
	BackupDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mongo_backup_duration_seconds",
		Help:    "Duration of backup operations in seconds",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17min
	}, []string{"phase"})

	// BackupSize tracks the size of backups.
	BackupSize = factory.NewGauge(prometheus.GaugeOpts{
		Name: "mongo_backup_size_bytes",
		Help: "Size of the last uploaded artifact in bytes",
	})

	// StorageOperations tracks storage operations.
	StorageOperations = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "mongo_backup_storage_operations_total",
		Help: "Total number of storage operations",
	}, []string{"operation", "provider", "status"})

	// LastBackupTimestamp tracks when the last successful backup occurred.
	LastBackupTimestamp = factory.NewGauge(prometheus.GaugeOpts{
		Name: "mongo_backup_last_success_timestamp",
		Help: "Unix timestamp of the last successful backup",
	})

	// BackupsDeleted tracks the number of old backups deleted.
	BackupsDeleted = factory.NewCounter(prometheus.CounterOpts{
		Name: "mongo_backup_deleted_total",
		Help: "Total number of old backups deleted",
	})

	// BackupsKept tracks the number of backups inside the retention window.
	BackupsKept = factory.NewGauge(prometheus.GaugeOpts{
		Name: "mongo_backup_kept",
		Help: "Number of backups kept by the last retention pass",
	})

	// DumpConnectionTimeouts tracks dumps killed by the connection watchdog.
	DumpConnectionTimeouts = factory.NewCounter(prometheus.CounterOpts{
		Name: "mongo_backup_dump_connection_timeouts_total",
		Help: "Total number of dumps killed because no output arrived in time",
	})

	// Info provides static information about the service.
	Info = factory.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mongo_backup_info",
		Help: "Information about the backup service",
	}, []string{"version", "storage_provider"})
)

// RecordBackupAttempt records a backup attempt with its status.
func RecordBackupAttempt(success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	BackupAttempts.WithLabelValues(status).Inc()
}

// RecordStorageOperation records a storage operation.
func RecordStorageOperation(operation, provider string, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	StorageOperations.WithLabelValues(operation, provider, status).Inc()
}

// Push sends the registry to a Pushgateway under the given job name.
func Push(url, job string) error {
	if err := push.New(url, job).Gatherer(Registry).Push(); err != nil {
		return fmt.Errorf("failed to push metrics: %w", err)
	}
	return nil
}
