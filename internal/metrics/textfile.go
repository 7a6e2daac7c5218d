// Package metrics records backup and health results in the Prometheus text
// format, to be picked up by node_exporter's textfile collector.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "stackctl"

// Textfile collects gauges for one stackctl run.
//
// Metrics:
//   - stackctl_backup_last_success_timestamp_seconds: time of the last successful backup
//   - stackctl_backup_size_bytes: size of the last backup file
//   - stackctl_backup_duration_seconds: wall time of the last backup
//   - stackctl_health_check_status: per check result (0=ok, 1=warning, 2=critical)
//   - stackctl_health_last_run_timestamp_seconds: time of the last health run
//   - stackctl_health_up: 1 when no critical check failed
type Textfile struct {
	registry *prometheus.Registry

	backupLastSuccess *prometheus.GaugeVec
	backupSize        *prometheus.GaugeVec
	backupDuration    *prometheus.GaugeVec

	healthStatus  *prometheus.GaugeVec
	healthLastRun *prometheus.GaugeVec
	healthUp      *prometheus.GaugeVec
}

// NewTextfile creates a collector on a fresh registry.
func NewTextfile() *Textfile {
	t := &Textfile{
		registry: prometheus.NewRegistry(),
		backupLastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "backup",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful database backup",
		}, []string{"stack"}),
		backupSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "backup",
			Name:      "size_bytes",
			Help:      "Size of the last backup file in bytes",
		}, []string{"stack"}),
		backupDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "backup",
			Name:      "duration_seconds",
			Help:      "Duration of the last backup in seconds",
		}, []string{"stack"}),
		healthStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "check_status",
			Help:      "Health check result (0=ok, 1=warning, 2=critical)",
		}, []string{"stack", "check", "target"}),
		healthLastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last health check run",
		}, []string{"stack"}),
		healthUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "up",
			Help:      "1 when no critical health check failed",
		}, []string{"stack"}),
	}

	t.registry.MustRegister(
		t.backupLastSuccess,
		t.backupSize,
		t.backupDuration,
		t.healthStatus,
		t.healthLastRun,
		t.healthUp,
	)
	return t
}

// ObserveBackup records a successful backup.
func (t *Textfile) ObserveBackup(stack string, size int64, duration time.Duration, at time.Time) {
	t.backupLastSuccess.WithLabelValues(stack).Set(float64(at.Unix()))
	t.backupSize.WithLabelValues(stack).Set(float64(size))
	t.backupDuration.WithLabelValues(stack).Set(duration.Seconds())
}

// ObserveCheck records one health check result.
func (t *Textfile) ObserveCheck(stack, check, target string, status int) {
	t.healthStatus.WithLabelValues(stack, check, target).Set(float64(status))
}

// ObserveHealthRun records the outcome of a whole health run.
func (t *Textfile) ObserveHealthRun(stack string, at time.Time, up bool) {
	t.healthLastRun.WithLabelValues(stack).Set(float64(at.Unix()))
	value := 0.0
	if up {
		value = 1
	}
	t.healthUp.WithLabelValues(stack).Set(value)
}

// Write atomically replaces path with the collected metrics.
func (t *Textfile) Write(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, t.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
