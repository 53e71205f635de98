// Package metrics exposes the outcome of a sync run as Prometheus gauges and
// pushes them to a Pushgateway, since a run is a short-lived batch job.
package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/SamuelLeutner/student-roster-sync/models"
)

type RunMetrics struct {
	registry *prometheus.Registry

	records         *prometheus.GaugeVec
	historyEntries  *prometheus.GaugeVec
	failures        *prometheus.CounterVec
	totalStored     prometheus.Gauge
	duplicateKeys   prometheus.Gauge
	durationSeconds prometheus.Gauge
	lastSuccess     prometheus.Gauge
}

func New() *RunMetrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &RunMetrics{
		registry: reg,
		records: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "roster_sync_records",
			Help: "Records handled by the last run, by outcome",
		}, []string{"outcome"}),
		historyEntries: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "roster_sync_history_entries",
			Help: "History entries written by the last run, by change type",
		}, []string{"change_type"}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roster_sync_failures_total",
			Help: "Fatal run failures, by stage",
		}, []string{"stage"}),
		totalStored: factory.NewGauge(prometheus.GaugeOpts{
			Name: "roster_sync_stored_records",
			Help: "Rows in the active roster table after the last run",
		}),
		duplicateKeys: factory.NewGauge(prometheus.GaugeOpts{
			Name: "roster_sync_duplicate_keys",
			Help: "Unique keys found on more than one stored row",
		}),
		durationSeconds: factory.NewGauge(prometheus.GaugeOpts{
			Name: "roster_sync_duration_seconds",
			Help: "Wall time of the last committed run",
		}),
		lastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Name: "roster_sync_last_success_timestamp_seconds",
			Help: "Unix time the last run committed",
		}),
	}
}

func (m *RunMetrics) Registry() *prometheus.Registry { return m.registry }

// Observe records a committed run.
func (m *RunMetrics) Observe(s models.RunSummary) {
	for outcome, n := range map[string]int{
		"fetched":           s.Fetched,
		"inserted":          s.Inserted,
		"updated":           s.Updated,
		"unchanged":         s.Unchanged,
		"inactivated":       s.Inactivated,
		"skipped_invalid":   s.SkippedInvalid,
		"skipped_duplicate": s.SkippedDuplicate,
		"write_errors":      s.WriteErrors,
		"date_warnings":     s.DateWarnings,
	} {
		m.records.WithLabelValues(outcome).Set(float64(n))
	}

	counts := map[models.ChangeType]int{
		models.ChangeInsert:     0,
		models.ChangeUpdate:     0,
		models.ChangeInactivate: 0,
	}
	for _, e := range s.History {
		counts[e.ChangeType]++
	}
	for ct, n := range counts {
		m.historyEntries.WithLabelValues(string(ct)).Set(float64(n))
	}

	m.totalStored.Set(float64(s.TotalStored))
	m.duplicateKeys.Set(float64(len(s.DuplicateKeys)))
	m.durationSeconds.Set(s.Duration().Seconds())
	if !s.FinishedAt.IsZero() {
		m.lastSuccess.Set(float64(s.FinishedAt.Unix()))
	}
}

// ObserveFailure counts a fatal error at stage (fetch, connect, reconcile, commit).
func (m *RunMetrics) ObserveFailure(stage string) {
	m.failures.WithLabelValues(stage).Inc()
}

// Push replaces the job's metric group on the Pushgateway at url.
func (m *RunMetrics) Push(ctx context.Context, url, job string) error {
	if err := push.New(url, job).Gatherer(m.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}
