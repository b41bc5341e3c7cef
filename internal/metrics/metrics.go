// Package metrics exports conversion statistics in the Prometheus text
// format, for collection by the node exporter textfile collector.
package metrics

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"bidsmeta/internal/clinical"
	"bidsmeta/internal/fs"
)

const namespace = "bidsmeta"

// Metrics holds the gauges of one run. Each run rewrites the whole textfile,
// so every series describes the last command that succeeded.
type Metrics struct {
	registry *prometheus.Registry

	Rows               *prometheus.GaugeVec
	FilesWritten       prometheus.Gauge
	SourcesRead        prometheus.Gauge
	RepairedRows       prometheus.Gauge
	MissingParticipant prometheus.Gauge
	ExamDatesRecovered prometheus.Gauge
	LastRun            *prometheus.GaugeVec
	LastSuccess        prometheus.Gauge
	Duration           prometheus.Gauge
}

// New returns a Metrics registered on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Rows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rows_written",
			Help:      "Rows written in the last run, by table.",
		}, []string{"table"}),
		FilesWritten: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "files_written",
			Help:      "TSV files written in the last run.",
		}),
		SourcesRead: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "clinical_sources_read",
			Help:      "Clinical CSV files parsed in the last run.",
		}),
		RepairedRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "repaired_rows",
			Help:      "Malformed flutemeta rows repaired in the last run.",
		}),
		MissingParticipant: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "missing_participants",
			Help:      "BIDS subjects without clinical data in the last run.",
		}),
		ExamDatesRecovered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "exam_dates_recovered",
			Help:      "Exam dates found in auxiliary exports in the last run.",
		}),
		LastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_info",
			Help:      "Always 1; the command label names the command of the last run.",
		}, []string{"command"}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run.",
		}),
		Duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last run.",
		}),
	}

	m.registry.MustRegister(
		m.Rows,
		m.FilesWritten,
		m.SourcesRead,
		m.RepairedRows,
		m.MissingParticipant,
		m.ExamDatesRecovered,
		m.LastRun,
		m.LastSuccess,
		m.Duration,
	)

	return m
}

// Observe records the statistics of a finished run of command.
func (m *Metrics) Observe(command string, stats clinical.Stats, started, finished time.Time) {
	m.Rows.WithLabelValues("participants").Set(float64(stats.ParticipantRows))
	m.Rows.WithLabelValues("sessions").Set(float64(stats.SessionRows))
	m.Rows.WithLabelValues("scans").Set(float64(stats.ScanRows))
	m.FilesWritten.Set(float64(stats.FilesWritten()))
	m.SourcesRead.Set(float64(stats.SourcesRead))
	m.RepairedRows.Set(float64(stats.RepairedRows))
	m.MissingParticipant.Set(float64(stats.MissingParticipants))
	m.ExamDatesRecovered.Set(float64(stats.ExamDatesRecovered))
	m.LastRun.WithLabelValues(command).Set(1)
	m.LastSuccess.Set(float64(finished.UnixNano()) / 1e9)
	m.Duration.Set(finished.Sub(started).Seconds())
}

// WriteFile writes the metrics to path atomically, creating its directory
// through fsys.
func (m *Metrics) WriteFile(fsys fs.FS, path string) error {
	if err := fsys.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("metrics: create directory: %w", err)
	}

	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("metrics: write %s: %w", path, err)
	}

	return nil
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
