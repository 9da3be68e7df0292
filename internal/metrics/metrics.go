// Package metrics provides Prometheus metrics for the BIS pipeline.
//
// The pipeline is a batch job, so metrics are exported once at the end of a
// run: written to a node-exporter textfile, pushed to a Pushgateway, or both.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Dataset outcomes.
const (
	OutcomeLoaded         = "loaded"
	OutcomeFetchFailed    = "fetch_failed"
	OutcomeLoadFailed     = "load_failed"
	OutcomePopulateFailed = "populate_failed"
)

// Metrics holds all Prometheus metrics for one run.
type Metrics struct {
	registry *prometheus.Registry

	// Dataset metrics
	DatasetsProcessed *prometheus.CounterVec
	ArchiveBytes      *prometheus.GaugeVec
	RowsLoaded        *prometheus.CounterVec
	RowsSkipped       *prometheus.CounterVec
	ControlDelta      *prometheus.GaugeVec

	// Table metrics
	RowsInserted   *prometheus.CounterVec
	MissingColumns *prometheus.CounterVec

	// Timing metrics
	FetchDuration    *prometheus.HistogramVec
	PopulateDuration *prometheus.HistogramVec

	// Run metrics
	RunDuration      prometheus.Gauge
	LastRunSuccess   prometheus.Gauge
	LastRunTimestamp prometheus.Gauge
}

// Config holds metrics export configuration.
type Config struct {
	Namespace    string
	TextfilePath string // node-exporter textfile collector target
	PushURL      string // Pushgateway base URL
	Job          string
}

// New creates a metrics set on its own registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "bis_pipeline"
	}

	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		DatasetsProcessed: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "datasets_processed_total",
				Help:      "Datasets processed, by outcome",
			},
			[]string{"dataset", "outcome"},
		),
		ArchiveBytes: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "archive_bytes",
				Help:      "Size of the downloaded archive",
			},
			[]string{"dataset"},
		),
		RowsLoaded: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_loaded_total",
				Help:      "CSV data rows loaded",
			},
			[]string{"dataset"},
		),
		RowsSkipped: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_skipped_total",
				Help:      "Malformed CSV rows skipped while loading",
			},
			[]string{"dataset"},
		),
		ControlDelta: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "control_count_delta",
				Help:      "Raw line count minus loaded rows (1 when only the header differs)",
			},
			[]string{"dataset"},
		),
		RowsInserted: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_inserted_total",
				Help:      "Rows appended to stored tables",
			},
			[]string{"table"},
		),
		MissingColumns: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "missing_columns_total",
				Help:      "Stored columns absent from a populated frame",
			},
			[]string{"table"},
		),
		FetchDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fetch_duration_seconds",
				Help:      "Time to download and extract an archive",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s to ~400s
			},
			[]string{"dataset"},
		),
		PopulateDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "populate_duration_seconds",
				Help:      "Time to diff and append one table",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~160s
			},
			[]string{"table"},
		),
		RunDuration: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of the last run",
			},
		),
		LastRunSuccess: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_success",
				Help:      "1 if the last run completed without a storage error",
			},
		),
		LastRunTimestamp: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix time the last run finished",
			},
		),
	}
}

// Registry returns the registry holding the run's metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// IncDataset counts a dataset outcome.
func (m *Metrics) IncDataset(dataset, outcome string) {
	m.DatasetsProcessed.WithLabelValues(dataset, outcome).Inc()
}

// ObserveFetch records a completed fetch.
func (m *Metrics) ObserveFetch(dataset string, bytes int64, seconds float64) {
	m.ArchiveBytes.WithLabelValues(dataset).Set(float64(bytes))
	m.FetchDuration.WithLabelValues(dataset).Observe(seconds)
}

// ObserveLoad records loader and control-count results.
func (m *Metrics) ObserveLoad(dataset string, loaded, skipped, delta int) {
	m.RowsLoaded.WithLabelValues(dataset).Add(float64(loaded))
	m.RowsSkipped.WithLabelValues(dataset).Add(float64(skipped))
	m.ControlDelta.WithLabelValues(dataset).Set(float64(delta))
}

// ObservePopulate records one populate call.
func (m *Metrics) ObservePopulate(table string, inserted, missing int, seconds float64) {
	m.RowsInserted.WithLabelValues(table).Add(float64(inserted))
	m.MissingColumns.WithLabelValues(table).Add(float64(missing))
	m.PopulateDuration.WithLabelValues(table).Observe(seconds)
}

// FinishRun records the run summary.
func (m *Metrics) FinishRun(success bool, seconds float64, unixTime float64) {
	m.RunDuration.Set(seconds)
	m.LastRunTimestamp.Set(unixTime)
	if success {
		m.LastRunSuccess.Set(1)
	} else {
		m.LastRunSuccess.Set(0)
	}
}

// Export writes and pushes metrics according to cfg. Unset targets are
// skipped.
func (m *Metrics) Export(cfg Config) error {
	if cfg.TextfilePath != "" {
		if err := prometheus.WriteToTextfile(cfg.TextfilePath, m.registry); err != nil {
			return fmt.Errorf("write metrics textfile %s: %w", cfg.TextfilePath, err)
		}
	}
	if cfg.PushURL != "" {
		job := cfg.Job
		if job == "" {
			job = "bis_pipeline"
		}
		if err := push.New(cfg.PushURL, job).Gatherer(m.registry).Push(); err != nil {
			return fmt.Errorf("push metrics to %s: %w", cfg.PushURL, err)
		}
	}
	return nil
}
