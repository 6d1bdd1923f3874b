// Package metrics counts run outcomes and exports them for the node
// exporter textfile collector.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dwcsync"

// Metrics holds the counters of one process. A nil *Metrics discards
// every observation.
type Metrics struct {
	reg *prometheus.Registry

	sources       *prometheus.CounterVec
	inserted      *prometheus.CounterVec
	deleted       *prometheus.CounterVec
	splits        prometheus.Counter
	runDuration   prometheus.Histogram
	lastRunFinish prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		sources: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sources_total",
			Help:      "Catalog sources by run outcome.",
		}, []string{"outcome"}),
		inserted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_inserted_total",
			Help:      "Documents inserted into the store.",
		}, []string{"collection"}),
		deleted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_deleted_total",
			Help:      "Documents deleted before re-ingestion.",
		}, []string{"collection"}),
		splits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bulk_chunk_splits_total",
			Help:      "Times a bulk insert chunk size was halved.",
		}),
		runDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of synchronization runs.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
		}),
		lastRunFinish: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_finish_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
	}
}

func (m *Metrics) SourceOutcome(outcome string) {
	if m == nil {
		return
	}
	m.sources.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Documents(collection string, inserted int, deleted int64) {
	if m == nil {
		return
	}
	m.inserted.WithLabelValues(collection).Add(float64(inserted))
	m.deleted.WithLabelValues(collection).Add(float64(deleted))
}

func (m *Metrics) ChunkSplit(int) {
	if m == nil {
		return
	}
	m.splits.Inc()
}

// RunFinished records the duration of a run ending now.
func (m *Metrics) RunFinished(seconds float64, unixNow int64) {
	if m == nil {
		return
	}
	m.runDuration.Observe(seconds)
	m.lastRunFinish.Set(float64(unixNow))
}

// WriteToTextfile writes every metric in the text exposition format.
func (m *Metrics) WriteToTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.reg); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
