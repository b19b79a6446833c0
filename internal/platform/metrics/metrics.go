// Package metrics exports migration run counters to a Prometheus
// Pushgateway. A batch job is gone before a scraper comes around, so push
// is the only export path; every run is its own push group keyed by run ID.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Recorder aggregates one run's counters on a private registry.
type Recorder struct {
	registry *prometheus.Registry

	rowsRead       prometheus.Counter
	rowsNormalized prometheus.Counter
	docsInserted   prometheus.Counter
	docsUpdated    prometheus.Counter
	docsFailed     prometheus.Counter
	writeRetries   prometheus.Counter
	duration       prometheus.Gauge
	lastRun        prometheus.Gauge
}

func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Recorder{
		registry: registry,
		rowsRead: factory.NewCounter(prometheus.CounterOpts{
			Name: "migrate_rows_read_total",
			Help: "Rows read from the source dataset",
		}),
		rowsNormalized: factory.NewCounter(prometheus.CounterOpts{
			Name: "migrate_rows_normalized_total",
			Help: "Rows that passed normalization",
		}),
		docsInserted: factory.NewCounter(prometheus.CounterOpts{
			Name: "migrate_documents_inserted_total",
			Help: "Documents inserted into the store",
		}),
		docsUpdated: factory.NewCounter(prometheus.CounterOpts{
			Name: "migrate_documents_updated_total",
			Help: "Documents updated in place",
		}),
		docsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "migrate_documents_failed_total",
			Help: "Rows and documents that failed the run",
		}),
		writeRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "migrate_write_retries_total",
			Help: "Bulk write attempts retried after transient failures",
		}),
		duration: factory.NewGauge(prometheus.GaugeOpts{
			Name: "migrate_run_duration_seconds",
			Help: "Wall-clock duration of the run",
		}),
		lastRun: factory.NewGauge(prometheus.GaugeOpts{
			Name: "migrate_last_run_timestamp_seconds",
			Help: "Unix time the run finished",
		}),
	}
}

// ObserveRun records the final counters of a run.
func (r *Recorder) ObserveRun(read, normalized, inserted, updated, failed, retries int, duration time.Duration) {
	r.rowsRead.Add(float64(read))
	r.rowsNormalized.Add(float64(normalized))
	r.docsInserted.Add(float64(inserted))
	r.docsUpdated.Add(float64(updated))
	r.docsFailed.Add(float64(failed))
	r.writeRetries.Add(float64(retries))
	r.duration.Set(duration.Seconds())
	r.lastRun.SetToCurrentTime()
}

// Push delivers the registry to the Pushgateway, grouped by run ID so
// successive runs never overwrite each other.
func (r *Recorder) Push(ctx context.Context, url, job, runID string) error {
	return push.New(url, job).
		Gatherer(r.registry).
		Grouping("run_id", runID).
		PushContext(ctx)
}
