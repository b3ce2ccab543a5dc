// Package metrics exposes migration run metrics on a private Prometheus
// registry. A batch run writes them to a textfile for the node exporter; the
// serve command exposes them over HTTP.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JonMunkholm/docmigrate/internal/report"
)

const namespace = "docmigrate"

// Collector holds the run metrics. A nil *Collector is valid and records
// nothing.
type Collector struct {
	registry     *prometheus.Registry
	rowsRead     *prometheus.CounterVec
	rowsWritten  *prometheus.CounterVec
	references   *prometheus.GaugeVec
	anomalies    *prometheus.GaugeVec
	retries      *prometheus.CounterVec
	loadDuration *prometheus.HistogramVec
	lastRun      prometheus.Gauge
}

// New creates a Collector with its own registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		rowsRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_read_total",
			Help:      "Source records read per entity type.",
		}, []string{"entity_type"}),
		rowsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_written_total",
			Help:      "Rows written per entity type.",
		}, []string{"entity_type"}),
		references: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "references",
			Help:      "References of the last run by entity type and outcome.",
		}, []string{"entity_type", "outcome"}),
		anomalies: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "anomalies",
			Help:      "Anomalies of the last run by kind.",
		}, []string{"kind"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Retried entity type writes by phase.",
		}, []string{"entity_type", "phase"}),
		loadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "load_duration_seconds",
			Help:      "Time to read, build and write one entity type.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"entity_type"}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last report was generated.",
		}),
	}
	c.registry.MustRegister(c.rowsRead, c.rowsWritten, c.references, c.anomalies, c.retries, c.loadDuration, c.lastRun)
	return c
}

// ObserveLoad records one committed entity type load.
func (c *Collector) ObserveLoad(entityType string, read, written int, d time.Duration) {
	if c == nil {
		return
	}
	c.rowsRead.WithLabelValues(entityType).Add(float64(read))
	c.rowsWritten.WithLabelValues(entityType).Add(float64(written))
	c.loadDuration.WithLabelValues(entityType).Observe(d.Seconds())
}

// ObserveRetry records one retried attempt.
func (c *Collector) ObserveRetry(entityType, phase string) {
	if c == nil {
		return
	}
	c.retries.WithLabelValues(entityType, phase).Inc()
}

// ObserveReport sets the reference and anomaly gauges from a finished report.
func (c *Collector) ObserveReport(r *report.Report) {
	if c == nil || r == nil {
		return
	}
	for name, counts := range r.Entities {
		c.references.WithLabelValues(name, "resolved").Set(float64(counts.ReferencesResolved))
		c.references.WithLabelValues(name, "unresolved").Set(float64(counts.ReferencesUnresolved))
		c.references.WithLabelValues(name, "ambiguous").Set(float64(counts.ReferencesAmbiguous))
		c.references.WithLabelValues(name, "skipped").Set(float64(counts.ReferencesSkipped))
	}
	c.anomalies.Reset()
	for kind, n := range r.AnomaliesByKind() {
		c.anomalies.WithLabelValues(kind).Set(float64(n))
	}
	c.lastRun.Set(float64(r.GeneratedAt.Unix()))
}

// WriteTextfile writes the metrics in the text exposition format, for
// collection by the node exporter textfile collector.
func (c *Collector) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, c.registry)
}

// Handler serves the metrics over HTTP.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
