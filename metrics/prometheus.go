// Package metrics exposes upload progress as Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mediaupload"

// Prometheus implements chunkuploader.Metrics. All methods are safe on a nil receiver,
// so callers can pass New(nil) around when metrics are disabled.
type Prometheus struct {
	partsTotal     *prometheus.CounterVec
	retriesTotal   *prometheus.CounterVec
	bytesUploaded  prometheus.Counter
	partDuration   prometheus.Histogram
	commitsTotal   *prometheus.CounterVec
	uploadDuration prometheus.Histogram
}

// New registers the upload collectors with reg. It returns nil when reg is nil.
func New(reg prometheus.Registerer) *Prometheus {
	if reg == nil {
		return nil
	}

	return &Prometheus{
		partsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "parts_total",
				Help:      "Parts handled by result (uploaded, skipped, failed)",
			},
			[]string{"result"},
		),
		retriesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "part_retries_total",
				Help:      "Repeated part upload attempts by reason",
			},
			[]string{"reason"},
		),
		bytesUploaded: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bytes_uploaded_total",
				Help:      "Payload bytes confirmed by the service",
			},
		),
		partDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "part_duration_milliseconds",
				Help:      "Duration of successful part uploads in milliseconds",
				Buckets: []float64{
					50,    // 50ms
					100,   // 100ms
					500,   // 500ms
					1000,  // 1s
					5000,  // 5s - a 5MiB part on a slow link
					15000, // 15s
					60000, // 60s - request timeout
				},
			},
		),
		commitsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commits_total",
				Help:      "Session commits by status",
			},
			[]string{"status"},
		),
		uploadDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upload_duration_seconds",
				Help:      "End to end duration of uploads that reached the service",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
			},
		),
	}
}

// PartUploaded ...
func (m *Prometheus) PartUploaded(bytes int64, took time.Duration) {
	if m == nil {
		return
	}
	m.partsTotal.WithLabelValues("uploaded").Inc()
	m.bytesUploaded.Add(float64(bytes))
	m.partDuration.Observe(float64(took.Milliseconds()))
}

// PartSkipped ...
func (m *Prometheus) PartSkipped() {
	if m == nil {
		return
	}
	m.partsTotal.WithLabelValues("skipped").Inc()
}

// PartFailed ...
func (m *Prometheus) PartFailed() {
	if m == nil {
		return
	}
	m.partsTotal.WithLabelValues("failed").Inc()
}

// PartRetried ...
func (m *Prometheus) PartRetried(rateLimited bool) {
	if m == nil {
		return
	}
	reason := "error"
	if rateLimited {
		reason = "rate_limited"
	}
	m.retriesTotal.WithLabelValues(reason).Inc()
}

// UploadFinished records the outcome of a whole upload.
func (m *Prometheus) UploadFinished(err error, took time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.commitsTotal.WithLabelValues(status).Inc()
	m.uploadDuration.Observe(took.Seconds())
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
