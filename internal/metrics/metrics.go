// Package metrics exposes the detection loop counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "faceframe"

// Metrics holds the collectors for one process. A nil *Metrics is valid and
// records nothing, so components can be built without a registry in tests.
type Metrics struct {
	registry *prometheus.Registry

	cycles         prometheus.Counter
	failures       prometheus.Counter
	retries        *prometheus.CounterVec
	faces          prometheus.Counter
	galleryLen     prometheus.Gauge
	detectDuration prometheus.Histogram
	discarded      prometheus.Counter
}

// New creates the collectors and registers them on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detection_cycles_total",
			Help:      "Detection cycles that rendered a result.",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detection_failures_total",
			Help:      "Detection calls that failed or timed out.",
		}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readiness_retries_total",
			Help:      "Loop iterations deferred because a readiness condition was not met.",
		}, []string{"reason"}),
		faces: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "faces_detected_total",
			Help:      "Face boxes returned by the detector.",
		}),
		galleryLen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gallery_thumbnails",
			Help:      "Thumbnails currently held by the gallery.",
		}),
		detectDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "detect_duration_seconds",
			Help:      "Latency of a single detection call.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		discarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detection_results_discarded_total",
			Help:      "Detection results dropped because playback stopped before they resolved.",
		}),
	}
	m.registry.MustRegister(
		m.cycles, m.failures, m.retries, m.faces, m.galleryLen, m.detectDuration, m.discarded,
		prometheus.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) CycleRendered(faces int) {
	if m == nil {
		return
	}
	m.cycles.Inc()
	m.faces.Add(float64(faces))
}

func (m *Metrics) DetectFailed() {
	if m == nil {
		return
	}
	m.failures.Inc()
}

func (m *Metrics) ReadinessRetry(reason string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveDetect(d time.Duration) {
	if m == nil {
		return
	}
	m.detectDuration.Observe(d.Seconds())
}

func (m *Metrics) ResultDiscarded() {
	if m == nil {
		return
	}
	m.discarded.Inc()
}

func (m *Metrics) GallerySize(n int) {
	if m == nil {
		return
	}
	m.galleryLen.Set(float64(n))
}
