// Package prometheus is the Prometheus-backed implementation of
// pkg/metrics.Recorder, grounded on the teacher's promauto-based cache
// metrics (pkg/metrics/prometheus/cache.go upstream): one CounterVec per
// labelled event, one GaugeVec for point-in-time levels, histogram
// buckets sized for the traffic the instrumented operation actually
// sees.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/wtsi-hgi/irobot/pkg/metrics"
)

// precacheMetrics is the Prometheus implementation of metrics.Recorder.
type precacheMetrics struct {
	fetchOperations *prometheus.CounterVec
	fetchDuration   *prometheus.HistogramVec
	fetchBytes      *prometheus.HistogramVec
	commitment      prometheus.Gauge
	capacity        prometheus.Gauge
	rateMeanBps     prometheus.Gauge
	rateStderrBps   prometheus.Gauge
	rateSamples     prometheus.Gauge
	admissions      *prometheus.CounterVec
	evictions       *prometheus.CounterVec
}

// NewPrecacheMetrics creates a Recorder registered against reg. Callers
// that don't want metrics at all should simply pass a nil metrics.Recorder
// to the manager and invalidator instead of calling this.
func NewPrecacheMetrics(reg *prometheus.Registry) metrics.Recorder {
	return &precacheMetrics{
		fetchOperations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "irobot_fetch_operations_total",
				Help: "Total number of upstream fetch attempts by datatype and outcome",
			},
			[]string{"datatype", "outcome"},
		),
		fetchDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "irobot_fetch_duration_seconds",
				Help: "Duration of upstream fetch attempts in seconds",
				Buckets: []float64{
					0.1, 0.5, 1, 5, 10, 30, 60, 300, 900, 3600,
				},
			},
			[]string{"datatype"},
		),
		fetchBytes: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "irobot_fetch_bytes",
				Help: "Distribution of bytes fetched from upstream per attempt",
				Buckets: []float64{
					4096, 131072, 1048576, 4194304, 16777216, 134217728, 1073741824,
				},
			},
			[]string{"datatype"},
		),
		commitment: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "irobot_precache_commitment_bytes",
				Help: "Current total bytes committed in the precache",
			},
		),
		capacity: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "irobot_precache_capacity_bytes",
				Help: "Configured precache capacity in bytes (0 means unlimited)",
			},
		),
		rateMeanBps: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "irobot_fetch_rate_mean_bytes_per_second",
				Help: "Mean observed upstream fetch throughput",
			},
		),
		rateStderrBps: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "irobot_fetch_rate_stderr_bytes_per_second",
				Help: "Standard error of the observed upstream fetch throughput",
			},
		),
		rateSamples: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "irobot_fetch_rate_samples",
				Help: "Number of throughput samples behind the current rate estimate",
			},
		),
		admissions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "irobot_admissions_total",
				Help: "Total number of admission decisions by outcome",
			},
			[]string{"outcome"}, // "allowed", "refused"
		),
		evictions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "irobot_evictions_total",
				Help: "Total number of entities evicted, by reason",
			},
			[]string{"reason"}, // "capacity", "age"
		),
	}
}

func (m *precacheMetrics) ObserveFetch(datatype, outcome string, bytes uint64, duration time.Duration) {
	m.fetchOperations.WithLabelValues(datatype, outcome).Inc()
	m.fetchDuration.WithLabelValues(datatype).Observe(duration.Seconds())
	if bytes > 0 {
		m.fetchBytes.WithLabelValues(datatype).Observe(float64(bytes))
	}
}

func (m *precacheMetrics) RecordCommitment(bytes uint64) {
	m.commitment.Set(float64(bytes))
}

func (m *precacheMetrics) RecordCapacity(bytes uint64) {
	m.capacity.Set(float64(bytes))
}

func (m *precacheMetrics) RecordRate(meanBps, stderrBps float64, samples int) {
	m.rateMeanBps.Set(meanBps)
	m.rateStderrBps.Set(stderrBps)
	m.rateSamples.Set(float64(samples))
}

func (m *precacheMetrics) RecordAdmission(allowed bool) {
	outcome := "refused"
	if allowed {
		outcome = "allowed"
	}
	m.admissions.WithLabelValues(outcome).Inc()
}

func (m *precacheMetrics) RecordEviction(reason string, count int) {
	if count <= 0 {
		return
	}
	m.evictions.WithLabelValues(reason).Add(float64(count))
}
