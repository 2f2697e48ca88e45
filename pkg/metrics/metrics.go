// Package metrics defines the precache's instrumentation surface as a
// plain interface, so pkg/precache/manager and pkg/precache/invalidator
// can accept a Recorder without importing Prometheus directly. The
// concrete implementation lives in pkg/metrics/prometheus.
package metrics

import "time"

// Recorder is implemented by anything the Precache Manager and
// Invalidator can report instrumentation to. A nil Recorder is valid
// everywhere it's accepted — every call site checks for it, the same
// nil-safe shape as the teacher's cache.CacheMetrics.
type Recorder interface {
	// ObserveFetch records one completed fetch attempt for a datatype:
	// its outcome ("finished" or "failed"), size in bytes, and wall time.
	ObserveFetch(datatype string, outcome string, bytes uint64, duration time.Duration)
	// RecordCommitment updates the precache's current total committed
	// bytes.
	RecordCommitment(bytes uint64)
	// RecordCapacity updates the precache's configured capacity in bytes.
	// 0 means unlimited.
	RecordCapacity(bytes uint64)
	// RecordRate updates the rate tracker's current throughput estimate.
	RecordRate(meanBps, stderrBps float64, samples int)
	// RecordAdmission records one admission decision: allowed or refused
	// because the precache is full.
	RecordAdmission(allowed bool)
	// RecordEviction records a batch of entities evicted for the given
	// reason ("capacity" or "age").
	RecordEviction(reason string, count int)
}

// ObserveFetch is nil-safe sugar for Recorder.ObserveFetch.
func ObserveFetch(m Recorder, datatype, outcome string, bytes uint64, duration time.Duration) {
	if m != nil {
		m.ObserveFetch(datatype, outcome, bytes, duration)
	}
}

// RecordCommitment is nil-safe sugar for Recorder.RecordCommitment.
func RecordCommitment(m Recorder, bytes uint64) {
	if m != nil {
		m.RecordCommitment(bytes)
	}
}

// RecordCapacity is nil-safe sugar for Recorder.RecordCapacity.
func RecordCapacity(m Recorder, bytes uint64) {
	if m != nil {
		m.RecordCapacity(bytes)
	}
}

// RecordRate is nil-safe sugar for Recorder.RecordRate.
func RecordRate(m Recorder, meanBps, stderrBps float64, samples int) {
	if m != nil {
		m.RecordRate(meanBps, stderrBps, samples)
	}
}

// RecordAdmission is nil-safe sugar for Recorder.RecordAdmission.
func RecordAdmission(m Recorder, allowed bool) {
	if m != nil {
		m.RecordAdmission(allowed)
	}
}

// RecordEviction is nil-safe sugar for Recorder.RecordEviction.
func RecordEviction(m Recorder, reason string, count int) {
	if m != nil {
		m.RecordEviction(reason, count)
	}
}
