package logger

import (
	"fmt"
	"log/slog"
)

// Standard field keys for structured logging across the precache broker.
// Use these keys consistently across all log statements for log aggregation
// and querying.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id" // OpenTelemetry trace ID for request correlation
	KeySpanID  = "span_id"  // OpenTelemetry span ID for operation tracking

	// ========================================================================
	// HTTP Request Workflow
	// ========================================================================
	KeyRequestID   = "request_id"   // HTTP request ID assigned by the router
	KeyMethod      = "method"       // HTTP method
	KeyPath        = "path"         // Request path
	KeyStatus      = "status"       // HTTP status code written
	KeyBytes       = "bytes"        // Response bytes written
	KeyRemoteAddr  = "remote_addr"  // Client address
	KeyUserAgent   = "user_agent"   // Client User-Agent header

	// ========================================================================
	// Precache Entity
	// ========================================================================
	KeyUpstreamPath = "upstream_path" // Upstream object path an entity tracks
	KeyDatatype     = "datatype"      // data, metadata, or checksums
	KeyPrecacheDir  = "precache_dir"  // On-disk directory backing an entity
	KeyEntityStatus = "entity_status" // Queued, Started, Finished, Unknown, Failed

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
	KeyErrorCode  = "error_code"  // Numeric error code
	KeyOperation  = "operation"   // Sub-operation type for complex operations
	KeyAttempt    = "attempt"     // Retry attempt number
	KeyMaxRetries = "max_retries" // Maximum retry attempts

	// ========================================================================
	// Precache Capacity & Rate
	// ========================================================================
	KeyCommitment  = "commitment"   // Bytes committed to the precache
	KeyCapacity    = "capacity"     // Precache capacity in bytes
	KeySize        = "size"         // Object/datatype size in bytes
	KeyEvicted     = "evicted"      // Number of entities evicted
	KeyRateBps     = "rate_bps"     // Fetch rate, bytes per second
	KeyRateStderr  = "rate_stderr"  // Standard error of the fetch rate estimate

	// ========================================================================
	// Worker Pool
	// ========================================================================
	KeyWorkerPool = "worker_pool" // fetch or checksum
	KeyQueueDepth = "queue_depth" // Pending jobs in a worker pool
)

// ============================================================================
// Field constructors for type safety
// ============================================================================

// TraceID returns a slog.Attr for OpenTelemetry trace ID
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// SpanID returns a slog.Attr for OpenTelemetry span ID
func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

// RequestIDStr returns a slog.Attr for request ID as string
func RequestIDStr(id string) slog.Attr {
	return slog.String(KeyRequestID, id)
}

// Method returns a slog.Attr for HTTP method
func Method(m string) slog.Attr {
	return slog.String(KeyMethod, m)
}

// Path returns a slog.Attr for request path
func Path(p string) slog.Attr {
	return slog.String(KeyPath, p)
}

// Status returns a slog.Attr for HTTP status code
func Status(code int) slog.Attr {
	return slog.Int(KeyStatus, code)
}

// Bytes returns a slog.Attr for response bytes written
func Bytes(n int64) slog.Attr {
	return slog.Int64(KeyBytes, n)
}

// RemoteAddr returns a slog.Attr for the client address
func RemoteAddr(addr string) slog.Attr {
	return slog.String(KeyRemoteAddr, addr)
}

// UpstreamPath returns a slog.Attr for an entity's upstream path
func UpstreamPath(p string) slog.Attr {
	return slog.String(KeyUpstreamPath, p)
}

// Datatype returns a slog.Attr for the datatype slot (data/metadata/checksums)
func Datatype(d string) slog.Attr {
	return slog.String(KeyDatatype, d)
}

// PrecacheDir returns a slog.Attr for an entity's on-disk directory
func PrecacheDir(dir string) slog.Attr {
	return slog.String(KeyPrecacheDir, dir)
}

// EntityStatus returns a slog.Attr for an entity/datatype status name
func EntityStatus(status string) slog.Attr {
	return slog.String(KeyEntityStatus, status)
}

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// ErrorCode returns a slog.Attr for a numeric error code
func ErrorCode(code int) slog.Attr {
	return slog.Int(KeyErrorCode, code)
}

// Operation returns a slog.Attr for a sub-operation type
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// Attempt returns a slog.Attr for retry attempt number
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}

// MaxRetries returns a slog.Attr for maximum retry attempts
func MaxRetries(n int) slog.Attr {
	return slog.Int(KeyMaxRetries, n)
}

// Commitment returns a slog.Attr for bytes committed to the precache
func Commitment(n uint64) slog.Attr {
	return slog.Uint64(KeyCommitment, n)
}

// Capacity returns a slog.Attr for precache capacity in bytes
func Capacity(n uint64) slog.Attr {
	return slog.Uint64(KeyCapacity, n)
}

// Size returns a slog.Attr for an object/datatype size in bytes
func Size(n uint64) slog.Attr {
	return slog.Uint64(KeySize, n)
}

// Evicted returns a slog.Attr for number of entities evicted
func Evicted(n int) slog.Attr {
	return slog.Int(KeyEvicted, n)
}

// RateBps returns a slog.Attr for fetch rate in bytes per second
func RateBps(rate float64) slog.Attr {
	return slog.Float64(KeyRateBps, rate)
}

// RateStderr returns a slog.Attr for the standard error of a rate estimate
func RateStderr(stderr float64) slog.Attr {
	return slog.Float64(KeyRateStderr, stderr)
}

// WorkerPool returns a slog.Attr naming a worker pool
func WorkerPool(name string) slog.Attr {
	return slog.String(KeyWorkerPool, name)
}

// QueueDepth returns a slog.Attr for the pending jobs in a worker pool
func QueueDepth(n int) slog.Attr {
	return slog.Int(KeyQueueDepth, n)
}

// handleHex is retained for completeness when logging opaque identifiers.
func handleHex(h []byte) string {
	return fmt.Sprintf("%x", h)
}
