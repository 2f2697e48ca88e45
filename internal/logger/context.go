package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

// logContextKey is the key for LogContext in context.Context
var logContextKey = contextKey{}

// LogContext holds request-scoped logging context for the precache broker.
type LogContext struct {
	TraceID      string    // OpenTelemetry trace ID
	SpanID       string    // OpenTelemetry span ID
	RequestID    string    // HTTP request ID (set by the router's RequestID middleware)
	UpstreamPath string    // Upstream object path the request concerns
	Datatype     string    // data, metadata, or checksums
	RemoteAddr   string    // Client address (without port)
	StartTime    time.Time // For duration calculation
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a new LogContext with the given remote address.
func NewLogContext(remoteAddr string) *LogContext {
	return &LogContext{
		RemoteAddr: remoteAddr,
		StartTime:  time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	return &LogContext{
		TraceID:      lc.TraceID,
		SpanID:       lc.SpanID,
		RequestID:    lc.RequestID,
		UpstreamPath: lc.UpstreamPath,
		Datatype:     lc.Datatype,
		RemoteAddr:   lc.RemoteAddr,
		StartTime:    lc.StartTime,
	}
}

// WithUpstreamPath returns a copy with the upstream path set
func (lc *LogContext) WithUpstreamPath(path string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.UpstreamPath = path
	}
	return clone
}

// WithDatatype returns a copy with the datatype set
func (lc *LogContext) WithDatatype(datatype string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Datatype = datatype
	}
	return clone
}

// WithRequestID returns a copy with the request ID set
func (lc *LogContext) WithRequestID(id string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.RequestID = id
	}
	return clone
}

// WithTrace returns a copy with trace info set
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TraceID = traceID
		clone.SpanID = spanID
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
