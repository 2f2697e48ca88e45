// Package upstream defines the Gateway collaborator interface: the
// precache's one point of contact with the remote content-addressed
// object store it brokers access to. Gateway implementations are
// external collaborators, not part of the precache's own concurrency or
// storage model — they are expected to apply their own connection
// bounding, retries and auth.
package upstream

import (
	"context"
	"errors"
	"io"
	"time"
)

// Metadata is the attribute/value/unit triples iRobot materialises into
// the metadata datatype slot.
type Metadata struct {
	Attribute string
	Value     string
	Unit      string
}

// ObjectMetadata is the full result of a fetch_metadata call: everything
// admission needs to size and later verify an object before its data is
// ever fetched.
type ObjectMetadata struct {
	Size       uint64
	Checksum   string
	CreatedAt  time.Time
	ModifiedAt time.Time
	AVUs       []Metadata
}

// ErrNotFound and ErrForbidden are the sentinel conditions a Gateway
// implementation should wrap with %w, so callers can recognise them with
// errors.Is regardless of the underlying transport's own error type.
var (
	ErrNotFound  = errors.New("upstream: object not found")
	ErrForbidden = errors.New("upstream: access denied")
)

// Gateway is implemented by whatever talks to the real upstream object
// store. pkg/precache/manager depends only on this interface, so tests
// substitute a stub and production wires a concrete client.
type Gateway interface {
	// FetchMetadata retrieves the size, checksum, timestamps and AVUs for
	// an upstream object, ahead of its data ever being fetched.
	FetchMetadata(ctx context.Context, upstreamPath string) (ObjectMetadata, error)

	// FetchData streams the bulk data for an upstream object to w.
	// Implementations should respect ctx cancellation mid-stream.
	FetchData(ctx context.Context, upstreamPath string, w io.Writer) (int64, error)

	// UpstreamChecksum returns the whole-file checksum the upstream
	// store reports for an object, used to validate a locally computed
	// checksum after materialising the data slot.
	UpstreamChecksum(ctx context.Context, upstreamPath string) (string, error)
}
