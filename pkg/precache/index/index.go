// Package index implements the Tracking Index: the durable record of
// every entity the precache knows about, its per-datatype status and
// size, access times and contention, backed by an embedded SQLite
// database by default or PostgreSQL for deployments that share one
// upstream-rate budget across instances.
package index

import (
	"context"
	"time"

	"github.com/wtsi-hgi/irobot/pkg/precache/model"
)

// Index is the Tracking Index's public surface. All methods are safe for
// concurrent use; implementations serialise writes at the database level.
type Index interface {
	// UpsertEntity creates the tracking row for upstreamPath if it does
	// not exist, or returns the existing one unchanged.
	UpsertEntity(ctx context.Context, upstreamPath, precacheDir string) (*model.Entity, error)

	// Get returns the entity for upstreamPath, or nil if untracked.
	Get(ctx context.Context, upstreamPath string) (*model.Entity, error)

	// SetSize records the size of a datatype slot.
	SetSize(ctx context.Context, upstreamPath string, dt model.Datatype, size uint64) error

	// LogStatus advances the status of a datatype slot. Implementations
	// reject a transition model.Status.CanTransitionTo forbids.
	LogStatus(ctx context.Context, upstreamPath string, dt model.Datatype, status model.Status) error

	// SetChecksum records the whole-file checksum once computed.
	SetChecksum(ctx context.Context, upstreamPath, checksum string) error

	// Reset moves every slot of an entity back to Queued, for forced
	// re-fetch (e.g. after a checksum mismatch or an operator POST).
	Reset(ctx context.Context, upstreamPath string) error

	// Touch updates LastAccess to now and returns the updated entity.
	Touch(ctx context.Context, upstreamPath string) (*model.Entity, error)

	// Hold increments the contention counter; Release decrements it.
	// Both are no-ops (other than the counter change) on entities that
	// don't exist.
	Hold(ctx context.Context, upstreamPath string) error
	Release(ctx context.Context, upstreamPath string) error

	// Delete removes the tracking row entirely. Callers are responsible
	// for removing the on-disk precache directory first.
	Delete(ctx context.Context, upstreamPath string) error

	// CurrentStatus returns the status of a single datatype slot.
	CurrentStatus(ctx context.Context, upstreamPath string, dt model.Datatype) (model.Status, error)

	// Commitment returns the sum of Started- and Finished-slot sizes across
	// every tracked entity — the bytes the precache holds or has reserved.
	Commitment(ctx context.Context) (uint64, error)

	// CandidatesForEviction returns idle (zero-contention) entities whose
	// LastAccess is older than the given threshold, oldest first.
	CandidatesForEviction(ctx context.Context, olderThan time.Time, limit int) ([]*model.Entity, error)

	// ProductionRates returns, for every entity whose data slot is
	// currently Started, the number of bytes fetched since the status
	// transitioned to Started. Used to seed and cross-check the rate
	// tracker from durable history after a restart.
	ProductionRates(ctx context.Context) (map[string]RateSample, error)

	// Repair runs at startup: any slot left Started from before an
	// unclean shutdown is reset to Queued (the fetch is assumed lost),
	// and any entity with every slot Queued and zero on-disk size is
	// compacted away.
	Repair(ctx context.Context) (RepairReport, error)

	// Close releases underlying database resources.
	Close() error
}

// RateSample is one data point used to prime the rate tracker at startup.
type RateSample struct {
	BytesSoFar uint64
	Since      time.Time
}

// RepairReport summarises what Repair did, for startup logging.
type RepairReport struct {
	SlotsReset      int
	EntitiesPruned  int
}
