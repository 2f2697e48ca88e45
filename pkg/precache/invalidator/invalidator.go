// Package invalidator implements the Invalidator: a ticker-driven
// temporal sweep that expires idle entities past the configured expiry, and a
// capacity eviction routine invoked synchronously when the precache is
// full and needs room. Both are grounded on the teacher's background
// flusher (periodic sweep, per-candidate idle check, single final sweep
// on shutdown), with eviction additionally guarded by its own lock per
// the documented lock order manager -> eviction -> tracking-index.
package invalidator

import (
	"context"
	"sync"
	"time"

	"github.com/wtsi-hgi/irobot/internal/logger"
	"github.com/wtsi-hgi/irobot/pkg/metrics"
	"github.com/wtsi-hgi/irobot/pkg/precache/index"
	"github.com/wtsi-hgi/irobot/pkg/precache/model"
)

// Evictor removes an entity from the live precache: both its tracking row
// and its on-disk directory. The Precache Manager implements this so the
// Invalidator never has to know about in-memory handles directly.
type Evictor interface {
	EvictEntity(ctx context.Context, e *model.Entity) error
}

// Config configures the Invalidator.
type Config struct {
	// SweepInterval is how often the temporal sweep runs. Default: 1m.
	SweepInterval time.Duration
	// Expiry is how long an idle entity may sit unaccessed before the
	// temporal sweep expires it. duration.Unlimited disables the
	// temporal sweep entirely.
	Expiry time.Duration
	// CapacityFloor is the anti-DoS knob on capacity eviction: an entity
	// younger than this (by last access) is never evicted to free room
	// for a new admission, even under PrecacheFull pressure.
	// duration.Unlimited makes no entity old enough to evict, so capacity
	// eviction always fails — the safest anti-DoS posture.
	CapacityFloor time.Duration
	// SweepBatchSize bounds how many candidates one sweep iteration
	// considers, to keep a single sweep from holding the eviction lock
	// for too long under a very large precache.
	SweepBatchSize int
}

func (c *Config) applyDefaults() {
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	if c.SweepBatchSize <= 0 {
		c.SweepBatchSize = 256
	}
}

// Invalidator runs the temporal sweep and exposes EvictForCapacity for the
// Precache Manager's admission path to call synchronously.
type Invalidator struct {
	idx    index.Index
	evict  Evictor
	config Config

	evictionMu sync.Mutex // the "eviction lock" of the documented lock order

	metrics metrics.Recorder

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an Invalidator. Call Start to begin the temporal sweep.
func New(idx index.Index, evictor Evictor, config Config) *Invalidator {
	config.applyDefaults()
	return &Invalidator{idx: idx, evict: evictor, config: config}
}

// AttachMetrics wires a Recorder for eviction counts. Until called, the
// Invalidator operates with no metrics overhead at all.
func (inv *Invalidator) AttachMetrics(rec metrics.Recorder) {
	inv.metrics = rec
}

// Start spawns the temporal sweep goroutine. If Expiry is the unlimited
// sentinel the goroutine still runs, but every sweep returns at once.
func (inv *Invalidator) Start(ctx context.Context) {
	inv.ctx, inv.cancel = context.WithCancel(ctx)
	inv.wg.Add(1)
	go inv.run()
}

// Stop cancels the sweep goroutine and waits for it to exit after a final
// sweep.
func (inv *Invalidator) Stop() {
	if inv.cancel != nil {
		inv.cancel()
	}
	inv.wg.Wait()
}

func (inv *Invalidator) run() {
	defer inv.wg.Done()

	ticker := time.NewTicker(inv.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-inv.ctx.Done():
			inv.sweep(context.Background())
			return
		case <-ticker.C:
			inv.sweep(inv.ctx)
		}
	}
}

// sweep runs one temporal-expiry pass: every idle entity whose last
// access is older than Expiry is evicted.
func (inv *Invalidator) sweep(ctx context.Context) {
	if inv.config.Expiry < 0 {
		return // unlimited: temporal sweep disabled
	}

	inv.evictionMu.Lock()
	defer inv.evictionMu.Unlock()

	cutoff := time.Now().Add(-inv.config.Expiry)
	candidates, err := inv.idx.CandidatesForEviction(ctx, cutoff, inv.config.SweepBatchSize)
	if err != nil {
		logger.Warn("invalidator sweep failed to list candidates", logger.Err(err))
		return
	}

	var expired int
	for _, e := range candidates {
		if err := inv.evict.EvictEntity(ctx, e); err != nil {
			logger.Warn("invalidator sweep failed to evict entity",
				logger.UpstreamPath(e.UpstreamPath), logger.Err(err))
			continue
		}
		expired++
		logger.Debug("invalidator expired idle entity", logger.UpstreamPath(e.UpstreamPath))
	}
	metrics.RecordEviction(inv.metrics, "age", expired)
}

// capacityEvictionScanLimit bounds how many idle candidates EvictForCapacity
// considers when planning an eviction. It is independent of SweepBatchSize,
// which paces the periodic background sweep rather than a single
// synchronous admission decision.
const capacityEvictionScanLimit = 100000

// EvictForCapacity evicts idle entities, oldest-accessed first, to free
// enough room to admit need more bytes under capacity. Eviction is
// all-or-nothing: if the eligible candidates (respecting CapacityFloor,
// the anti-DoS knob) can't collectively free enough room, nothing is
// evicted and ok is false — commitment is left unchanged so a denied
// admission never has a visible side effect.
//
// This is invoked synchronously from the Precache Manager's admission
// path while it does not hold the eviction lock — see the documented
// lock order manager -> eviction -> tracking-index.
func (inv *Invalidator) EvictForCapacity(ctx context.Context, capacity, need uint64) (ok bool, err error) {
	inv.evictionMu.Lock()
	defer inv.evictionMu.Unlock()

	commitment, err := inv.idx.Commitment(ctx)
	if err != nil {
		return false, err
	}
	if commitment+need <= capacity {
		return true, nil
	}

	if inv.config.CapacityFloor < 0 {
		// unlimited: no entity is ever old enough to cross the anti-DoS
		// floor, so capacity eviction can never free room.
		logger.Debug("invalidator capacity eviction disabled by unlimited age floor",
			logger.Commitment(commitment), logger.Capacity(capacity))
		return false, nil
	}
	cutoff := time.Now().Add(-inv.config.CapacityFloor)

	candidates, err := inv.idx.CandidatesForEviction(ctx, cutoff, capacityEvictionScanLimit)
	if err != nil {
		return false, err
	}

	var freed uint64
	var plan []*model.Entity
	for _, e := range candidates {
		plan = append(plan, e)
		freed += e.Commitment()
		if commitment+need-freed <= capacity {
			break
		}
	}
	if commitment+need > capacity+freed {
		logger.Debug("invalidator could not free enough room for admission",
			logger.Commitment(commitment), logger.Capacity(capacity))
		return false, nil
	}

	for _, e := range plan {
		if err := inv.evict.EvictEntity(ctx, e); err != nil {
			logger.Warn("invalidator capacity eviction failed partway through plan",
				logger.UpstreamPath(e.UpstreamPath), logger.Err(err))
			return false, err
		}
	}
	metrics.RecordEviction(inv.metrics, "capacity", len(plan))
	return true, nil
}
