// Package manager implements the Precache Manager: the public surface
// for opening, releasing, deleting and reporting on precache entities. It
// holds live entity handles in a mutex-guarded map keyed by upstream
// path, the same shape as the teacher's named-resource registry (short
// critical sections, long operations performed outside the lock), and
// orchestrates the Tracking Index, Checksummer, Worker Pool, Rate
// Tracker, ETA Estimator and Invalidator to satisfy the Request Workflow.
package manager

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wtsi-hgi/irobot/internal/logger"
	"github.com/wtsi-hgi/irobot/pkg/metrics"
	"github.com/wtsi-hgi/irobot/pkg/precache/checksum"
	"github.com/wtsi-hgi/irobot/pkg/precache/entity"
	"github.com/wtsi-hgi/irobot/pkg/precache/eta"
	"github.com/wtsi-hgi/irobot/pkg/precache/index"
	"github.com/wtsi-hgi/irobot/pkg/precache/model"
	"github.com/wtsi-hgi/irobot/pkg/precache/ratetracker"
	"github.com/wtsi-hgi/irobot/pkg/precache/workerpool"
	"github.com/wtsi-hgi/irobot/pkg/upstream"
)

// Evictor is satisfied by Manager itself; it exists so pkg/precache/invalidator
// doesn't need to import this package.
type Evictor interface {
	EvictEntity(ctx context.Context, e *model.Entity) error
}

// capacityFreer is satisfied by *invalidator.Invalidator. Admission depends
// on this narrow interface, rather than the concrete type, purely so tests
// can exercise reserve() without spinning up a real Invalidator.
type capacityFreer interface {
	EvictForCapacity(ctx context.Context, capacity, need uint64) (bool, error)
}

// Config configures the Precache Manager.
type Config struct {
	// Root is the base directory all entity precache directories live
	// under.
	Root string
	// Capacity is the total bytes the precache may commit. Unlimited
	// (duration.Unlimited's byte-size analogue, represented here as 0
	// meaning "no cap") disables capacity eviction.
	Capacity uint64
	// ChunkSize is the read size the Checksummer streams in.
	ChunkSize int64
	// FetchTimeout bounds a single upstream fetch attempt.
	FetchTimeout time.Duration
	// ChecksumMismatchRetries bounds how many times a data fetch is
	// retried after a whole-file checksum mismatch before failing with
	// UpstreamError.
	ChecksumMismatchRetries int
}

// Manager is the Precache Manager. It is safe for concurrent use.
type Manager struct {
	cfg      Config
	idx      index.Index
	gw       upstream.Gateway
	fetch    *workerpool.Pool // data and metadata fetches
	checksum *workerpool.Pool // block-wise checksum computation
	rates    *ratetracker.Tracker

	mu      sync.RWMutex
	handles map[string]*entity.Handle

	freer   capacityFreer
	metrics metrics.Recorder
}

// New creates a Manager wired to its collaborators. fetchPool runs data and
// metadata fetches against the upstream gateway; checksumPool runs the
// block-wise MD5 computation independently, so a backlog of checksumming
// never starves new admissions of fetch workers. If checksumPool is nil,
// checksums run on fetchPool instead.
func New(cfg Config, idx index.Index, gw upstream.Gateway, fetchPool, checksumPool *workerpool.Pool, rates *ratetracker.Tracker) *Manager {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 4 << 20
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Minute
	}
	if cfg.ChecksumMismatchRetries < 0 {
		cfg.ChecksumMismatchRetries = 0
	}
	if checksumPool == nil {
		checksumPool = fetchPool
	}
	return &Manager{
		cfg:      cfg,
		idx:      idx,
		gw:       gw,
		fetch:    fetchPool,
		checksum: checksumPool,
		rates:    rates,
		handles:  make(map[string]*entity.Handle),
	}
}

// AttachInvalidator wires the Invalidator's capacity-eviction path into
// admission. Until this is called, a full precache always refuses
// admission outright rather than attempting to free room — this is the
// expected state in tests that don't exercise eviction.
func (m *Manager) AttachInvalidator(freer capacityFreer) {
	m.freer = freer
}

// AttachMetrics wires a Recorder for fetch, admission and capacity
// instrumentation. Until called, Manager operates with no metrics
// overhead at all.
func (m *Manager) AttachMetrics(rec metrics.Recorder) {
	m.metrics = rec
	metrics.RecordCapacity(rec, m.cfg.Capacity)
}

func (m *Manager) handleFor(upstreamPath string) *entity.Handle {
	m.mu.RLock()
	h, ok := m.handles[upstreamPath]
	m.mu.RUnlock()
	if ok {
		return h
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok = m.handles[upstreamPath]; ok {
		return h
	}
	h = entity.New(upstreamPath)
	m.handles[upstreamPath] = h
	return h
}

// Open ensures upstreamPath is tracked, holds it (incrementing contention
// so it can't be evicted out from under the caller), and ensures dt's
// fetch has been admitted, kicking one off if necessary. It returns
// immediately without waiting for the fetch to finish — callers that need
// to block until ready should follow up with WaitReady.
func (m *Manager) Open(ctx context.Context, upstreamPath string, dt model.Datatype) (*model.Entity, error) {
	e, err := m.idx.Get(ctx, upstreamPath)
	if err != nil {
		return nil, model.NewUpstreamError(upstreamPath, err)
	}

	if e == nil {
		e, err = m.admitNewEntity(ctx, upstreamPath)
		if err != nil {
			return nil, err
		}
	}

	if err := m.idx.Hold(ctx, upstreamPath); err != nil {
		return nil, model.NewUpstreamError(upstreamPath, err)
	}

	h := m.handleFor(upstreamPath)
	slot := e.Slot(dt)
	if slot == nil {
		return nil, fmt.Errorf("precache manager: invalid datatype %q", dt)
	}
	if slot.Status == model.StatusQueued && h.TryStartFetch(dt) {
		m.scheduleFetch(upstreamPath, dt, h)
	}

	if _, err := m.idx.Touch(ctx, upstreamPath); err != nil {
		logger.Warn("precache manager failed to touch entity", logger.UpstreamPath(upstreamPath), logger.Err(err))
	}

	return e, nil
}

// admitNewEntity performs the synchronous portion of admission for a path
// the Tracking Index has never seen: fetch_metadata from upstream, size
// the reservation (data + metadata + checksum sidecar), check it against
// capacity, then write the metadata sidecar and mark that slot Finished
// before returning. Only once this returns does the caller begin any
// asynchronous data fetch, so a precache that's full never starts one.
func (m *Manager) admitNewEntity(ctx context.Context, upstreamPath string) (*model.Entity, error) {
	objMeta, err := m.gw.FetchMetadata(ctx, upstreamPath)
	if err != nil {
		return nil, m.mapUpstreamError(upstreamPath, err)
	}

	metaBytes := encodeMetadataSidecar(objMeta)
	checksumSize := checksum.EstimateSidecarSize(objMeta.Size, m.cfg.ChunkSize)
	required := objMeta.Size + uint64(len(metaBytes)) + checksumSize

	if err := m.reserve(ctx, upstreamPath, required); err != nil {
		return nil, err
	}

	dir := entityDir(upstreamPath)
	e, err := m.idx.UpsertEntity(ctx, upstreamPath, dir)
	if err != nil {
		return nil, model.NewUpstreamError(upstreamPath, err)
	}

	if err := m.writeMetadata(ctx, upstreamPath, e.PrecacheDir, metaBytes); err != nil {
		return nil, model.NewUpstreamError(upstreamPath, err)
	}
	if err := m.idx.SetSize(ctx, upstreamPath, model.DatatypeData, objMeta.Size); err != nil {
		return nil, model.NewUpstreamError(upstreamPath, err)
	}
	if err := m.idx.SetSize(ctx, upstreamPath, model.DatatypeChecksums, checksumSize); err != nil {
		return nil, model.NewUpstreamError(upstreamPath, err)
	}

	e, err = m.idx.Get(ctx, upstreamPath)
	if err != nil {
		return nil, model.NewUpstreamError(upstreamPath, err)
	}
	return e, nil
}

// reserve enforces the capacity budget against required, the bytes a new
// entity's data, metadata and checksum sidecar are expected to occupy,
// before anything is written. Unlimited capacity (Capacity == 0) skips
// the check entirely. If the precache doesn't have required bytes free
// and an Invalidator has been attached, reserve asks it to free exactly
// that much before failing; eviction is all-or-nothing, so a failed
// free-up leaves commitment unchanged.
func (m *Manager) reserve(ctx context.Context, upstreamPath string, required uint64) error {
	if m.cfg.Capacity == 0 {
		metrics.RecordAdmission(m.metrics, true)
		return nil
	}

	if m.freer != nil {
		ok, err := m.freer.EvictForCapacity(ctx, m.cfg.Capacity, required)
		if err != nil {
			return model.NewUpstreamError(upstreamPath, err)
		}
		if !ok {
			metrics.RecordAdmission(m.metrics, false)
			return model.NewPrecacheFullError(upstreamPath)
		}
		metrics.RecordAdmission(m.metrics, true)
		return nil
	}

	commitment, err := m.idx.Commitment(ctx)
	if err != nil {
		return model.NewUpstreamError(upstreamPath, err)
	}
	if commitment+required > m.cfg.Capacity {
		metrics.RecordAdmission(m.metrics, false)
		return model.NewPrecacheFullError(upstreamPath)
	}
	metrics.RecordAdmission(m.metrics, true)
	return nil
}

// writeMetadata persists the metadata sidecar synchronously at admission
// and marks that slot Finished — the only slot the Request Workflow
// fills in before returning from Open, per the admission sequence.
func (m *Manager) writeMetadata(ctx context.Context, upstreamPath, precacheDir string, metaBytes []byte) error {
	dir := filepath.Join(m.cfg.Root, precacheDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "metadata.json"), metaBytes, 0644); err != nil {
		return err
	}
	if err := m.idx.SetSize(ctx, upstreamPath, model.DatatypeMetadata, uint64(len(metaBytes))); err != nil {
		return err
	}
	if err := m.idx.LogStatus(ctx, upstreamPath, model.DatatypeMetadata, model.StatusStarted); err != nil {
		return err
	}
	return m.idx.LogStatus(ctx, upstreamPath, model.DatatypeMetadata, model.StatusFinished)
}

// encodeMetadataSidecar renders the metadata slot's on-disk JSON shape:
// the object's size, checksum, timestamps and AVU attributes.
func encodeMetadataSidecar(objMeta upstream.ObjectMetadata) []byte {
	var avus []byte
	avus = append(avus, '[')
	for i, a := range objMeta.AVUs {
		if i > 0 {
			avus = append(avus, ',')
		}
		avus = fmt.Appendf(avus, `{"attribute":%q,"value":%q,"unit":%q}`, a.Attribute, a.Value, a.Unit)
	}
	avus = append(avus, ']')

	return fmt.Appendf(nil, `{"checksum":%q,"size":%d,"created":%q,"modified":%q,"avus":%s}`,
		objMeta.Checksum, objMeta.Size,
		objMeta.CreatedAt.UTC().Format(time.RFC3339), objMeta.ModifiedAt.UTC().Format(time.RFC3339), avus)
}

// mapUpstreamError recognises the Gateway's sentinel conditions and
// translates them to the matching PrecacheError code; anything else is
// wrapped as a generic upstream failure.
func (m *Manager) mapUpstreamError(upstreamPath string, err error) error {
	switch {
	case errors.Is(err, upstream.ErrNotFound):
		return model.NewNotFoundError(upstreamPath)
	case errors.Is(err, upstream.ErrForbidden):
		return model.NewForbiddenError(upstreamPath)
	default:
		return model.NewUpstreamError(upstreamPath, err)
	}
}

// Release decrements contention, allowing the entity to become an
// eviction candidate again once idle.
func (m *Manager) Release(ctx context.Context, upstreamPath string) error {
	return m.idx.Release(ctx, upstreamPath)
}

// DatatypeStatus reports the current status of a single datatype slot
// without blocking for it to change. The Request Workflow uses this for
// GET/HEAD's immediate response: a Finished slot is served, anything
// else yields a 202 with an ETA rather than a wait.
func (m *Manager) DatatypeStatus(ctx context.Context, upstreamPath string, dt model.Datatype) (model.Status, error) {
	return m.idx.CurrentStatus(ctx, upstreamPath, dt)
}

// WaitReady blocks until dt reaches a terminal status (Finished or
// Failed) or ctx is cancelled, whichever comes first.
func (m *Manager) WaitReady(ctx context.Context, upstreamPath string, dt model.Datatype) (model.Status, error) {
	h := m.handleFor(upstreamPath)
	for {
		status, err := m.idx.CurrentStatus(ctx, upstreamPath, dt)
		if err != nil {
			return 0, err
		}
		if status == model.StatusFinished || status == model.StatusFailed {
			return status, nil
		}

		select {
		case <-ctx.Done():
			return status, ctx.Err()
		case <-h.Wait(dt):
		}
	}
}

// scheduleFetch enqueues the background job that materialises dt for
// upstreamPath, looping through status transitions exactly as the
// Tracking Index requires (Queued -> Started -> Finished/Failed). The
// job carries its own cancellation token, registered on h so Reset can
// cancel a queued or in-flight fetch; cleanup (releasing the fetch lease
// and waking waiters) is driven off the job's own Done channel rather
// than its Run closure, so a job cancelled before the pool ever runs it
// still cleans up instead of leaking the lease forever.
func (m *Manager) scheduleFetch(upstreamPath string, dt model.Datatype, h *entity.Handle) {
	pool := m.fetch
	if dt == model.DatatypeChecksums {
		pool = m.checksum
	}

	done := make(chan error, 1)
	job, cancel := workerpool.NewJob(fmt.Sprintf("%s:%s", dt, upstreamPath), func(ctx context.Context) error {
		return m.runFetch(ctx, upstreamPath, dt)
	}, done)
	h.SetCancel(dt, cancel)

	go func() {
		<-done
		h.SetCancel(dt, nil)
		h.FinishFetch(dt)
	}()

	if !pool.Enqueue(job) {
		logger.Warn("precache manager failed to enqueue fetch", logger.UpstreamPath(upstreamPath), logger.Datatype(string(dt)))
		done <- workerpool.ErrCancelled
	}
}

func (m *Manager) runFetch(parent context.Context, upstreamPath string, dt model.Datatype) error {
	ctx, cancel := context.WithTimeout(parent, m.cfg.FetchTimeout)
	defer cancel()

	if err := m.idx.LogStatus(ctx, upstreamPath, dt, model.StatusStarted); err != nil {
		return err
	}

	start := time.Now()
	size, err := m.fetchOne(ctx, upstreamPath, dt)
	if err != nil {
		logger.Warn("precache fetch failed", logger.UpstreamPath(upstreamPath), logger.Datatype(string(dt)), logger.Err(err))
		_ = m.idx.LogStatus(context.Background(), upstreamPath, dt, model.StatusFailed)
		metrics.ObserveFetch(m.metrics, string(dt), "failed", 0, time.Since(start))
		return err
	}
	metrics.ObserveFetch(m.metrics, string(dt), "finished", size, time.Since(start))

	if dt == model.DatatypeData {
		m.rates.Record("default", ratetracker.Sample{Bytes: size, Duration: time.Since(start)})
		rate := m.rates.Estimate("default")
		metrics.RecordRate(m.metrics, rate.MeanBps, rate.StderrBps, rate.Samples)
	}

	if err := m.idx.SetSize(ctx, upstreamPath, dt, size); err != nil {
		return err
	}
	if commitment, cErr := m.idx.Commitment(ctx); cErr == nil {
		metrics.RecordCommitment(m.metrics, commitment)
	}
	if err := m.idx.LogStatus(ctx, upstreamPath, dt, model.StatusFinished); err != nil {
		return err
	}

	if dt == model.DatatypeData {
		m.chainChecksum(upstreamPath)
	}
	return nil
}

// chainChecksum starts the block-wise checksum fetch once the data slot
// it covers finishes, per the fetch-then-verify sequence: the sidecar
// can't be built until the data it checksums exists on disk.
func (m *Manager) chainChecksum(upstreamPath string) {
	status, err := m.idx.CurrentStatus(context.Background(), upstreamPath, model.DatatypeChecksums)
	if err != nil {
		logger.Warn("precache manager failed to read checksums status", logger.UpstreamPath(upstreamPath), logger.Err(err))
		return
	}
	if status != model.StatusQueued {
		return
	}

	h := m.handleFor(upstreamPath)
	if h.TryStartFetch(model.DatatypeChecksums) {
		m.scheduleFetch(upstreamPath, model.DatatypeChecksums, h)
	}
}

func (m *Manager) fetchOne(ctx context.Context, upstreamPath string, dt model.Datatype) (uint64, error) {
	e, err := m.idx.Get(ctx, upstreamPath)
	if err != nil {
		return 0, err
	}
	dir := filepath.Join(m.cfg.Root, e.PrecacheDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, err
	}

	switch dt {
	case model.DatatypeData:
		return m.fetchData(ctx, upstreamPath, dir)
	case model.DatatypeMetadata:
		return m.fetchMetadata(ctx, upstreamPath, dir)
	case model.DatatypeChecksums:
		return m.fetchChecksums(ctx, upstreamPath, dir)
	default:
		return 0, fmt.Errorf("precache manager: invalid datatype %q", dt)
	}
}

func (m *Manager) fetchData(ctx context.Context, upstreamPath, dir string) (uint64, error) {
	var n int64
	var fetchErr error

	for attempt := 0; ; attempt++ {
		n, fetchErr = m.fetchDataOnce(ctx, upstreamPath, dir)
		if fetchErr == nil {
			return uint64(n), nil
		}
		pe, isMismatch := model.AsPrecacheError(fetchErr)
		isMismatch = isMismatch && pe.Code == model.ErrChecksumMismatch
		if !isMismatch || attempt >= m.cfg.ChecksumMismatchRetries {
			break
		}
		logger.Warn("checksum mismatch after fetch, retrying",
			logger.UpstreamPath(upstreamPath), logger.Attempt(attempt+1), logger.MaxRetries(m.cfg.ChecksumMismatchRetries))
	}

	if pe, ok := model.AsPrecacheError(fetchErr); ok && pe.Code == model.ErrChecksumMismatch {
		return 0, model.NewUpstreamError(upstreamPath, fetchErr)
	}
	return 0, fetchErr
}

func (m *Manager) fetchDataOnce(ctx context.Context, upstreamPath, dir string) (int64, error) {
	path := filepath.Join(dir, "data")
	tmpPath := path + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return 0, err
	}

	n, fetchErr := m.gw.FetchData(ctx, upstreamPath, f)
	closeErr := f.Close()
	if fetchErr != nil {
		os.Remove(tmpPath)
		return 0, m.mapUpstreamError(upstreamPath, fetchErr)
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return 0, closeErr
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return 0, err
	}

	if err := m.verifyChecksum(ctx, upstreamPath, path); err != nil {
		return 0, err
	}

	return n, nil
}

// verifyChecksum computes the whole-file MD5 of the freshly fetched data
// and compares it with the upstream-reported checksum. A mismatch is
// returned as a ChecksumMismatchError so fetchData can decide whether to
// retry the fetch.
func (m *Manager) verifyChecksum(ctx context.Context, upstreamPath, path string) error {
	computed, err := md5File(path)
	if err != nil {
		return err
	}

	want, err := m.gw.UpstreamChecksum(ctx, upstreamPath)
	if err != nil {
		return m.mapUpstreamError(upstreamPath, err)
	}

	if computed != want {
		return model.NewChecksumMismatchError(upstreamPath)
	}

	return m.idx.SetChecksum(ctx, upstreamPath, computed)
}

func md5File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// fetchMetadata re-fetches the metadata slot asynchronously, for the
// path the metadata slot takes back through Queued (e.g. after Reset)
// rather than the synchronous admission-time fetch in admitNewEntity.
func (m *Manager) fetchMetadata(ctx context.Context, upstreamPath, dir string) (uint64, error) {
	objMeta, err := m.gw.FetchMetadata(ctx, upstreamPath)
	if err != nil {
		return 0, m.mapUpstreamError(upstreamPath, err)
	}

	buf := encodeMetadataSidecar(objMeta)
	path := filepath.Join(dir, "metadata.json")
	if err := os.WriteFile(path, buf, 0644); err != nil {
		return 0, err
	}
	return uint64(len(buf)), nil
}

func (m *Manager) fetchChecksums(ctx context.Context, upstreamPath, dir string) (uint64, error) {
	dataPath := filepath.Join(dir, "data")
	table, err := checksum.SumFile(dataPath, m.cfg.ChunkSize)
	if err != nil {
		return 0, err
	}

	sidecarPath := filepath.Join(dir, "data.checksums")
	n, err := checksum.WriteSidecar(sidecarPath, table)
	if err != nil {
		return 0, err
	}
	return uint64(n), nil
}

// ETA computes the current ETA for an in-flight data fetch, or returns ok
// == false if the data slot isn't currently being fetched or there is no
// rate sample yet.
func (m *Manager) ETA(ctx context.Context, upstreamPath string) (eta.Estimate, bool, error) {
	e, err := m.idx.Get(ctx, upstreamPath)
	if err != nil {
		return eta.Estimate{}, false, err
	}
	if e == nil || e.Data.Status != model.StatusStarted {
		return eta.Estimate{}, false, nil
	}

	// e.Data.Size was reserved from fetch_metadata at admission, so it's
	// the fetch's total size; without a byte-level progress callback from
	// the gateway, that total stands in for the remaining-bytes figure
	// the estimator wants.
	rate := m.rates.Estimate("default")
	return eta.ForRemaining(e.Data.Size, rate, time.Now())
}

// Status reports the precache's overall state, for the /status endpoint.
type Status struct {
	Commitment uint64
	Capacity   uint64
	Rate       ratetracker.Estimate
}

func (m *Manager) Status(ctx context.Context) (Status, error) {
	commitment, err := m.idx.Commitment(ctx)
	if err != nil {
		return Status{}, err
	}
	rate := m.rates.Estimate("default")
	metrics.RecordCommitment(m.metrics, commitment)
	metrics.RecordRate(m.metrics, rate.MeanBps, rate.StderrBps, rate.Samples)
	return Status{
		Commitment: commitment,
		Capacity:   m.cfg.Capacity,
		Rate:       rate,
	}, nil
}

// EntityDir returns the absolute on-disk directory backing e, for
// handlers that need to serve its files directly.
func (m *Manager) EntityDir(e *model.Entity) string {
	return filepath.Join(m.cfg.Root, e.PrecacheDir)
}

// Manifest returns the full per-datatype state of an entity, for the
// caller's GET manifest operation. It does not hold the entity, so callers
// that need a consistent read across an open/close pair should wrap it
// with Open/Release themselves.
func (m *Manager) Manifest(ctx context.Context, upstreamPath string) (*model.Entity, error) {
	e, err := m.idx.Get(ctx, upstreamPath)
	if err != nil {
		return nil, model.NewUpstreamError(upstreamPath, err)
	}
	if e == nil {
		return nil, model.NewNotFoundError(upstreamPath)
	}
	return e, nil
}

// EvictEntity removes an entity's tracking row and on-disk directory. It
// refuses to evict an entity with non-zero contention.
func (m *Manager) EvictEntity(ctx context.Context, e *model.Entity) error {
	if e.Contention > 0 {
		return model.NewInUseError(e.UpstreamPath)
	}

	if err := m.idx.Delete(ctx, e.UpstreamPath); err != nil {
		return err
	}

	dir := filepath.Join(m.cfg.Root, e.PrecacheDir)
	if err := os.RemoveAll(dir); err != nil {
		logger.Warn("precache manager failed to remove on-disk directory", logger.PrecacheDir(dir), logger.Err(err))
	}

	m.mu.Lock()
	delete(m.handles, e.UpstreamPath)
	m.mu.Unlock()

	return nil
}

// Delete is the caller-facing DELETE operation: it refuses to remove an
// entity currently held by another request.
func (m *Manager) Delete(ctx context.Context, upstreamPath string) error {
	e, err := m.idx.Get(ctx, upstreamPath)
	if err != nil {
		return model.NewUpstreamError(upstreamPath, err)
	}
	if e == nil {
		return model.NewNotFoundError(upstreamPath)
	}
	return m.EvictEntity(ctx, e)
}

// Reset forces every slot of an entity back to Queued, for the caller's
// POST "refetch" operation. Any fetch currently queued or in flight for
// this path is cancelled first, so a stale job can't race the reset and
// overwrite the freshly Queued state with its own stale result.
func (m *Manager) Reset(ctx context.Context, upstreamPath string) error {
	h := m.handleFor(upstreamPath)
	for _, dt := range []model.Datatype{model.DatatypeData, model.DatatypeMetadata, model.DatatypeChecksums} {
		h.Cancel(dt)
	}
	return m.idx.Reset(ctx, upstreamPath)
}

// entityDir derives a collision-free, opaque on-disk directory name for
// an upstream path. A random UUID is used rather than a hash of the path
// so a path rename upstream doesn't silently collide with another
// entity's existing directory.
func entityDir(upstreamPath string) string {
	id := uuid.New().String()
	return filepath.Join(id[0:2], id[2:4], id)
}
