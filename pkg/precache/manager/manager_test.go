package manager

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wtsi-hgi/irobot/pkg/precache/index"
	"github.com/wtsi-hgi/irobot/pkg/precache/model"
	"github.com/wtsi-hgi/irobot/pkg/precache/ratetracker"
	"github.com/wtsi-hgi/irobot/pkg/precache/workerpool"
	"github.com/wtsi-hgi/irobot/pkg/upstream"
)

func newTestManager(t *testing.T) (*Manager, *upstream.Stub) {
	t.Helper()
	root := t.TempDir()
	idx, err := index.New(index.Config{Type: index.BackendSQLite, SQLite: index.SQLiteConfig{Path: filepath.Join(root, "index.db")}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	stub := upstream.NewStub()
	pool := workerpool.New("fetch", workerpool.Config{Workers: 2, QueueSize: 16})
	t.Cleanup(pool.Stop)

	mgr := New(Config{Root: root, ChunkSize: 64}, idx, stub, pool, nil, ratetracker.New(8))
	return mgr, stub
}

func TestOpen_FetchesDataAndBecomesReady(t *testing.T) {
	mgr, stub := newTestManager(t)
	ctx := context.Background()

	stub.Seed("/seq/1/a.bam", []byte("the quick brown fox jumps over the lazy dog"), nil)

	_, err := mgr.Open(ctx, "/seq/1/a.bam", model.DatatypeData)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	status, err := mgr.WaitReady(waitCtx, "/seq/1/a.bam", model.DatatypeData)
	require.NoError(t, err)
	require.Equal(t, model.StatusFinished, status)
}

func TestOpen_NotFoundUpstreamFailsAdmission(t *testing.T) {
	mgr, stub := newTestManager(t)
	ctx := context.Background()
	stub.MarkNotFound("/seq/1/missing.bam")

	_, err := mgr.Open(ctx, "/seq/1/missing.bam", model.DatatypeData)
	require.Error(t, err)
	pe, ok := model.AsPrecacheError(err)
	require.True(t, ok)
	require.Equal(t, model.ErrNotFound, pe.Code)
}

func TestOpen_ChainsChecksumAfterDataFinishes(t *testing.T) {
	mgr, stub := newTestManager(t)
	ctx := context.Background()
	stub.Seed("/seq/1/a.bam", []byte("the quick brown fox jumps over the lazy dog"), nil)

	_, err := mgr.Open(ctx, "/seq/1/a.bam", model.DatatypeData)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	status, err := mgr.WaitReady(waitCtx, "/seq/1/a.bam", model.DatatypeChecksums)
	require.NoError(t, err)
	require.Equal(t, model.StatusFinished, status)

	e, err := mgr.Manifest(ctx, "/seq/1/a.bam")
	require.NoError(t, err)
	require.NotZero(t, e.Checksums.Size)

	_, err = os.Stat(filepath.Join(mgr.EntityDir(e), "data.checksums"))
	require.NoError(t, err)
}

func TestOpen_RefusesAdmissionWhenRequiredExceedsCapacity(t *testing.T) {
	mgr, stub := newTestManager(t)
	mgr.cfg.Capacity = 4
	ctx := context.Background()
	stub.Seed("/seq/1/a.bam", []byte("the quick brown fox jumps over the lazy dog"), nil)

	_, err := mgr.Open(ctx, "/seq/1/a.bam", model.DatatypeData)
	require.Error(t, err)
	pe, ok := model.AsPrecacheError(err)
	require.True(t, ok)
	require.Equal(t, model.ErrPrecacheFull, pe.Code)
}

func TestETA_ReturnsEstimateForInFlightFetch(t *testing.T) {
	mgr, stub := newTestManager(t)
	ctx := context.Background()
	stub.Seed("/seq/1/a.bam", []byte("the quick brown fox jumps over the lazy dog"), nil)
	release := make(chan struct{})
	stub.Block("/seq/1/a.bam", release)
	defer close(release)

	mgr.rates.Record("default", ratetracker.Sample{Bytes: 1 << 20, Duration: time.Second})

	_, err := mgr.Open(ctx, "/seq/1/a.bam", model.DatatypeData)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok, err := mgr.ETA(ctx, "/seq/1/a.bam")
		return err == nil && ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestReset_CancelsInFlightFetch(t *testing.T) {
	mgr, stub := newTestManager(t)
	ctx := context.Background()
	stub.Seed("/seq/1/a.bam", []byte("data"), nil)
	release := make(chan struct{})
	stub.Block("/seq/1/a.bam", release)
	defer close(release)

	_, err := mgr.Open(ctx, "/seq/1/a.bam", model.DatatypeData)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		status, err := mgr.DatatypeStatus(ctx, "/seq/1/a.bam", model.DatatypeData)
		return err == nil && status == model.StatusStarted
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, mgr.Reset(ctx, "/seq/1/a.bam"))

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	status, err := mgr.WaitReady(waitCtx, "/seq/1/a.bam", model.DatatypeData)
	require.NoError(t, err)
	require.Equal(t, model.StatusFailed, status)
}

func TestDelete_RefusesWhileHeld(t *testing.T) {
	mgr, stub := newTestManager(t)
	ctx := context.Background()
	stub.Seed("/seq/1/a.bam", []byte("data"), nil)

	_, err := mgr.Open(ctx, "/seq/1/a.bam", model.DatatypeData)
	require.NoError(t, err)

	err = mgr.Delete(ctx, "/seq/1/a.bam")
	require.Error(t, err)
	pe, ok := model.AsPrecacheError(err)
	require.True(t, ok)
	require.Equal(t, model.ErrInUse, pe.Code)

	require.NoError(t, mgr.Release(ctx, "/seq/1/a.bam"))
	require.NoError(t, mgr.Delete(ctx, "/seq/1/a.bam"))
}

func TestDelete_NotFoundForUntrackedPath(t *testing.T) {
	mgr, _ := newTestManager(t)
	err := mgr.Delete(context.Background(), "/seq/1/never-opened.bam")
	require.Error(t, err)
	pe, ok := model.AsPrecacheError(err)
	require.True(t, ok)
	require.Equal(t, model.ErrNotFound, pe.Code)
}
