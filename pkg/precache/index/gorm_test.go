package index

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wtsi-hgi/irobot/pkg/precache/model"
)

func newTestIndex(t *testing.T) Index {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "index.db")
	idx, err := New(Config{Type: BackendSQLite, SQLite: SQLiteConfig{Path: dbPath}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestUpsertEntity_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	e1, err := idx.UpsertEntity(ctx, "/seq/1/a.bam", "ab/cd/1")
	require.NoError(t, err)
	require.Equal(t, model.StatusQueued, e1.Data.Status)

	e2, err := idx.UpsertEntity(ctx, "/seq/1/a.bam", "should-be-ignored")
	require.NoError(t, err)
	require.Equal(t, e1.PrecacheDir, e2.PrecacheDir)
}

func TestLogStatus_RejectsIllegalTransition(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)
	_, err := idx.UpsertEntity(ctx, "/seq/1/a.bam", "ab/cd/1")
	require.NoError(t, err)

	require.NoError(t, idx.LogStatus(ctx, "/seq/1/a.bam", model.DatatypeData, model.StatusStarted))
	require.NoError(t, idx.LogStatus(ctx, "/seq/1/a.bam", model.DatatypeData, model.StatusFinished))

	// Finished is terminal; Started is no longer reachable from it.
	err = idx.LogStatus(ctx, "/seq/1/a.bam", model.DatatypeData, model.StatusStarted)
	require.Error(t, err)
}

func TestCommitment_CountsStartedAndFinishedSlots(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)
	_, err := idx.UpsertEntity(ctx, "/seq/1/a.bam", "ab/cd/1")
	require.NoError(t, err)

	require.NoError(t, idx.SetSize(ctx, "/seq/1/a.bam", model.DatatypeData, 1000))
	commitment, err := idx.Commitment(ctx)
	require.NoError(t, err)
	require.Zero(t, commitment) // still Queued, not yet reserved

	require.NoError(t, idx.LogStatus(ctx, "/seq/1/a.bam", model.DatatypeData, model.StatusStarted))
	commitment, err = idx.Commitment(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1000, commitment) // reserved while in flight

	require.NoError(t, idx.LogStatus(ctx, "/seq/1/a.bam", model.DatatypeData, model.StatusFinished))
	commitment, err = idx.Commitment(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1000, commitment)
}

func TestCandidatesForEviction_ExcludesContended(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)
	_, err := idx.UpsertEntity(ctx, "/seq/1/a.bam", "ab/cd/1")
	require.NoError(t, err)
	_, err = idx.UpsertEntity(ctx, "/seq/1/b.bam", "ab/cd/2")
	require.NoError(t, err)

	require.NoError(t, idx.Hold(ctx, "/seq/1/a.bam"))

	candidates, err := idx.CandidatesForEviction(ctx, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.Equal(t, "/seq/1/b.bam", candidates[0].UpstreamPath)
}

func TestRepair_ResetsStartedAndPrunesEmpty(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)
	_, err := idx.UpsertEntity(ctx, "/seq/1/a.bam", "ab/cd/1")
	require.NoError(t, err)
	require.NoError(t, idx.SetSize(ctx, "/seq/1/a.bam", model.DatatypeData, 1000))
	require.NoError(t, idx.LogStatus(ctx, "/seq/1/a.bam", model.DatatypeData, model.StatusStarted))

	_, err = idx.UpsertEntity(ctx, "/seq/1/empty.bam", "ab/cd/2")
	require.NoError(t, err)

	report, err := idx.Repair(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.SlotsReset)
	require.Equal(t, 1, report.EntitiesPruned)

	status, err := idx.CurrentStatus(ctx, "/seq/1/a.bam", model.DatatypeData)
	require.NoError(t, err)
	require.Equal(t, model.StatusQueued, status)

	e, err := idx.Get(ctx, "/seq/1/empty.bam")
	require.NoError(t, err)
	require.Nil(t, e)
}
