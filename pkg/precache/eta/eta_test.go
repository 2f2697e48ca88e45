package eta

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wtsi-hgi/irobot/pkg/precache/ratetracker"
)

func TestForRemaining_NoSamplesIsNotOK(t *testing.T) {
	_, ok := ForRemaining(1000, ratetracker.Estimate{}, time.Now())
	assert.False(t, ok)
}

func TestForRemaining_ComputesCompletionTime(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	est, ok := ForRemaining(1000, ratetracker.Estimate{MeanBps: 100, StderrBps: 0, Samples: 5}, now)
	require.True(t, ok)
	assert.Equal(t, now.Add(10*time.Second), est.CompletesAt)
	assert.Zero(t, est.UncertaintySeconds)
}

func TestForRemaining_PropagatesRelativeError(t *testing.T) {
	now := time.Now()
	est, ok := ForRemaining(1000, ratetracker.Estimate{MeanBps: 100, StderrBps: 10, Samples: 5}, now)
	require.True(t, ok)
	assert.InDelta(t, 1.0, est.UncertaintySeconds, 0.001)
}

func TestHeader_Format(t *testing.T) {
	est := Estimate{CompletesAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC), UncertaintySeconds: 45}
	assert.Equal(t, "2026-08-01T12:00:00Z +/- 45", est.Header())
}
