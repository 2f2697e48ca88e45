package ratetracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEstimate_EmptyChannelIsZero(t *testing.T) {
	tr := New(8)
	est := tr.Estimate("upstream")
	assert.Zero(t, est.Samples)
	assert.Zero(t, est.MeanBps)
}

func TestRecord_SingleSampleHasZeroStderr(t *testing.T) {
	tr := New(8)
	tr.Record("upstream", Sample{Bytes: 1000, Duration: time.Second})
	est := tr.Estimate("upstream")
	assert.Equal(t, 1, est.Samples)
	assert.InDelta(t, 1000, est.MeanBps, 0.001)
	assert.Zero(t, est.StderrBps)
}

func TestRecord_WindowCapsHistory(t *testing.T) {
	tr := New(3)
	for i := 0; i < 10; i++ {
		tr.Record("upstream", Sample{Bytes: 1000, Duration: time.Second})
	}
	est := tr.Estimate("upstream")
	assert.Equal(t, 3, est.Samples)
}

func TestRecord_ZeroDurationIgnored(t *testing.T) {
	tr := New(8)
	tr.Record("upstream", Sample{Bytes: 1000, Duration: 0})
	est := tr.Estimate("upstream")
	assert.Zero(t, est.Samples)
}

func TestRecord_ChannelsAreIndependent(t *testing.T) {
	tr := New(8)
	tr.Record("a", Sample{Bytes: 100, Duration: time.Second})
	tr.Record("b", Sample{Bytes: 900, Duration: time.Second})

	assert.InDelta(t, 100, tr.Estimate("a").MeanBps, 0.001)
	assert.InDelta(t, 900, tr.Estimate("b").MeanBps, 0.001)
}
