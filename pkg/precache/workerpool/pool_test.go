package workerpool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_RunsEnqueuedJobs(t *testing.T) {
	p := New("test", Config{Workers: 2, QueueSize: 8})
	defer p.Stop()

	var ran int64
	done := make(chan error, 5)
	for i := 0; i < 5; i++ {
		ok := p.Enqueue(Job{
			Name: "job",
			Run: func(ctx context.Context) error {
				atomic.AddInt64(&ran, 1)
				return nil
			},
			Done: done,
		})
		require.True(t, ok)
	}

	for i := 0; i < 5; i++ {
		<-done
	}
	assert.EqualValues(t, 5, atomic.LoadInt64(&ran))
}

func TestPool_SemaphoreBoundsConcurrency(t *testing.T) {
	p := New("bounded", Config{Workers: 4, QueueSize: 8, MaxInFlightUpstream: 1})
	defer p.Stop()

	var concurrent, maxConcurrent int64
	done := make(chan error, 3)
	for i := 0; i < 3; i++ {
		p.Enqueue(Job{
			Run: func(ctx context.Context) error {
				n := atomic.AddInt64(&concurrent, 1)
				for {
					old := atomic.LoadInt64(&maxConcurrent)
					if n <= old || atomic.CompareAndSwapInt64(&maxConcurrent, old, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt64(&concurrent, -1)
				return nil
			},
			Done: done,
		})
	}
	for i := 0; i < 3; i++ {
		<-done
	}
	assert.EqualValues(t, 1, atomic.LoadInt64(&maxConcurrent))
}

func TestPool_StopCancelsQueuedJobs(t *testing.T) {
	p := New("drain", Config{Workers: 1, QueueSize: 8})

	block := make(chan struct{})
	first := make(chan error, 1)
	p.Enqueue(Job{Run: func(ctx context.Context) error {
		<-block
		return nil
	}, Done: first})

	var ran int64
	done := make(chan error, 3)
	for i := 0; i < 3; i++ {
		job, _ := NewJob("queued", func(ctx context.Context) error {
			atomic.AddInt64(&ran, 1)
			return nil
		}, done)
		p.Enqueue(job)
	}

	// Give the worker a moment to take the blocking first job, so the three
	// jobs behind it are still sitting in the queue when Stop fires.
	time.Sleep(10 * time.Millisecond)

	go func() { close(block) }()
	p.Stop()

	for i := 0; i < 3; i++ {
		require.ErrorIs(t, <-done, ErrCancelled)
	}
	assert.Zero(t, atomic.LoadInt64(&ran))
	<-first
}

func TestPool_CancelQueuedJobSkipsExecution(t *testing.T) {
	p := New("cancel", Config{Workers: 1, QueueSize: 8})
	defer p.Stop()

	block := make(chan struct{})
	firstDone := make(chan error, 1)
	p.Enqueue(Job{Run: func(ctx context.Context) error {
		<-block
		return nil
	}, Done: firstDone})

	var ran int64
	done := make(chan error, 1)
	job, cancel := NewJob("cancel-me", func(ctx context.Context) error {
		atomic.AddInt64(&ran, 1)
		return nil
	}, done)
	require.True(t, p.Enqueue(job))
	cancel()

	close(block)
	require.NoError(t, <-firstDone)
	require.ErrorIs(t, <-done, ErrCancelled)
	assert.Zero(t, atomic.LoadInt64(&ran))
}

func TestPool_EnqueueAfterStopFails(t *testing.T) {
	p := New("closed", Config{Workers: 1, QueueSize: 1})
	p.Stop()
	ok := p.Enqueue(Job{Run: func(ctx context.Context) error { return nil }})
	assert.False(t, ok)
}
