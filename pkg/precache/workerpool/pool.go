// Package workerpool implements the bounded fetch and checksum worker
// pools: a fixed number of goroutines draining a buffered FIFO channel,
// modelled on the teacher's transfer queue (bounded channel, N workers,
// graceful drain on shutdown). Connection bounding to the upstream
// gateway is layered on top with a counting semaphore.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/wtsi-hgi/irobot/internal/logger"
)

// ErrCancelled is sent on a job's Done channel when it is cancelled
// before the pool runs it, or when it is still queued at Stop.
var ErrCancelled = errors.New("workerpool: job cancelled")

// Job is a unit of work submitted to a Pool. Run should respect ctx
// cancellation; Done, if non-nil, receives the result of Run exactly once.
// The zero-value Job runs with context.Background() and can't be
// cancelled; use NewJob to get one wired with a cancellation token.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
	Done chan<- error

	ctx    context.Context
	cancel context.CancelFunc
}

// NewJob creates a Job with its own cancellable context and returns the
// cancel function alongside it. Cancelling before the pool dequeues the
// job makes it skip Run entirely and report ErrCancelled on Done;
// cancelling during Run fires ctx.Done() as usual.
func NewJob(name string, run func(ctx context.Context) error, done chan<- error) (Job, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	return Job{Name: name, Run: run, Done: done, ctx: ctx, cancel: cancel}, cancel
}

// Cancel cancels the job's context. Safe to call on a zero-value Job,
// more than once, and after the job has already finished.
func (j Job) Cancel() {
	if j.cancel != nil {
		j.cancel()
	}
}

func (j Job) context() context.Context {
	if j.ctx != nil {
		return j.ctx
	}
	return context.Background()
}

// Config configures a Pool.
type Config struct {
	// Workers is the number of goroutines draining the queue.
	Workers int
	// QueueSize is the buffered channel capacity; Enqueue blocks once full.
	QueueSize int
	// MaxInFlightUpstream, if > 0, bounds concurrent upstream connections
	// across all workers in this pool via a counting semaphore, separate
	// from the worker count (a worker may be running but waiting on the
	// semaphore rather than actually talking to the upstream).
	MaxInFlightUpstream int
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
}

// Pool is a bounded, named worker pool.
type Pool struct {
	name   string
	queue  chan Job
	sem    chan struct{}
	wg     sync.WaitGroup
	stopCh chan struct{}
	depth  int64
}

// New creates a Pool. Call Start to spawn workers and Stop to drain and
// shut down.
func New(name string, cfg Config) *Pool {
	cfg.applyDefaults()

	p := &Pool{
		name:   name,
		queue:  make(chan Job, cfg.QueueSize),
		stopCh: make(chan struct{}),
	}
	if cfg.MaxInFlightUpstream > 0 {
		p.sem = make(chan struct{}, cfg.MaxInFlightUpstream)
	}

	p.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go p.worker(i)
	}
	return p
}

// Enqueue submits a job. It blocks if the queue is full, and returns
// false without submitting if the pool has been stopped.
func (p *Pool) Enqueue(job Job) bool {
	select {
	case <-p.stopCh:
		return false
	default:
	}

	select {
	case p.queue <- job:
		atomic.AddInt64(&p.depth, 1)
		return true
	case <-p.stopCh:
		return false
	}
}

// TryEnqueue submits a job without blocking, returning false if the queue
// is full or the pool is stopped.
func (p *Pool) TryEnqueue(job Job) bool {
	select {
	case <-p.stopCh:
		return false
	default:
	}
	select {
	case p.queue <- job:
		atomic.AddInt64(&p.depth, 1)
		return true
	default:
		return false
	}
}

// QueueDepth returns the approximate number of jobs currently queued or
// running.
func (p *Pool) QueueDepth() int {
	return int(atomic.LoadInt64(&p.depth))
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			p.drain()
			return
		case job, ok := <-p.queue:
			if !ok {
				return
			}
			p.run(job)
		}
	}
}

func (p *Pool) run(job Job) {
	defer atomic.AddInt64(&p.depth, -1)

	select {
	case <-job.context().Done():
		if job.Done != nil {
			job.Done <- ErrCancelled
		}
		return
	case <-p.stopCh:
		job.Cancel()
		if job.Done != nil {
			job.Done <- ErrCancelled
		}
		return
	default:
	}

	if p.sem != nil {
		p.sem <- struct{}{}
		defer func() { <-p.sem }()
	}

	ctx := job.context()
	err := func() (runErr error) {
		defer func() {
			if r := recover(); r != nil {
				runErr = fmt.Errorf("workerpool %s: job %s panicked: %v", p.name, job.Name, r)
				logger.Error("worker pool job panicked",
					logger.WorkerPool(p.name), "job", job.Name, "panic", r)
			}
		}()
		return job.Run(ctx)
	}()

	if errors.Is(err, context.Canceled) {
		err = ErrCancelled
	}

	if err != nil {
		logger.Warn("worker pool job failed", logger.WorkerPool(p.name), "job", job.Name, logger.Err(err))
	}
	if job.Done != nil {
		job.Done <- err
	}
}

// drain cancels every job still sitting in the queue after Stop is
// called, rather than running it to completion, so shutdown doesn't
// block on a backlog of queued fetches. Done still receives exactly one
// value per job. It does not accept new submissions (Enqueue/TryEnqueue
// already reject once stopCh is closed).
func (p *Pool) drain() {
	for {
		select {
		case job, ok := <-p.queue:
			if !ok {
				return
			}
			atomic.AddInt64(&p.depth, -1)
			job.Cancel()
			if job.Done != nil {
				job.Done <- ErrCancelled
			}
		default:
			return
		}
	}
}

// Stop signals all workers to finish in-flight jobs, drain the remaining
// queue, and exit. It blocks until every worker has returned.
func (p *Pool) Stop() {
	close(p.stopCh)
	p.wg.Wait()
}
