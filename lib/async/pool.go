// Package async provides a bounded worker pool that rejects work when full.
package async

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/coachpo/arbwatch/errs"
)

// Task is a unit of work executed by the pool workers.
type Task func(context.Context) error

// ErrorHandler receives task errors and recovered panics.
type ErrorHandler func(err error)

// Pool is a bounded worker pool. Submit never blocks: a full queue is
// reported as CodeUnavailable so callers can count the drop.
type Pool struct {
	ctx     context.Context
	cancel  context.CancelFunc
	jobs    chan job
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	onError ErrorHandler
	pending atomic.Int64
}

type job struct {
	ctx context.Context
	fn  Task
}

// Option customises a Pool.
type Option func(*Pool)

// WithErrorHandler routes task failures to fn.
func WithErrorHandler(fn ErrorHandler) Option {
	return func(p *Pool) { p.onError = fn }
}

// NewPool creates a worker pool with the given concurrency and queue depth.
func NewPool(workers, queue int, opts ...Option) (*Pool, error) {
	if workers <= 0 {
		return nil, errs.New("lib/async", errs.CodeInvalid, errs.WithMessage("workers must be >0"))
	}
	if queue < 0 {
		queue = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{ctx: ctx, cancel: cancel, jobs: make(chan job, queue)}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p, nil
}

// Submit schedules fn without blocking.
func (p *Pool) Submit(ctx context.Context, fn Task) error {
	if fn == nil {
		return errs.New("lib/async", errs.CodeInvalid, errs.WithMessage("task must not be nil"))
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("submit context: %w", err)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return errs.New("lib/async", errs.CodeUnavailable, errs.WithMessage("pool closed"))
	}
	p.wg.Add(1)
	p.pending.Add(1)
	select {
	case p.jobs <- job{ctx: ctx, fn: fn}:
		return nil
	default:
		p.pending.Add(-1)
		p.wg.Done()
		return errs.New("lib/async", errs.CodeUnavailable, errs.WithMessage("pool at capacity"))
	}
}

// Pending returns the number of queued or running tasks.
func (p *Pool) Pending() int64 { return p.pending.Load() }

// Close stops accepting new tasks. Queued tasks still run.
func (p *Pool) Close() {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.jobs)
		p.mu.Unlock()
	})
}

// Shutdown closes the pool and waits for queued tasks to drain or ctx to
// expire, in which case running tasks are cancelled.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.Close()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		p.cancel()
		return fmt.Errorf("shutdown context: %w", ctx.Err())
	case <-done:
		p.cancel()
		return nil
	}
}

func (p *Pool) worker() {
	for j := range p.jobs {
		p.run(j)
	}
}

func (p *Pool) run(j job) {
	defer func() {
		if r := recover(); r != nil {
			p.report(fmt.Errorf("task panic: %v", r))
		}
		p.pending.Add(-1)
		p.wg.Done()
	}()
	ctx, stop := context.WithCancel(j.ctx)
	defer stop()
	go func() {
		select {
		case <-p.ctx.Done():
			stop()
		case <-ctx.Done():
		}
	}()
	if err := j.fn(ctx); err != nil {
		p.report(err)
	}
}

func (p *Pool) report(err error) {
	if p.onError != nil {
		p.onError(err)
	}
}
