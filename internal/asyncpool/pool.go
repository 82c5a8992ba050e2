// Package asyncpool provides a bounded goroutine pool used to run
// fire-and-forget tasks off the caller's own goroutine.
//
// The refresh worker pool (internal/worker) and the watcher
// (internal/watcher) have their own fixed-size goroutines; asyncpool exists
// for the one remaining place the engine must spawn work outside of those
// pools: the asynchronous initial-subscribe compute (subscribe step 5),
// which must never block the caller of Subscribe and must never run
// unboundedly many goroutines under a burst of concurrent subscribes.
package asyncpool

import (
	"context"
	"fmt"
	"sync"

	"github.com/coachpo/viewhub/internal/verrs"
)

// Task represents a unit of work executed by a pool worker.
type Task func(context.Context)

// Pool is a fixed-size goroutine pool with a bounded submission queue.
// Submit blocks the caller until a slot is available, the pool is closed,
// or the caller's context is done — it never silently drops a task.
type Pool struct {
	ctx    context.Context
	cancel context.CancelFunc
	jobs   chan job
	wg     sync.WaitGroup
	once   sync.Once
}

type job struct {
	ctx  context.Context
	fn   Task
	done chan struct{}
}

// New creates a worker pool with the given concurrency and submission queue depth.
func New(workers, queue int) (*Pool, error) {
	if workers <= 0 {
		return nil, verrs.New("asyncpool/new", verrs.CodeInvalid, verrs.WithMessage("workers must be >0"))
	}
	if queue < 0 {
		queue = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := new(Pool)
	p.ctx = ctx
	p.cancel = cancel
	p.jobs = make(chan job, queue)
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p, nil
}

// Submit schedules fn for execution and returns a channel that is closed
// once fn has returned (successfully or via a recovered panic). The caller
// may use the channel to wait for completion; it is safe to ignore it.
func (p *Pool) Submit(ctx context.Context, fn Task) (<-chan struct{}, error) {
	if fn == nil {
		return nil, verrs.New("asyncpool/submit", verrs.CodeInvalid, verrs.WithMessage("task must not be nil"))
	}
	if ctx == nil {
		ctx = context.Background()
	}
	done := make(chan struct{})
	select {
	case <-p.ctx.Done():
		return nil, verrs.New("asyncpool/submit", verrs.CodeUnavailable, verrs.WithMessage("pool closed"))
	case <-ctx.Done():
		return nil, fmt.Errorf("submit context: %w", ctx.Err())
	case p.jobs <- job{ctx: ctx, fn: fn, done: done}:
		return done, nil
	}
}

// Close stops accepting new tasks and cancels workers that have not yet
// picked up their job. Close does not wait for in-flight jobs; use Shutdown
// for that.
func (p *Pool) Close() {
	p.once.Do(func() {
		p.cancel()
	})
}

// Shutdown stops accepting new tasks and waits for in-flight tasks to
// complete or until ctx expires.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.Close()
	doneAll := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(doneAll)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("shutdown context: %w", ctx.Err())
	case <-doneAll:
		return nil
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case j := <-p.jobs:
			runJob(j)
		}
	}
}

func runJob(j job) {
	defer close(j.done)
	defer func() {
		if r := recover(); r != nil {
			// swallow panics to keep the worker alive; the caller observes
			// completion via the done channel regardless of outcome.
			_ = r
		}
	}()
	ctx := j.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	j.fn(ctx)
}
