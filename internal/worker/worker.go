// Package worker runs the fixed-size pool that pops signatures off the
// refresh queue, recomputes their view data, and fans out to subscribers
// when the computed hash changed. The pool's goroutine lifecycle mirrors
// the teacher's lifecycle-goroutine pattern: N goroutines started together,
// tracked by a conc.WaitGroup, stopped together at shutdown.
package worker

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/sourcegraph/conc"

	"github.com/coachpo/viewhub/internal/queue"
	"github.com/coachpo/viewhub/internal/registry"
	"github.com/coachpo/viewhub/internal/schema"
	"github.com/coachpo/viewhub/internal/subscription"
	"github.com/coachpo/viewhub/internal/verrs"
)

// Pool runs a fixed number of refresh workers against a shared queue.
type Pool[N comparable, K comparable] struct {
	registry *registry.Registry[N]
	subs     *subscription.Index[N, K]
	queue    *queue.Queue[N]
	logger   *slog.Logger

	stopping  atomic.Bool
	refreshes atomic.Uint64

	wg   conc.WaitGroup
	stop chan struct{}
}

// New constructs a worker pool. Workers are not started until Start is
// called.
func New[N comparable, K comparable](reg *registry.Registry[N], subs *subscription.Index[N, K], q *queue.Queue[N], logger *slog.Logger) (*Pool[N, K], error) {
	if reg == nil || subs == nil || q == nil {
		return nil, verrs.New("worker/new", verrs.CodeInvalid, verrs.WithMessage("registry, subscription index, and queue are required"))
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool[N, K]{
		registry: reg,
		subs:     subs,
		queue:    q,
		logger:   logger,
		stop:     make(chan struct{}),
	}, nil
}

// Start launches the given number of worker goroutines. Start must be
// called at most once.
func (p *Pool[N, K]) Start(workers int) {
	for i := 0; i < workers; i++ {
		p.wg.Go(p.loop)
	}
}

// Shutdown signals all workers to stop after their current poll returns and
// waits for them to exit.
func (p *Pool[N, K]) Shutdown() {
	p.stopping.Store(true)
	close(p.stop)
	p.wg.Wait()
}

// RefreshesAndReset reports the number of recompute attempts across all
// workers since the last call and resets the counter to zero, so the stats
// logger can derive a per-tick rate instead of an ever-growing total.
func (p *Pool[N, K]) RefreshesAndReset() uint64 {
	return p.refreshes.Swap(0)
}

func (p *Pool[N, K]) loop() {
	for {
		select {
		case <-p.stop:
			return
		default:
		}

		sig, ok := p.queue.Poll()
		if p.stopping.Load() {
			return
		}
		if !ok {
			continue
		}
		p.refreshes.Add(1)
		p.refresh(sig)
	}
}

func (p *Pool[N, K]) refresh(sig schema.ViewSignature[N]) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("refresh panicked", "view_id", sig.ViewID, "panic", r)
		}
	}()

	view, ok := p.registry.Get(sig.ViewID)
	if !ok {
		p.logger.Warn("refresh for unregistered view", "view_id", sig.ViewID)
		return
	}

	ctx := context.Background()
	value, err := view.Data(ctx, sig.Namespace, sig.Parameters)
	if err != nil {
		p.logger.Error("view data failed", "view_id", sig.ViewID, "error", err)
		return
	}
	h, err := schema.Hash(value)
	if err != nil {
		p.logger.Error("hash value failed", "view_id", sig.ViewID, "error", err)
		return
	}

	sigKey := sig.Key()
	prev, hadPrev := p.subs.Hash(sigKey)
	if hadPrev && prev == h {
		return
	}

	keys := p.subs.Subscribers(sigKey)
	if len(keys) == 0 {
		// Last subscriber left between enqueue and this poll; nothing to
		// send and nothing to cache.
		return
	}

	msg := subscription.Message[N]{ViewID: sig.ViewID, Parameters: sig.Parameters, Value: value}
	var fanout conc.WaitGroup
	for _, key := range keys {
		key := key
		fanout.Go(func() {
			if err := p.sendOne(ctx, key, sig, msg); err != nil {
				p.logger.Error("send failed", "view_id", sig.ViewID, "error", err)
			}
		})
	}
	fanout.Wait()

	p.subs.SetHash(sigKey, h)
}

func (p *Pool[N, K]) sendOne(ctx context.Context, key K, sig schema.ViewSignature[N], msg subscription.Message[N]) error {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("send panicked", "view_id", sig.ViewID, "panic", r)
		}
	}()
	return p.subs.Send(ctx, key, sig, msg)
}
