// Package watcher runs the single interval-driven goroutine that turns
// pending hints into refresh-queue offers: drain the hint set, ask every
// subscribed view whether the drained hints are relevant to it, and
// schedule the ones that are. The watcher never computes view data itself.
package watcher

import (
	"log/slog"
	"time"

	"github.com/coachpo/viewhub/internal/hintset"
	"github.com/coachpo/viewhub/internal/queue"
	"github.com/coachpo/viewhub/internal/registry"
	"github.com/coachpo/viewhub/internal/schema"
	"github.com/coachpo/viewhub/internal/subscription"
	"github.com/coachpo/viewhub/internal/verrs"
)

// Watcher is the single background goroutine that drives hint-driven
// refresh scheduling.
type Watcher[N comparable, K comparable] struct {
	registry *registry.Registry[N]
	subs     *subscription.Index[N, K]
	hints    *hintset.Set[N]
	queue    *queue.Queue[N]
	interval time.Duration
	logger   *slog.Logger

	stop chan struct{}
	done chan struct{}
}

// New constructs a watcher. Run must be called to start it.
func New[N comparable, K comparable](reg *registry.Registry[N], subs *subscription.Index[N, K], hints *hintset.Set[N], q *queue.Queue[N], interval time.Duration, logger *slog.Logger) (*Watcher[N, K], error) {
	if reg == nil || subs == nil || hints == nil || q == nil {
		return nil, verrs.New("watcher/new", verrs.CodeInvalid, verrs.WithMessage("registry, subscription index, hint set, and queue are required"))
	}
	if interval <= 0 {
		return nil, verrs.New("watcher/new", verrs.CodeInvalid, verrs.WithMessage("interval must be positive"))
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher[N, K]{
		registry: reg,
		subs:     subs,
		hints:    hints,
		queue:    q,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Run blocks, running the drain/test/enqueue loop on the calling goroutine
// until Shutdown is called. Callers typically invoke Run in its own
// goroutine.
func (w *Watcher[N, K]) Run() {
	defer close(w.done)
	lastUpdate := time.Now()
	for {
		elapsed := time.Since(lastUpdate)
		if elapsed < w.interval {
			select {
			case <-w.stop:
				return
			case <-time.After(w.interval - elapsed):
			}
			continue
		}

		w.pass()
		lastUpdate = time.Now()
	}
}

func (w *Watcher[N, K]) pass() {
	hints := w.hints.Drain()
	if len(hints) == 0 {
		return
	}
	w.TestAndEnqueue(hints)
}

// TestAndEnqueue runs one relevance-testing pass over every currently
// subscribed signature for the given hints, offering the relevant ones to
// the refresh queue. It is the batched-pass body, factored out so the
// immediate put-hints policy (refreshViews) can run the identical logic
// synchronously, outside the interval cadence.
func (w *Watcher[N, K]) TestAndEnqueue(hints []schema.Hint[N]) {
	if len(hints) == 0 {
		return
	}
	for _, sig := range w.subs.SubscribedViews() {
		w.testOne(sig, hints)
	}
}

func (w *Watcher[N, K]) testOne(sig schema.ViewSignature[N], hints []schema.Hint[N]) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("relevant panicked", "view_id", sig.ViewID, "panic", r)
		}
	}()

	view, ok := w.registry.Get(sig.ViewID)
	if !ok {
		return
	}
	if view.Relevant(sig.Namespace, sig.Parameters, hints) {
		w.queue.Offer(sig)
	}
}

// Shutdown signals the watcher to stop after its current pass and blocks
// until it exits.
func (w *Watcher[N, K]) Shutdown() {
	close(w.stop)
	<-w.done
}
