package watcher

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coachpo/viewhub/internal/asyncpool"
	"github.com/coachpo/viewhub/internal/hintset"
	"github.com/coachpo/viewhub/internal/queue"
	"github.com/coachpo/viewhub/internal/registry"
	"github.com/coachpo/viewhub/internal/schema"
	"github.com/coachpo/viewhub/internal/subscription"
)

type relevantView struct {
	id       schema.ViewID
	relevant func([]schema.Hint[string]) bool
	panics   bool
}

func (v relevantView) ID() schema.ViewID { return v.id }
func (v relevantView) Data(ctx context.Context, ns string, params schema.Parameters) (any, error) {
	return nil, nil
}
func (v relevantView) Relevant(ns string, params schema.Parameters, hints []schema.Hint[string]) bool {
	if v.panics {
		panic("boom")
	}
	return v.relevant(hints)
}

func buildIndex(t *testing.T, view relevantView) (*registry.Registry[string], *subscription.Index[string, string]) {
	t.Helper()
	reg := registry.New[string]()
	if err := reg.Add(view); err != nil {
		t.Fatalf("registry.Add: %v", err)
	}
	pool, err := asyncpool.New(2, 8)
	if err != nil {
		t.Fatalf("asyncpool.New: %v", err)
	}
	t.Cleanup(pool.Close)
	idx, err := subscription.New[string, string](reg, pool, subscription.Callbacks[string, string]{
		Send: func(ctx context.Context, key string, sig schema.ViewSignature[string], msg subscription.Message[string]) error {
			return nil
		},
	}, nil)
	if err != nil {
		t.Fatalf("subscription.New: %v", err)
	}
	return reg, idx
}

func TestWatcherEnqueuesRelevantSignatures(t *testing.T) {
	view := relevantView{id: "balances", relevant: func(hints []schema.Hint[string]) bool { return true }}
	reg, idx := buildIndex(t, view)

	sig := schema.ViewSignature[string]{Namespace: "ns", ViewID: "balances"}
	done, err := idx.Subscribe(context.Background(), sig, "alice")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	<-done

	hints := hintset.New[string]()
	hints.Add(schema.Hint[string]{Namespace: "ns", Payload: "acct-1", Type: "balance_changed"})
	q := queue.New[string](4)

	w, err := New[string, string](reg, idx, hints, q, 20*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	go w.Run()
	defer w.Shutdown()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if q.Len() > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected the watcher to enqueue the relevant signature")
}

func TestWatcherSkipsIrrelevantSignatures(t *testing.T) {
	view := relevantView{id: "balances", relevant: func(hints []schema.Hint[string]) bool { return false }}
	reg, idx := buildIndex(t, view)

	sig := schema.ViewSignature[string]{Namespace: "ns", ViewID: "balances"}
	done, err := idx.Subscribe(context.Background(), sig, "alice")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	<-done

	hints := hintset.New[string]()
	hints.Add(schema.Hint[string]{Namespace: "ns", Payload: "acct-1", Type: "balance_changed"})
	q := queue.New[string](4)

	w, err := New[string, string](reg, idx, hints, q, 20*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	go w.Run()
	defer w.Shutdown()

	time.Sleep(100 * time.Millisecond)
	if q.Len() != 0 {
		t.Fatalf("expected no signature enqueued for an irrelevant hint, got %d queued", q.Len())
	}
}

func TestWatcherIsolatesPanickingView(t *testing.T) {
	panicking := relevantView{id: "panics", panics: true}
	healthy := relevantView{id: "balances", relevant: func(hints []schema.Hint[string]) bool { return true }}

	reg := registry.New[string]()
	if err := reg.Add(panicking, healthy); err != nil {
		t.Fatalf("registry.Add: %v", err)
	}
	pool, err := asyncpool.New(2, 8)
	if err != nil {
		t.Fatalf("asyncpool.New: %v", err)
	}
	defer pool.Close()
	idx, err := subscription.New[string, string](reg, pool, subscription.Callbacks[string, string]{
		Send: func(ctx context.Context, key string, sig schema.ViewSignature[string], msg subscription.Message[string]) error {
			return nil
		},
	}, nil)
	if err != nil {
		t.Fatalf("subscription.New: %v", err)
	}

	var done1, done2 <-chan struct{}
	done1, err = idx.Subscribe(context.Background(), schema.ViewSignature[string]{Namespace: "ns", ViewID: "panics"}, "alice")
	if err != nil {
		t.Fatalf("Subscribe panics: %v", err)
	}
	done2, err = idx.Subscribe(context.Background(), schema.ViewSignature[string]{Namespace: "ns", ViewID: "balances"}, "alice")
	if err != nil {
		t.Fatalf("Subscribe balances: %v", err)
	}
	<-done1
	<-done2

	hints := hintset.New[string]()
	hints.Add(schema.Hint[string]{Namespace: "ns", Payload: "acct-1", Type: "t"})
	q := queue.New[string](4)

	w, err := New[string, string](reg, idx, hints, q, 20*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	go w.Run()
	defer w.Shutdown()

	deadline := time.Now().Add(time.Second)
	var seenBalances atomic.Bool
	for time.Now().Before(deadline) {
		for i := 0; i < q.Len(); i++ {
			if sig, ok := q.PollTimeout(time.Millisecond); ok && sig.ViewID == "balances" {
				seenBalances.Store(true)
			}
		}
		if seenBalances.Load() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected the healthy view's signature to still be enqueued despite the panicking view")
}
