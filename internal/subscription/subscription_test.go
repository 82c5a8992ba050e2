package subscription

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coachpo/viewhub/internal/asyncpool"
	"github.com/coachpo/viewhub/internal/registry"
	"github.com/coachpo/viewhub/internal/schema"
)

type fakeView struct {
	id   schema.ViewID
	data func(ctx context.Context, ns string, params schema.Parameters) (any, error)
}

func (v fakeView) ID() schema.ViewID { return v.id }
func (v fakeView) Data(ctx context.Context, ns string, params schema.Parameters) (any, error) {
	return v.data(ctx, ns, params)
}
func (v fakeView) Relevant(ns string, params schema.Parameters, hints []schema.Hint[string]) bool {
	return true
}

type sentMessage struct {
	key K
	msg Message[string]
}

type K = string

func newFixture(t *testing.T, send func(ctx context.Context, key string, sig schema.ViewSignature[string], msg Message[string]) error, view fakeView) *Index[string, string] {
	t.Helper()
	reg := registry.New[string]()
	if err := reg.Add(view); err != nil {
		t.Fatalf("registry.Add: %v", err)
	}
	pool, err := asyncpool.New(4, 16)
	if err != nil {
		t.Fatalf("asyncpool.New: %v", err)
	}
	t.Cleanup(pool.Close)

	idx, err := New[string, string](reg, pool, Callbacks[string, string]{Send: send}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return idx
}

func TestSubscribeUnknownViewFails(t *testing.T) {
	idx := newFixture(t, func(ctx context.Context, key string, sig schema.ViewSignature[string], msg Message[string]) error {
		return nil
	}, fakeView{id: "balances", data: func(context.Context, string, schema.Parameters) (any, error) { return 1, nil }})

	sig := schema.ViewSignature[string]{Namespace: "ns", ViewID: "missing"}
	if _, err := idx.Subscribe(context.Background(), sig, "alice"); err == nil {
		t.Fatal("expected UnknownView error")
	}
}

func TestSubscribeSendsInitialValue(t *testing.T) {
	var mu sync.Mutex
	var got []sentMessage
	idx := newFixture(t, func(ctx context.Context, key string, sig schema.ViewSignature[string], msg Message[string]) error {
		mu.Lock()
		got = append(got, sentMessage{key: key, msg: msg})
		mu.Unlock()
		return nil
	}, fakeView{id: "balances", data: func(context.Context, string, schema.Parameters) (any, error) { return 42, nil }})

	sig := schema.ViewSignature[string]{Namespace: "ns", ViewID: "balances"}
	done, err := idx.Subscribe(context.Background(), sig, "alice")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	waitDone(t, done)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].key != "alice" {
		t.Fatalf("expected one initial send to alice, got %+v", got)
	}
}

func TestUnsubscribeBeforeInitialRefreshSuppressesSend(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var sendCount int
	var mu sync.Mutex

	idx := newFixture(t, func(ctx context.Context, key string, sig schema.ViewSignature[string], msg Message[string]) error {
		mu.Lock()
		sendCount++
		mu.Unlock()
		return nil
	}, fakeView{id: "balances", data: func(context.Context, string, schema.Parameters) (any, error) {
		close(started)
		<-release
		return 42, nil
	}})

	sig := schema.ViewSignature[string]{Namespace: "ns", ViewID: "balances"}
	done, err := idx.Subscribe(context.Background(), sig, "alice")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	<-started
	if err := idx.Unsubscribe(context.Background(), sig, "alice"); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	close(release)
	waitDone(t, done)

	mu.Lock()
	defer mu.Unlock()
	if sendCount != 0 {
		t.Fatalf("expected no send after unsubscribe raced ahead of initial refresh, got %d", sendCount)
	}
}

func TestDuplicateSubscribeFiresBothInitialSends(t *testing.T) {
	var mu sync.Mutex
	sendCount := 0
	idx := newFixture(t, func(ctx context.Context, key string, sig schema.ViewSignature[string], msg Message[string]) error {
		mu.Lock()
		sendCount++
		mu.Unlock()
		return nil
	}, fakeView{id: "balances", data: func(context.Context, string, schema.Parameters) (any, error) { return 1, nil }})

	sig := schema.ViewSignature[string]{Namespace: "ns", ViewID: "balances"}
	d1, err := idx.Subscribe(context.Background(), sig, "alice")
	if err != nil {
		t.Fatalf("Subscribe 1: %v", err)
	}
	d2, err := idx.Subscribe(context.Background(), sig, "alice")
	if err != nil {
		t.Fatalf("Subscribe 2: %v", err)
	}
	waitDone(t, d1)
	waitDone(t, d2)

	mu.Lock()
	defer mu.Unlock()
	if sendCount != 2 {
		t.Fatalf("expected 2 initial sends for duplicate subscribe, got %d", sendCount)
	}
	if idx.ActiveViewCount() != 1 {
		t.Fatalf("expected subscription index to remain idempotent, active=%d", idx.ActiveViewCount())
	}
}

func TestUnsubscribeRemovesHashWhenLastSubscriberLeaves(t *testing.T) {
	idx := newFixture(t, func(ctx context.Context, key string, sig schema.ViewSignature[string], msg Message[string]) error {
		return nil
	}, fakeView{id: "balances", data: func(context.Context, string, schema.Parameters) (any, error) { return 1, nil }})

	sig := schema.ViewSignature[string]{Namespace: "ns", ViewID: "balances"}
	done, err := idx.Subscribe(context.Background(), sig, "alice")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	waitDone(t, done)

	sigKey := sig.Key()
	if _, ok := idx.Hash(sigKey); !ok {
		t.Fatal("expected a hash to be cached after initial refresh")
	}
	if err := idx.Unsubscribe(context.Background(), sig, "alice"); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	if _, ok := idx.Hash(sigKey); ok {
		t.Fatal("expected hash to be removed once the last subscriber left")
	}
}

func TestUnsubscribeAllRemovesEverySignature(t *testing.T) {
	idx := newFixture(t, func(ctx context.Context, key string, sig schema.ViewSignature[string], msg Message[string]) error {
		return nil
	}, fakeView{id: "balances", data: func(context.Context, string, schema.Parameters) (any, error) { return 1, nil }})

	sigA := schema.ViewSignature[string]{Namespace: "ns", ViewID: "balances", Parameters: schema.Parameters{"a"}}
	sigB := schema.ViewSignature[string]{Namespace: "ns", ViewID: "balances", Parameters: schema.Parameters{"b"}}
	d1, _ := idx.Subscribe(context.Background(), sigA, "alice")
	d2, _ := idx.Subscribe(context.Background(), sigB, "alice")
	waitDone(t, d1)
	waitDone(t, d2)

	idx.UnsubscribeAll("alice")
	if idx.ActiveViewCount() != 0 {
		t.Fatalf("expected no active views after UnsubscribeAll, got %d", idx.ActiveViewCount())
	}
	if len(idx.SubscribedViews()) != 0 {
		t.Fatalf("expected no subscribed views after UnsubscribeAll")
	}
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for initial refresh to complete")
	}
}

func TestInitialRefreshLogsViewDataFailure(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	reg := registry.New[string]()
	view := fakeView{id: "balances", data: func(context.Context, string, schema.Parameters) (any, error) {
		return nil, errors.New("boom")
	}}
	if err := reg.Add(view); err != nil {
		t.Fatalf("registry.Add: %v", err)
	}
	pool, err := asyncpool.New(4, 16)
	if err != nil {
		t.Fatalf("asyncpool.New: %v", err)
	}
	t.Cleanup(pool.Close)

	idx, err := New[string, string](reg, pool, Callbacks[string, string]{
		Send: func(context.Context, string, schema.ViewSignature[string], Message[string]) error { return nil },
	}, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sig := schema.ViewSignature[string]{Namespace: "ns", ViewID: "balances"}
	done, err := idx.Subscribe(context.Background(), sig, "alice")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	waitDone(t, done)

	if !strings.Contains(logs.String(), "initial refresh view data failed") {
		t.Fatalf("expected view data failure to be logged, got %q", logs.String())
	}
}
