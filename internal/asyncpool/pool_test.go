package asyncpool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitRunsTask(t *testing.T) {
	p, err := New(2, 4)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	var ran atomic.Bool
	done, err := p.Submit(context.Background(), func(ctx context.Context) {
		ran.Store(true)
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not complete in time")
	}
	if !ran.Load() {
		t.Fatal("expected task to have run")
	}
}

func TestSubmitRecoversPanic(t *testing.T) {
	p, err := New(1, 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	done, err := p.Submit(context.Background(), func(ctx context.Context) {
		panic("boom")
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not complete in time")
	}

	var ran atomic.Bool
	done2, err := p.Submit(context.Background(), func(ctx context.Context) {
		ran.Store(true)
	})
	if err != nil {
		t.Fatalf("Submit after panic: %v", err)
	}
	select {
	case <-done2:
	case <-time.After(time.Second):
		t.Fatal("pool worker did not survive panic")
	}
	if !ran.Load() {
		t.Fatal("expected pool to keep serving tasks after a panic")
	}
}

func TestSubmitAfterCloseErrors(t *testing.T) {
	p, err := New(1, 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p.Close()

	if _, err := p.Submit(context.Background(), func(ctx context.Context) {}); err == nil {
		t.Fatal("expected Submit to fail on a closed pool")
	}
}

func TestSubmitNilTaskErrors(t *testing.T) {
	p, err := New(1, 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	if _, err := p.Submit(context.Background(), nil); err == nil {
		t.Fatal("expected Submit to reject a nil task")
	}
}
