// Package subscription implements the bidirectional subscription index:
// the engine's map from subscriber keys to the view signatures they are
// subscribed to, and back. All four maps it owns (subscribed, subscribers,
// hashes, and the canonical signature store) are mutated together under one
// coarse mutex per spec invariant — field-by-field locking would let a
// reader observe the maps in a transiently inconsistent state.
package subscription

import (
	"context"
	"log/slog"
	"sync"

	"github.com/coachpo/viewhub/internal/asyncpool"
	"github.com/coachpo/viewhub/internal/registry"
	"github.com/coachpo/viewhub/internal/schema"
	"github.com/coachpo/viewhub/internal/verrs"
)

// Message is the payload handed to Send: a view signature with its
// namespace stripped (the subscriber already knows its own namespace) plus
// the freshly computed value.
type Message[N comparable] struct {
	ViewID     schema.ViewID
	Parameters schema.Parameters
	Value      any
}

// Callbacks bundles the configuration hooks the subscription index invokes.
// Send is required; the rest are optional policy hooks.
type Callbacks[N comparable, K comparable] struct {
	// Send delivers a computed value to one subscriber. Required.
	Send func(ctx context.Context, key K, sig schema.ViewSignature[N], msg Message[N]) error
	// Auth reports whether key may subscribe to sig. Optional; nil means
	// always authorized.
	Auth func(ctx context.Context, sig schema.ViewSignature[N], key K) bool
	// OnUnauth is called when Auth rejects a subscribe attempt. Optional.
	OnUnauth func(ctx context.Context, sig schema.ViewSignature[N], key K)
	// Namespace resolves the effective namespace when sig does not carry
	// one. Optional; when nil, the sig's own (possibly zero) namespace is
	// used unchanged.
	Namespace func(ctx context.Context, sig schema.ViewSignature[N], key K) (N, error)
}

// Index is the subscription index plus its initial-refresh side effects.
type Index[N comparable, K comparable] struct {
	mu sync.Mutex

	subscribed  map[K]map[schema.SignatureKey[N]]struct{}
	subscribers map[schema.SignatureKey[N]]map[K]struct{}
	hashes      map[schema.SignatureKey[N]]schema.HashValue
	sigs        map[schema.SignatureKey[N]]schema.ViewSignature[N]

	registry *registry.Registry[N]
	initial  *asyncpool.Pool
	cb       Callbacks[N, K]
	logger   *slog.Logger
}

// New constructs an empty subscription index. reg resolves view ids at
// subscribe time; initial runs the asynchronous initial-refresh tasks.
// logger receives ProviderError diagnostics from the initial-refresh path,
// matching worker.New and watcher.New; a nil logger defaults to
// slog.Default().
func New[N comparable, K comparable](reg *registry.Registry[N], initial *asyncpool.Pool, cb Callbacks[N, K], logger *slog.Logger) (*Index[N, K], error) {
	if reg == nil {
		return nil, verrs.New("subscription/new", verrs.CodeInvalid, verrs.WithMessage("registry must not be nil"))
	}
	if initial == nil {
		return nil, verrs.New("subscription/new", verrs.CodeInvalid, verrs.WithMessage("initial-refresh pool must not be nil"))
	}
	if cb.Send == nil {
		return nil, verrs.New("subscription/new", verrs.CodeNotConfigured, verrs.WithMessage("send callback is required"))
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Index[N, K]{
		subscribed:  make(map[K]map[schema.SignatureKey[N]]struct{}),
		subscribers: make(map[schema.SignatureKey[N]]map[K]struct{}),
		hashes:      make(map[schema.SignatureKey[N]]schema.HashValue),
		sigs:        make(map[schema.SignatureKey[N]]schema.ViewSignature[N]),
		registry:    reg,
		initial:     initial,
		cb:          cb,
		logger:      logger,
	}, nil
}

func (idx *Index[N, K]) resolveNamespace(ctx context.Context, sig schema.ViewSignature[N], key K) (schema.ViewSignature[N], error) {
	var zero N
	if sig.Namespace != zero || idx.cb.Namespace == nil {
		return sig, nil
	}
	ns, err := idx.cb.Namespace(ctx, sig, key)
	if err != nil {
		return sig, verrs.New("subscription/resolve-namespace", verrs.CodeProviderError, verrs.WithCause(err))
	}
	sig.Namespace = ns
	return sig, nil
}

// Subscribe resolves the signature's namespace, validates the view exists,
// authorizes the request, inserts the subscription, and schedules an
// asynchronous initial refresh. Returns a channel that closes once the
// initial refresh has completed (successfully or not); returns a nil
// channel and nil error when authorization rejects the request.
func (idx *Index[N, K]) Subscribe(ctx context.Context, sig schema.ViewSignature[N], key K) (<-chan struct{}, error) {
	sig, err := idx.resolveNamespace(ctx, sig, key)
	if err != nil {
		return nil, err
	}

	view, ok := idx.registry.Get(sig.ViewID)
	if !ok {
		return nil, verrs.New("subscription/subscribe", verrs.CodeUnknownView, verrs.WithMessage(string(sig.ViewID)))
	}

	if idx.cb.Auth != nil && !idx.cb.Auth(ctx, sig, key) {
		if idx.cb.OnUnauth != nil {
			idx.cb.OnUnauth(ctx, sig, key)
		}
		return nil, nil
	}

	sigKey := sig.Key()
	idx.mu.Lock()
	idx.sigs[sigKey] = sig
	if idx.subscribed[key] == nil {
		idx.subscribed[key] = make(map[schema.SignatureKey[N]]struct{})
	}
	idx.subscribed[key][sigKey] = struct{}{}
	if idx.subscribers[sigKey] == nil {
		idx.subscribers[sigKey] = make(map[K]struct{})
	}
	idx.subscribers[sigKey][key] = struct{}{}
	idx.mu.Unlock()

	done, err := idx.initial.Submit(ctx, func(taskCtx context.Context) {
		idx.runInitialRefresh(taskCtx, view, sig, sigKey, key)
	})
	if err != nil {
		return nil, err
	}
	return done, nil
}

func (idx *Index[N, K]) runInitialRefresh(ctx context.Context, view schema.View[N], sig schema.ViewSignature[N], sigKey schema.SignatureKey[N], key K) {
	value, err := view.Data(ctx, sig.Namespace, sig.Parameters)
	if err != nil {
		idx.logger.Error("initial refresh view data failed", "view_id", sig.ViewID, "error", err)
		return
	}
	h, err := schema.Hash(value)
	if err != nil {
		idx.logger.Error("initial refresh hash value failed", "view_id", sig.ViewID, "error", err)
		return
	}

	idx.mu.Lock()
	subscribers, stillSubscribed := idx.subscribers[sigKey]
	if stillSubscribed {
		_, stillSubscribed = subscribers[key]
	}
	if stillSubscribed {
		if _, exists := idx.hashes[sigKey]; !exists {
			idx.hashes[sigKey] = h
		}
	}
	idx.mu.Unlock()

	if !stillSubscribed {
		return
	}
	_ = idx.cb.Send(ctx, key, sig, Message[N]{ViewID: sig.ViewID, Parameters: sig.Parameters, Value: value})
}

// Unsubscribe removes (sig, key) from the index. Idempotent: an unknown
// pair is a no-op.
func (idx *Index[N, K]) Unsubscribe(ctx context.Context, sig schema.ViewSignature[N], key K) error {
	sig, err := idx.resolveNamespace(ctx, sig, key)
	if err != nil {
		return err
	}
	sigKey := sig.Key()

	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(sigKey, key)
	return nil
}

// UnsubscribeAll removes every signature key is subscribed to.
func (idx *Index[N, K]) UnsubscribeAll(key K) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for sigKey := range idx.subscribed[key] {
		idx.removeLocked(sigKey, key)
	}
}

// removeLocked assumes idx.mu is held.
func (idx *Index[N, K]) removeLocked(sigKey schema.SignatureKey[N], key K) {
	if sigs := idx.subscribed[key]; sigs != nil {
		delete(sigs, sigKey)
		if len(sigs) == 0 {
			delete(idx.subscribed, key)
		}
	}
	if keys := idx.subscribers[sigKey]; keys != nil {
		delete(keys, key)
		if len(keys) == 0 {
			delete(idx.subscribers, sigKey)
			delete(idx.hashes, sigKey)
			delete(idx.sigs, sigKey)
		}
	}
}

// SubscribedViews returns a snapshot of every distinct view signature with
// at least one subscriber.
func (idx *Index[N, K]) SubscribedViews() []schema.ViewSignature[N] {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	out := make([]schema.ViewSignature[N], 0, len(idx.sigs))
	for _, sig := range idx.sigs {
		out = append(out, sig)
	}
	return out
}

// ActiveViewCount reports the number of signatures with at least one
// subscriber.
func (idx *Index[N, K]) ActiveViewCount() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return len(idx.subscribers)
}

// Subscribers returns a snapshot of the subscriber keys for sig, used by
// the worker pool's fan-out step. The snapshot is taken at call time per
// spec's "read once per refresh" contract.
func (idx *Index[N, K]) Subscribers(sigKey schema.SignatureKey[N]) []K {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	keys, ok := idx.subscribers[sigKey]
	if !ok {
		return nil
	}
	out := make([]K, 0, len(keys))
	for k := range keys {
		out = append(out, k)
	}
	return out
}

// Hash returns the cached hash for sigKey, if any.
func (idx *Index[N, K]) Hash(sigKey schema.SignatureKey[N]) (schema.HashValue, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	h, ok := idx.hashes[sigKey]
	return h, ok
}

// SetHash unconditionally sets the cached hash for sigKey. Used by the
// worker pool after a successful refresh; unlike the initial-refresh path,
// the worker pool's write always wins because it represents fresher data.
func (idx *Index[N, K]) SetHash(sigKey schema.SignatureKey[N], h schema.HashValue) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.hashes[sigKey] = h
}

// Signature returns the canonical ViewSignature stored for sigKey, if it
// still has subscribers.
func (idx *Index[N, K]) Signature(sigKey schema.SignatureKey[N]) (schema.ViewSignature[N], bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	sig, ok := idx.sigs[sigKey]
	return sig, ok
}

// Send delegates to the configured Send callback, exposed so the worker
// pool's fan-out step can reuse the same delivery path subscribe uses.
func (idx *Index[N, K]) Send(ctx context.Context, key K, sig schema.ViewSignature[N], msg Message[N]) error {
	return idx.cb.Send(ctx, key, sig, msg)
}
