// Package viewhub is the public API of the view subscription and refresh
// engine: register views, let subscribers attach to (namespace, view,
// parameters) signatures, and push fresh values whenever a hint marks a
// signature relevant and a refresh actually changes its hash. Engine wires
// together the internal registry, subscription index, hint set, refresh
// queue, worker pool, and watcher exactly the way cmd/gateway/main.go wires
// the teacher's provider manager, event bus, and dispatcher table.
package viewhub

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	apimetric "go.opentelemetry.io/otel/metric"

	"github.com/coachpo/viewhub/internal/asyncpool"
	"github.com/coachpo/viewhub/internal/config"
	"github.com/coachpo/viewhub/internal/hintset"
	"github.com/coachpo/viewhub/internal/obs"
	"github.com/coachpo/viewhub/internal/queue"
	"github.com/coachpo/viewhub/internal/registry"
	"github.com/coachpo/viewhub/internal/schema"
	"github.com/coachpo/viewhub/internal/statshistory"
	"github.com/coachpo/viewhub/internal/subscription"
	"github.com/coachpo/viewhub/internal/verrs"
	"github.com/coachpo/viewhub/internal/watcher"
	"github.com/coachpo/viewhub/internal/worker"
)

// Re-exported value types, so callers never need to import the internal
// packages directly.
type (
	ViewID                      = schema.ViewID
	HintType                    = schema.HintType
	Parameters                  = schema.Parameters
	ViewSignature[N comparable] = schema.ViewSignature[N]
	Hint[N comparable]          = schema.Hint[N]
	View[N comparable]          = schema.View[N]
	HashValue                   = schema.HashValue
	Message[N comparable]       = subscription.Message[N]
)

// PutHintsPolicy selects how PutHints propagates incoming hints, per §4.3.
type PutHintsPolicy int

const (
	// PutHintsImmediate forwards hints straight into a synchronous
	// relevance-test-and-enqueue pass on the caller's goroutine (the
	// default, matching spec's "refreshViews" policy).
	PutHintsImmediate PutHintsPolicy = iota
	// PutHintsQueued appends hints to the hint set for the watcher to pick
	// up on its next interval tick (spec's "queueHints" policy).
	PutHintsQueued
)

// Options bundles every callback and knob Init consumes.
type Options[N comparable, K comparable] struct {
	// Send delivers one computed value to one subscriber. Required.
	Send func(ctx context.Context, key K, sig ViewSignature[N], msg Message[N]) error
	// PutHintsPolicy selects immediate vs batched hint propagation.
	// Defaults to PutHintsImmediate.
	PutHintsPolicy PutHintsPolicy
	// Auth gates subscription attempts. Optional; nil means always allowed.
	Auth func(ctx context.Context, sig ViewSignature[N], key K) bool
	// OnUnauth is invoked after Auth rejects a subscribe attempt. Optional.
	OnUnauth func(ctx context.Context, sig ViewSignature[N], key K)
	// Namespace resolves a signature's namespace when it carries none.
	// Optional; must be stable across a subscribe/unsubscribe pair.
	Namespace func(ctx context.Context, sig ViewSignature[N], key K) (N, error)
	// Views seeds the registry at Init.
	Views []View[N]
	// Logger receives the engine's diagnostic logging. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

// Engine is a running instance of the view subscription and refresh
// pipeline. Construct with Init; release resources with Shutdown.
type Engine[N comparable, K comparable] struct {
	logger *slog.Logger

	registry *registry.Registry[N]
	subs     *subscription.Index[N, K]
	hints    *hintset.Set[N]
	queue    *queue.Queue[N]
	initial  *asyncpool.Pool
	workers  *worker.Pool[N, K]
	watch    *watcher.Watcher[N, K]

	putHints func(hints []schema.Hint[N])

	meterProvider     apimetric.MeterProvider
	instruments       obs.Instruments
	shutdownTelemetry func(context.Context) error

	statsPool  *pgxpool.Pool
	statsStore *statshistory.Store
	stats      *statsLogger[N, K]

	shutdownOnce sync.Once
}

// Init constructs and starts an Engine. configPath may be empty to use
// built-in defaults plus environment-variable overrides only.
func Init[N comparable, K comparable](ctx context.Context, configPath string, opts Options[N, K]) (*Engine[N, K], error) {
	if opts.Send == nil {
		return nil, verrs.New("viewhub/init", verrs.CodeNotConfigured, verrs.WithMessage("Send is required"))
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	reg := registry.New[N]()
	if err := reg.Add(opts.Views...); err != nil {
		return nil, err
	}

	initial, err := asyncpool.New(cfg.InitialRefreshConcurrency, cfg.InitialRefreshConcurrency)
	if err != nil {
		return nil, err
	}

	subs, err := subscription.New[N, K](reg, initial, subscription.Callbacks[N, K]{
		Send:      opts.Send,
		Auth:      opts.Auth,
		OnUnauth:  opts.OnUnauth,
		Namespace: opts.Namespace,
	}, logger)
	if err != nil {
		return nil, err
	}

	hints := hintset.New[N]()
	q := queue.New[N](cfg.RefreshQueueSize)

	workers, err := worker.New[N, K](reg, subs, q, logger)
	if err != nil {
		return nil, err
	}
	workers.Start(cfg.WorkerThreads)

	watch, err := watcher.New[N, K](reg, subs, hints, q, cfg.RefreshInterval, logger)
	if err != nil {
		workers.Shutdown()
		return nil, err
	}
	go watch.Run()

	mp, instruments, shutdownTelemetry, err := obs.Init(ctx, cfg.Telemetry)
	if err != nil {
		watch.Shutdown()
		workers.Shutdown()
		return nil, err
	}

	e := &Engine[N, K]{
		logger:            logger,
		registry:          reg,
		subs:              subs,
		hints:             hints,
		queue:             q,
		initial:           initial,
		workers:           workers,
		watch:             watch,
		meterProvider:     mp,
		instruments:       instruments,
		shutdownTelemetry: shutdownTelemetry,
	}

	switch opts.PutHintsPolicy {
	case PutHintsQueued:
		e.putHints = func(h []schema.Hint[N]) { hints.Add(h...) }
	default:
		e.putHints = watch.TestAndEnqueue
	}

	if cfg.StatsHistory.DSN != "" {
		pool, store, err := initStatsHistory(ctx, cfg.StatsHistory, logger)
		if err != nil {
			logger.Error("stats history unavailable, continuing without persistence", "error", err)
		} else {
			e.statsPool = pool
			e.statsStore = store
		}
	}

	if cfg.StatsLogInterval > 0 {
		e.stats = newStatsLogger(e, cfg.StatsLogInterval, logger)
		e.stats.start()
	}

	return e, nil
}

func initStatsHistory(ctx context.Context, cfg config.StatsHistory, logger *slog.Logger) (*pgxpool.Pool, *statshistory.Store, error) {
	if err := statshistory.Migrate(ctx, cfg.DSN, cfg.MigrationsDir, logger); err != nil {
		return nil, nil, err
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, nil, err
	}
	return pool, statshistory.NewStore(pool), nil
}

// AddViews registers additional views at runtime, replacing any existing
// view sharing the same ID.
func (e *Engine[N, K]) AddViews(views ...View[N]) error {
	return e.registry.Add(views...)
}

// Subscribe attaches key to sig. See internal/subscription.Index.Subscribe
// for the exact five-step contract.
func (e *Engine[N, K]) Subscribe(ctx context.Context, sig ViewSignature[N], key K) (<-chan struct{}, error) {
	return e.subs.Subscribe(ctx, sig, key)
}

// Unsubscribe detaches key from sig. Idempotent.
func (e *Engine[N, K]) Unsubscribe(ctx context.Context, sig ViewSignature[N], key K) error {
	return e.subs.Unsubscribe(ctx, sig, key)
}

// UnsubscribeAll detaches key from every signature it is subscribed to.
func (e *Engine[N, K]) UnsubscribeAll(key K) {
	e.subs.UnsubscribeAll(key)
}

// PutHints is the external hint entry point; propagation follows the
// configured PutHintsPolicy.
func (e *Engine[N, K]) PutHints(hints ...Hint[N]) {
	if len(hints) == 0 {
		return
	}
	e.putHints(hints)
}

// SubscribedViews returns a snapshot of every distinct view signature with
// at least one subscriber.
func (e *Engine[N, K]) SubscribedViews() []ViewSignature[N] {
	return e.subs.SubscribedViews()
}

// ActiveViewCount reports the number of signatures with at least one
// subscriber.
func (e *Engine[N, K]) ActiveViewCount() int {
	return e.subs.ActiveViewCount()
}

// Shutdown stops the watcher, worker pool, stats logger, and telemetry
// exporter, and waits for each to finish before returning. Shutdown is
// idempotent.
func (e *Engine[N, K]) Shutdown(ctx context.Context) error {
	var err error
	e.shutdownOnce.Do(func() {
		if e.stats != nil {
			e.stats.stop()
		}
		e.watch.Shutdown()
		e.workers.Shutdown()
		e.initial.Close()

		if e.statsPool != nil {
			e.statsPool.Close()
		}
		if e.shutdownTelemetry != nil {
			if shutdownErr := e.shutdownTelemetry(ctx); shutdownErr != nil {
				err = shutdownErr
			}
		}
	})
	return err
}
