package viewhub

import (
	"context"
	"log/slog"
	"time"

	apimetric "go.opentelemetry.io/otel/metric"

	"github.com/coachpo/viewhub/internal/obs"
	"github.com/coachpo/viewhub/internal/statshistory"
)

// statsLogger runs the optional §4.7 stats-logger goroutine: once per
// interval, it snapshots refreshes/dropped/deduplicated, resets those three
// counters, and emits the per-tick rate (count / interval-seconds) to slog,
// to the OTel instruments, and (if configured) to the Postgres
// stats-history store, alongside a non-resetting activeViewCount gauge
// reading. Gated entirely by Engine.stats being non-nil
// ("collecting-stats?").
type statsLogger[N comparable, K comparable] struct {
	engine   *Engine[N, K]
	interval time.Duration
	logger   *slog.Logger

	shutdown chan struct{}
	done     chan struct{}
}

func newStatsLogger[N comparable, K comparable](e *Engine[N, K], interval time.Duration, logger *slog.Logger) *statsLogger[N, K] {
	return &statsLogger[N, K]{
		engine:   e,
		interval: interval,
		logger:   logger,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (s *statsLogger[N, K]) start() {
	go s.run()
}

func (s *statsLogger[N, K]) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *statsLogger[N, K]) tick() {
	refreshDelta := s.engine.workers.RefreshesAndReset()
	qstats := s.engine.queue.StatsAndReset()
	activeViews := s.engine.ActiveViewCount()

	seconds := s.interval.Seconds()
	refreshRate := float64(refreshDelta) / seconds
	droppedRate := float64(qstats.Dropped) / seconds
	deduplicatedRate := float64(qstats.Deduplicated) / seconds

	s.logger.Info("viewhub stats",
		"refreshes_per_sec", refreshRate,
		"dropped_per_sec", droppedRate,
		"deduplicated_per_sec", deduplicatedRate,
		"active_views", activeViews,
	)

	ctx := context.Background()
	attrs := obs.RefreshAttributes("*", "*", obs.ResultSent)
	if s.engine.instruments.Refreshes != nil {
		s.engine.instruments.Refreshes.Add(ctx, int64(refreshDelta), apimetric.WithAttributes(attrs...))
	}
	if s.engine.instruments.Dropped != nil {
		s.engine.instruments.Dropped.Add(ctx, int64(qstats.Dropped), apimetric.WithAttributes(attrs...))
	}
	if s.engine.instruments.Deduplicated != nil {
		s.engine.instruments.Deduplicated.Add(ctx, int64(qstats.Deduplicated), apimetric.WithAttributes(attrs...))
	}
	if s.engine.instruments.ActiveViews != nil {
		s.engine.instruments.ActiveViews.Record(ctx, int64(activeViews), apimetric.WithAttributes(attrs...))
	}

	if s.engine.statsStore != nil {
		snap := statshistory.Snapshot{
			Refreshes:    refreshDelta,
			Dropped:      qstats.Dropped,
			Deduplicated: qstats.Deduplicated,
			ActiveViews:  activeViews,
			ObservedAt:   time.Now().UTC(),
		}
		if err := s.engine.statsStore.Record(ctx, snap); err != nil {
			s.logger.Warn("stats history record failed", "error", err)
		}
	}
}

func (s *statsLogger[N, K]) stop() {
	close(s.shutdown)
	<-s.done
}
