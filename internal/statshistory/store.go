package statshistory

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Snapshot is one stats-logger tick, as produced by the engine's optional
// stats logger (spec §4.7).
type Snapshot struct {
	Refreshes    uint64
	Dropped      uint64
	Deduplicated uint64
	ActiveViews  int
	ObservedAt   time.Time
}

// Store persists stats-logger snapshots for later inspection. All writes
// are best-effort: a failed write is retried a bounded number of times and
// then dropped, never blocking the stats logger's tick.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs a Store backed by the provided pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const upsertSnapshotSQL = `
INSERT INTO viewhub_stats_snapshots (
    observed_at,
    refreshes,
    dropped,
    deduplicated,
    active_views
) VALUES (
    @observed_at,
    @refreshes,
    @dropped,
    @deduplicated,
    @active_views
)
ON CONFLICT (observed_at) DO UPDATE SET
    refreshes = EXCLUDED.refreshes,
    dropped = EXCLUDED.dropped,
    deduplicated = EXCLUDED.deduplicated,
    active_views = EXCLUDED.active_views;
`

const maxRecordAttempts = 3

// Record upserts one snapshot, retrying transient failures with bounded
// exponential backoff before giving up silently.
func (s *Store) Record(ctx context.Context, snap Snapshot) error {
	args := map[string]any{
		"observed_at":  snap.ObservedAt,
		"refreshes":    int64(snap.Refreshes),
		"dropped":      int64(snap.Dropped),
		"deduplicated": int64(snap.Deduplicated),
		"active_views": int64(snap.ActiveViews),
	}

	backoffCfg := backoff.NewExponentialBackOff()
	var lastErr error
	for attempt := 0; attempt < maxRecordAttempts; attempt++ {
		_, err := s.pool.Exec(ctx, upsertSnapshotSQL, args)
		if err == nil {
			return nil
		}
		lastErr = err

		sleep := backoffCfg.NextBackOff()
		if sleep == backoff.Stop {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
	return lastErr
}
