package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/platinummonkey/onramp/pkg/identity"
	"github.com/platinummonkey/onramp/pkg/observability"
	"github.com/platinummonkey/onramp/pkg/store"

	"github.com/google/uuid"
)

const defaultDedupCacheSize = 4096

// Config holds reconciler settings.
type Config struct {
	// Interval between cycles.
	Interval time.Duration
	// Window is how far back each cycle looks for registration events. It
	// must exceed Interval so missed ticks lose no events; the resulting
	// overlap is intentional and absorbed by deduplication.
	Window time.Duration
	// ProviderID identifies the identity provider in external-ID mappings.
	ProviderID uuid.UUID
	// DedupCacheSize bounds the in-process cache of recently materialized
	// external user IDs. Zero means the default.
	DedupCacheSize int
}

// Validate checks the configuration invariants.
func (c Config) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("reconcile interval must be positive")
	}
	if c.Window <= c.Interval {
		return fmt.Errorf("reconcile window (%s) must exceed the interval (%s)", c.Window, c.Interval)
	}
	if c.ProviderID == uuid.Nil {
		return fmt.Errorf("provider ID is required")
	}
	return nil
}

// CycleStats aggregates one cycle's outcomes.
type CycleStats struct {
	Fetched      int
	Materialized int
	Skipped      int
	Failed       int
}

// Reconciler absorbs provider registrations that did not originate from a
// saga, on a fixed interval. Cycles are single-flight: in-process via a
// mutex, across replicas via an optional CycleLock.
type Reconciler struct {
	provider identity.Client
	store    store.Store
	cfg      Config
	logger   *observability.Logger
	metrics  *observability.Metrics
	lock     CycleLock

	// seen caches external user IDs this process already materialized or
	// skipped, cutting store lookups on overlapping windows. The store
	// mapping lookup remains the authority; the cache is a fast path.
	seen *lru.Cache[string, struct{}]

	cycleMu sync.Mutex
}

// NewReconciler creates a reconciler. The lock may be nil for single-replica
// deployments; metrics and logger may be nil.
func NewReconciler(provider identity.Client, st store.Store, cfg Config, lock CycleLock, logger *observability.Logger, metrics *observability.Metrics) (*Reconciler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = observability.NewDiscardLogger()
	}
	size := cfg.DedupCacheSize
	if size <= 0 {
		size = defaultDedupCacheSize
	}
	seen, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create dedup cache: %w", err)
	}
	return &Reconciler{
		provider: provider,
		store:    st,
		cfg:      cfg,
		logger:   logger.WithField("component", "reconciler"),
		metrics:  metrics,
		lock:     lock,
		seen:     seen,
	}, nil
}

// Run executes cycles on the configured interval until ctx is cancelled.
// Cancellation stops future cycles; an in-flight cycle finishes its current
// event, observes the cancellation, and stops before the next one.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.logger.WithFields(map[string]interface{}{
		"interval": r.cfg.Interval.String(),
		"window":   r.cfg.Window.String(),
	}).Info("reconciler started")

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopped")
			return
		case <-ticker.C:
			// A tick can race cancellation; never start a cycle on a
			// dead context.
			if ctx.Err() != nil {
				r.logger.Info("reconciler stopped")
				return
			}
			if _, err := r.RunCycle(ctx); err != nil {
				r.logger.WithError(err).Error("reconciliation cycle failed")
			}
		}
	}
}

// RunCycle executes one fetch-and-process cycle. It returns ErrCycleSkipped
// semantics via stats only: a skipped cycle (another one still running, or
// the fleet lock held elsewhere) is not an error.
func (r *Reconciler) RunCycle(ctx context.Context) (CycleStats, error) {
	var stats CycleStats

	if !r.cycleMu.TryLock() {
		r.logger.Warn("previous reconciliation cycle still running, skipping tick")
		r.metrics.RecordReconcileCycle("skipped", 0)
		return stats, nil
	}
	defer r.cycleMu.Unlock()

	if r.lock != nil {
		held, release, err := r.lock.Acquire(ctx)
		if err != nil {
			r.metrics.RecordReconcileCycle("failed", 0)
			return stats, err
		}
		if !held {
			r.logger.Debug("cycle lock held by another replica, skipping tick")
			r.metrics.RecordReconcileCycle("skipped", 0)
			return stats, nil
		}
		defer release()
	}

	start := time.Now()

	events, err := r.provider.ListRecentRegistrationEvents(ctx, r.cfg.Window)
	if err != nil {
		r.metrics.RecordReconcileCycle("failed", time.Since(start))
		return stats, fmt.Errorf("failed to fetch registration events: %w", err)
	}
	stats.Fetched = len(events)

	// One event's failure never aborts the cycle: every fetched event gets
	// an attempt, and the aggregate is reported at the end.
	for _, event := range events {
		if ctx.Err() != nil {
			r.logger.Warn("cancellation observed mid-cycle, stopping before next event")
			break
		}
		switch outcome := r.processEvent(ctx, event); outcome {
		case outcomeMaterialized:
			stats.Materialized++
		case outcomeSkipped:
			stats.Skipped++
		case outcomeFailed:
			stats.Failed++
		}
	}

	r.logger.WithFields(map[string]interface{}{
		"fetched":      stats.Fetched,
		"materialized": stats.Materialized,
		"skipped":      stats.Skipped,
		"failed":       stats.Failed,
		"duration":     time.Since(start).String(),
	}).Info("reconciliation cycle complete")
	r.metrics.RecordReconcileCycle("succeeded", time.Since(start))

	return stats, nil
}
