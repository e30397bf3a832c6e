// Package sync drains the local durable cache against the server once
// connectivity is back. One sweep processes entity types in a fixed
// order and, within a type, one item at a time: throughput is traded
// for a predictable ordering of server-side effects.
package sync

import (
	"context"
	"time"

	"clausesync/client/cache"
	"clausesync/pkg/logger"
)

// Entity types are drained in this fixed order. The priority field on
// queue items is recorded but not consulted here; within a type the
// queue's ULID (creation) order decides.
var entityOrder = []string{"proposal", "contract", "comment"}

const (
	DefaultInterval    = 5 * time.Minute
	DefaultMaxAttempts = 8
	defaultBackoffBase = 2 * time.Second
	maxBackoff         = 5 * time.Minute
)

type Reconciler struct {
	Cache  *cache.Store
	Remote *Remote

	// Interval is the periodic sweep cadence while online.
	Interval time.Duration
	// MaxAttempts bounds retries: once a queue item has failed this
	// many times its entity is parked in the terminal error state.
	MaxAttempts int
	// BackoffBase seeds the exponential per-item backoff keyed by the
	// item's retry count.
	BackoffBase time.Duration

	online chan struct{}
}

func NewReconciler(store *cache.Store, remote *Remote) *Reconciler {
	return &Reconciler{
		Cache:       store,
		Remote:      remote,
		Interval:    DefaultInterval,
		MaxAttempts: DefaultMaxAttempts,
		BackoffBase: defaultBackoffBase,
		online:      make(chan struct{}, 1),
	}
}

// NotifyOnline signals a network-available transition. The next sweep
// starts immediately. Safe to call from any goroutine; redundant
// signals coalesce.
func (r *Reconciler) NotifyOnline() {
	select {
	case r.online <- struct{}{}:
	default:
	}
}

// Run sweeps on every online transition and on the periodic ticker
// until ctx is cancelled. Explicit invocation goes through Sync.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.online:
			r.Sync(ctx)
		case <-ticker.C:
			r.Sync(ctx)
		}
	}
}

// Sync performs one reconciliation sweep. Per-item failures are
// recorded on the entity and never abort the sweep; the sweep itself
// only stops early when ctx is cancelled.
func (r *Reconciler) Sync(ctx context.Context) {
	for _, entityType := range entityOrder {
		items, err := r.Cache.PendingQueue(ctx, entityType)
		if err != nil {
			logger.Sugar.Errorf("Sweep: listing pending %s items: %v", entityType, err)
			continue
		}
		for _, item := range items {
			if ctx.Err() != nil {
				return
			}
			r.syncItem(ctx, item)
		}
	}
}

func (r *Reconciler) syncItem(ctx context.Context, item cache.QueueItem) {
	if item.RetryCount > 0 && time.Since(item.AttemptedAt) < r.backoff(item.RetryCount) {
		return // still backing off, next sweep will look again
	}

	if item.Type != "comment" || item.Action != "create" {
		logger.Sugar.Warnf("Sweep: no handler for queue item %s (%s/%s)", item.ID, item.Type, item.Action)
		return
	}

	c, err := r.Cache.GetComment(ctx, item.ItemID)
	if err != nil {
		logger.Sugar.Errorf("Sweep: loading item %s: %v", item.ItemID, err)
		return
	}

	token := c.ClientToken
	if token == "" {
		token = item.ID
	}

	if err := r.Remote.CreateComment(ctx, c, token); err != nil {
		r.recordFailure(ctx, item, err)
		return
	}

	if err := r.Cache.MarkSynced(ctx, item.ItemID); err != nil {
		logger.Sugar.Errorf("Sweep: marking %s synced: %v", item.ItemID, err)
		return
	}
	logger.Sugar.Infof("Synced comment %s (queue item %s)", item.ItemID, item.ID)
}

func (r *Reconciler) recordFailure(ctx context.Context, item cache.QueueItem, cause error) {
	logger.Sugar.Warnf("Sweep: item %s attempt %d failed: %v", item.ID, item.RetryCount+1, cause)

	if err := r.Cache.RecordAttempt(ctx, item.ID); err != nil {
		logger.Sugar.Errorf("Sweep: recording attempt for %s: %v", item.ID, err)
		return
	}
	if item.RetryCount+1 >= r.MaxAttempts {
		// Terminal: the entity stays in the cache marked error and is
		// no longer swept. Surfacing it to the user is the UI's job.
		if err := r.Cache.MarkError(ctx, item.ItemID); err != nil {
			logger.Sugar.Errorf("Sweep: marking %s errored: %v", item.ItemID, err)
		}
		logger.Sugar.Errorf("Giving up on queue item %s after %d attempts", item.ID, r.MaxAttempts)
	}
}

func (r *Reconciler) backoff(retryCount int) time.Duration {
	d := r.BackoffBase
	for i := 1; i < retryCount; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}
