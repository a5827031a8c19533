// SafeHorizon - Tourist Safety Platform Backend
// Copyright 2026 SafeHorizon Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/safehorizon/safehorizon

package geofence

import (
	"context"
	"time"

	"github.com/safehorizon/safehorizon/internal/logging"
	"github.com/safehorizon/safehorizon/internal/metrics"
	"github.com/safehorizon/safehorizon/internal/models"
)

// Store is the zone source the refresher reloads from.
type Store interface {
	ActiveZones(ctx context.Context) ([]models.Zone, error)
}

// Refresher keeps the index in sync with the zones table. It runs under
// the supervision tree and reloads on a fixed interval and on explicit
// invalidation after a zone mutation.
type Refresher struct {
	index    *Index
	store    Store
	interval time.Duration
	kick     chan struct{}

	// announce, when set, tells peers a zone changed so other instances
	// refresh before their interval elapses.
	announce func()
}

// NewRefresher builds a refresher for the index. interval is clamped to
// at least one second.
func NewRefresher(index *Index, store Store, interval time.Duration) *Refresher {
	if interval < time.Second {
		interval = time.Second
	}
	return &Refresher{
		index:    index,
		store:    store,
		interval: interval,
		kick:     make(chan struct{}, 1),
	}
}

// OnZoneChanged registers the cross-instance announcement hook, called
// after a local invalidation refresh.
func (r *Refresher) OnZoneChanged(fn func()) {
	r.announce = fn
}

// Invalidate schedules an immediate refresh and announces the change to
// peer instances. Safe to call from any goroutine; coalesces bursts.
func (r *Refresher) Invalidate() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
	if r.announce != nil {
		r.announce()
	}
}

// Refresh reloads the snapshot once. A failure keeps the stale snapshot
// in place; stale zone decisions beat no zone decisions.
func (r *Refresher) Refresh(ctx context.Context) error {
	zones, err := r.store.ActiveZones(ctx)
	if err != nil {
		metrics.GeofenceRefreshFailures.Inc()
		logging.Warn().
			Str("component", "geofence").
			Err(err).
			Msg("zone refresh failed, keeping stale snapshot")
		return err
	}
	r.index.Replace(zones)
	return nil
}

// Serve implements suture.Service: refresh immediately, then on every
// interval tick or invalidation kick until the context ends.
func (r *Refresher) Serve(ctx context.Context) error {
	_ = r.Refresh(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_ = r.Refresh(ctx)
		case <-r.kick:
			_ = r.Refresh(ctx)
		}
	}
}

func (r *Refresher) String() string { return "geofence-refresher" }
