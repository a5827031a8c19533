// SafeHorizon - Tourist Safety Platform Backend
// Copyright 2026 SafeHorizon Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/safehorizon/safehorizon

package ingest

import (
	"context"
	"time"

	"github.com/safehorizon/safehorizon/internal/logging"
	"github.com/safehorizon/safehorizon/internal/metrics"
	"github.com/safehorizon/safehorizon/internal/models"
	"github.com/safehorizon/safehorizon/internal/scoring"
)

// activeWindow bounds which tourists the periodic refresh considers.
const activeWindow = 24 * time.Hour

// RescoreStore is the persistence surface of the rescorer.
type RescoreStore interface {
	NullScoreSamples(ctx context.Context, limit int) ([]models.LocationSample, error)
	SetSampleScore(ctx context.Context, locationID int64, score int) error
	ActiveTourists(ctx context.Context, since time.Time, limit int) ([]models.Tourist, error)
	LatestSample(ctx context.Context, touristID string) (*models.LocationSample, error)
	ApplyScore(ctx context.Context, locationID int64, touristID string, score int) (int, error)
}

// Rescorer is the background repair loop: it backfills samples whose
// score computation failed at ingest time, and re-evaluates tourists
// whose score has gone stale, since time-of-day and nearby-alert factors
// drift even when the tourist stands still.
type Rescorer struct {
	store    RescoreStore
	scorer   Scorer
	interval time.Duration
	batch    int

	now func() time.Time
}

// NewRescorer builds a rescorer. interval is clamped to at least one
// second and batch to the 1..500 range.
func NewRescorer(store RescoreStore, scorer Scorer, interval time.Duration, batch int) *Rescorer {
	if interval < time.Second {
		interval = time.Second
	}
	if batch <= 0 || batch > 500 {
		batch = 500
	}
	return &Rescorer{
		store:    store,
		scorer:   scorer,
		interval: interval,
		batch:    batch,
		now:      time.Now,
	}
}

// Serve implements suture.Service.
func (r *Rescorer) Serve(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.runOnce(ctx)
		}
	}
}

func (r *Rescorer) String() string { return "rescorer" }

func (r *Rescorer) runOnce(ctx context.Context) {
	if n := r.backfill(ctx); n > 0 {
		logging.Debug().
			Str("component", "rescorer").
			Int("repaired", n).
			Msg("backfilled null scores")
	}
	r.refreshStale(ctx)
}

// backfill repairs rows whose ingest-time scoring failed. Each sample is
// scored at its original coordinates and timestamp; the rolling tourist
// score is left alone because fresher samples have already moved it.
func (r *Rescorer) backfill(ctx context.Context) int {
	samples, err := r.store.NullScoreSamples(ctx, r.batch)
	if err != nil {
		logging.Warn().
			Str("component", "rescorer").
			Err(err).
			Msg("null score query failed")
		return 0
	}

	repaired := 0
	for _, sample := range samples {
		res, err := r.scorer.Compute(ctx, scoring.Input{
			TouristID: sample.TouristID,
			Lat:       sample.Lat,
			Lon:       sample.Lon,
			Speed:     sample.Speed,
			Timestamp: sample.RecordedAt,
		})
		if err != nil {
			// Leave the row for the next round.
			continue
		}
		if err := r.store.SetSampleScore(ctx, sample.ID, res.Score); err != nil {
			logging.Warn().
				Str("component", "rescorer").
				Int64("location_id", sample.ID).
				Err(err).
				Msg("score backfill write failed")
			continue
		}
		metrics.ScoreBackfills.Inc()
		repaired++
	}
	return repaired
}

// refreshStale recomputes scores of recently seen tourists whose latest
// sample score is older than the refresh interval, blending the fresh
// value into the rolling score.
func (r *Rescorer) refreshStale(ctx context.Context) {
	now := r.now().UTC()
	tourists, err := r.store.ActiveTourists(ctx, now.Add(-activeWindow), r.batch)
	if err != nil {
		logging.Warn().
			Str("component", "rescorer").
			Err(err).
			Msg("active tourist query failed")
		return
	}

	for _, tourist := range tourists {
		latest, err := r.store.LatestSample(ctx, tourist.ID)
		if err != nil || latest == nil {
			continue
		}
		if latest.SafetyScoreUpdatedAt != nil && now.Sub(*latest.SafetyScoreUpdatedAt) < r.interval {
			continue
		}
		res, err := r.scorer.Compute(ctx, scoring.Input{
			TouristID: tourist.ID,
			Lat:       latest.Lat,
			Lon:       latest.Lon,
			// Scored at wall-clock time: the refresh exists exactly
			// because time-dependent factors moved on.
			Timestamp: now,
		})
		if err != nil {
			continue
		}
		if _, err := r.store.ApplyScore(ctx, latest.ID, tourist.ID, res.Score); err != nil {
			logging.Warn().
				Str("component", "rescorer").
				Str("tourist_id", tourist.ID).
				Err(err).
				Msg("stale score refresh write failed")
		}
	}
}
