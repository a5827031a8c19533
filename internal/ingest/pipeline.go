// SafeHorizon - Tourist Safety Platform Backend
// Copyright 2026 SafeHorizon Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/safehorizon/safehorizon

// Package ingest runs the location pipeline: accept a sample, score it,
// fold it into the tourist's rolling score, run the alert rules and
// announce the movement on the hub. A per-tourist mutex serializes the
// read-blend-write so per-tourist order is server arrival order.
package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/safehorizon/safehorizon/internal/alerts"
	"github.com/safehorizon/safehorizon/internal/database"
	"github.com/safehorizon/safehorizon/internal/geofence"
	"github.com/safehorizon/safehorizon/internal/hub"
	"github.com/safehorizon/safehorizon/internal/logging"
	"github.com/safehorizon/safehorizon/internal/metrics"
	"github.com/safehorizon/safehorizon/internal/models"
	"github.com/safehorizon/safehorizon/internal/scoring"
)

// collapseWindow folds rapid-fire duplicate pings into the previous row.
const collapseWindow = 2 * time.Second

// ErrUnknownTourist covers both a missing and a deactivated tourist, so
// the API surface cannot be used to probe which IDs exist.
var ErrUnknownTourist = errors.New("unknown tourist")

// Store is the persistence surface the pipeline writes through.
type Store interface {
	GetTourist(ctx context.Context, id string) (*models.Tourist, error)
	LatestSample(ctx context.Context, touristID string) (*models.LocationSample, error)
	InsertLocation(ctx context.Context, sample *models.LocationSample) (int64, bool, error)
	ApplyScore(ctx context.Context, locationID int64, touristID string, score int) (int, error)
}

// Scorer computes a safety score for one sample.
type Scorer interface {
	Compute(ctx context.Context, in scoring.Input) (*scoring.Result, error)
}

// Evaluator runs the alert rules against a scored sample.
type Evaluator interface {
	Evaluate(ctx context.Context, in alerts.EvalInput) (*models.Alert, error)
}

// ZoneIndex resolves zone containment for the alert rules.
type ZoneIndex interface {
	Locate(lat, lon float64) []geofence.ZoneHit
}

// Publisher is the hub surface for location_updated events.
type Publisher interface {
	Publish(ctx context.Context, channel string, frame models.Frame) error
}

// Result is the outcome of one ingested sample. SafetyScore is the
// tourist's rolling score after blending, not the raw sample score.
type Result struct {
	LocationID  int64
	SafetyScore int
	RiskLevel   models.RiskLevel
	Alert       *models.Alert
	Collapsed   bool
}

// Pipeline is the location ingestor.
type Pipeline struct {
	store  Store
	scorer Scorer
	eval   Evaluator
	zones  ZoneIndex
	pub    Publisher

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	now func() time.Time
}

// New builds the pipeline.
func New(store Store, scorer Scorer, eval Evaluator, zones ZoneIndex, pub Publisher) *Pipeline {
	return &Pipeline{
		store:  store,
		scorer: scorer,
		eval:   eval,
		zones:  zones,
		pub:    pub,
		locks:  make(map[string]*sync.Mutex),
		now:    time.Now,
	}
}

// Ingest accepts one sample for a tourist. Duplicate submissions are
// idempotent two ways: an exact (tourist, recorded_at) replay reuses the
// stored row, and any sample arriving within 2 s of the previous one
// collapses into it without rescoring. A scoring failure keeps the row
// with a null score for the rescorer and does not fail the request.
func (p *Pipeline) Ingest(ctx context.Context, touristID string, sample *models.LocationSample) (*Result, error) {
	tourist, err := p.store.GetTourist(ctx, touristID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrUnknownTourist
		}
		return nil, err
	}
	if !tourist.IsActive {
		return nil, ErrUnknownTourist
	}

	lock := p.touristLock(touristID)
	lock.Lock()
	defer lock.Unlock()

	if res, ok, err := p.collapse(ctx, touristID, tourist.SafetyScore); err != nil {
		return nil, err
	} else if ok {
		return res, nil
	}

	sample.TouristID = touristID
	id, created, err := p.store.InsertLocation(ctx, sample)
	if err != nil {
		return nil, err
	}
	metrics.LocationsIngested.Inc()
	if !created {
		// Client retry of an already-ingested timestamp. The original
		// request did the scoring; report current state.
		return &Result{
			LocationID:  id,
			SafetyScore: tourist.SafetyScore,
			RiskLevel:   models.RiskLevelFromScore(tourist.SafetyScore),
			Collapsed:   true,
		}, nil
	}

	scoreRes, err := p.scorer.Compute(ctx, scoring.Input{
		TouristID: touristID,
		Lat:       sample.Lat,
		Lon:       sample.Lon,
		Speed:     sample.Speed,
		Timestamp: sample.RecordedAt,
	})
	if err != nil {
		logging.Warn().
			Str("component", "ingest").
			Str("tourist_id", touristID).
			Int64("location_id", id).
			Err(err).
			Msg("scoring failed, sample left for rescorer")
		res := &Result{
			LocationID:  id,
			SafetyScore: tourist.SafetyScore,
			RiskLevel:   models.RiskLevelFromScore(tourist.SafetyScore),
		}
		p.announce(ctx, touristID, sample, res.SafetyScore)
		return res, nil
	}

	blended, err := p.store.ApplyScore(ctx, id, touristID, scoreRes.Score)
	if err != nil {
		return nil, err
	}

	res := &Result{
		LocationID:  id,
		SafetyScore: blended,
		RiskLevel:   models.RiskLevelFromScore(blended),
	}

	alert, err := p.eval.Evaluate(ctx, alerts.EvalInput{
		TouristID:  touristID,
		Lat:        sample.Lat,
		Lon:        sample.Lon,
		Score:      scoreRes.Score,
		RecordedAt: sample.RecordedAt,
		ZoneHits:   p.zones.Locate(sample.Lat, sample.Lon),
	})
	if err != nil {
		// The sample is stored and scored; a failed rule pass must not
		// bounce the request into a client retry.
		logging.Warn().
			Str("component", "ingest").
			Str("tourist_id", touristID).
			Err(err).
			Msg("alert evaluation failed")
	} else {
		res.Alert = alert
	}

	p.announce(ctx, touristID, sample, blended)
	return res, nil
}

// collapse reports whether the sample arrives inside the collapse window
// of the previous one, returning the previous row unchanged if so.
func (p *Pipeline) collapse(ctx context.Context, touristID string, rollingScore int) (*Result, bool, error) {
	latest, err := p.store.LatestSample(ctx, touristID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if p.now().Sub(latest.CreatedAt) >= collapseWindow {
		return nil, false, nil
	}
	metrics.LocationsCollapsed.Inc()
	return &Result{
		LocationID:  latest.ID,
		SafetyScore: rollingScore,
		RiskLevel:   models.RiskLevelFromScore(rollingScore),
		Collapsed:   true,
	}, true, nil
}

func (p *Pipeline) announce(ctx context.Context, touristID string, sample *models.LocationSample, score int) {
	frame := models.LocationFrame(&models.LocationPing{
		TouristID:   touristID,
		Location:    models.GeoPoint{Lat: sample.Lat, Lon: sample.Lon},
		SafetyScore: score,
		RiskLevel:   models.RiskLevelFromScore(score),
		RecordedAt:  sample.RecordedAt,
	})
	if err := p.pub.Publish(ctx, hub.TouristAlerts(touristID), frame); err != nil {
		logging.Warn().
			Str("component", "ingest").
			Str("tourist_id", touristID).
			Err(err).
			Msg("location publish failed")
	}
}

// touristLock returns the mutex for one tourist, creating it on first
// use. Locks are never reclaimed; the map grows with the tourist set,
// not the sample volume.
func (p *Pipeline) touristLock(touristID string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	lock, ok := p.locks[touristID]
	if !ok {
		lock = &sync.Mutex{}
		p.locks[touristID] = lock
	}
	return lock
}
