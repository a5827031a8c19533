// SafeHorizon - Tourist Safety Platform Backend
// Copyright 2026 SafeHorizon Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/safehorizon/safehorizon

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/safehorizon/safehorizon/internal/geo"
	"github.com/safehorizon/safehorizon/internal/metrics"
	"github.com/safehorizon/safehorizon/internal/models"
)

// SampleScore is a (score, recorded_at) pair from a tourist's recent
// samples, used by the anomaly and sequence alert rules.
type SampleScore struct {
	Score      int
	RecordedAt time.Time
}

// InsertLocation appends a sample and updates the tourist's last_seen and
// last_location in the same transaction, so a reader observing the new
// last_seen also observes the row. The (tourist_id, recorded_at) unique
// index makes client retries idempotent: a replay returns the existing
// row id with created=false and leaves the tourist row untouched.
func (s *Store) InsertLocation(ctx context.Context, sample *models.LocationSample) (id int64, created bool, err error) {
	start := time.Now()
	ctx, cancel := s.oltpCtx(ctx)
	defer cancel()

	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`INSERT INTO location_samples
			        (tourist_id, lat, lon, speed, altitude, accuracy, recorded_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (tourist_id, recorded_at) DO NOTHING
			 RETURNING id, created_at`,
			sample.TouristID, sample.Lat, sample.Lon,
			sample.Speed, sample.Altitude, sample.Accuracy, sample.RecordedAt)

		switch scanErr := row.Scan(&id, &sample.CreatedAt); scanErr {
		case nil:
			created = true
		case pgx.ErrNoRows:
			// Replayed client timestamp; reuse the existing row.
			return tx.QueryRow(ctx,
				`SELECT id, created_at FROM location_samples
				 WHERE tourist_id = $1 AND recorded_at = $2`,
				sample.TouristID, sample.RecordedAt,
			).Scan(&id, &sample.CreatedAt)
		default:
			return scanErr
		}

		// last_seen stays monotonic even if an older sample lands late.
		_, err := tx.Exec(ctx,
			`UPDATE tourists
			 SET last_seen = GREATEST(COALESCE(last_seen, 'epoch'::timestamptz), $2),
			     last_lat = $3, last_lon = $4
			 WHERE user_id = $1`,
			sample.TouristID, sample.CreatedAt, sample.Lat, sample.Lon)
		return err
	})
	metrics.ObserveDBQuery("insert_location", start, err)
	if err != nil {
		return 0, false, mapError(err)
	}
	sample.ID = id
	return id, created, nil
}

// ApplyScore stores a computed sample score and folds it into the
// tourist's rolling score as round(0.3*prior + 0.7*new), atomically.
// Returns the blended rolling score.
func (s *Store) ApplyScore(ctx context.Context, locationID int64, touristID string, score int) (int, error) {
	start := time.Now()
	ctx, cancel := s.oltpCtx(ctx)
	defer cancel()

	var blended int
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE location_samples
			 SET safety_score = $2, safety_score_updated_at = now()
			 WHERE id = $1`, locationID, score,
		); err != nil {
			return err
		}
		return tx.QueryRow(ctx,
			`UPDATE tourists
			 SET safety_score = LEAST(100, GREATEST(0, ROUND(0.3 * safety_score + 0.7 * $2)))::int
			 WHERE user_id = $1
			 RETURNING safety_score`, touristID, score,
		).Scan(&blended)
	})
	metrics.ObserveDBQuery("apply_score", start, err)
	if err != nil {
		return 0, mapError(err)
	}
	return blended, nil
}

// SetSampleScore backfills a sample score without touching the rolling
// tourist score. The rescorer uses it for stale rows.
func (s *Store) SetSampleScore(ctx context.Context, locationID int64, score int) error {
	start := time.Now()
	ctx, cancel := s.oltpCtx(ctx)
	defer cancel()

	_, err := s.pool.Exec(ctx,
		`UPDATE location_samples
		 SET safety_score = $2, safety_score_updated_at = now()
		 WHERE id = $1`, locationID, score)
	metrics.ObserveDBQuery("set_sample_score", start, err)
	return mapError(err)
}

// LatestSample returns the most recently arrived sample for a tourist, or
// ErrNotFound when none exist.
func (s *Store) LatestSample(ctx context.Context, touristID string) (*models.LocationSample, error) {
	start := time.Now()
	ctx, cancel := s.oltpCtx(ctx)
	defer cancel()

	sample, err := scanSample(s.pool.QueryRow(ctx,
		selectSample+` WHERE tourist_id = $1 ORDER BY created_at DESC LIMIT 1`,
		touristID))
	metrics.ObserveDBQuery("latest_sample", start, err)
	if err != nil {
		return nil, mapError(err)
	}
	return sample, nil
}

// RecentSpeeds returns the non-null speeds of the tourist's last n
// samples, most recent first.
func (s *Store) RecentSpeeds(ctx context.Context, touristID string, n int) ([]float64, error) {
	start := time.Now()
	ctx, cancel := s.oltpCtx(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT speed FROM location_samples
		 WHERE tourist_id = $1 AND speed IS NOT NULL
		 ORDER BY created_at DESC LIMIT $2`, touristID, n)
	metrics.ObserveDBQuery("recent_speeds", start, err)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var speeds []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan speed: %w", err)
		}
		speeds = append(speeds, v)
	}
	return speeds, rows.Err()
}

// RecentSampleScores returns the scored samples of the tourist's last n
// samples, most recent first. Unscored rows are skipped.
func (s *Store) RecentSampleScores(ctx context.Context, touristID string, n int) ([]SampleScore, error) {
	start := time.Now()
	ctx, cancel := s.oltpCtx(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT safety_score, recorded_at FROM location_samples
		 WHERE tourist_id = $1 AND safety_score IS NOT NULL
		 ORDER BY created_at DESC LIMIT $2`, touristID, n)
	metrics.ObserveDBQuery("recent_sample_scores", start, err)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var scores []SampleScore
	for rows.Next() {
		var sc SampleScore
		if err := rows.Scan(&sc.Score, &sc.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan sample score: %w", err)
		}
		scores = append(scores, sc)
	}
	return scores, rows.Err()
}

// LocationHistory returns a tourist's samples newer than since, most
// recent first, capped at limit.
func (s *Store) LocationHistory(ctx context.Context, touristID string, since time.Time, limit int) ([]models.LocationSample, error) {
	start := time.Now()
	ctx, cancel := s.analyticsCtx(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		selectSample+` WHERE tourist_id = $1 AND created_at >= $2
		 ORDER BY created_at DESC LIMIT $3`,
		touristID, since, limit)
	metrics.ObserveDBQuery("location_history", start, err)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	return collectSamples(rows)
}

// NullScoreSamples returns rows whose score computation failed, oldest
// first, for the rescorer to repair.
func (s *Store) NullScoreSamples(ctx context.Context, limit int) ([]models.LocationSample, error) {
	start := time.Now()
	ctx, cancel := s.analyticsCtx(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		selectSample+` WHERE safety_score IS NULL ORDER BY created_at ASC LIMIT $1`,
		limit)
	metrics.ObserveDBQuery("null_score_samples", start, err)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	return collectSamples(rows)
}

// CountTouristsNear counts distinct other tourists seen since the cutoff
// whose last location is within radiusM of the point. A bounding box
// prefilter keeps the haversine evaluation off the full table.
func (s *Store) CountTouristsNear(ctx context.Context, lat, lon, radiusM float64, since time.Time, excludeTouristID string) (int, error) {
	start := time.Now()
	ctx, cancel := s.oltpCtx(ctx)
	defer cancel()

	box := geo.BoundingBox(lat, lon, radiusM)
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM tourists
		 WHERE user_id <> $1 AND last_seen >= $2
		   AND last_lat BETWEEN $3 AND $4 AND last_lon BETWEEN $5 AND $6
		   AND `+haversineSQL("last_lat", "last_lon", "$7", "$8")+` <= $9`,
		excludeTouristID, since,
		box.MinLat, box.MaxLat, box.MinLon, box.MaxLon,
		lat, lon, radiusM,
	).Scan(&count)
	metrics.ObserveDBQuery("count_tourists_near", start, err)
	if err != nil {
		return 0, mapError(err)
	}
	return count, nil
}

// ActiveTourists returns tourists seen since the cutoff, most recent
// first.
func (s *Store) ActiveTourists(ctx context.Context, since time.Time, limit int) ([]models.Tourist, error) {
	start := time.Now()
	ctx, cancel := s.analyticsCtx(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 500
	}
	rows, err := s.pool.Query(ctx,
		`SELECT u.id, u.email, t.name, t.phone, t.passport_no, t.nationality,
		        t.emergency_contact_name, t.emergency_contact_phone,
		        t.safety_score, t.last_seen, t.last_lat, t.last_lon,
		        u.is_active, u.created_at
		 FROM tourists t JOIN users u ON u.id = t.user_id
		 WHERE u.is_active AND t.last_seen >= $1
		 ORDER BY t.last_seen DESC LIMIT $2`, since, limit)
	metrics.ObserveDBQuery("active_tourists", start, err)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var tourists []models.Tourist
	for rows.Next() {
		var t models.Tourist
		if err := rows.Scan(&t.ID, &t.Email, &t.Name, &t.Phone, &t.PassportNo, &t.Nationality,
			&t.EmergencyContactName, &t.EmergencyContactPhone,
			&t.SafetyScore, &t.LastSeen, &t.LastLat, &t.LastLon,
			&t.IsActive, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan tourist: %w", err)
		}
		tourists = append(tourists, t)
	}
	return tourists, rows.Err()
}

const selectSample = `SELECT id, tourist_id, lat, lon, speed, altitude, accuracy,
       recorded_at, created_at, safety_score, safety_score_updated_at
FROM location_samples`

func scanSample(row pgx.Row) (*models.LocationSample, error) {
	var l models.LocationSample
	err := row.Scan(&l.ID, &l.TouristID, &l.Lat, &l.Lon, &l.Speed, &l.Altitude,
		&l.Accuracy, &l.RecordedAt, &l.CreatedAt, &l.SafetyScore, &l.SafetyScoreUpdatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func collectSamples(rows pgx.Rows) ([]models.LocationSample, error) {
	var samples []models.LocationSample
	for rows.Next() {
		var l models.LocationSample
		if err := rows.Scan(&l.ID, &l.TouristID, &l.Lat, &l.Lon, &l.Speed, &l.Altitude,
			&l.Accuracy, &l.RecordedAt, &l.CreatedAt, &l.SafetyScore, &l.SafetyScoreUpdatedAt); err != nil {
			return nil, fmt.Errorf("scan location sample: %w", err)
		}
		samples = append(samples, l)
	}
	return samples, rows.Err()
}

// haversineSQL renders the great-circle distance in meters between a row
// coordinate pair and two bind parameters. Kept as SQL so distance
// filters run inside the database next to the bounding-box prefilter.
func haversineSQL(latCol, lonCol, latParam, lonParam string) string {
	return `(12742000.0 * asin(least(1.0, sqrt(
	    power(sin(radians((` + latParam + ` - ` + latCol + `) / 2)), 2) +
	    cos(radians(` + latCol + `)) * cos(radians(` + latParam + `)) *
	    power(sin(radians((` + lonParam + ` - ` + lonCol + `) / 2)), 2)))))`
}
