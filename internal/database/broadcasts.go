// SafeHorizon - Tourist Safety Platform Backend
// Copyright 2026 SafeHorizon Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/safehorizon/safehorizon

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/safehorizon/safehorizon/internal/geo"
	"github.com/safehorizon/safehorizon/internal/metrics"
	"github.com/safehorizon/safehorizon/internal/models"
)

// TouristTarget is a broadcast targeting candidate: a recently seen
// tourist and their last location.
type TouristTarget struct {
	ID       string
	Lat      float64
	Lon      float64
	LastSeen time.Time
}

// InsertBroadcast records a fan-out with a fresh BCAST-YYYYMMDD-NNNN
// number. Leg counters start at zero; the dispatcher fills them in as
// legs complete.
func (s *Store) InsertBroadcast(ctx context.Context, b *models.Broadcast) (*models.Broadcast, error) {
	start := time.Now()
	ctx, cancel := s.oltpCtx(ctx)
	defer cancel()

	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		now := time.Now().UTC()
		seq, err := nextCounter(ctx, tx, counterScopeBroadcast, now)
		if err != nil {
			return err
		}
		b.BroadcastNumber = documentNumber("BCAST", now, seq)
		return tx.QueryRow(ctx,
			`INSERT INTO broadcasts (id, broadcast_number, type, title, message,
			        severity, params, sent_by, expires_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 RETURNING created_at`,
			b.ID, b.BroadcastNumber, b.Type, b.Title, b.Message,
			b.Severity, b.Params, b.SentBy, b.ExpiresAt,
		).Scan(&b.CreatedAt)
	})
	metrics.ObserveDBQuery("insert_broadcast", start, err)
	if err != nil {
		return nil, mapError(err)
	}
	return b, nil
}

// UpdateBroadcastCounters records leg outcomes after dispatch.
func (s *Store) UpdateBroadcastCounters(ctx context.Context, id string, tourists, devices, sms int) error {
	start := time.Now()
	ctx, cancel := s.oltpCtx(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx,
		`UPDATE broadcasts
		 SET tourists_notified = $2, devices_notified = $3, sms_sent = $4
		 WHERE id = $1`, id, tourists, devices, sms)
	metrics.ObserveDBQuery("update_broadcast_counters", start, err)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetBroadcast fetches one broadcast.
func (s *Store) GetBroadcast(ctx context.Context, id string) (*models.Broadcast, error) {
	start := time.Now()
	ctx, cancel := s.oltpCtx(ctx)
	defer cancel()

	b, err := scanBroadcast(s.pool.QueryRow(ctx, selectBroadcast+` WHERE id = $1`, id))
	metrics.ObserveDBQuery("get_broadcast", start, err)
	if err != nil {
		return nil, mapError(err)
	}
	return b, nil
}

// UnexpiredBroadcasts returns broadcasts that have not expired, newest
// first. Handlers re-evaluate targeting params against a tourist's last
// location; target sets are not persisted.
func (s *Store) UnexpiredBroadcasts(ctx context.Context, limit int) ([]models.Broadcast, error) {
	start := time.Now()
	ctx, cancel := s.analyticsCtx(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		selectBroadcast+` WHERE expires_at IS NULL OR expires_at > now()
		 ORDER BY created_at DESC LIMIT $1`, limit)
	metrics.ObserveDBQuery("unexpired_broadcasts", start, err)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var broadcasts []models.Broadcast
	for rows.Next() {
		var b models.Broadcast
		if err := rows.Scan(broadcastFields(&b)...); err != nil {
			return nil, fmt.Errorf("scan broadcast: %w", err)
		}
		broadcasts = append(broadcasts, b)
	}
	return broadcasts, rows.Err()
}

// ListBroadcasts returns the authority history, newest first.
func (s *Store) ListBroadcasts(ctx context.Context, limit int) ([]models.Broadcast, error) {
	start := time.Now()
	ctx, cancel := s.analyticsCtx(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		selectBroadcast+` ORDER BY created_at DESC LIMIT $1`, limit)
	metrics.ObserveDBQuery("list_broadcasts", start, err)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var broadcasts []models.Broadcast
	for rows.Next() {
		var b models.Broadcast
		if err := rows.Scan(broadcastFields(&b)...); err != nil {
			return nil, fmt.Errorf("scan broadcast: %w", err)
		}
		broadcasts = append(broadcasts, b)
	}
	return broadcasts, rows.Err()
}

// TargetsWithinRadius returns tourists seen since the cutoff whose last
// location is within radiusM of the point.
func (s *Store) TargetsWithinRadius(ctx context.Context, lat, lon, radiusM float64, since time.Time) ([]TouristTarget, error) {
	start := time.Now()
	ctx, cancel := s.analyticsCtx(ctx)
	defer cancel()

	box := geo.BoundingBox(lat, lon, radiusM)
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, last_lat, last_lon, last_seen FROM tourists
		 WHERE last_seen >= $1
		   AND last_lat BETWEEN $2 AND $3 AND last_lon BETWEEN $4 AND $5
		   AND `+haversineSQL("last_lat", "last_lon", "$6", "$7")+` <= $8`,
		since, box.MinLat, box.MaxLat, box.MinLon, box.MaxLon,
		lat, lon, radiusM)
	metrics.ObserveDBQuery("targets_within_radius", start, err)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	return collectTargets(rows)
}

// TargetsWithinRegion returns tourists seen since the cutoff whose last
// location falls inside the bounding rectangle.
func (s *Store) TargetsWithinRegion(ctx context.Context, minLat, minLon, maxLat, maxLon float64, since time.Time) ([]TouristTarget, error) {
	start := time.Now()
	ctx, cancel := s.analyticsCtx(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT user_id, last_lat, last_lon, last_seen FROM tourists
		 WHERE last_seen >= $1
		   AND last_lat BETWEEN $2 AND $3 AND last_lon BETWEEN $4 AND $5`,
		since, minLat, maxLat, minLon, maxLon)
	metrics.ObserveDBQuery("targets_within_region", start, err)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	return collectTargets(rows)
}

// TargetsAll returns every tourist seen since the cutoff.
func (s *Store) TargetsAll(ctx context.Context, since time.Time) ([]TouristTarget, error) {
	start := time.Now()
	ctx, cancel := s.analyticsCtx(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT t.user_id, t.last_lat, t.last_lon, t.last_seen
		 FROM tourists t JOIN users u ON u.id = t.user_id
		 WHERE u.is_active AND t.last_seen >= $1 AND t.last_lat IS NOT NULL`, since)
	metrics.ObserveDBQuery("targets_all", start, err)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	return collectTargets(rows)
}

// UpsertBroadcastAck records or revises a tourist's acknowledgement.
// One row per (broadcast, tourist); re-acks update status and note in
// place.
func (s *Store) UpsertBroadcastAck(ctx context.Context, ack *models.BroadcastAck) (*models.BroadcastAck, error) {
	start := time.Now()
	ctx, cancel := s.oltpCtx(ctx)
	defer cancel()

	err := s.pool.QueryRow(ctx,
		`INSERT INTO broadcast_acks (broadcast_id, tourist_id, status, note)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (broadcast_id, tourist_id)
		 DO UPDATE SET status = EXCLUDED.status, note = EXCLUDED.note, updated_at = now()
		 RETURNING created_at, updated_at`,
		ack.BroadcastID, ack.TouristID, ack.Status, ack.Note,
	).Scan(&ack.CreatedAt, &ack.UpdatedAt)
	metrics.ObserveDBQuery("upsert_broadcast_ack", start, err)
	if err != nil {
		return nil, mapError(err)
	}
	return ack, nil
}

// AckCounts tallies acknowledgement statuses for a broadcast.
func (s *Store) AckCounts(ctx context.Context, broadcastID string) (map[models.AckStatus]int, error) {
	start := time.Now()
	ctx, cancel := s.oltpCtx(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT status, count(*) FROM broadcast_acks
		 WHERE broadcast_id = $1 GROUP BY status`, broadcastID)
	metrics.ObserveDBQuery("ack_counts", start, err)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	counts := make(map[models.AckStatus]int)
	for rows.Next() {
		var status models.AckStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan ack count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

const selectBroadcast = `SELECT id, broadcast_number, type, title, message,
       severity, params, sent_by, tourists_notified, devices_notified,
       sms_sent, expires_at, created_at
FROM broadcasts`

func broadcastFields(b *models.Broadcast) []any {
	return []any{&b.ID, &b.BroadcastNumber, &b.Type, &b.Title, &b.Message,
		&b.Severity, &b.Params, &b.SentBy, &b.TouristsNotified,
		&b.DevicesNotified, &b.SMSSent, &b.ExpiresAt, &b.CreatedAt}
}

func scanBroadcast(row pgx.Row) (*models.Broadcast, error) {
	var b models.Broadcast
	if err := row.Scan(broadcastFields(&b)...); err != nil {
		return nil, err
	}
	return &b, nil
}

func collectTargets(rows pgx.Rows) ([]TouristTarget, error) {
	var targets []TouristTarget
	for rows.Next() {
		var t TouristTarget
		if err := rows.Scan(&t.ID, &t.Lat, &t.Lon, &t.LastSeen); err != nil {
			return nil, fmt.Errorf("scan target: %w", err)
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}
