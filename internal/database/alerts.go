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

// AlertFilter narrows alert listings. Zero values match everything.
type AlertFilter struct {
	TouristID      string
	Kind           models.AlertKind
	Severity       models.Severity
	Unacknowledged bool
	Since          time.Time
	Limit          int
}

// InsertAlert inserts an alert, deduplicating on dedup_key. When a
// concurrent or earlier insert already claimed the key, the existing row
// is returned with created=false. The partial unique index makes the
// race loser deterministic across instances.
func (s *Store) InsertAlert(ctx context.Context, alert *models.Alert) (*models.Alert, bool, error) {
	start := time.Now()
	ctx, cancel := s.oltpCtx(ctx)
	defer cancel()

	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	var out *models.Alert
	created := false
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`INSERT INTO alerts (id, tourist_id, kind, severity, title, description,
			        lat, lon, metadata, dedup_key)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 ON CONFLICT (dedup_key) WHERE dedup_key IS NOT NULL DO NOTHING
			 RETURNING created_at`,
			alert.ID, alert.TouristID, alert.Kind, alert.Severity,
			alert.Title, alert.Description, alert.Lat, alert.Lon,
			alert.Metadata, alert.DedupKey)

		switch scanErr := row.Scan(&alert.CreatedAt); scanErr {
		case nil:
			created = true
			out = alert
			return nil
		case pgx.ErrNoRows:
			existing, err := scanAlert(tx.QueryRow(ctx,
				selectAlert+` WHERE dedup_key = $1`, alert.DedupKey))
			if err != nil {
				return err
			}
			out = existing
			return nil
		default:
			return scanErr
		}
	})
	metrics.ObserveDBQuery("insert_alert", start, err)
	if err != nil {
		return nil, false, mapError(err)
	}
	return out, created, nil
}

// GetAlert fetches one alert.
func (s *Store) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	start := time.Now()
	ctx, cancel := s.oltpCtx(ctx)
	defer cancel()

	alert, err := scanAlert(s.pool.QueryRow(ctx, selectAlert+` WHERE id = $1`, id))
	metrics.ObserveDBQuery("get_alert", start, err)
	if err != nil {
		return nil, mapError(err)
	}
	return alert, nil
}

// AcknowledgeAlert marks an alert acknowledged. Idempotent: a second
// acknowledge keeps the first actor and timestamp.
func (s *Store) AcknowledgeAlert(ctx context.Context, id, byUserID string) (*models.Alert, error) {
	start := time.Now()
	ctx, cancel := s.oltpCtx(ctx)
	defer cancel()

	alert, err := scanAlert(s.pool.QueryRow(ctx,
		`UPDATE alerts
		 SET acknowledged = TRUE,
		     acknowledged_by = COALESCE(acknowledged_by, $2),
		     acknowledged_at = COALESCE(acknowledged_at, now())
		 WHERE id = $1
		 RETURNING `+alertColumns, id, byUserID))
	metrics.ObserveDBQuery("acknowledge_alert", start, err)
	if err != nil {
		return nil, mapError(err)
	}
	return alert, nil
}

// ResolveAlert marks an alert resolved, acknowledging it first if the
// caller skipped that step. Resolution never reverts.
func (s *Store) ResolveAlert(ctx context.Context, id, byUserID string) (*models.Alert, error) {
	start := time.Now()
	ctx, cancel := s.oltpCtx(ctx)
	defer cancel()

	alert, err := scanAlert(s.pool.QueryRow(ctx,
		`UPDATE alerts
		 SET acknowledged = TRUE,
		     acknowledged_by = COALESCE(acknowledged_by, $2),
		     acknowledged_at = COALESCE(acknowledged_at, now()),
		     resolved = TRUE,
		     resolved_by = COALESCE(resolved_by, $2),
		     resolved_at = COALESCE(resolved_at, now())
		 WHERE id = $1
		 RETURNING `+alertColumns, id, byUserID))
	metrics.ObserveDBQuery("resolve_alert", start, err)
	if err != nil {
		return nil, mapError(err)
	}
	return alert, nil
}

// ListAlerts returns alerts matching the filter, newest first.
func (s *Store) ListAlerts(ctx context.Context, filter AlertFilter) ([]models.Alert, error) {
	start := time.Now()
	ctx, cancel := s.analyticsCtx(ctx)
	defer cancel()

	query := selectAlert + ` WHERE 1=1`
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.TouristID != "" {
		query += ` AND tourist_id = ` + arg(filter.TouristID)
	}
	if filter.Kind != "" {
		query += ` AND kind = ` + arg(filter.Kind)
	}
	if filter.Severity != "" {
		query += ` AND severity = ` + arg(filter.Severity)
	}
	if filter.Unacknowledged {
		query += ` AND NOT acknowledged`
	}
	if !filter.Since.IsZero() {
		query += ` AND created_at >= ` + arg(filter.Since)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` ORDER BY created_at DESC LIMIT ` + arg(limit)

	rows, err := s.pool.Query(ctx, query, args...)
	metrics.ObserveDBQuery("list_alerts", start, err)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	return collectAlerts(rows)
}

// AlertsSince returns alerts created strictly after the cutoff, oldest
// first, for gateway replay. An empty touristID replays the authority
// channel (all tourists).
func (s *Store) AlertsSince(ctx context.Context, touristID string, since time.Time, limit int) ([]models.Alert, error) {
	start := time.Now()
	ctx, cancel := s.oltpCtx(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 200
	}
	query := selectAlert + ` WHERE created_at > $1`
	args := []any{since}
	if touristID != "" {
		query += ` AND tourist_id = $2`
		args = append(args, touristID)
	}
	query += fmt.Sprintf(` ORDER BY created_at ASC LIMIT %d`, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	metrics.ObserveDBQuery("alerts_since", start, err)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	return collectAlerts(rows)
}

// HasOpenAlert reports whether the tourist has an unresolved alert of the
// kind created since the cutoff. The alert rules use it to suppress
// repeats beyond what the dedup key already covers. A non-empty zoneID
// narrows the match to that zone, so an open alert for zone A never
// suppresses entry into zone B.
func (s *Store) HasOpenAlert(ctx context.Context, touristID string, kind models.AlertKind, zoneID string, since time.Time) (bool, error) {
	start := time.Now()
	ctx, cancel := s.oltpCtx(ctx)
	defer cancel()

	query := `SELECT EXISTS (
	    SELECT 1 FROM alerts
	    WHERE tourist_id = $1 AND kind = $2 AND NOT resolved AND created_at >= $3`
	args := []any{touristID, kind, since}
	if zoneID != "" {
		query += ` AND metadata->>'zone_id' = $4`
		args = append(args, zoneID)
	}
	query += `)`

	var exists bool
	err := s.pool.QueryRow(ctx, query, args...).Scan(&exists)
	metrics.ObserveDBQuery("has_open_alert", start, err)
	if err != nil {
		return false, mapError(err)
	}
	return exists, nil
}

// CountAlertsNear counts alerts since the cutoff within radiusM of the
// point, feeding the area-incident scoring factor. Excludes the
// tourist's own alerts so a panic does not depress its sender's score
// twice.
func (s *Store) CountAlertsNear(ctx context.Context, lat, lon, radiusM float64, since time.Time, excludeTouristID string) (int, error) {
	start := time.Now()
	ctx, cancel := s.oltpCtx(ctx)
	defer cancel()

	box := geo.BoundingBox(lat, lon, radiusM)
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM alerts
		 WHERE created_at >= $1 AND tourist_id <> $2
		   AND lat IS NOT NULL AND lon IS NOT NULL
		   AND lat BETWEEN $3 AND $4 AND lon BETWEEN $5 AND $6
		   AND `+haversineSQL("lat", "lon", "$7", "$8")+` <= $9`,
		since, excludeTouristID,
		box.MinLat, box.MaxLat, box.MinLon, box.MaxLon,
		lat, lon, radiusM).Scan(&count)
	metrics.ObserveDBQuery("count_alerts_near", start, err)
	if err != nil {
		return 0, mapError(err)
	}
	return count, nil
}

// AlertSeverityCountsNear tallies alerts since the cutoff within radiusM
// of the point, grouped by severity, for the severity-weighted nearby
// alert scoring factor. Excludes the tourist's own alerts.
func (s *Store) AlertSeverityCountsNear(ctx context.Context, lat, lon, radiusM float64, since time.Time, excludeTouristID string) (map[models.Severity]int, error) {
	start := time.Now()
	ctx, cancel := s.oltpCtx(ctx)
	defer cancel()

	box := geo.BoundingBox(lat, lon, radiusM)
	rows, err := s.pool.Query(ctx,
		`SELECT severity, count(*) FROM alerts
		 WHERE created_at >= $1 AND tourist_id <> $2
		   AND lat IS NOT NULL AND lon IS NOT NULL
		   AND lat BETWEEN $3 AND $4 AND lon BETWEEN $5 AND $6
		   AND `+haversineSQL("lat", "lon", "$7", "$8")+` <= $9
		 GROUP BY severity`,
		since, excludeTouristID,
		box.MinLat, box.MaxLat, box.MinLon, box.MaxLon,
		lat, lon, radiusM)
	metrics.ObserveDBQuery("alert_severity_counts_near", start, err)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	counts := make(map[models.Severity]int)
	for rows.Next() {
		var sev models.Severity
		var n int
		if err := rows.Scan(&sev, &n); err != nil {
			return nil, fmt.Errorf("scan severity count: %w", err)
		}
		counts[sev] = n
	}
	return counts, rows.Err()
}

// PanicAlertsSince returns panic and sos alerts since the cutoff, newest
// first. The public heatmap endpoint coarsens coordinates before
// serving these.
func (s *Store) PanicAlertsSince(ctx context.Context, since time.Time, limit int) ([]models.Alert, error) {
	start := time.Now()
	ctx, cancel := s.analyticsCtx(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 500
	}
	rows, err := s.pool.Query(ctx,
		selectAlert+` WHERE kind IN ('panic', 'sos') AND created_at >= $1
		 ORDER BY created_at DESC LIMIT $2`, since, limit)
	metrics.ObserveDBQuery("panic_alerts_since", start, err)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	return collectAlerts(rows)
}

const alertColumns = `id, tourist_id, kind, severity, title, description,
       lat, lon, metadata, dedup_key, acknowledged, acknowledged_by,
       acknowledged_at, resolved, resolved_by, resolved_at, created_at`

const selectAlert = `SELECT ` + alertColumns + ` FROM alerts`

func scanAlert(row pgx.Row) (*models.Alert, error) {
	var a models.Alert
	err := row.Scan(&a.ID, &a.TouristID, &a.Kind, &a.Severity, &a.Title,
		&a.Description, &a.Lat, &a.Lon, &a.Metadata, &a.DedupKey,
		&a.Acknowledged, &a.AcknowledgedBy, &a.AcknowledgedAt,
		&a.Resolved, &a.ResolvedBy, &a.ResolvedAt, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func collectAlerts(rows pgx.Rows) ([]models.Alert, error) {
	var alerts []models.Alert
	for rows.Next() {
		var a models.Alert
		if err := rows.Scan(&a.ID, &a.TouristID, &a.Kind, &a.Severity, &a.Title,
			&a.Description, &a.Lat, &a.Lon, &a.Metadata, &a.DedupKey,
			&a.Acknowledged, &a.AcknowledgedBy, &a.AcknowledgedAt,
			&a.Resolved, &a.ResolvedBy, &a.ResolvedAt, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}
