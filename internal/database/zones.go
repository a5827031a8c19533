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

	"github.com/safehorizon/safehorizon/internal/metrics"
	"github.com/safehorizon/safehorizon/internal/models"
)

// CreateZone inserts a zone. The caller has already derived the fallback
// disk for polygon zones.
func (s *Store) CreateZone(ctx context.Context, zone *models.Zone, createdBy string) (*models.Zone, error) {
	start := time.Now()
	ctx, cancel := s.oltpCtx(ctx)
	defer cancel()

	if zone.ID == "" {
		zone.ID = uuid.New().String()
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO zones (id, name, description, type, center_lat, center_lon,
		        radius_m, polygon, created_by)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING is_active, created_at, updated_at`,
		zone.ID, zone.Name, zone.Description, zone.Type,
		zone.CenterLat, zone.CenterLon, zone.RadiusM, zone.Polygon, createdBy,
	).Scan(&zone.IsActive, &zone.CreatedAt, &zone.UpdatedAt)
	metrics.ObserveDBQuery("create_zone", start, err)
	if err != nil {
		return nil, mapError(err)
	}
	return zone, nil
}

// UpdateZone applies a partial update and bumps updated_at. Returns
// ErrNotFound for unknown or soft-deleted zones.
func (s *Store) UpdateZone(ctx context.Context, id string, req *models.ZoneUpdateRequest) (*models.Zone, error) {
	start := time.Now()
	ctx, cancel := s.oltpCtx(ctx)
	defer cancel()

	var zone *models.Zone
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		current, err := scanZone(tx.QueryRow(ctx, selectZone+` WHERE id = $1 AND is_active`, id))
		if err != nil {
			return err
		}
		if req.Name != nil {
			current.Name = *req.Name
		}
		if req.Description != nil {
			current.Description = *req.Description
		}
		if req.Type != nil {
			current.Type = *req.Type
		}
		if req.CenterLat != nil {
			current.CenterLat = *req.CenterLat
		}
		if req.CenterLon != nil {
			current.CenterLon = *req.CenterLon
		}
		if req.RadiusM != nil {
			current.RadiusM = *req.RadiusM
		}
		if req.Polygon != nil {
			current.Polygon = req.Polygon
		}
		err = tx.QueryRow(ctx,
			`UPDATE zones
			 SET name = $2, description = $3, type = $4, center_lat = $5,
			     center_lon = $6, radius_m = $7, polygon = $8, updated_at = now()
			 WHERE id = $1
			 RETURNING updated_at`,
			id, current.Name, current.Description, current.Type,
			current.CenterLat, current.CenterLon, current.RadiusM, current.Polygon,
		).Scan(&current.UpdatedAt)
		if err != nil {
			return err
		}
		zone = current
		return nil
	})
	metrics.ObserveDBQuery("update_zone", start, err)
	if err != nil {
		return nil, mapError(err)
	}
	return zone, nil
}

// DeactivateZone soft-deletes a zone. Historical alerts keep referencing
// it; the geofence index drops it on the next refresh.
func (s *Store) DeactivateZone(ctx context.Context, id string) error {
	start := time.Now()
	ctx, cancel := s.oltpCtx(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx,
		`UPDATE zones SET is_active = FALSE, updated_at = now()
		 WHERE id = $1 AND is_active`, id)
	metrics.ObserveDBQuery("deactivate_zone", start, err)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetZone fetches a zone regardless of active state.
func (s *Store) GetZone(ctx context.Context, id string) (*models.Zone, error) {
	start := time.Now()
	ctx, cancel := s.oltpCtx(ctx)
	defer cancel()

	zone, err := scanZone(s.pool.QueryRow(ctx, selectZone+` WHERE id = $1`, id))
	metrics.ObserveDBQuery("get_zone", start, err)
	if err != nil {
		return nil, mapError(err)
	}
	return zone, nil
}

// ActiveZones returns all active zones, the geofence index's refresh
// source.
func (s *Store) ActiveZones(ctx context.Context) ([]models.Zone, error) {
	start := time.Now()
	ctx, cancel := s.analyticsCtx(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, selectZone+` WHERE is_active ORDER BY created_at`)
	metrics.ObserveDBQuery("active_zones", start, err)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var zones []models.Zone
	for rows.Next() {
		var z models.Zone
		if err := rows.Scan(&z.ID, &z.Name, &z.Description, &z.Type,
			&z.CenterLat, &z.CenterLon, &z.RadiusM, &z.Polygon,
			&z.IsActive, &z.CreatedAt, &z.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan zone: %w", err)
		}
		zones = append(zones, z)
	}
	return zones, rows.Err()
}

const selectZone = `SELECT id, name, description, type, center_lat, center_lon,
       radius_m, polygon, is_active, created_at, updated_at
FROM zones`

func scanZone(row pgx.Row) (*models.Zone, error) {
	var z models.Zone
	err := row.Scan(&z.ID, &z.Name, &z.Description, &z.Type,
		&z.CenterLat, &z.CenterLon, &z.RadiusM, &z.Polygon,
		&z.IsActive, &z.CreatedAt, &z.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &z, nil
}
