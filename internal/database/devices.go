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

	"github.com/safehorizon/safehorizon/internal/metrics"
	"github.com/safehorizon/safehorizon/internal/models"
)

// UpsertDevice registers a push target. A token re-registered by the
// same or another tourist moves to the new owner and reactivates; push
// tokens rotate on app reinstalls so the token, not the row id, is the
// identity.
func (s *Store) UpsertDevice(ctx context.Context, touristID string, platform models.Platform, pushToken string) (*models.Device, error) {
	start := time.Now()
	ctx, cancel := s.oltpCtx(ctx)
	defer cancel()

	d := &models.Device{
		ID:        uuid.New().String(),
		TouristID: touristID,
		Platform:  platform,
		PushToken: pushToken,
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO devices (id, tourist_id, platform, push_token)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (push_token)
		 DO UPDATE SET tourist_id = EXCLUDED.tourist_id,
		               platform = EXCLUDED.platform,
		               is_active = TRUE
		 RETURNING id, is_active, created_at, last_used_at`,
		d.ID, d.TouristID, d.Platform, d.PushToken,
	).Scan(&d.ID, &d.IsActive, &d.CreatedAt, &d.LastUsedAt)
	metrics.ObserveDBQuery("upsert_device", start, err)
	if err != nil {
		return nil, mapError(err)
	}
	return d, nil
}

// DeactivateDevice retires a push target after repeated delivery
// failures.
func (s *Store) DeactivateDevice(ctx context.Context, id string) error {
	start := time.Now()
	ctx, cancel := s.oltpCtx(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx,
		`UPDATE devices SET is_active = FALSE WHERE id = $1`, id)
	metrics.ObserveDBQuery("deactivate_device", start, err)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ActiveDevicesFor returns the active push targets for a set of
// tourists and stamps last_used_at, since the caller is about to send.
func (s *Store) ActiveDevicesFor(ctx context.Context, touristIDs []string) ([]models.Device, error) {
	start := time.Now()
	ctx, cancel := s.analyticsCtx(ctx)
	defer cancel()

	if len(touristIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`UPDATE devices SET last_used_at = now()
		 WHERE tourist_id = ANY($1) AND is_active
		 RETURNING id, tourist_id, platform, push_token, is_active, created_at, last_used_at`,
		touristIDs)
	metrics.ObserveDBQuery("active_devices_for", start, err)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var devices []models.Device
	for rows.Next() {
		var d models.Device
		if err := rows.Scan(&d.ID, &d.TouristID, &d.Platform, &d.PushToken,
			&d.IsActive, &d.CreatedAt, &d.LastUsedAt); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}
