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

// StartTrip opens a trip. The partial unique index on active trips turns
// a second concurrent start into ErrConflict.
func (s *Store) StartTrip(ctx context.Context, touristID, destination, itinerary string) (*models.Trip, error) {
	start := time.Now()
	ctx, cancel := s.oltpCtx(ctx)
	defer cancel()

	t := &models.Trip{
		ID:          uuid.New().String(),
		TouristID:   touristID,
		Destination: destination,
		Itinerary:   itinerary,
		Status:      models.TripActive,
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO trips (id, tourist_id, destination, itinerary, status)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING started_at`,
		t.ID, t.TouristID, t.Destination, t.Itinerary, t.Status,
	).Scan(&t.StartedAt)
	metrics.ObserveDBQuery("start_trip", start, err)
	if err != nil {
		if IsUniqueViolation(err, "idx_trips_one_active") {
			return nil, ErrConflict
		}
		return nil, mapError(err)
	}
	return t, nil
}

// EndTrip completes the tourist's active trip. ErrConflict when none is
// active.
func (s *Store) EndTrip(ctx context.Context, touristID string) (*models.Trip, error) {
	start := time.Now()
	ctx, cancel := s.oltpCtx(ctx)
	defer cancel()

	var t models.Trip
	err := s.pool.QueryRow(ctx,
		`UPDATE trips SET status = 'completed', ended_at = now()
		 WHERE tourist_id = $1 AND status = 'active'
		 RETURNING id, tourist_id, destination, itinerary, started_at, ended_at, status`,
		touristID,
	).Scan(&t.ID, &t.TouristID, &t.Destination, &t.Itinerary,
		&t.StartedAt, &t.EndedAt, &t.Status)
	metrics.ObserveDBQuery("end_trip", start, err)
	if err != nil {
		if mapError(err) == ErrNotFound {
			return nil, ErrConflict
		}
		return nil, mapError(err)
	}
	return &t, nil
}

// ActiveTrip returns the tourist's active trip, or ErrNotFound.
func (s *Store) ActiveTrip(ctx context.Context, touristID string) (*models.Trip, error) {
	start := time.Now()
	ctx, cancel := s.oltpCtx(ctx)
	defer cancel()

	var t models.Trip
	err := s.pool.QueryRow(ctx,
		`SELECT id, tourist_id, destination, itinerary, started_at, ended_at, status
		 FROM trips WHERE tourist_id = $1 AND status = 'active'`, touristID,
	).Scan(&t.ID, &t.TouristID, &t.Destination, &t.Itinerary,
		&t.StartedAt, &t.EndedAt, &t.Status)
	metrics.ObserveDBQuery("active_trip", start, err)
	if err != nil {
		return nil, mapError(err)
	}
	return &t, nil
}

// TripHistory returns the tourist's trips, newest first.
func (s *Store) TripHistory(ctx context.Context, touristID string, limit int) ([]models.Trip, error) {
	start := time.Now()
	ctx, cancel := s.analyticsCtx(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, tourist_id, destination, itinerary, started_at, ended_at, status
		 FROM trips WHERE tourist_id = $1
		 ORDER BY started_at DESC LIMIT $2`, touristID, limit)
	metrics.ObserveDBQuery("trip_history", start, err)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var trips []models.Trip
	for rows.Next() {
		var t models.Trip
		if err := rows.Scan(&t.ID, &t.TouristID, &t.Destination, &t.Itinerary,
			&t.StartedAt, &t.EndedAt, &t.Status); err != nil {
			return nil, fmt.Errorf("scan trip: %w", err)
		}
		trips = append(trips, t)
	}
	return trips, rows.Err()
}
