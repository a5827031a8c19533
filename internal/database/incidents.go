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

// OpenIncidentForAlert ensures an incident case exists for the alert,
// creating it with a fresh INC-YYYYMMDD-NNNN number on first call.
// Repeat calls return the existing case unchanged, so acknowledge and
// resolve handlers can both route through it.
func (s *Store) OpenIncidentForAlert(ctx context.Context, alertID, assignedTo string) (*models.Incident, error) {
	start := time.Now()
	ctx, cancel := s.oltpCtx(ctx)
	defer cancel()

	var incident *models.Incident
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		existing, err := scanIncident(tx.QueryRow(ctx,
			selectIncident+` WHERE alert_id = $1`, alertID))
		if err == nil {
			incident = existing
			return nil
		}
		if err != pgx.ErrNoRows {
			return err
		}

		now := time.Now().UTC()
		seq, err := nextCounter(ctx, tx, counterScopeIncident, now)
		if err != nil {
			return err
		}
		inc := &models.Incident{
			ID:             uuid.New().String(),
			AlertID:        alertID,
			IncidentNumber: documentNumber("INC", now, seq),
			Status:         models.IncidentOpen,
		}
		if assignedTo != "" {
			inc.AssignedTo = &assignedTo
		}
		err = tx.QueryRow(ctx,
			`INSERT INTO incidents (id, alert_id, incident_number, status, assigned_to)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING created_at, updated_at`,
			inc.ID, inc.AlertID, inc.IncidentNumber, inc.Status, inc.AssignedTo,
		).Scan(&inc.CreatedAt, &inc.UpdatedAt)
		if err != nil {
			return err
		}
		incident = inc
		return nil
	})
	metrics.ObserveDBQuery("open_incident_for_alert", start, err)
	if err != nil {
		return nil, mapError(err)
	}
	return incident, nil
}

// UpdateIncidentStatus moves an incident case and appends notes.
func (s *Store) UpdateIncidentStatus(ctx context.Context, alertID string, status models.IncidentStatus, notes string) (*models.Incident, error) {
	start := time.Now()
	ctx, cancel := s.oltpCtx(ctx)
	defer cancel()

	query := `UPDATE incidents
	 SET status = $2, updated_at = now()`
	args := []any{alertID, status}
	if notes != "" {
		query += `, notes = CASE WHEN notes = '' THEN $3
		                         ELSE notes || E'\n' || $3 END`
		args = append(args, notes)
	}
	query += ` WHERE alert_id = $1 RETURNING ` + incidentColumns

	incident, err := scanIncident(s.pool.QueryRow(ctx, query, args...))
	metrics.ObserveDBQuery("update_incident_status", start, err)
	if err != nil {
		return nil, mapError(err)
	}
	return incident, nil
}

// GetIncidentByAlert fetches the case tracking an alert.
func (s *Store) GetIncidentByAlert(ctx context.Context, alertID string) (*models.Incident, error) {
	start := time.Now()
	ctx, cancel := s.oltpCtx(ctx)
	defer cancel()

	incident, err := scanIncident(s.pool.QueryRow(ctx,
		selectIncident+` WHERE alert_id = $1`, alertID))
	metrics.ObserveDBQuery("get_incident_by_alert", start, err)
	if err != nil {
		return nil, mapError(err)
	}
	return incident, nil
}

// ListIncidents returns cases, optionally filtered by status, newest
// first.
func (s *Store) ListIncidents(ctx context.Context, status models.IncidentStatus, limit int) ([]models.Incident, error) {
	start := time.Now()
	ctx, cancel := s.analyticsCtx(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}
	query := selectIncident
	args := []any{limit}
	if status != "" {
		query += ` WHERE status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC LIMIT $1`

	rows, err := s.pool.Query(ctx, query, args...)
	metrics.ObserveDBQuery("list_incidents", start, err)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var incidents []models.Incident
	for rows.Next() {
		var in models.Incident
		if err := rows.Scan(&in.ID, &in.AlertID, &in.IncidentNumber, &in.Status,
			&in.AssignedTo, &in.Notes, &in.CreatedAt, &in.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		incidents = append(incidents, in)
	}
	return incidents, rows.Err()
}

const incidentColumns = `id, alert_id, incident_number, status, assigned_to,
       notes, created_at, updated_at`

const selectIncident = `SELECT ` + incidentColumns + ` FROM incidents`

func scanIncident(row pgx.Row) (*models.Incident, error) {
	var in models.Incident
	err := row.Scan(&in.ID, &in.AlertID, &in.IncidentNumber, &in.Status,
		&in.AssignedTo, &in.Notes, &in.CreatedAt, &in.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &in, nil
}
