// SafeHorizon - Tourist Safety Platform Backend
// Copyright 2026 SafeHorizon Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/safehorizon/safehorizon

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/safehorizon/safehorizon/internal/metrics"
	"github.com/safehorizon/safehorizon/internal/models"
)

// Dashboard aggregates the admin analytics view. activeSince bounds the
// "currently active" tourist window; the alert, broadcast and E-FIR
// counters cover the trailing seven days.
func (s *Store) Dashboard(ctx context.Context, activeSince time.Time) (*models.DashboardResponse, error) {
	start := time.Now()
	ctx, cancel := s.analyticsCtx(ctx)
	defer cancel()

	out := &models.DashboardResponse{
		TouristsByRisk: make(map[models.RiskLevel]int),
		AlertsByKind7d: make(map[models.AlertKind]int),
		GeneratedAt:    time.Now().UTC(),
	}
	weekAgo := out.GeneratedAt.AddDate(0, 0, -7)

	// Risk banding mirrors models.RiskLevelFromScore.
	rows, err := s.pool.Query(ctx,
		`SELECT CASE WHEN safety_score <= 40 THEN 'critical'
		             WHEN safety_score <= 59 THEN 'high'
		             WHEN safety_score <= 79 THEN 'medium'
		             ELSE 'low' END AS risk, count(*)
		 FROM tourists WHERE last_seen >= $1
		 GROUP BY risk`, activeSince)
	if err != nil {
		metrics.ObserveDBQuery("dashboard", start, err)
		return nil, mapError(err)
	}
	for rows.Next() {
		var risk models.RiskLevel
		var n int
		if err := rows.Scan(&risk, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan risk band: %w", err)
		}
		out.TouristsByRisk[risk] = n
		out.ActiveTourists += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}

	rows, err = s.pool.Query(ctx,
		`SELECT kind, count(*) FROM alerts WHERE created_at >= $1 GROUP BY kind`,
		weekAgo)
	if err != nil {
		metrics.ObserveDBQuery("dashboard", start, err)
		return nil, mapError(err)
	}
	for rows.Next() {
		var kind models.AlertKind
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan alert kind: %w", err)
		}
		out.AlertsByKind7d[kind] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}

	err = s.pool.QueryRow(ctx,
		`SELECT
		    (SELECT count(*) FROM alerts WHERE NOT resolved),
		    (SELECT count(*) FROM broadcasts WHERE created_at >= $1),
		    (SELECT count(*) FROM efirs WHERE created_at >= $1)`,
		weekAgo).Scan(&out.OpenAlerts, &out.BroadcastsSent, &out.EFIRsIssued)
	metrics.ObserveDBQuery("dashboard", start, err)
	if err != nil {
		return nil, mapError(err)
	}
	return out, nil
}
