// SafeHorizon - Tourist Safety Platform Backend
// Copyright 2026 SafeHorizon Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/safehorizon/safehorizon

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/safehorizon/safehorizon/internal/models"
)

// Health handles GET /health: liveness plus a component snapshot.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := h.systemStatus(r)

	code := http.StatusOK
	if !status.Database.Healthy {
		code = http.StatusServiceUnavailable
	}
	respondData(w, code, start, status)
}

// SystemStatus handles GET /api/admin/system/status.
func (h *Handler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	respondData(w, http.StatusOK, start, h.systemStatus(r))
}

func (h *Handler) systemStatus(r *http.Request) models.SystemStatusResponse {
	db := models.ComponentHealth{Healthy: true}
	if err := h.store.Ping(r.Context()); err != nil {
		db = models.ComponentHealth{Healthy: false, Detail: err.Error()}
	}

	broker := models.ComponentHealth{Healthy: true, Detail: "local-only"}
	if h.broker != nil {
		broker.Detail = ""
		broker.Healthy = h.broker.Healthy()
		if !broker.Healthy {
			broker.Detail = "degraded: local-only delivery"
		}
	}

	snapshot := h.zones.Snapshot()
	return models.SystemStatusResponse{
		Database: db,
		Broker:   broker,
		Hub:      h.pub.Stats(),
		Geofence: models.GeofenceStatus{
			Zones:    snapshot.Zones,
			LoadedAt: snapshot.LoadedAt,
		},
		StartedAt: h.startTime,
		Version:   h.version,
	}
}

// UsersList handles GET /api/admin/users/list.
func (h *Handler) UsersList(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	limit := queryInt(r, "limit", 200)
	if limit < 1 || limit > 1000 {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be between 1 and 1000", nil)
		return
	}
	users, err := h.store.ListUsers(r.Context(), limit)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondData(w, http.StatusOK, start, users)
}

// UserSuspend handles POST /api/admin/users/{id}/suspend. A suspended
// tourist fails ingest exactly like an unknown one.
func (h *Handler) UserSuspend(w http.ResponseWriter, r *http.Request) {
	h.setUserActive(w, r, false)
}

// UserActivate handles POST /api/admin/users/{id}/activate.
func (h *Handler) UserActivate(w http.ResponseWriter, r *http.Request) {
	h.setUserActive(w, r, true)
}

func (h *Handler) setUserActive(w http.ResponseWriter, r *http.Request, active bool) {
	start := time.Now()
	id := chi.URLParam(r, "id")
	if err := h.store.SetUserActive(r.Context(), id, active); err != nil {
		respondStoreError(w, err)
		return
	}
	state := "suspended"
	if active {
		state = "active"
	}
	respondData(w, http.StatusOK, start, map[string]string{"id": id, "status": state})
}

// AnalyticsDashboard handles GET /api/admin/analytics/dashboard.
func (h *Handler) AnalyticsDashboard(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	dashboard, err := h.store.Dashboard(r.Context(), time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondData(w, http.StatusOK, start, dashboard)
}
