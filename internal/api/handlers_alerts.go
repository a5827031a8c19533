// SafeHorizon - Tourist Safety Platform Backend
// Copyright 2026 SafeHorizon Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/safehorizon/safehorizon

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/safehorizon/safehorizon/internal/auth"
	"github.com/safehorizon/safehorizon/internal/database"
	"github.com/safehorizon/safehorizon/internal/hub"
	"github.com/safehorizon/safehorizon/internal/logging"
	"github.com/safehorizon/safehorizon/internal/models"
)

// ActiveTouristsList handles GET /api/authority/tourists/active: every
// tourist seen within 24 hours.
func (h *Handler) ActiveTouristsList(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	tourists, err := h.store.ActiveTourists(r.Context(), time.Now().UTC().Add(-24*time.Hour), 500)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondData(w, http.StatusOK, start, tourists)
}

// TouristTrack handles GET /api/authority/tourist/{id}/track: the last
// six hours of movement, capped at 50 samples.
func (h *Handler) TouristTrack(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	samples, err := h.store.LocationHistory(r.Context(), chi.URLParam(r, "id"),
		time.Now().UTC().Add(-6*time.Hour), 50)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondData(w, http.StatusOK, start, samples)
}

// TouristAlerts handles GET /api/authority/tourist/{id}/alerts.
func (h *Handler) TouristAlerts(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	alerts, err := h.store.ListAlerts(r.Context(), database.AlertFilter{
		TouristID: chi.URLParam(r, "id"),
		Limit:     100,
	})
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondData(w, http.StatusOK, start, alerts)
}

// RecentAlerts handles GET /api/authority/alerts/recent.
func (h *Handler) RecentAlerts(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	filter := database.AlertFilter{
		Since: time.Now().UTC().Add(-24 * time.Hour),
		Limit: 200,
	}
	if queryBool(r, "unacknowledged") {
		filter.Unacknowledged = true
	}
	alerts, err := h.store.ListAlerts(r.Context(), filter)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondData(w, http.StatusOK, start, alerts)
}

// IncidentAcknowledge handles POST /api/authority/incident/acknowledge:
// acknowledges the alert and opens (or keeps) its incident.
func (h *Handler) IncidentAcknowledge(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req models.IncidentActionRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	userID := auth.UserID(r.Context())
	alert, err := h.store.AcknowledgeAlert(r.Context(), req.AlertID, userID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	incident, err := h.store.OpenIncidentForAlert(r.Context(), req.AlertID, userID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	h.alertLifecycle(r, alert, models.EventAlertAcknowledged)

	respondData(w, http.StatusOK, start, map[string]any{
		"alert":    alert,
		"incident": incident,
	})
}

// IncidentClose handles POST /api/authority/incident/close: resolves the
// alert (resolution implies acknowledgement) and closes its incident.
func (h *Handler) IncidentClose(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req models.IncidentActionRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	userID := auth.UserID(r.Context())
	alert, err := h.store.ResolveAlert(r.Context(), req.AlertID, userID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	incident, err := h.store.UpdateIncidentStatus(r.Context(), req.AlertID, models.IncidentResolved, req.Notes)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	h.alertLifecycle(r, alert, models.EventAlertResolved)

	respondData(w, http.StatusOK, start, map[string]any{
		"alert":    alert,
		"incident": incident,
	})
}

// PublicPanicAlerts handles GET /api/public/panic-alerts: active panic
// and SOS alerts with coordinates coarsened to a ~110 m grid and no
// tourist identifiers. Served unauthenticated.
func (h *Handler) PublicPanicAlerts(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	limit := queryInt(r, "limit", 100)
	if limit < 1 || limit > 500 {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be between 1 and 500", nil)
		return
	}
	hoursBack := queryInt(r, "hours_back", 24)
	if hoursBack < 1 || hoursBack > 168 {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "hours_back must be between 1 and 168", nil)
		return
	}
	showResolved := queryBool(r, "show_resolved")

	alerts, err := h.store.PanicAlertsSince(r.Context(),
		time.Now().UTC().Add(-time.Duration(hoursBack)*time.Hour), limit)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	public := make([]models.PublicPanicAlert, 0, len(alerts))
	for _, a := range alerts {
		if a.Lat == nil || a.Lon == nil {
			continue
		}
		if a.Resolved && !showResolved {
			continue
		}
		public = append(public, anonymizeAlert(a))
	}
	respondData(w, http.StatusOK, start, public)
}

// alertLifecycle notifies the authority dashboards and the tourist.
func (h *Handler) alertLifecycle(r *http.Request, alert *models.Alert, event models.EventType) {
	frame := models.AlertFrame(event, alert)
	for _, channel := range []string{hub.ChannelAuthorityAlerts, hub.TouristAlerts(alert.TouristID)} {
		if err := h.pub.Publish(r.Context(), channel, frame); err != nil {
			logging.Warn().Err(err).Str("alert_id", alert.ID).Msg("alert lifecycle publish failed")
		}
	}
}
