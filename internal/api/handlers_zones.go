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
	"github.com/safehorizon/safehorizon/internal/geo"
	"github.com/safehorizon/safehorizon/internal/hub"
	"github.com/safehorizon/safehorizon/internal/logging"
	"github.com/safehorizon/safehorizon/internal/models"
)

// ZonesList handles GET /api/zones/list: the active zones tourists see.
func (h *Handler) ZonesList(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	zones, err := h.store.ActiveZones(r.Context())
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondData(w, http.StatusOK, start, zones)
}

// ZonesManage handles GET /api/zones/manage: the authority view.
func (h *Handler) ZonesManage(w http.ResponseWriter, r *http.Request) {
	h.ZonesList(w, r)
}

// ZoneCreate handles POST /api/zones/create. A polygon zone derives its
// fallback disk from the centroid and the farthest vertex; a disk zone
// needs all three of center_lat, center_lon and radius_m.
func (h *Handler) ZoneCreate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req models.ZoneCreateRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	zone := &models.Zone{
		Name:        req.Name,
		Description: req.Description,
		Type:        req.Type,
		Polygon:     req.Polygon,
	}
	switch {
	case len(req.Polygon) >= 3:
		zone.CenterLat, zone.CenterLon = geo.PolygonCentroid(req.Polygon)
		zone.RadiusM = geo.PolygonEnclosingRadiusM(req.Polygon)
	case req.CenterLat != nil && req.CenterLon != nil && req.RadiusM != nil:
		zone.CenterLat = *req.CenterLat
		zone.CenterLon = *req.CenterLon
		zone.RadiusM = *req.RadiusM
	default:
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR",
			"either a polygon or center_lat, center_lon and radius_m is required", nil)
		return
	}

	created, err := h.store.CreateZone(r.Context(), zone, auth.UserID(r.Context()))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	h.zoneChanged(r, created)
	respondData(w, http.StatusCreated, start, created)
}

// ZoneUpdate handles PUT /api/zones/{id}.
func (h *Handler) ZoneUpdate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req models.ZoneUpdateRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	// A polygon change recomputes the fallback disk unless the caller
	// supplied an explicit one.
	if len(req.Polygon) >= 3 && req.CenterLat == nil {
		lat, lon := geo.PolygonCentroid(req.Polygon)
		radius := geo.PolygonEnclosingRadiusM(req.Polygon)
		req.CenterLat, req.CenterLon, req.RadiusM = &lat, &lon, &radius
	}

	zone, err := h.store.UpdateZone(r.Context(), chi.URLParam(r, "id"), &req)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	h.zoneChanged(r, zone)
	respondData(w, http.StatusOK, start, zone)
}

// ZoneDelete handles DELETE /api/zones/{id}. Soft delete; history and
// existing alert references stay intact.
func (h *Handler) ZoneDelete(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id := chi.URLParam(r, "id")
	if err := h.store.DeactivateZone(r.Context(), id); err != nil {
		respondStoreError(w, err)
		return
	}
	h.zoneChanged(r, nil)
	respondData(w, http.StatusOK, start, map[string]string{"id": id, "status": "deactivated"})
}

// zoneChanged reloads the geofence snapshot and tells dashboards. The
// index refresh must not wait for the periodic reload or alerts would
// lag the mutation.
func (h *Handler) zoneChanged(r *http.Request, zone *models.Zone) {
	h.refresher.Invalidate()
	frame := models.Frame{
		EventType: models.EventZoneChanged,
		Timestamp: time.Now().UTC(),
		Zone:      zone,
	}
	if err := h.pub.Publish(r.Context(), hub.ChannelAuthorityAlerts, frame); err != nil {
		logging.Warn().Err(err).Msg("zone change publish failed")
	}
}
