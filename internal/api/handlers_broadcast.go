// SafeHorizon - Tourist Safety Platform Backend
// Copyright 2026 SafeHorizon Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/safehorizon/safehorizon

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/safehorizon/safehorizon/internal/auth"
	"github.com/safehorizon/safehorizon/internal/broadcast"
	"github.com/safehorizon/safehorizon/internal/models"
)

// BroadcastRadius handles POST /api/broadcast/radius.
func (h *Handler) BroadcastRadius(w http.ResponseWriter, r *http.Request) {
	var req models.BroadcastRadiusRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	h.dispatch(w, r, broadcast.Request{
		Type:         models.BroadcastRadius,
		Title:        req.Title,
		Message:      req.Message,
		Severity:     req.Severity,
		SentBy:       auth.UserID(r.Context()),
		ExpiresInMin: req.ExpiresInMin,
		CenterLat:    req.CenterLat,
		CenterLon:    req.CenterLon,
		RadiusKM:     req.RadiusKM,
	})
}

// BroadcastZone handles POST /api/broadcast/zone.
func (h *Handler) BroadcastZone(w http.ResponseWriter, r *http.Request) {
	var req models.BroadcastZoneRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	h.dispatch(w, r, broadcast.Request{
		Type:         models.BroadcastZone,
		Title:        req.Title,
		Message:      req.Message,
		Severity:     req.Severity,
		SentBy:       auth.UserID(r.Context()),
		ExpiresInMin: req.ExpiresInMin,
		ZoneID:       req.ZoneID,
	})
}

// BroadcastRegion handles POST /api/broadcast/region.
func (h *Handler) BroadcastRegion(w http.ResponseWriter, r *http.Request) {
	var req models.BroadcastRegionRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	h.dispatch(w, r, broadcast.Request{
		Type:         models.BroadcastRegion,
		Title:        req.Title,
		Message:      req.Message,
		Severity:     req.Severity,
		SentBy:       auth.UserID(r.Context()),
		ExpiresInMin: req.ExpiresInMin,
		MinLat:       req.MinLat,
		MinLon:       req.MinLon,
		MaxLat:       req.MaxLat,
		MaxLon:       req.MaxLon,
	})
}

// BroadcastAll handles POST /api/broadcast/all.
func (h *Handler) BroadcastAll(w http.ResponseWriter, r *http.Request) {
	var req models.BroadcastAllRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	h.dispatch(w, r, broadcast.Request{
		Type:         models.BroadcastAll,
		Title:        req.Title,
		Message:      req.Message,
		Severity:     req.Severity,
		SentBy:       auth.UserID(r.Context()),
		ExpiresInMin: req.ExpiresInMin,
	})
}

func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request, req broadcast.Request) {
	start := time.Now()
	b, err := h.broadcast.Dispatch(r.Context(), req)
	if err != nil {
		if errors.Is(err, broadcast.ErrUnknownZone) {
			respondError(w, http.StatusNotFound, "NOT_FOUND", "zone not found or inactive", nil)
			return
		}
		respondStoreError(w, err)
		return
	}
	respondData(w, http.StatusCreated, start, models.BroadcastResponse{
		BroadcastID:      b.ID,
		BroadcastNumber:  b.BroadcastNumber,
		TouristsNotified: b.TouristsNotified,
		DevicesNotified:  b.DevicesNotified,
		SMSSent:          b.SMSSent,
	})
}

// BroadcastAck handles POST /api/broadcast/{id}/ack. Re-acks revise the
// previous acknowledgement in place.
func (h *Handler) BroadcastAck(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req models.BroadcastAckRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	ack, err := h.broadcast.Ack(r.Context(), chi.URLParam(r, "id"),
		auth.UserID(r.Context()), req.Status, req.Note)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondData(w, http.StatusOK, start, ack)
}

// BroadcastActive handles GET /api/broadcast/active: unexpired
// broadcasts whose targeting matches the tourist's last location.
func (h *Handler) BroadcastActive(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	broadcasts, err := h.broadcast.ActiveFor(r.Context(), auth.UserID(r.Context()), 50)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondData(w, http.StatusOK, start, broadcasts)
}

// BroadcastStatus handles GET /api/broadcast/{id}/status.
func (h *Handler) BroadcastStatus(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	b, counts, err := h.broadcast.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	respondData(w, http.StatusOK, start, models.BroadcastStatusResponse{
		Broadcast: *b,
		AckCounts: counts,
		AckTotal:  total,
	})
}
