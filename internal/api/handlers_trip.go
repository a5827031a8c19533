// SafeHorizon - Tourist Safety Platform Backend
// Copyright 2026 SafeHorizon Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/safehorizon/safehorizon

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/safehorizon/safehorizon/internal/auth"
	"github.com/safehorizon/safehorizon/internal/database"
	"github.com/safehorizon/safehorizon/internal/models"
)

// TripStart handles POST /api/trip/start. One active trip per tourist.
func (h *Handler) TripStart(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req models.TripStartRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	trip, err := h.store.StartTrip(r.Context(), auth.UserID(r.Context()), req.Destination, req.Itinerary)
	if err != nil {
		if errors.Is(err, database.ErrConflict) {
			respondError(w, http.StatusConflict, "CONFLICT", "a trip is already active", nil)
			return
		}
		respondStoreError(w, err)
		return
	}
	respondData(w, http.StatusCreated, start, trip)
}

// TripEnd handles POST /api/trip/end.
func (h *Handler) TripEnd(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	trip, err := h.store.EndTrip(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		if errors.Is(err, database.ErrConflict) {
			respondError(w, http.StatusConflict, "CONFLICT", "no active trip", nil)
			return
		}
		respondStoreError(w, err)
		return
	}
	respondData(w, http.StatusOK, start, trip)
}

// TripHistory handles GET /api/trip/history.
func (h *Handler) TripHistory(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	trips, err := h.store.TripHistory(r.Context(), auth.UserID(r.Context()), 100)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondData(w, http.StatusOK, start, trips)
}
