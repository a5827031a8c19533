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
	"github.com/safehorizon/safehorizon/internal/efir"
	"github.com/safehorizon/safehorizon/internal/models"
)

// EFIRGenerate handles POST /api/efir/generate. Tourists always file
// for themselves and need no alert reference; authorities name the
// tourist and may reference an alert.
func (h *Handler) EFIRGenerate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req models.EFIRGenerateRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	issue := efir.IssueRequest{
		TouristID:   req.TouristID,
		AlertID:     req.AlertID,
		Description: req.Description,
		Lat:         req.Lat,
		Lon:         req.Lon,
		Witnesses:   req.Witnesses,
		Evidence:    req.Evidence,
		IncidentTS:  req.IncidentTS,
	}
	if auth.RoleFrom(r.Context()) == models.RoleTourist {
		issue.Source = models.EFIRSourceTourist
		issue.TouristID = auth.UserID(r.Context())
	} else {
		issue.Source = models.EFIRSourceAuthority
		if issue.TouristID == "" {
			respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "tourist_id is required", nil)
			return
		}
	}

	report, err := h.issuer.Issue(r.Context(), issue)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondData(w, http.StatusCreated, start, models.EFIRIssueResponse{
		EFIRNumber: report.EFIRNumber,
		TxID:       report.TxID,
		BlockHash:  report.BlockHash,
	})
}

// EFIRVerify handles GET /api/efir/verify/{tx_id}: recomputes the
// content hash and the chain link and reports any mismatch.
func (h *Handler) EFIRVerify(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	result, err := h.issuer.Verify(r.Context(), chi.URLParam(r, "tx_id"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondData(w, http.StatusOK, start, result)
}

// EFIRList handles GET /api/efir/list. An optional tourist_id query
// narrows the listing.
func (h *Handler) EFIRList(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	limit := queryInt(r, "limit", 100)
	if limit < 1 || limit > 500 {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be between 1 and 500", nil)
		return
	}
	reports, err := h.store.ListEFIRs(r.Context(), r.URL.Query().Get("tourist_id"), limit)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondData(w, http.StatusOK, start, reports)
}
