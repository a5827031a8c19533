// SafeHorizon - Tourist Safety Platform Backend
// Copyright 2026 SafeHorizon Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/safehorizon/safehorizon

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/safehorizon/safehorizon/internal/database"
	"github.com/safehorizon/safehorizon/internal/logging"
	"github.com/safehorizon/safehorizon/internal/models"
	"github.com/safehorizon/safehorizon/internal/validation"
)

// respondJSON writes the envelope with proper headers.
func respondJSON(w http.ResponseWriter, status int, response *models.APIResponse) {
	w.Header().Set("Content-Type", "application/json")

	data, err := json.Marshal(response)
	if err != nil {
		logging.Error().Err(err).Msg("failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Debug().Err(err).Msg("failed to write response")
	}
}

// respondData writes a success envelope. start stamps query_time_ms.
func respondData(w http.ResponseWriter, status int, start time.Time, data any) {
	respondJSON(w, status, &models.APIResponse{
		Status: "success",
		Data:   data,
		Metadata: models.Metadata{
			Timestamp:   time.Now().UTC(),
			QueryTimeMS: time.Since(start).Milliseconds(),
		},
	})
}

// respondError writes an error envelope. 5xx responses carry a fresh
// correlation id that is also logged, so client reports can be matched
// to server logs.
func respondError(w http.ResponseWriter, status int, code, message string, err error) {
	meta := models.Metadata{Timestamp: time.Now().UTC()}
	if status >= http.StatusInternalServerError {
		meta.CorrelationID = logging.GenerateCorrelationID()
		logging.Error().
			Str("code", code).
			Str("correlation_id", meta.CorrelationID).
			Err(err).
			Msg("request failed")
	}
	respondJSON(w, status, &models.APIResponse{
		Status:   "error",
		Metadata: meta,
		Error:    &models.APIError{Code: code, Message: message},
	})
}

// respondStoreError maps database sentinels onto envelope codes.
func respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", "resource not found", nil)
	case errors.Is(err, database.ErrDuplicate):
		respondError(w, http.StatusConflict, "CONFLICT", "resource already exists", nil)
	case errors.Is(err, database.ErrConflict):
		respondError(w, http.StatusConflict, "CONFLICT", err.Error(), nil)
	default:
		respondError(w, http.StatusInternalServerError, "INTERNAL", "internal error", err)
	}
}

// decodeAndValidate decodes a JSON body into v and runs struct
// validation. It writes the error response itself and reports whether
// the handler should continue.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "malformed JSON body", nil)
		return false
	}
	if verr := validation.ValidateStruct(v); verr != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", verr.Detail(), nil)
		return false
	}
	return true
}
