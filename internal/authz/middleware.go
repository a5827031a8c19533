// SafeHorizon - Tourist Safety Platform Backend
// Copyright 2026 SafeHorizon Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/safehorizon/safehorizon

package authz

import (
	"net/http"
	"time"

	json "github.com/goccy/go-json"

	"github.com/safehorizon/safehorizon/internal/auth"
	"github.com/safehorizon/safehorizon/internal/logging"
	"github.com/safehorizon/safehorizon/internal/models"
)

// Middleware enforces the route policy for the authenticated role. It
// must run after auth.Middleware; an empty role means the request never
// authenticated and is refused outright.
func (e *Enforcer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role := auth.RoleFrom(r.Context())
		if role == "" {
			forbidden(w)
			return
		}
		allowed, err := e.Allowed(role, r.URL.Path, r.Method)
		if err != nil {
			logging.Error().Err(err).Str("path", r.URL.Path).Msg("authorization check failed")
			writeEnvelope(w, http.StatusInternalServerError, "INTERNAL", "authorization check failed")
			return
		}
		if !allowed {
			forbidden(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func forbidden(w http.ResponseWriter) {
	writeEnvelope(w, http.StatusForbidden, "AUTHORIZATION_ERROR", "insufficient permissions")
}

func writeEnvelope(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(&models.APIResponse{
		Status:   "error",
		Metadata: models.Metadata{Timestamp: time.Now().UTC()},
		Error:    &models.APIError{Code: code, Message: message},
	})
}
