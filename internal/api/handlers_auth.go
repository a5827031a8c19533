// SafeHorizon - Tourist Safety Platform Backend
// Copyright 2026 SafeHorizon Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/safehorizon/safehorizon

package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/safehorizon/safehorizon/internal/auth"
	"github.com/safehorizon/safehorizon/internal/database"
	"github.com/safehorizon/safehorizon/internal/models"
)

// RegisterTourist handles POST /api/auth/register.
func (h *Handler) RegisterTourist(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req models.RegisterTouristRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "password rejected", nil)
		return
	}
	tourist, err := h.store.CreateTourist(r.Context(), &req, hash)
	if err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			respondError(w, http.StatusConflict, "CONFLICT", "email already registered", nil)
			return
		}
		respondStoreError(w, err)
		return
	}

	h.issueToken(w, start, http.StatusCreated, tourist.ID, models.RoleTourist)
}

// RegisterAuthority handles POST /api/auth/register-authority. A rank
// containing "admin" mints the admin role.
func (h *Handler) RegisterAuthority(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req models.RegisterAuthorityRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	role := models.RoleAuthority
	if strings.Contains(strings.ToLower(req.Rank), "admin") {
		role = models.RoleAdmin
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "password rejected", nil)
		return
	}
	authority, err := h.store.CreateAuthority(r.Context(), &req, hash, role)
	if err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			respondError(w, http.StatusConflict, "CONFLICT", "email already registered", nil)
			return
		}
		respondStoreError(w, err)
		return
	}

	h.issueToken(w, start, http.StatusCreated, authority.ID, role)
}

// Login handles POST /api/auth/login and /api/auth/login-authority.
// Unknown email, wrong password and suspended accounts all answer the
// same 401 so accounts cannot be enumerated.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req models.LoginRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	user, err := h.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			loginFailed(w)
			return
		}
		respondStoreError(w, err)
		return
	}
	if !user.IsActive || !auth.CheckPassword(user.PasswordHash, req.Password) {
		loginFailed(w)
		return
	}

	h.issueToken(w, start, http.StatusOK, user.ID, user.Role)
}

// Me handles GET /api/auth/me.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	userID := auth.UserID(r.Context())

	switch auth.RoleFrom(r.Context()) {
	case models.RoleTourist:
		tourist, err := h.store.GetTourist(r.Context(), userID)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		respondData(w, http.StatusOK, start, tourist)
	default:
		authority, err := h.store.GetAuthority(r.Context(), userID)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		respondData(w, http.StatusOK, start, authority)
	}
}

func (h *Handler) issueToken(w http.ResponseWriter, start time.Time, status int, userID string, role models.Role) {
	token, err := h.jwt.Generate(userID, role)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL", "token issuance failed", err)
		return
	}
	respondData(w, status, start, models.AuthResponse{
		Token:     token,
		ExpiresAt: time.Now().UTC().Add(h.cfg.Security.JWTExpiry()),
		Role:      role,
		UserID:    userID,
	})
}

func loginFailed(w http.ResponseWriter) {
	respondError(w, http.StatusUnauthorized, "AUTHENTICATION_ERROR", "invalid credentials", nil)
}
