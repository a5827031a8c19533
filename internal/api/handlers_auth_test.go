// SafeHorizon - Tourist Safety Platform Backend
// Copyright 2026 SafeHorizon Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/safehorizon/safehorizon

package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/safehorizon/safehorizon/internal/auth"
	"github.com/safehorizon/safehorizon/internal/database"
	"github.com/safehorizon/safehorizon/internal/models"
)

func TestRegisterTourist_IssuesWorkingToken(t *testing.T) {
	env := newTestEnv(t)
	env.store.createTourist = func(req *models.RegisterTouristRequest, hash string) (*models.Tourist, error) {
		if hash == "" || hash == req.Password {
			t.Errorf("password must be stored hashed, got %q", hash)
		}
		return &models.Tourist{ID: touristUUID, Email: req.Email, Name: req.Name, IsActive: true}, nil
	}

	rec := httptest.NewRecorder()
	env.handler.RegisterTourist(rec, jsonRequest(t, http.MethodPost, "/api/auth/register", map[string]any{
		"email":    "ana@example.com",
		"password": "correct-horse-battery",
		"name":     "Ana Silva",
	}))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status: want 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	var resp models.AuthResponse
	decodeData(t, rec, &resp)
	if resp.UserID != touristUUID || resp.Role != models.RoleTourist {
		t.Errorf("auth response: got %+v", resp)
	}
	claims, err := env.jwt.Validate(resp.Token)
	if err != nil {
		t.Fatalf("issued token must validate: %v", err)
	}
	if claims.Subject != touristUUID || claims.Role != models.RoleTourist {
		t.Errorf("claims: got subject=%s role=%s", claims.Subject, claims.Role)
	}
}

func TestRegisterTourist_DuplicateEmail(t *testing.T) {
	env := newTestEnv(t)
	env.store.createTourist = func(*models.RegisterTouristRequest, string) (*models.Tourist, error) {
		return nil, database.ErrDuplicate
	}

	rec := httptest.NewRecorder()
	env.handler.RegisterTourist(rec, jsonRequest(t, http.MethodPost, "/api/auth/register", map[string]any{
		"email":    "ana@example.com",
		"password": "correct-horse-battery",
		"name":     "Ana Silva",
	}))

	wantError(t, rec, http.StatusConflict, "CONFLICT")
}

func TestRegisterTourist_RejectsWeakPassword(t *testing.T) {
	env := newTestEnv(t)
	rec := httptest.NewRecorder()
	env.handler.RegisterTourist(rec, jsonRequest(t, http.MethodPost, "/api/auth/register", map[string]any{
		"email":    "ana@example.com",
		"password": "short",
		"name":     "Ana Silva",
	}))

	wantError(t, rec, http.StatusBadRequest, "VALIDATION_ERROR")
}

func TestRegisterAuthority_AdminRankMintsAdmin(t *testing.T) {
	env := newTestEnv(t)
	var gotRole models.Role
	env.store.createAuthority = func(req *models.RegisterAuthorityRequest, hash string, role models.Role) (*models.Authority, error) {
		gotRole = role
		return &models.Authority{ID: otherUUID, Email: req.Email, Name: req.Name, IsActive: true}, nil
	}

	rec := httptest.NewRecorder()
	env.handler.RegisterAuthority(rec, jsonRequest(t, http.MethodPost, "/api/auth/register-authority", map[string]any{
		"email":        "chief@police.example",
		"password":     "station-house-42",
		"name":         "R. Gomez",
		"badge_number": "B-1024",
		"rank":         "System Administrator",
	}))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status: want 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	if gotRole != models.RoleAdmin {
		t.Errorf("rank containing admin must mint the admin role, got %s", gotRole)
	}
	var resp models.AuthResponse
	decodeData(t, rec, &resp)
	if resp.Role != models.RoleAdmin {
		t.Errorf("response role: want admin, got %s", resp.Role)
	}
}

func TestRegisterAuthority_PlainRankStaysAuthority(t *testing.T) {
	env := newTestEnv(t)
	var gotRole models.Role
	env.store.createAuthority = func(req *models.RegisterAuthorityRequest, hash string, role models.Role) (*models.Authority, error) {
		gotRole = role
		return &models.Authority{ID: otherUUID}, nil
	}

	rec := httptest.NewRecorder()
	env.handler.RegisterAuthority(rec, jsonRequest(t, http.MethodPost, "/api/auth/register-authority", map[string]any{
		"email":        "officer@police.example",
		"password":     "station-house-42",
		"name":         "T. Rao",
		"badge_number": "B-2048",
		"rank":         "Inspector",
	}))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status: want 201, got %d", rec.Code)
	}
	if gotRole != models.RoleAuthority {
		t.Errorf("role: want authority, got %s", gotRole)
	}
}

func TestLogin_UniformFailureAnswer(t *testing.T) {
	hash, err := auth.HashPassword("the-right-password")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}

	cases := []struct {
		name string
		user *models.User
	}{
		{name: "unknown email", user: nil},
		{name: "wrong password", user: &models.User{
			ID: touristUUID, PasswordHash: hash, Role: models.RoleTourist, IsActive: true,
		}},
		{name: "suspended account", user: &models.User{
			ID: touristUUID, PasswordHash: hash, Role: models.RoleTourist, IsActive: false,
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.store.userByEmail = func(string) (*models.User, error) {
				if tc.user == nil {
					return nil, database.ErrNotFound
				}
				return tc.user, nil
			}

			password := "not-the-right-password"
			if tc.name == "suspended account" {
				password = "the-right-password"
			}
			rec := httptest.NewRecorder()
			env.handler.Login(rec, jsonRequest(t, http.MethodPost, "/api/auth/login", map[string]any{
				"email":    "ana@example.com",
				"password": password,
			}))

			apiErr := wantError(t, rec, http.StatusUnauthorized, "AUTHENTICATION_ERROR")
			if apiErr.Message != "invalid credentials" {
				t.Errorf("failure message must not leak the cause, got %q", apiErr.Message)
			}
		})
	}
}

func TestLogin_Success(t *testing.T) {
	hash, err := auth.HashPassword("the-right-password")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	env := newTestEnv(t)
	env.store.userByEmail = func(email string) (*models.User, error) {
		return &models.User{ID: otherUUID, Email: email, PasswordHash: hash,
			Role: models.RoleAuthority, IsActive: true}, nil
	}

	rec := httptest.NewRecorder()
	env.handler.Login(rec, jsonRequest(t, http.MethodPost, "/api/auth/login-authority", map[string]any{
		"email":    "officer@police.example",
		"password": "the-right-password",
	}))

	if rec.Code != http.StatusOK {
		t.Fatalf("status: want 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var resp models.AuthResponse
	decodeData(t, rec, &resp)
	claims, err := env.jwt.Validate(resp.Token)
	if err != nil {
		t.Fatalf("token must validate: %v", err)
	}
	if claims.Role != models.RoleAuthority || claims.Subject != otherUUID {
		t.Errorf("claims: got subject=%s role=%s", claims.Subject, claims.Role)
	}
}

func TestMe_ReturnsRoleShape(t *testing.T) {
	env := newTestEnv(t)
	env.store.tourist = func(id string) (*models.Tourist, error) {
		return &models.Tourist{ID: id, Name: "Ana Silva"}, nil
	}
	env.store.authority = func(id string) (*models.Authority, error) {
		return &models.Authority{ID: id, Name: "R. Gomez", BadgeNumber: "B-1024"}, nil
	}

	rec := httptest.NewRecorder()
	env.handler.Me(rec, as(jsonRequest(t, http.MethodGet, "/api/auth/me", nil), touristUUID, models.RoleTourist))
	var tourist models.Tourist
	decodeData(t, rec, &tourist)
	if tourist.ID != touristUUID || tourist.Name != "Ana Silva" {
		t.Errorf("tourist me: got %+v", tourist)
	}

	rec = httptest.NewRecorder()
	env.handler.Me(rec, as(jsonRequest(t, http.MethodGet, "/api/auth/me", nil), otherUUID, models.RoleAuthority))
	var authority models.Authority
	decodeData(t, rec, &authority)
	if authority.BadgeNumber != "B-1024" {
		t.Errorf("authority me: got %+v", authority)
	}
}
