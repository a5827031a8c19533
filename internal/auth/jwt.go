// SafeHorizon - Tourist Safety Platform Backend
// Copyright 2026 SafeHorizon Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/safehorizon/safehorizon

// Package auth issues and validates the HS256 bearer tokens used by the
// HTTP API and the WebSocket gateway, and hashes passwords with bcrypt.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/safehorizon/safehorizon/internal/config"
	"github.com/safehorizon/safehorizon/internal/models"
)

// ErrInvalidToken covers every token validation failure: bad signature,
// wrong algorithm, expiry, malformed claims. Callers treat them all the
// same way.
var ErrInvalidToken = errors.New("invalid token")

// Claims carries the authenticated principal. Subject holds the user id.
type Claims struct {
	Role models.Role `json:"role"`
	jwt.RegisteredClaims
}

// JWTManager signs and validates tokens.
type JWTManager struct {
	secret []byte
	expiry time.Duration

	now func() time.Time
}

// NewJWTManager builds a manager from the security config. The secret
// length is validated at config load; this only rejects an empty one.
func NewJWTManager(cfg config.SecurityConfig) (*JWTManager, error) {
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	return &JWTManager{
		secret: []byte(cfg.JWTSecret),
		expiry: cfg.JWTExpiry(),
		now:    time.Now,
	}, nil
}

// Generate mints a token for a user id and role.
func (m *JWTManager) Generate(userID string, role models.Role) (string, error) {
	now := m.now()
	claims := &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Validate parses and checks a token. Only HMAC-signed tokens are
// accepted; an attacker downgrading to alg=none or swapping in an RSA
// public key fails here.
func (m *JWTManager) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return m.now() }))
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || claims.Subject == "" || !claims.Role.Valid() {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
