// SafeHorizon - Tourist Safety Platform Backend
// Copyright 2026 SafeHorizon Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/safehorizon/safehorizon

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/safehorizon/safehorizon/internal/metrics"
	"github.com/safehorizon/safehorizon/internal/models"
)

// CreateTourist inserts the shared user row and the tourist profile in one
// transaction. Returns ErrDuplicate when the email is taken.
func (s *Store) CreateTourist(ctx context.Context, req *models.RegisterTouristRequest, passwordHash string) (*models.Tourist, error) {
	start := time.Now()
	ctx, cancel := s.oltpCtx(ctx)
	defer cancel()

	id := uuid.New().String()
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO users (id, email, password_hash, role) VALUES ($1, $2, $3, $4)`,
			id, req.Email, passwordHash, models.RoleTourist,
		); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO tourists (user_id, name, phone, passport_no, nationality,
			        emergency_contact_name, emergency_contact_phone)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			id, req.Name, req.Phone, req.PassportNo, req.Nationality,
			req.EmergencyContactName, req.EmergencyContactPhone,
		)
		return err
	})
	metrics.ObserveDBQuery("create_tourist", start, err)
	if err != nil {
		return nil, mapError(err)
	}
	return s.GetTourist(ctx, id)
}

// CreateAuthority inserts the user row and the authority profile. The role
// is decided by the caller (a rank containing "admin" mints admin).
func (s *Store) CreateAuthority(ctx context.Context, req *models.RegisterAuthorityRequest, passwordHash string, role models.Role) (*models.Authority, error) {
	start := time.Now()
	ctx, cancel := s.oltpCtx(ctx)
	defer cancel()

	id := uuid.New().String()
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO users (id, email, password_hash, role) VALUES ($1, $2, $3, $4)`,
			id, req.Email, passwordHash, role,
		); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO authorities (user_id, name, badge_number, department, rank)
			 VALUES ($1, $2, $3, $4, $5)`,
			id, req.Name, req.BadgeNumber, req.Department, req.Rank,
		)
		return err
	})
	metrics.ObserveDBQuery("create_authority", start, err)
	if err != nil {
		return nil, mapError(err)
	}
	return s.GetAuthority(ctx, id)
}

// GetUserByEmail fetches the credential row for login.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	start := time.Now()
	ctx, cancel := s.oltpCtx(ctx)
	defer cancel()

	var u models.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, password_hash, role, is_active, created_at
		 FROM users WHERE email = $1`, email,
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.IsActive, &u.CreatedAt)
	metrics.ObserveDBQuery("get_user_by_email", start, err)
	if err != nil {
		return nil, mapError(err)
	}
	return &u, nil
}

// GetUser fetches a user row by id.
func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	start := time.Now()
	ctx, cancel := s.oltpCtx(ctx)
	defer cancel()

	var u models.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, password_hash, role, is_active, created_at
		 FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.IsActive, &u.CreatedAt)
	metrics.ObserveDBQuery("get_user", start, err)
	if err != nil {
		return nil, mapError(err)
	}
	return &u, nil
}

// GetTourist fetches a tourist profile joined with its user row.
func (s *Store) GetTourist(ctx context.Context, id string) (*models.Tourist, error) {
	start := time.Now()
	ctx, cancel := s.oltpCtx(ctx)
	defer cancel()

	var t models.Tourist
	err := s.pool.QueryRow(ctx,
		`SELECT u.id, u.email, t.name, t.phone, t.passport_no, t.nationality,
		        t.emergency_contact_name, t.emergency_contact_phone,
		        t.safety_score, t.last_seen, t.last_lat, t.last_lon,
		        u.is_active, u.created_at
		 FROM tourists t JOIN users u ON u.id = t.user_id
		 WHERE u.id = $1`, id,
	).Scan(&t.ID, &t.Email, &t.Name, &t.Phone, &t.PassportNo, &t.Nationality,
		&t.EmergencyContactName, &t.EmergencyContactPhone,
		&t.SafetyScore, &t.LastSeen, &t.LastLat, &t.LastLon,
		&t.IsActive, &t.CreatedAt)
	metrics.ObserveDBQuery("get_tourist", start, err)
	if err != nil {
		return nil, mapError(err)
	}
	return &t, nil
}

// GetAuthority fetches an authority profile joined with its user row.
func (s *Store) GetAuthority(ctx context.Context, id string) (*models.Authority, error) {
	start := time.Now()
	ctx, cancel := s.oltpCtx(ctx)
	defer cancel()

	var a models.Authority
	err := s.pool.QueryRow(ctx,
		`SELECT u.id, u.email, a.name, a.badge_number, a.department, a.rank,
		        u.is_active, u.created_at
		 FROM authorities a JOIN users u ON u.id = a.user_id
		 WHERE u.id = $1`, id,
	).Scan(&a.ID, &a.Email, &a.Name, &a.BadgeNumber, &a.Department, &a.Rank,
		&a.IsActive, &a.CreatedAt)
	metrics.ObserveDBQuery("get_authority", start, err)
	if err != nil {
		return nil, mapError(err)
	}
	return &a, nil
}

// SetUserActive suspends or reactivates a user.
func (s *Store) SetUserActive(ctx context.Context, id string, active bool) error {
	start := time.Now()
	ctx, cancel := s.oltpCtx(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET is_active = $2 WHERE id = $1`, id, active)
	metrics.ObserveDBQuery("set_user_active", start, err)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListUsers returns all users for the admin view, newest first.
func (s *Store) ListUsers(ctx context.Context, limit int) ([]models.User, error) {
	start := time.Now()
	ctx, cancel := s.analyticsCtx(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 200
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, email, password_hash, role, is_active, created_at
		 FROM users ORDER BY created_at DESC LIMIT $1`, limit)
	metrics.ObserveDBQuery("list_users", start, err)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.IsActive, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
