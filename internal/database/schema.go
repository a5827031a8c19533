// SafeHorizon - Tourist Safety Platform Backend
// Copyright 2026 SafeHorizon Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/safehorizon/safehorizon

package database

import (
	"context"
	"fmt"
)

// schema is the idempotent DDL applied at boot. Statements use IF NOT
// EXISTS so repeated startups and rolling deploys across instances are
// safe; the advisory lock in Migrate serializes concurrent boots.
const schema = `
CREATE TABLE IF NOT EXISTS users (
    id            UUID PRIMARY KEY,
    email         TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    role          TEXT NOT NULL CHECK (role IN ('tourist', 'authority', 'admin')),
    is_active     BOOLEAN NOT NULL DEFAULT TRUE,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS tourists (
    user_id                 UUID PRIMARY KEY REFERENCES users(id),
    name                    TEXT NOT NULL,
    phone                   TEXT NOT NULL DEFAULT '',
    passport_no             TEXT NOT NULL DEFAULT '',
    nationality             TEXT NOT NULL DEFAULT '',
    emergency_contact_name  TEXT NOT NULL DEFAULT '',
    emergency_contact_phone TEXT NOT NULL DEFAULT '',
    safety_score            INT NOT NULL DEFAULT 100 CHECK (safety_score BETWEEN 0 AND 100),
    last_seen               TIMESTAMPTZ,
    last_lat                DOUBLE PRECISION,
    last_lon                DOUBLE PRECISION
);

CREATE INDEX IF NOT EXISTS idx_tourists_last_seen ON tourists (last_seen DESC);

CREATE TABLE IF NOT EXISTS authorities (
    user_id      UUID PRIMARY KEY REFERENCES users(id),
    name         TEXT NOT NULL,
    badge_number TEXT NOT NULL UNIQUE,
    department   TEXT NOT NULL DEFAULT '',
    rank         TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS location_samples (
    id                      BIGSERIAL PRIMARY KEY,
    tourist_id              UUID NOT NULL REFERENCES tourists(user_id),
    lat                     DOUBLE PRECISION NOT NULL,
    lon                     DOUBLE PRECISION NOT NULL,
    speed                   DOUBLE PRECISION,
    altitude                DOUBLE PRECISION,
    accuracy                DOUBLE PRECISION,
    recorded_at             TIMESTAMPTZ NOT NULL,
    created_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
    safety_score            INT CHECK (safety_score BETWEEN 0 AND 100),
    safety_score_updated_at TIMESTAMPTZ,
    UNIQUE (tourist_id, recorded_at)
);

CREATE INDEX IF NOT EXISTS idx_locations_tourist_created
    ON location_samples (tourist_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_locations_null_score
    ON location_samples (created_at) WHERE safety_score IS NULL;

CREATE TABLE IF NOT EXISTS trips (
    id          UUID PRIMARY KEY,
    tourist_id  UUID NOT NULL REFERENCES tourists(user_id),
    destination TEXT NOT NULL,
    itinerary   TEXT NOT NULL DEFAULT '',
    started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    ended_at    TIMESTAMPTZ,
    status      TEXT NOT NULL CHECK (status IN ('active', 'completed'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_trips_one_active
    ON trips (tourist_id) WHERE status = 'active';

CREATE TABLE IF NOT EXISTS zones (
    id          UUID PRIMARY KEY,
    name        TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    type        TEXT NOT NULL CHECK (type IN ('safe', 'risky', 'restricted')),
    center_lat  DOUBLE PRECISION NOT NULL,
    center_lon  DOUBLE PRECISION NOT NULL,
    radius_m    DOUBLE PRECISION NOT NULL,
    polygon     JSONB,
    is_active   BOOLEAN NOT NULL DEFAULT TRUE,
    created_by  UUID REFERENCES users(id),
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS alerts (
    id              UUID PRIMARY KEY,
    tourist_id      UUID NOT NULL REFERENCES tourists(user_id),
    kind            TEXT NOT NULL CHECK (kind IN ('geofence', 'anomaly', 'panic', 'sos', 'sequence', 'manual')),
    severity        TEXT NOT NULL CHECK (severity IN ('low', 'medium', 'high', 'critical')),
    title           TEXT NOT NULL DEFAULT '',
    description     TEXT NOT NULL DEFAULT '',
    lat             DOUBLE PRECISION,
    lon             DOUBLE PRECISION,
    metadata        JSONB,
    dedup_key       TEXT,
    acknowledged    BOOLEAN NOT NULL DEFAULT FALSE,
    acknowledged_by UUID REFERENCES users(id),
    acknowledged_at TIMESTAMPTZ,
    resolved        BOOLEAN NOT NULL DEFAULT FALSE,
    resolved_by     UUID REFERENCES users(id),
    resolved_at     TIMESTAMPTZ,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    CHECK (NOT resolved OR acknowledged)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_alerts_dedup
    ON alerts (dedup_key) WHERE dedup_key IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_alerts_tourist_created
    ON alerts (tourist_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_alerts_created ON alerts (created_at DESC);

CREATE TABLE IF NOT EXISTS incidents (
    id              UUID PRIMARY KEY,
    alert_id        UUID NOT NULL UNIQUE REFERENCES alerts(id),
    incident_number TEXT NOT NULL UNIQUE,
    status          TEXT NOT NULL CHECK (status IN ('open', 'investigating', 'resolved')),
    assigned_to     UUID REFERENCES users(id),
    notes           TEXT NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS efirs (
    id                  UUID PRIMARY KEY,
    chain_seq           BIGSERIAL,
    efir_number         TEXT NOT NULL UNIQUE,
    tx_id               TEXT NOT NULL UNIQUE,
    block_hash          TEXT NOT NULL UNIQUE,
    prev_block_hash     TEXT NOT NULL,
    nonce               TEXT NOT NULL,
    chain_ts            TIMESTAMPTZ NOT NULL,
    source              TEXT NOT NULL CHECK (source IN ('tourist', 'authority')),
    alert_id            UUID REFERENCES alerts(id),
    tourist_id          UUID NOT NULL REFERENCES tourists(user_id),
    tourist_name        TEXT NOT NULL,
    tourist_passport    TEXT NOT NULL DEFAULT '',
    tourist_nationality TEXT NOT NULL DEFAULT '',
    description         TEXT NOT NULL,
    lat                 DOUBLE PRECISION,
    lon                 DOUBLE PRECISION,
    witnesses           JSONB,
    evidence            JSONB,
    incident_ts         TIMESTAMPTZ NOT NULL,
    filed_ts            TIMESTAMPTZ NOT NULL,
    created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_efirs_chain_seq ON efirs (chain_seq);

CREATE TABLE IF NOT EXISTS broadcasts (
    id                UUID PRIMARY KEY,
    broadcast_number  TEXT NOT NULL UNIQUE,
    type              TEXT NOT NULL CHECK (type IN ('radius', 'zone', 'region', 'all')),
    title             TEXT NOT NULL,
    message           TEXT NOT NULL,
    severity          TEXT NOT NULL CHECK (severity IN ('low', 'medium', 'high', 'critical')),
    params            JSONB,
    sent_by           UUID NOT NULL REFERENCES users(id),
    tourists_notified INT NOT NULL DEFAULT 0,
    devices_notified  INT NOT NULL DEFAULT 0,
    sms_sent          INT NOT NULL DEFAULT 0,
    expires_at        TIMESTAMPTZ,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS broadcast_acks (
    broadcast_id UUID NOT NULL REFERENCES broadcasts(id),
    tourist_id   UUID NOT NULL REFERENCES tourists(user_id),
    status       TEXT NOT NULL CHECK (status IN ('safe', 'need_help', 'evacuating')),
    note         TEXT NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (broadcast_id, tourist_id)
);

CREATE TABLE IF NOT EXISTS devices (
    id           UUID PRIMARY KEY,
    tourist_id   UUID NOT NULL REFERENCES tourists(user_id),
    platform     TEXT NOT NULL CHECK (platform IN ('ios', 'android')),
    push_token   TEXT NOT NULL UNIQUE,
    is_active    BOOLEAN NOT NULL DEFAULT TRUE,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    last_used_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS daily_counters (
    scope TEXT NOT NULL,
    day   DATE NOT NULL,
    value BIGINT NOT NULL DEFAULT 0,
    PRIMARY KEY (scope, day)
);
`

// migrateLockKey serializes schema application across instances booting
// concurrently against the same database.
const migrateLockKey = 0x5AFE_0001

// Migrate applies the schema. Safe to call on every boot.
func (s *Store) Migrate(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire migration connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", migrateLockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrateLockKey)
	}()

	if _, err := conn.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
