// SafeHorizon - Tourist Safety Platform Backend
// Copyright 2026 SafeHorizon Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/safehorizon/safehorizon

// Package models defines the SafeHorizon domain entities, API payloads and
// WebSocket frame types shared across components.
package models

import (
	"time"
)

// Role is a principal role carried in JWT claims.
type Role string

const (
	RoleTourist   Role = "tourist"
	RoleAuthority Role = "authority"
	RoleAdmin     Role = "admin"
)

// Valid reports whether the role is one of the three known roles.
func (r Role) Valid() bool {
	return r == RoleTourist || r == RoleAuthority || r == RoleAdmin
}

// ZoneType classifies geofence zones.
type ZoneType string

const (
	ZoneSafe       ZoneType = "safe"
	ZoneRisky      ZoneType = "risky"
	ZoneRestricted ZoneType = "restricted"
)

// AlertKind is the detection rule family that produced an alert.
type AlertKind string

const (
	AlertGeofence AlertKind = "geofence"
	AlertAnomaly  AlertKind = "anomaly"
	AlertPanic    AlertKind = "panic"
	AlertSOS      AlertKind = "sos"
	AlertSequence AlertKind = "sequence"
	AlertManual   AlertKind = "manual"
)

// Severity orders alert urgency.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Weight returns the severity weight used by the nearby-alert score factor.
func (s Severity) Weight() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	default:
		return 1
	}
}

// RiskLevel is the banded presentation of a safety score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// RiskLevelFromScore maps a 0-100 safety score to its band. The critical
// band is inclusive at 40: a score of exactly 40 is critical, and the high
// band starts strictly above it.
func RiskLevelFromScore(score int) RiskLevel {
	switch {
	case score <= 40:
		return RiskCritical
	case score < 60:
		return RiskHigh
	case score < 80:
		return RiskMedium
	default:
		return RiskLow
	}
}

// BroadcastType selects the audience resolution strategy.
type BroadcastType string

const (
	BroadcastRadius BroadcastType = "radius"
	BroadcastZone   BroadcastType = "zone"
	BroadcastRegion BroadcastType = "region"
	BroadcastAll    BroadcastType = "all"
)

// AckStatus is a tourist's reply to a broadcast.
type AckStatus string

const (
	AckSafe       AckStatus = "safe"
	AckNeedHelp   AckStatus = "need_help"
	AckEvacuating AckStatus = "evacuating"
)

// Valid reports whether the ack status is one of the accepted replies.
func (s AckStatus) Valid() bool {
	return s == AckSafe || s == AckNeedHelp || s == AckEvacuating
}

// Platform identifies a push-capable device OS.
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
)

// EFIRSource records who filed an E-FIR.
type EFIRSource string

const (
	EFIRSourceTourist   EFIRSource = "tourist"
	EFIRSourceAuthority EFIRSource = "authority"
)

// IncidentStatus tracks an incident workflow.
type IncidentStatus string

const (
	IncidentOpen          IncidentStatus = "open"
	IncidentInvestigating IncidentStatus = "investigating"
	IncidentResolved      IncidentStatus = "resolved"
)

// TripStatus tracks a trip lifecycle. At most one trip per tourist is
// active at a time.
type TripStatus string

const (
	TripActive    TripStatus = "active"
	TripCompleted TripStatus = "completed"
)

// User is the shared identity row behind tourists and authorities.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

// Tourist is a monitored principal. LastSeen and the last location are
// nullable until the first sample arrives; SafetyScore is the rolling
// blended score, not the score of any single sample.
type Tourist struct {
	ID                    string     `json:"id"`
	Email                 string     `json:"email"`
	Name                  string     `json:"name"`
	Phone                 string     `json:"phone,omitempty"`
	PassportNo            string     `json:"passport_no,omitempty"`
	Nationality           string     `json:"nationality,omitempty"`
	EmergencyContactName  string     `json:"emergency_contact_name,omitempty"`
	EmergencyContactPhone string     `json:"emergency_contact_phone,omitempty"`
	SafetyScore           int        `json:"safety_score"`
	LastSeen              *time.Time `json:"last_seen,omitempty"`
	LastLat               *float64   `json:"last_lat,omitempty"`
	LastLon               *float64   `json:"last_lon,omitempty"`
	IsActive              bool       `json:"is_active"`
	CreatedAt             time.Time  `json:"created_at"`
}

// Authority is a dashboard principal.
type Authority struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	Name        string    `json:"name"`
	BadgeNumber string    `json:"badge_number"`
	Department  string    `json:"department,omitempty"`
	Rank        string    `json:"rank,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

// LocationSample is one append-only position report. RecordedAt is the
// client timestamp; CreatedAt is server arrival. SafetyScore is null until
// computed (the rescorer backfills failures).
type LocationSample struct {
	ID                   int64      `json:"id"`
	TouristID            string     `json:"tourist_id"`
	Lat                  float64    `json:"lat"`
	Lon                  float64    `json:"lon"`
	Speed                *float64   `json:"speed,omitempty"`
	Altitude             *float64   `json:"altitude,omitempty"`
	Accuracy             *float64   `json:"accuracy,omitempty"`
	RecordedAt           time.Time  `json:"recorded_at"`
	CreatedAt            time.Time  `json:"created_at"`
	SafetyScore          *int       `json:"safety_score,omitempty"`
	SafetyScoreUpdatedAt *time.Time `json:"safety_score_updated_at,omitempty"`
}

// Trip is a planned tourist itinerary.
type Trip struct {
	ID          string     `json:"id"`
	TouristID   string     `json:"tourist_id"`
	Destination string     `json:"destination"`
	Itinerary   string     `json:"itinerary,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	Status      TripStatus `json:"status"`
}

// Zone is a geofenced area: a disk around a center, optionally refined by
// a polygon ([lon, lat] vertex pairs). Soft-deleted via IsActive;
// UpdatedAt versions every mutation.
type Zone struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Type        ZoneType    `json:"type"`
	CenterLat   float64     `json:"center_lat"`
	CenterLon   float64     `json:"center_lon"`
	RadiusM     float64     `json:"radius_m"`
	Polygon     [][]float64 `json:"polygon,omitempty"`
	IsActive    bool        `json:"is_active"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Alert is a detected or declared safety event. Resolving implies
// acknowledging; a resolved alert never returns to unresolved.
type Alert struct {
	ID             string         `json:"id"`
	TouristID      string         `json:"tourist_id"`
	Kind           AlertKind      `json:"kind"`
	Severity       Severity       `json:"severity"`
	Title          string         `json:"title,omitempty"`
	Description    string         `json:"description,omitempty"`
	Lat            *float64       `json:"lat,omitempty"`
	Lon            *float64       `json:"lon,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	DedupKey       *string        `json:"-"`
	Acknowledged   bool           `json:"acknowledged"`
	AcknowledgedBy *string        `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time     `json:"acknowledged_at,omitempty"`
	Resolved       bool           `json:"resolved"`
	ResolvedBy     *string        `json:"resolved_by,omitempty"`
	ResolvedAt     *time.Time     `json:"resolved_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Incident is the authority-side case tracking an alert.
type Incident struct {
	ID             string         `json:"id"`
	AlertID        string         `json:"alert_id"`
	IncidentNumber string         `json:"incident_number"`
	Status         IncidentStatus `json:"status"`
	AssignedTo     *string        `json:"assigned_to,omitempty"`
	Notes          string         `json:"notes,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// EFIR is an immutable electronic first-information report anchored in the
// hash chain. Rows are never updated or deleted.
type EFIR struct {
	ID                 string     `json:"id"`
	EFIRNumber         string     `json:"efir_number"`
	TxID               string     `json:"tx_id"`
	BlockHash          string     `json:"block_hash"`
	PrevBlockHash      string     `json:"prev_block_hash"`
	Nonce              string     `json:"-"`
	ChainTS            time.Time  `json:"chain_ts"`
	Source             EFIRSource `json:"source"`
	AlertID            *string    `json:"alert_id,omitempty"`
	TouristID          string     `json:"tourist_id"`
	TouristName        string     `json:"tourist_name"`
	TouristPassport    string     `json:"tourist_passport,omitempty"`
	TouristNationality string     `json:"tourist_nationality,omitempty"`
	Description        string     `json:"description"`
	Lat                *float64   `json:"lat,omitempty"`
	Lon                *float64   `json:"lon,omitempty"`
	Witnesses          []string   `json:"witnesses,omitempty"`
	Evidence           []string   `json:"evidence,omitempty"`
	IncidentTS         time.Time  `json:"incident_ts"`
	FiledTS            time.Time  `json:"filed_ts"`
	IsVerified         bool       `json:"is_verified"`
	CreatedAt          time.Time  `json:"created_at"`
}

// Broadcast is one authority fan-out. Counters reflect legs submitted to
// their transports, not confirmed deliveries.
type Broadcast struct {
	ID               string         `json:"id"`
	BroadcastNumber  string         `json:"broadcast_number"`
	Type             BroadcastType  `json:"type"`
	Title            string         `json:"title"`
	Message          string         `json:"message"`
	Severity         Severity       `json:"severity"`
	Params           map[string]any `json:"params,omitempty"`
	SentBy           string         `json:"sent_by"`
	TouristsNotified int            `json:"tourists_notified"`
	DevicesNotified  int            `json:"devices_notified"`
	SMSSent          int            `json:"sms_sent"`
	ExpiresAt        *time.Time     `json:"expires_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// BroadcastAck is a tourist's acknowledgement; one row per
// (broadcast, tourist), re-acks update in place.
type BroadcastAck struct {
	BroadcastID string    `json:"broadcast_id"`
	TouristID   string    `json:"tourist_id"`
	Status      AckStatus `json:"status"`
	Note        string    `json:"note,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Device is a registered push target.
type Device struct {
	ID         string     `json:"id"`
	TouristID  string     `json:"tourist_id"`
	Platform   Platform   `json:"platform"`
	PushToken  string     `json:"-"`
	IsActive   bool       `json:"is_active"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}
