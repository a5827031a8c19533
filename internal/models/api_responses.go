// SafeHorizon - Tourist Safety Platform Backend
// Copyright 2026 SafeHorizon Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/safehorizon/safehorizon

package models

import (
	"time"
)

// APIResponse is the standardized response wrapper used by all HTTP
// endpoints, for both success and error outcomes.
//
// Status field values:
//   - "success": request completed, see Data
//   - "error": request failed, see Error
//
// Example successful response:
//
//	{
//	  "status": "success",
//	  "data": {"location_id": 812, "safety_score": 62, "risk_level": "medium"},
//	  "metadata": {"timestamp": "2026-08-24T12:00:00Z", "query_time_ms": 12}
//	}
//
// Example error response:
//
//	{
//	  "status": "error",
//	  "data": null,
//	  "error": {"code": "VALIDATION_ERROR", "message": "lat must be between -90 and 90"},
//	  "metadata": {"timestamp": "2026-08-24T12:00:00Z"}
//	}
type APIResponse struct {
	Status   string    `json:"status"`
	Data     any       `json:"data"`
	Metadata Metadata  `json:"metadata"`
	Error    *APIError `json:"error,omitempty"`
}

// Metadata carries response observability fields. CorrelationID is set on
// 5xx responses so a client report can be matched to server logs.
type Metadata struct {
	Timestamp     time.Time `json:"timestamp"`
	QueryTimeMS   int64     `json:"query_time_ms,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// APIError is the structured error payload.
//
// Common codes:
//   - VALIDATION_ERROR: invalid input (400)
//   - AUTHENTICATION_ERROR: missing or invalid credentials (401)
//   - AUTHORIZATION_ERROR: insufficient role (403)
//   - NOT_FOUND: absent or not visible to the caller (404)
//   - CONFLICT: state conflict, reason in message (409)
//   - RATE_LIMITED: request budget exhausted (429)
//   - TRANSIENT: dependency unavailable, retry safe (503)
//   - INTERNAL: unexpected failure, correlation id in metadata (500)
type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// LocationUpdateResponse answers POST /api/location/update.
type LocationUpdateResponse struct {
	LocationID     int64     `json:"location_id"`
	SafetyScore    int       `json:"safety_score"`
	RiskLevel      RiskLevel `json:"risk_level"`
	AlertTriggered bool      `json:"alert_triggered"`
	AlertID        *string   `json:"alert_id,omitempty"`
}

// SafetyScoreResponse answers GET /api/safety/score and score computation
// previews.
type SafetyScoreResponse struct {
	TouristID       string         `json:"tourist_id"`
	SafetyScore     int            `json:"safety_score"`
	RiskLevel       RiskLevel      `json:"risk_level"`
	Factors         map[string]int `json:"factors"`
	Recommendations []string       `json:"recommendations"`
	ComputedAt      time.Time      `json:"computed_at"`
}

// EFIRIssueResponse answers POST /api/efir/generate.
type EFIRIssueResponse struct {
	EFIRNumber string `json:"efir_number"`
	TxID       string `json:"tx_id"`
	BlockHash  string `json:"block_hash"`
}

// EFIRVerifyResponse answers GET /api/efir/verify/{tx_id}.
type EFIRVerifyResponse struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
	EFIR   *EFIR  `json:"efir,omitempty"`
}

// BroadcastResponse answers POST /api/broadcast/*.
type BroadcastResponse struct {
	BroadcastID      string `json:"broadcast_id"`
	BroadcastNumber  string `json:"broadcast_number"`
	TouristsNotified int    `json:"tourists_notified"`
	DevicesNotified  int    `json:"devices_notified"`
	SMSSent          int    `json:"sms_sent"`
}

// BroadcastStatusResponse answers GET /api/broadcast/{id}/status.
type BroadcastStatusResponse struct {
	Broadcast Broadcast         `json:"broadcast"`
	AckCounts map[AckStatus]int `json:"ack_counts"`
	AckTotal  int               `json:"ack_total"`
}

// PublicPanicAlert is the anonymized shape served without authentication.
// Coordinates are coarsened to a ~110 m grid and no tourist identifiers
// are present.
type PublicPanicAlert struct {
	Kind      AlertKind `json:"kind"`
	Severity  Severity  `json:"severity"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Resolved  bool      `json:"resolved"`
	CreatedAt time.Time `json:"created_at"`
}

// NearbyRisksResponse answers GET /api/location/nearby-risks.
type NearbyRisksResponse struct {
	Zones  []Zone             `json:"zones"`
	Alerts []PublicPanicAlert `json:"alerts"`
}

// AuthResponse answers login and register endpoints.
type AuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Role      Role      `json:"role"`
	UserID    string    `json:"user_id"`
}

// SystemStatusResponse answers GET /api/admin/system/status.
type SystemStatusResponse struct {
	Database  ComponentHealth `json:"database"`
	Broker    ComponentHealth `json:"broker"`
	Hub       HubStats        `json:"hub"`
	Geofence  GeofenceStatus  `json:"geofence"`
	StartedAt time.Time       `json:"started_at"`
	Version   string          `json:"version"`
}

// ComponentHealth is a minimal dependency health readout.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// HubStats summarizes pub/sub hub activity for the admin view.
type HubStats struct {
	Channels    map[string]int `json:"channels"`
	Subscribers int            `json:"subscribers"`
	Published   uint64         `json:"published"`
	Dropped     uint64         `json:"dropped"`
}

// GeofenceStatus summarizes the zone snapshot for health views.
type GeofenceStatus struct {
	Zones    int       `json:"zones"`
	LoadedAt time.Time `json:"loaded_at"`
}

// DashboardResponse answers GET /api/admin/analytics/dashboard.
type DashboardResponse struct {
	TouristsByRisk  map[RiskLevel]int `json:"tourists_by_risk"`
	ActiveTourists  int               `json:"active_tourists"`
	AlertsByKind7d  map[AlertKind]int `json:"alerts_by_kind_7d"`
	OpenAlerts      int               `json:"open_alerts"`
	BroadcastsSent  int               `json:"broadcasts_sent"`
	EFIRsIssued     int               `json:"efirs_issued"`
	GeneratedAt     time.Time         `json:"generated_at"`
}
