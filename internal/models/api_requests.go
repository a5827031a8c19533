// SafeHorizon - Tourist Safety Platform Backend
// Copyright 2026 SafeHorizon Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/safehorizon/safehorizon

package models

import (
	"time"
)

// LocationUpdateRequest is the body of POST /api/location/update.
// Timestamp is the client clock, ISO 8601 with offset; speed is m/s.
type LocationUpdateRequest struct {
	Lat       float64   `json:"lat" validate:"min=-90,max=90"`
	Lon       float64   `json:"lon" validate:"min=-180,max=180"`
	Speed     *float64  `json:"speed,omitempty" validate:"omitempty,min=0,max=200"`
	Altitude  *float64  `json:"altitude,omitempty" validate:"omitempty,min=-500,max=10000"`
	Accuracy  *float64  `json:"accuracy,omitempty" validate:"omitempty,min=0"`
	Timestamp time.Time `json:"timestamp" validate:"required"`
}

// SOSRequest is the body of POST /api/sos/trigger. Location is optional;
// the last known location is used when absent.
type SOSRequest struct {
	Lat     *float64 `json:"lat,omitempty" validate:"omitempty,min=-90,max=90"`
	Lon     *float64 `json:"lon,omitempty" validate:"omitempty,min=-180,max=180"`
	Message string   `json:"message,omitempty" validate:"max=500"`
}

// RegisterTouristRequest is the body of POST /api/auth/register.
type RegisterTouristRequest struct {
	Email                 string `json:"email" validate:"required,email"`
	Password              string `json:"password" validate:"required,min=8,max=128"`
	Name                  string `json:"name" validate:"required,max=200"`
	Phone                 string `json:"phone,omitempty" validate:"omitempty,max=20"`
	PassportNo            string `json:"passport_no,omitempty" validate:"omitempty,max=40"`
	Nationality           string `json:"nationality,omitempty" validate:"omitempty,max=80"`
	EmergencyContactName  string `json:"emergency_contact_name,omitempty" validate:"omitempty,max=200"`
	EmergencyContactPhone string `json:"emergency_contact_phone,omitempty" validate:"omitempty,max=20"`
}

// RegisterAuthorityRequest is the body of POST /api/auth/register-authority.
// A rank containing "admin" mints the admin role.
type RegisterAuthorityRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=8,max=128"`
	Name        string `json:"name" validate:"required,max=200"`
	BadgeNumber string `json:"badge_number" validate:"required,max=40"`
	Department  string `json:"department,omitempty" validate:"omitempty,max=120"`
	Rank        string `json:"rank,omitempty" validate:"omitempty,max=80"`
}

// LoginRequest is the body of the login endpoints.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// TripStartRequest is the body of POST /api/trip/start.
type TripStartRequest struct {
	Destination string `json:"destination" validate:"required,max=200"`
	Itinerary   string `json:"itinerary,omitempty" validate:"omitempty,max=2000"`
}

// ZoneCreateRequest is the body of POST /api/zones/create. Either a
// center+radius disk or a polygon of [lon, lat] vertices (at least 3) must
// be provided; a polygon derives its fallback disk from the centroid and
// the farthest vertex.
type ZoneCreateRequest struct {
	Name        string      `json:"name" validate:"required,max=200"`
	Description string      `json:"description,omitempty" validate:"omitempty,max=1000"`
	Type        ZoneType    `json:"type" validate:"required,oneof=safe risky restricted"`
	CenterLat   *float64    `json:"center_lat,omitempty" validate:"omitempty,min=-90,max=90"`
	CenterLon   *float64    `json:"center_lon,omitempty" validate:"omitempty,min=-180,max=180"`
	RadiusM     *float64    `json:"radius_m,omitempty" validate:"omitempty,gt=0,max=100000"`
	Polygon     [][]float64 `json:"polygon,omitempty" validate:"omitempty,min=3,dive,len=2"`
}

// ZoneUpdateRequest is the body of PUT /api/zones/{id}.
type ZoneUpdateRequest struct {
	Name        *string     `json:"name,omitempty" validate:"omitempty,max=200"`
	Description *string     `json:"description,omitempty" validate:"omitempty,max=1000"`
	Type        *ZoneType   `json:"type,omitempty" validate:"omitempty,oneof=safe risky restricted"`
	CenterLat   *float64    `json:"center_lat,omitempty" validate:"omitempty,min=-90,max=90"`
	CenterLon   *float64    `json:"center_lon,omitempty" validate:"omitempty,min=-180,max=180"`
	RadiusM     *float64    `json:"radius_m,omitempty" validate:"omitempty,gt=0,max=100000"`
	Polygon     [][]float64 `json:"polygon,omitempty" validate:"omitempty,min=3,dive,len=2"`
}

// BroadcastRadiusRequest is the body of POST /api/broadcast/radius.
type BroadcastRadiusRequest struct {
	CenterLat    float64  `json:"center_lat" validate:"min=-90,max=90"`
	CenterLon    float64  `json:"center_lon" validate:"min=-180,max=180"`
	RadiusKM     float64  `json:"radius_km" validate:"gt=0,max=500"`
	Title        string   `json:"title" validate:"required,max=200"`
	Message      string   `json:"message" validate:"required,max=2000"`
	Severity     Severity `json:"severity" validate:"required,oneof=low medium high critical"`
	ExpiresInMin *int     `json:"expires_in_min,omitempty" validate:"omitempty,gt=0,max=10080"`
}

// BroadcastZoneRequest is the body of POST /api/broadcast/zone.
type BroadcastZoneRequest struct {
	ZoneID       string   `json:"zone_id" validate:"required,uuid4"`
	Title        string   `json:"title" validate:"required,max=200"`
	Message      string   `json:"message" validate:"required,max=2000"`
	Severity     Severity `json:"severity" validate:"required,oneof=low medium high critical"`
	ExpiresInMin *int     `json:"expires_in_min,omitempty" validate:"omitempty,gt=0,max=10080"`
}

// BroadcastRegionRequest is the body of POST /api/broadcast/region.
type BroadcastRegionRequest struct {
	MinLat       float64  `json:"min_lat" validate:"min=-90,max=90"`
	MinLon       float64  `json:"min_lon" validate:"min=-180,max=180"`
	MaxLat       float64  `json:"max_lat" validate:"min=-90,max=90,gtfield=MinLat"`
	MaxLon       float64  `json:"max_lon" validate:"min=-180,max=180,gtfield=MinLon"`
	Title        string   `json:"title" validate:"required,max=200"`
	Message      string   `json:"message" validate:"required,max=2000"`
	Severity     Severity `json:"severity" validate:"required,oneof=low medium high critical"`
	ExpiresInMin *int     `json:"expires_in_min,omitempty" validate:"omitempty,gt=0,max=10080"`
}

// BroadcastAllRequest is the body of POST /api/broadcast/all.
type BroadcastAllRequest struct {
	Title        string   `json:"title" validate:"required,max=200"`
	Message      string   `json:"message" validate:"required,max=2000"`
	Severity     Severity `json:"severity" validate:"required,oneof=low medium high critical"`
	ExpiresInMin *int     `json:"expires_in_min,omitempty" validate:"omitempty,gt=0,max=10080"`
}

// BroadcastAckRequest is the body of POST /api/broadcast/{id}/ack.
type BroadcastAckRequest struct {
	Status AckStatus `json:"status" validate:"required,oneof=safe need_help evacuating"`
	Note   string    `json:"note,omitempty" validate:"omitempty,max=500"`
}

// EFIRGenerateRequest is the body of POST /api/efir/generate. AlertID is
// optional for tourist-filed reports; authorities may reference an alert.
type EFIRGenerateRequest struct {
	AlertID     *string  `json:"alert_id,omitempty" validate:"omitempty,uuid4"`
	TouristID   string   `json:"tourist_id,omitempty" validate:"omitempty,uuid4"`
	Description string   `json:"description" validate:"required,max=5000"`
	Lat         *float64 `json:"lat,omitempty" validate:"omitempty,min=-90,max=90"`
	Lon         *float64 `json:"lon,omitempty" validate:"omitempty,min=-180,max=180"`
	Witnesses   []string `json:"witnesses,omitempty" validate:"omitempty,max=20,dive,max=200"`
	Evidence    []string `json:"evidence,omitempty" validate:"omitempty,max=20,dive,max=500"`
	IncidentTS  *time.Time `json:"incident_ts,omitempty"`
}

// IncidentActionRequest is the body of the incident acknowledge/close
// endpoints.
type IncidentActionRequest struct {
	AlertID string `json:"alert_id" validate:"required,uuid4"`
	Notes   string `json:"notes,omitempty" validate:"omitempty,max=2000"`
}

// DeviceRegisterRequest is the body of POST /api/device/register.
type DeviceRegisterRequest struct {
	Platform  Platform `json:"platform" validate:"required,oneof=ios android"`
	PushToken string   `json:"push_token" validate:"required,max=4096"`
}
