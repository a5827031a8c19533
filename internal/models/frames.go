// SafeHorizon - Tourist Safety Platform Backend
// Copyright 2026 SafeHorizon Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/safehorizon/safehorizon

package models

import (
	"time"
)

// EventType names a WebSocket frame kind.
type EventType string

const (
	EventAlertCreated      EventType = "alert_created"
	EventAlertAcknowledged EventType = "alert_acknowledged"
	EventAlertResolved     EventType = "alert_resolved"
	EventLocationUpdated   EventType = "location_updated"
	EventBroadcast         EventType = "broadcast"
	EventZoneChanged       EventType = "zone_changed"
	EventSystemStats       EventType = "system_stats"
)

// GeoPoint is a WGS84 coordinate pair.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// AlertView is the alert shape carried in WebSocket frames and alert list
// responses: location folded into one object, dedup internals omitted.
type AlertView struct {
	ID           string         `json:"id"`
	TouristID    string         `json:"tourist_id"`
	Kind         AlertKind      `json:"kind"`
	Severity     Severity       `json:"severity"`
	Title        string         `json:"title,omitempty"`
	Description  string         `json:"description,omitempty"`
	Location     *GeoPoint      `json:"location,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Acknowledged bool           `json:"acknowledged"`
	Resolved     bool           `json:"resolved"`
	CreatedAt    time.Time      `json:"created_at"`
}

// View folds an Alert into its wire shape.
func (a *Alert) View() AlertView {
	v := AlertView{
		ID:           a.ID,
		TouristID:    a.TouristID,
		Kind:         a.Kind,
		Severity:     a.Severity,
		Title:        a.Title,
		Description:  a.Description,
		Metadata:     a.Metadata,
		Acknowledged: a.Acknowledged,
		Resolved:     a.Resolved,
		CreatedAt:    a.CreatedAt,
	}
	if a.Lat != nil && a.Lon != nil {
		v.Location = &GeoPoint{Lat: *a.Lat, Lon: *a.Lon}
	}
	return v
}

// LocationPing is the location_updated frame payload.
type LocationPing struct {
	TouristID   string    `json:"tourist_id"`
	Location    GeoPoint  `json:"location"`
	SafetyScore int       `json:"safety_score"`
	RiskLevel   RiskLevel `json:"risk_level"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// Frame is one WebSocket message. Exactly one payload field is set,
// matching EventType.
type Frame struct {
	EventType EventType     `json:"event_type"`
	Timestamp time.Time     `json:"timestamp"`
	Alert     *AlertView    `json:"alert,omitempty"`
	Broadcast *Broadcast    `json:"broadcast,omitempty"`
	Location  *LocationPing `json:"location,omitempty"`
	Zone      *Zone         `json:"zone,omitempty"`
	Stats     *HubStats     `json:"stats,omitempty"`
}

// AlertFrame builds an alert lifecycle frame.
func AlertFrame(eventType EventType, alert *Alert) Frame {
	view := alert.View()
	return Frame{
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		Alert:     &view,
	}
}

// BroadcastFrame builds a broadcast frame.
func BroadcastFrame(b *Broadcast) Frame {
	return Frame{
		EventType: EventBroadcast,
		Timestamp: time.Now().UTC(),
		Broadcast: b,
	}
}

// LocationFrame builds a location_updated frame for the tourist channel.
func LocationFrame(ping *LocationPing) Frame {
	return Frame{
		EventType: EventLocationUpdated,
		Timestamp: time.Now().UTC(),
		Location:  ping,
	}
}
