// SafeHorizon - Tourist Safety Platform Backend
// Copyright 2026 SafeHorizon Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/safehorizon/safehorizon

// Package broadcast fans authority messages out to tourists by radius,
// zone, region, or globally. The target set is materialized once at
// dispatch time; tourists moving into the area later see the broadcast
// through the active listing, not through a late leg.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/safehorizon/safehorizon/internal/database"
	"github.com/safehorizon/safehorizon/internal/geo"
	"github.com/safehorizon/safehorizon/internal/geofence"
	"github.com/safehorizon/safehorizon/internal/hub"
	"github.com/safehorizon/safehorizon/internal/logging"
	"github.com/safehorizon/safehorizon/internal/metrics"
	"github.com/safehorizon/safehorizon/internal/models"
)

const (
	// targetRecency bounds how stale a tourist's last location may be
	// for targeted broadcasts.
	targetRecency = 24 * time.Hour
	// allRecency is the looser bound for global broadcasts.
	allRecency = 7 * 24 * time.Hour
	// legDeadline bounds each per-tourist delivery leg.
	legDeadline = 10 * time.Second
)

// ErrUnknownZone rejects zone broadcasts referencing a missing or
// inactive zone.
var ErrUnknownZone = errors.New("unknown zone")

// Store is the persistence surface of the dispatcher.
type Store interface {
	InsertBroadcast(ctx context.Context, b *models.Broadcast) (*models.Broadcast, error)
	UpdateBroadcastCounters(ctx context.Context, id string, tourists, devices, sms int) error
	GetBroadcast(ctx context.Context, id string) (*models.Broadcast, error)
	UnexpiredBroadcasts(ctx context.Context, limit int) ([]models.Broadcast, error)
	TargetsWithinRadius(ctx context.Context, lat, lon, radiusM float64, since time.Time) ([]database.TouristTarget, error)
	TargetsWithinRegion(ctx context.Context, minLat, minLon, maxLat, maxLon float64, since time.Time) ([]database.TouristTarget, error)
	TargetsAll(ctx context.Context, since time.Time) ([]database.TouristTarget, error)
	UpsertBroadcastAck(ctx context.Context, ack *models.BroadcastAck) (*models.BroadcastAck, error)
	AckCounts(ctx context.Context, broadcastID string) (map[models.AckStatus]int, error)
	ActiveDevicesFor(ctx context.Context, touristIDs []string) ([]models.Device, error)
	GetTourist(ctx context.Context, id string) (*models.Tourist, error)
	GetZone(ctx context.Context, id string) (*models.Zone, error)
}

// ZoneIndex resolves zone containment for zone-targeted broadcasts and
// the tourist-side active listing.
type ZoneIndex interface {
	Locate(lat, lon float64) []geofence.ZoneHit
}

// Publisher is the hub surface.
type Publisher interface {
	Publish(ctx context.Context, channel string, frame models.Frame) error
}

// Enqueuer is the outbox surface for push and SMS legs.
type Enqueuer interface {
	EnqueuePush(deviceToken, title, body string, data map[string]string) error
	EnqueueSMS(phone, body string) error
}

// Request describes one broadcast. Only the fields of the chosen Type
// are read.
type Request struct {
	Type     models.BroadcastType
	Title    string
	Message  string
	Severity models.Severity
	SentBy   string
	// ExpiresInMin leaves the broadcast active for that long; nil never
	// expires.
	ExpiresInMin *int

	CenterLat float64
	CenterLon float64
	RadiusKM  float64

	ZoneID string

	MinLat float64
	MinLon float64
	MaxLat float64
	MaxLon float64
}

// Dispatcher materializes targets and runs the delivery legs.
type Dispatcher struct {
	store  Store
	zones  ZoneIndex
	pub    Publisher
	outbox Enqueuer

	now func() time.Time
}

// New builds a dispatcher.
func New(store Store, zones ZoneIndex, pub Publisher, outbox Enqueuer) *Dispatcher {
	return &Dispatcher{store: store, zones: zones, pub: pub, outbox: outbox, now: time.Now}
}

// Dispatch records the broadcast, materializes its target set, and runs
// the three delivery legs per tourist. Leg failures are logged and
// counted; only the record insert can fail the call.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*models.Broadcast, error) {
	targets, params, err := d.materialize(ctx, req)
	if err != nil {
		return nil, err
	}

	var expiresAt *time.Time
	if req.ExpiresInMin != nil {
		t := d.now().UTC().Add(time.Duration(*req.ExpiresInMin) * time.Minute)
		expiresAt = &t
	}

	b, err := d.store.InsertBroadcast(ctx, &models.Broadcast{
		Type:      req.Type,
		Title:     req.Title,
		Message:   req.Message,
		Severity:  req.Severity,
		Params:    params,
		SentBy:    req.SentBy,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return nil, err
	}
	metrics.BroadcastsDispatched.WithLabelValues(string(req.Type)).Inc()

	devices, sms := d.fanOut(ctx, b, targets)

	// Record-level event on the channel matching the targeting.
	channel := hub.ChannelBroadcastsAll
	if req.Type == models.BroadcastZone {
		channel = hub.ZoneBroadcasts(req.ZoneID)
	}
	if err := d.pub.Publish(ctx, channel, models.BroadcastFrame(b)); err != nil {
		logging.Warn().
			Str("component", "broadcast").
			Str("broadcast_id", b.ID).
			Err(err).
			Msg("record event publish failed")
	}

	b.TouristsNotified = len(targets)
	b.DevicesNotified = devices
	b.SMSSent = sms
	if err := d.store.UpdateBroadcastCounters(ctx, b.ID, len(targets), devices, sms); err != nil {
		logging.Warn().
			Str("component", "broadcast").
			Str("broadcast_id", b.ID).
			Err(err).
			Msg("counter persist failed")
	}
	return b, nil
}

// materialize resolves the target set and the params to persist.
func (d *Dispatcher) materialize(ctx context.Context, req Request) ([]database.TouristTarget, map[string]any, error) {
	now := d.now().UTC()
	switch req.Type {
	case models.BroadcastRadius:
		radiusM := req.RadiusKM * 1000
		targets, err := d.store.TargetsWithinRadius(ctx, req.CenterLat, req.CenterLon, radiusM, now.Add(-targetRecency))
		return targets, map[string]any{
			"center_lat": req.CenterLat,
			"center_lon": req.CenterLon,
			"radius_km":  req.RadiusKM,
		}, err

	case models.BroadcastZone:
		zone, err := d.store.GetZone(ctx, req.ZoneID)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				return nil, nil, ErrUnknownZone
			}
			return nil, nil, err
		}
		if !zone.IsActive {
			return nil, nil, ErrUnknownZone
		}
		candidates, err := d.store.TargetsAll(ctx, now.Add(-targetRecency))
		if err != nil {
			return nil, nil, err
		}
		var targets []database.TouristTarget
		for _, t := range candidates {
			if d.inZone(t.Lat, t.Lon, req.ZoneID) {
				targets = append(targets, t)
			}
		}
		return targets, map[string]any{"zone_id": req.ZoneID}, nil

	case models.BroadcastRegion:
		targets, err := d.store.TargetsWithinRegion(ctx, req.MinLat, req.MinLon, req.MaxLat, req.MaxLon, now.Add(-targetRecency))
		return targets, map[string]any{
			"min_lat": req.MinLat, "min_lon": req.MinLon,
			"max_lat": req.MaxLat, "max_lon": req.MaxLon,
		}, err

	case models.BroadcastAll:
		targets, err := d.store.TargetsAll(ctx, now.Add(-allRecency))
		return targets, map[string]any{}, err

	default:
		return nil, nil, fmt.Errorf("unknown broadcast type %q", req.Type)
	}
}

// fanOut runs the per-tourist legs and returns (devices, sms) counts of
// legs submitted to their transports.
func (d *Dispatcher) fanOut(ctx context.Context, b *models.Broadcast, targets []database.TouristTarget) (int, int) {
	urgent := b.Severity == models.SeverityHigh || b.Severity == models.SeverityCritical
	devices, sms := 0, 0

	ids := make([]string, 0, len(targets))
	for _, t := range targets {
		ids = append(ids, t.ID)
	}
	devicesByTourist := make(map[string][]models.Device)
	if len(ids) > 0 {
		all, err := d.store.ActiveDevicesFor(ctx, ids)
		if err != nil {
			logging.Warn().
				Str("component", "broadcast").
				Str("broadcast_id", b.ID).
				Err(err).
				Msg("device lookup failed, push legs skipped")
		}
		for _, dev := range all {
			devicesByTourist[dev.TouristID] = append(devicesByTourist[dev.TouristID], dev)
		}
	}

	frame := models.BroadcastFrame(b)
	for _, target := range targets {
		legCtx, cancel := context.WithTimeout(ctx, legDeadline)

		if err := d.pub.Publish(legCtx, hub.TouristAlerts(target.ID), frame); err != nil {
			metrics.BroadcastLegs.WithLabelValues("hub", "error").Inc()
		} else {
			metrics.BroadcastLegs.WithLabelValues("hub", "ok").Inc()
		}

		for _, dev := range devicesByTourist[target.ID] {
			err := d.outbox.EnqueuePush(dev.PushToken, b.Title, b.Message, map[string]string{
				"broadcast_id": b.ID,
				"severity":     string(b.Severity),
			})
			if err != nil {
				metrics.BroadcastLegs.WithLabelValues("push", "error").Inc()
				continue
			}
			metrics.BroadcastLegs.WithLabelValues("push", "ok").Inc()
			devices++
		}

		if urgent {
			if n := d.smsLeg(legCtx, b, target.ID); n {
				sms++
			}
		}
		cancel()
	}
	return devices, sms
}

func (d *Dispatcher) smsLeg(ctx context.Context, b *models.Broadcast, touristID string) bool {
	tourist, err := d.store.GetTourist(ctx, touristID)
	if err != nil || tourist.Phone == "" {
		return false
	}
	body := fmt.Sprintf("[%s] %s: %s", b.Severity, b.Title, b.Message)
	if err := d.outbox.EnqueueSMS(tourist.Phone, body); err != nil {
		metrics.BroadcastLegs.WithLabelValues("sms", "error").Inc()
		return false
	}
	metrics.BroadcastLegs.WithLabelValues("sms", "ok").Inc()
	return true
}

// Ack records or revises a tourist's acknowledgement of a broadcast.
func (d *Dispatcher) Ack(ctx context.Context, broadcastID, touristID string, status models.AckStatus, note string) (*models.BroadcastAck, error) {
	if _, err := d.store.GetBroadcast(ctx, broadcastID); err != nil {
		return nil, err
	}
	return d.store.UpsertBroadcastAck(ctx, &models.BroadcastAck{
		BroadcastID: broadcastID,
		TouristID:   touristID,
		Status:      status,
		Note:        note,
	})
}

// Status returns a broadcast with its ack tallies for the authority
// view.
func (d *Dispatcher) Status(ctx context.Context, broadcastID string) (*models.Broadcast, map[models.AckStatus]int, error) {
	b, err := d.store.GetBroadcast(ctx, broadcastID)
	if err != nil {
		return nil, nil, err
	}
	counts, err := d.store.AckCounts(ctx, broadcastID)
	if err != nil {
		return nil, nil, err
	}
	return b, counts, nil
}

// ActiveFor lists unexpired broadcasts targeting a tourist's last known
// location. Targeting params are re-evaluated at read time, so a tourist
// who moved into a radius after dispatch still sees the warning.
func (d *Dispatcher) ActiveFor(ctx context.Context, touristID string, limit int) ([]models.Broadcast, error) {
	tourist, err := d.store.GetTourist(ctx, touristID)
	if err != nil {
		return nil, err
	}

	broadcasts, err := d.store.UnexpiredBroadcasts(ctx, limit)
	if err != nil {
		return nil, err
	}

	var out []models.Broadcast
	for _, b := range broadcasts {
		if d.covers(&b, tourist) {
			out = append(out, b)
		}
	}
	return out, nil
}

// covers reports whether a broadcast's targeting includes the tourist's
// last location. Tourists with no location only see global broadcasts.
func (d *Dispatcher) covers(b *models.Broadcast, tourist *models.Tourist) bool {
	if b.Type == models.BroadcastAll {
		return true
	}
	if tourist.LastLat == nil || tourist.LastLon == nil {
		return false
	}
	lat, lon := *tourist.LastLat, *tourist.LastLon

	switch b.Type {
	case models.BroadcastRadius:
		centerLat, ok1 := paramFloat(b.Params, "center_lat")
		centerLon, ok2 := paramFloat(b.Params, "center_lon")
		radiusKM, ok3 := paramFloat(b.Params, "radius_km")
		if !ok1 || !ok2 || !ok3 {
			return false
		}
		return geo.HaversineM(lat, lon, centerLat, centerLon) <= radiusKM*1000

	case models.BroadcastRegion:
		minLat, ok1 := paramFloat(b.Params, "min_lat")
		minLon, ok2 := paramFloat(b.Params, "min_lon")
		maxLat, ok3 := paramFloat(b.Params, "max_lat")
		maxLon, ok4 := paramFloat(b.Params, "max_lon")
		if !ok1 || !ok2 || !ok3 || !ok4 {
			return false
		}
		return lat >= minLat && lat <= maxLat && lon >= minLon && lon <= maxLon

	case models.BroadcastZone:
		zoneID, ok := b.Params["zone_id"].(string)
		if !ok {
			return false
		}
		return d.inZone(lat, lon, zoneID)

	default:
		return false
	}
}

func (d *Dispatcher) inZone(lat, lon float64, zoneID string) bool {
	for _, hit := range d.zones.Locate(lat, lon) {
		if hit.Zone.ID == zoneID {
			return true
		}
	}
	return false
}

// paramFloat reads a numeric targeting param; JSONB round-trips numbers
// as float64.
func paramFloat(params map[string]any, key string) (float64, bool) {
	switch v := params[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}
