// SafeHorizon - Tourist Safety Platform Backend
// Copyright 2026 SafeHorizon Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/safehorizon/safehorizon

package broadcast

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/safehorizon/safehorizon/internal/database"
	"github.com/safehorizon/safehorizon/internal/geofence"
	"github.com/safehorizon/safehorizon/internal/hub"
	"github.com/safehorizon/safehorizon/internal/models"
)

type fakeStore struct {
	targets   []database.TouristTarget
	devices   []models.Device
	tourists  map[string]*models.Tourist
	zones     map[string]*models.Zone
	unexpired []models.Broadcast

	inserted *models.Broadcast
	counters [3]int
	acks     []*models.BroadcastAck
}

func (f *fakeStore) InsertBroadcast(_ context.Context, b *models.Broadcast) (*models.Broadcast, error) {
	b.ID = "b-1"
	b.BroadcastNumber = "BCAST-20260825-0001"
	b.CreatedAt = time.Now().UTC()
	f.inserted = b
	return b, nil
}

func (f *fakeStore) UpdateBroadcastCounters(_ context.Context, _ string, tourists, devices, sms int) error {
	f.counters = [3]int{tourists, devices, sms}
	return nil
}

func (f *fakeStore) GetBroadcast(_ context.Context, id string) (*models.Broadcast, error) {
	if f.inserted != nil && f.inserted.ID == id {
		return f.inserted, nil
	}
	return nil, database.ErrNotFound
}

func (f *fakeStore) UnexpiredBroadcasts(context.Context, int) ([]models.Broadcast, error) {
	return f.unexpired, nil
}

func (f *fakeStore) TargetsWithinRadius(context.Context, float64, float64, float64, time.Time) ([]database.TouristTarget, error) {
	return f.targets, nil
}

func (f *fakeStore) TargetsWithinRegion(context.Context, float64, float64, float64, float64, time.Time) ([]database.TouristTarget, error) {
	return f.targets, nil
}

func (f *fakeStore) TargetsAll(context.Context, time.Time) ([]database.TouristTarget, error) {
	return f.targets, nil
}

func (f *fakeStore) UpsertBroadcastAck(_ context.Context, ack *models.BroadcastAck) (*models.BroadcastAck, error) {
	for _, existing := range f.acks {
		if existing.TouristID == ack.TouristID && existing.BroadcastID == ack.BroadcastID {
			existing.Status = ack.Status
			existing.Note = ack.Note
			return existing, nil
		}
	}
	f.acks = append(f.acks, ack)
	return ack, nil
}

func (f *fakeStore) AckCounts(context.Context, string) (map[models.AckStatus]int, error) {
	counts := make(map[models.AckStatus]int)
	for _, ack := range f.acks {
		counts[ack.Status]++
	}
	return counts, nil
}

func (f *fakeStore) ActiveDevicesFor(context.Context, []string) ([]models.Device, error) {
	return f.devices, nil
}

func (f *fakeStore) GetTourist(_ context.Context, id string) (*models.Tourist, error) {
	t, ok := f.tourists[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return t, nil
}

func (f *fakeStore) GetZone(_ context.Context, id string) (*models.Zone, error) {
	z, ok := f.zones[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return z, nil
}

type capturingPub struct {
	channels []string
}

func (p *capturingPub) Publish(_ context.Context, channel string, _ models.Frame) error {
	p.channels = append(p.channels, channel)
	return nil
}

type fakeOutbox struct {
	pushes []string
	sms    []string
}

func (f *fakeOutbox) EnqueuePush(token, _, _ string, _ map[string]string) error {
	f.pushes = append(f.pushes, token)
	return nil
}

func (f *fakeOutbox) EnqueueSMS(phone, _ string) error {
	f.sms = append(f.sms, phone)
	return nil
}

func target(id string, lat, lon float64) database.TouristTarget {
	return database.TouristTarget{ID: id, Lat: lat, Lon: lon, LastSeen: time.Now().UTC()}
}

func radiusRequest(severity models.Severity) Request {
	return Request{
		Type:      models.BroadcastRadius,
		Title:     "Flood warning",
		Message:   "Avoid the riverfront",
		Severity:  severity,
		SentBy:    "auth-1",
		CenterLat: 26.91,
		CenterLon: 75.78,
		RadiusKM:  5,
	}
}

func TestDispatch_RadiusCountsAndChannels(t *testing.T) {
	store := &fakeStore{
		targets: []database.TouristTarget{target("t-1", 26.91, 75.78), target("t-2", 26.92, 75.79)},
		devices: []models.Device{
			{ID: "d-1", TouristID: "t-1", PushToken: "tok-1", IsActive: true},
			{ID: "d-2", TouristID: "t-1", PushToken: "tok-2", IsActive: true},
		},
		tourists: map[string]*models.Tourist{
			"t-1": {ID: "t-1", Phone: "+911111"},
			"t-2": {ID: "t-2"}, // no phone, no SMS leg
		},
	}
	pub := &capturingPub{}
	outbox := &fakeOutbox{}
	d := New(store, geofence.NewIndex(), pub, outbox)

	b, err := d.Dispatch(context.Background(), radiusRequest(models.SeverityHigh))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if b.TouristsNotified != 2 {
		t.Errorf("tourists_notified: want 2, got %d", b.TouristsNotified)
	}
	if b.DevicesNotified != 2 {
		t.Errorf("devices_notified: want 2, got %d", b.DevicesNotified)
	}
	if b.SMSSent != 1 {
		t.Errorf("sms_sent: want 1 (only t-1 has a phone), got %d", b.SMSSent)
	}
	if store.counters != [3]int{2, 2, 1} {
		t.Errorf("persisted counters: want [2 2 1], got %v", store.counters)
	}
	if len(outbox.sms) != 1 || outbox.sms[0] != "+911111" {
		t.Errorf("sms leg: got %v", outbox.sms)
	}

	// Per-tourist hub legs plus one record-level event on broadcasts.all.
	wantChannels := map[string]bool{
		hub.TouristAlerts("t-1"): true,
		hub.TouristAlerts("t-2"): true,
		hub.ChannelBroadcastsAll: true,
	}
	if len(pub.channels) != 3 {
		t.Fatalf("want 3 publishes, got %v", pub.channels)
	}
	for _, ch := range pub.channels {
		if !wantChannels[ch] {
			t.Errorf("unexpected channel %s", ch)
		}
	}
}

func TestDispatch_LowSeveritySkipsSMS(t *testing.T) {
	store := &fakeStore{
		targets:  []database.TouristTarget{target("t-1", 26.91, 75.78)},
		tourists: map[string]*models.Tourist{"t-1": {ID: "t-1", Phone: "+911111"}},
	}
	outbox := &fakeOutbox{}
	d := New(store, geofence.NewIndex(), &capturingPub{}, outbox)

	b, err := d.Dispatch(context.Background(), radiusRequest(models.SeverityMedium))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if b.SMSSent != 0 || len(outbox.sms) != 0 {
		t.Errorf("medium severity must skip SMS, got %d sent", b.SMSSent)
	}
}

func TestDispatch_ZoneTargeting(t *testing.T) {
	zone := models.Zone{
		ID:        "z-1",
		Name:      "Fort area",
		Type:      models.ZoneRisky,
		CenterLat: 26.91,
		CenterLon: 75.78,
		RadiusM:   1000,
		IsActive:  true,
	}
	idx := geofence.NewIndex()
	idx.Replace([]models.Zone{zone})

	store := &fakeStore{
		targets: []database.TouristTarget{
			target("t-inside", 26.9105, 75.7805),
			target("t-outside", 27.5, 76.5),
		},
		tourists: map[string]*models.Tourist{},
		zones:    map[string]*models.Zone{"z-1": &zone},
	}
	pub := &capturingPub{}
	d := New(store, idx, pub, &fakeOutbox{})

	b, err := d.Dispatch(context.Background(), Request{
		Type:     models.BroadcastZone,
		ZoneID:   "z-1",
		Title:    "Zone closure",
		Message:  "Leave the fort area",
		Severity: models.SeverityLow,
		SentBy:   "auth-1",
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if b.TouristsNotified != 1 {
		t.Errorf("only the tourist inside the zone is targeted, got %d", b.TouristsNotified)
	}
	found := false
	for _, ch := range pub.channels {
		if ch == hub.ZoneBroadcasts("z-1") {
			found = true
		}
	}
	if !found {
		t.Errorf("record event must go to the zone channel, got %v", pub.channels)
	}
}

func TestDispatch_UnknownZone(t *testing.T) {
	store := &fakeStore{zones: map[string]*models.Zone{}}
	d := New(store, geofence.NewIndex(), &capturingPub{}, &fakeOutbox{})

	_, err := d.Dispatch(context.Background(), Request{
		Type: models.BroadcastZone, ZoneID: "z-missing",
		Title: "x", Message: "y", Severity: models.SeverityLow,
	})
	if !errors.Is(err, ErrUnknownZone) {
		t.Fatalf("want ErrUnknownZone, got %v", err)
	}
}

func TestAck_ReviseInPlace(t *testing.T) {
	store := &fakeStore{tourists: map[string]*models.Tourist{"t-1": {ID: "t-1"}}}
	d := New(store, geofence.NewIndex(), &capturingPub{}, &fakeOutbox{})

	if _, err := d.Dispatch(context.Background(), radiusRequest(models.SeverityLow)); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if _, err := d.Ack(context.Background(), "b-1", "t-1", models.AckNeedHelp, ""); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if _, err := d.Ack(context.Background(), "b-1", "t-1", models.AckSafe, "found shelter"); err != nil {
		t.Fatalf("re-Ack: %v", err)
	}

	_, counts, err := d.Status(context.Background(), "b-1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if counts[models.AckSafe] != 1 || counts[models.AckNeedHelp] != 0 {
		t.Errorf("re-ack must revise without double counting, got %v", counts)
	}
}

func TestAck_UnknownBroadcast(t *testing.T) {
	d := New(&fakeStore{}, geofence.NewIndex(), &capturingPub{}, &fakeOutbox{})
	if _, err := d.Ack(context.Background(), "b-missing", "t-1", models.AckSafe, ""); !errors.Is(err, database.ErrNotFound) {
		t.Fatalf("want not found, got %v", err)
	}
}

func TestActiveFor_ReevaluatesTargeting(t *testing.T) {
	lat, lon := 26.91, 75.78
	store := &fakeStore{
		tourists: map[string]*models.Tourist{
			"t-1": {ID: "t-1", LastLat: &lat, LastLon: &lon},
		},
		unexpired: []models.Broadcast{
			{ID: "b-all", Type: models.BroadcastAll},
			{ID: "b-near", Type: models.BroadcastRadius, Params: map[string]any{
				"center_lat": 26.91, "center_lon": 75.78, "radius_km": 5.0,
			}},
			{ID: "b-far", Type: models.BroadcastRadius, Params: map[string]any{
				"center_lat": 28.6, "center_lon": 77.2, "radius_km": 5.0,
			}},
			{ID: "b-region-out", Type: models.BroadcastRegion, Params: map[string]any{
				"min_lat": 30.0, "min_lon": 70.0, "max_lat": 31.0, "max_lon": 71.0,
			}},
		},
	}
	d := New(store, geofence.NewIndex(), &capturingPub{}, &fakeOutbox{})

	active, err := d.ActiveFor(context.Background(), "t-1", 50)
	if err != nil {
		t.Fatalf("ActiveFor: %v", err)
	}
	got := make(map[string]bool, len(active))
	for _, b := range active {
		got[b.ID] = true
	}
	if !got["b-all"] || !got["b-near"] {
		t.Errorf("global and in-radius broadcasts must be listed, got %v", got)
	}
	if got["b-far"] || got["b-region-out"] {
		t.Errorf("out-of-area broadcasts must be hidden, got %v", got)
	}
}

func TestActiveFor_NoLocationSeesOnlyGlobal(t *testing.T) {
	store := &fakeStore{
		tourists: map[string]*models.Tourist{"t-1": {ID: "t-1"}},
		unexpired: []models.Broadcast{
			{ID: "b-all", Type: models.BroadcastAll},
			{ID: "b-near", Type: models.BroadcastRadius, Params: map[string]any{
				"center_lat": 26.91, "center_lon": 75.78, "radius_km": 5.0,
			}},
		},
	}
	d := New(store, geofence.NewIndex(), &capturingPub{}, &fakeOutbox{})

	active, err := d.ActiveFor(context.Background(), "t-1", 50)
	if err != nil {
		t.Fatalf("ActiveFor: %v", err)
	}
	if len(active) != 1 || active[0].ID != "b-all" {
		t.Errorf("want only the global broadcast, got %v", active)
	}
}
