// SafeHorizon - Tourist Safety Platform Backend
// Copyright 2026 SafeHorizon Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/safehorizon/safehorizon

package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/safehorizon/safehorizon/internal/auth"
	"github.com/safehorizon/safehorizon/internal/broadcast"
	"github.com/safehorizon/safehorizon/internal/config"
	"github.com/safehorizon/safehorizon/internal/database"
	"github.com/safehorizon/safehorizon/internal/efir"
	"github.com/safehorizon/safehorizon/internal/geofence"
	"github.com/safehorizon/safehorizon/internal/ingest"
	"github.com/safehorizon/safehorizon/internal/models"
	"github.com/safehorizon/safehorizon/internal/scoring"
)

// Valid v4 UUIDs for fields validated as uuid4.
const (
	touristUUID = "9b2d7c3e-5a41-4f6b-8c2d-0e1f2a3b4c5d"
	otherUUID   = "1a2b3c4d-5e6f-4a1b-9c8d-7e6f5a4b3c2d"
	alertUUID   = "4f8e2d1c-0b9a-4c3d-ae5f-6a7b8c9d0e1f"
)

// fakeStore satisfies Store. Function fields override per test; nil
// getters answer ErrNotFound, nil mutators succeed.
type fakeStore struct {
	pingErr error

	createTourist   func(req *models.RegisterTouristRequest, hash string) (*models.Tourist, error)
	createAuthority func(req *models.RegisterAuthorityRequest, hash string, role models.Role) (*models.Authority, error)
	userByEmail     func(email string) (*models.User, error)
	tourist         func(id string) (*models.Tourist, error)
	authority       func(id string) (*models.Authority, error)
	setUserActive   func(id string, active bool) error
	users           []models.User

	startTrip func(touristID, destination, itinerary string) (*models.Trip, error)
	endTrip   func(touristID string) (*models.Trip, error)
	trips     []models.Trip

	createZone     func(zone *models.Zone, createdBy string) (*models.Zone, error)
	updateZone     func(id string, req *models.ZoneUpdateRequest) (*models.Zone, error)
	deactivateZone func(id string) error
	activeZones    []models.Zone

	history        []models.LocationSample
	latest         func(touristID string) (*models.LocationSample, error)
	activeTourists []models.Tourist

	listAlerts   func(filter database.AlertFilter) ([]models.Alert, error)
	ackAlert     func(id, byUserID string) (*models.Alert, error)
	resolveAlert func(id, byUserID string) (*models.Alert, error)
	panicAlerts  []models.Alert

	openIncident   func(alertID, assignedTo string) (*models.Incident, error)
	updateIncident func(alertID string, status models.IncidentStatus, notes string) (*models.Incident, error)

	upsertDevice func(touristID string, platform models.Platform, token string) (*models.Device, error)
	devices      []models.Device

	efirs []models.EFIR

	dashboard *models.DashboardResponse
}

func (s *fakeStore) Ping(context.Context) error { return s.pingErr }

func (s *fakeStore) CreateTourist(_ context.Context, req *models.RegisterTouristRequest, hash string) (*models.Tourist, error) {
	if s.createTourist == nil {
		return nil, database.ErrNotFound
	}
	return s.createTourist(req, hash)
}

func (s *fakeStore) CreateAuthority(_ context.Context, req *models.RegisterAuthorityRequest, hash string, role models.Role) (*models.Authority, error) {
	if s.createAuthority == nil {
		return nil, database.ErrNotFound
	}
	return s.createAuthority(req, hash, role)
}

func (s *fakeStore) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	if s.userByEmail == nil {
		return nil, database.ErrNotFound
	}
	return s.userByEmail(email)
}

func (s *fakeStore) GetUser(_ context.Context, id string) (*models.User, error) {
	return nil, database.ErrNotFound
}

func (s *fakeStore) GetTourist(_ context.Context, id string) (*models.Tourist, error) {
	if s.tourist == nil {
		return nil, database.ErrNotFound
	}
	return s.tourist(id)
}

func (s *fakeStore) GetAuthority(_ context.Context, id string) (*models.Authority, error) {
	if s.authority == nil {
		return nil, database.ErrNotFound
	}
	return s.authority(id)
}

func (s *fakeStore) SetUserActive(_ context.Context, id string, active bool) error {
	if s.setUserActive == nil {
		return nil
	}
	return s.setUserActive(id, active)
}

func (s *fakeStore) ListUsers(_ context.Context, limit int) ([]models.User, error) {
	return s.users, nil
}

func (s *fakeStore) StartTrip(_ context.Context, touristID, destination, itinerary string) (*models.Trip, error) {
	if s.startTrip == nil {
		return nil, database.ErrNotFound
	}
	return s.startTrip(touristID, destination, itinerary)
}

func (s *fakeStore) EndTrip(_ context.Context, touristID string) (*models.Trip, error) {
	if s.endTrip == nil {
		return nil, database.ErrNotFound
	}
	return s.endTrip(touristID)
}

func (s *fakeStore) TripHistory(_ context.Context, touristID string, limit int) ([]models.Trip, error) {
	return s.trips, nil
}

func (s *fakeStore) CreateZone(_ context.Context, zone *models.Zone, createdBy string) (*models.Zone, error) {
	if s.createZone == nil {
		return nil, database.ErrNotFound
	}
	return s.createZone(zone, createdBy)
}

func (s *fakeStore) UpdateZone(_ context.Context, id string, req *models.ZoneUpdateRequest) (*models.Zone, error) {
	if s.updateZone == nil {
		return nil, database.ErrNotFound
	}
	return s.updateZone(id, req)
}

func (s *fakeStore) DeactivateZone(_ context.Context, id string) error {
	if s.deactivateZone == nil {
		return nil
	}
	return s.deactivateZone(id)
}

func (s *fakeStore) ActiveZones(_ context.Context) ([]models.Zone, error) {
	return s.activeZones, nil
}

func (s *fakeStore) LocationHistory(_ context.Context, touristID string, since time.Time, limit int) ([]models.LocationSample, error) {
	return s.history, nil
}

func (s *fakeStore) LatestSample(_ context.Context, touristID string) (*models.LocationSample, error) {
	if s.latest == nil {
		return nil, database.ErrNotFound
	}
	return s.latest(touristID)
}

func (s *fakeStore) ActiveTourists(_ context.Context, since time.Time, limit int) ([]models.Tourist, error) {
	return s.activeTourists, nil
}

func (s *fakeStore) ListAlerts(_ context.Context, filter database.AlertFilter) ([]models.Alert, error) {
	if s.listAlerts == nil {
		return nil, nil
	}
	return s.listAlerts(filter)
}

func (s *fakeStore) GetAlert(_ context.Context, id string) (*models.Alert, error) {
	return nil, database.ErrNotFound
}

func (s *fakeStore) AcknowledgeAlert(_ context.Context, id, byUserID string) (*models.Alert, error) {
	if s.ackAlert == nil {
		return nil, database.ErrNotFound
	}
	return s.ackAlert(id, byUserID)
}

func (s *fakeStore) ResolveAlert(_ context.Context, id, byUserID string) (*models.Alert, error) {
	if s.resolveAlert == nil {
		return nil, database.ErrNotFound
	}
	return s.resolveAlert(id, byUserID)
}

func (s *fakeStore) PanicAlertsSince(_ context.Context, since time.Time, limit int) ([]models.Alert, error) {
	return s.panicAlerts, nil
}

func (s *fakeStore) OpenIncidentForAlert(_ context.Context, alertID, assignedTo string) (*models.Incident, error) {
	if s.openIncident == nil {
		return nil, database.ErrNotFound
	}
	return s.openIncident(alertID, assignedTo)
}

func (s *fakeStore) UpdateIncidentStatus(_ context.Context, alertID string, status models.IncidentStatus, notes string) (*models.Incident, error) {
	if s.updateIncident == nil {
		return nil, database.ErrNotFound
	}
	return s.updateIncident(alertID, status, notes)
}

func (s *fakeStore) UpsertDevice(_ context.Context, touristID string, platform models.Platform, pushToken string) (*models.Device, error) {
	if s.upsertDevice == nil {
		return nil, database.ErrNotFound
	}
	return s.upsertDevice(touristID, platform, pushToken)
}

func (s *fakeStore) ActiveDevicesFor(_ context.Context, touristIDs []string) ([]models.Device, error) {
	return s.devices, nil
}

func (s *fakeStore) ListEFIRs(_ context.Context, touristID string, limit int) ([]models.EFIR, error) {
	return s.efirs, nil
}

func (s *fakeStore) Dashboard(_ context.Context, activeSince time.Time) (*models.DashboardResponse, error) {
	if s.dashboard == nil {
		return nil, database.ErrNotFound
	}
	return s.dashboard, nil
}

var _ Store = (*fakeStore)(nil)

type fakePipeline struct {
	result *ingest.Result
	err    error

	gotTouristID string
	gotSample    *models.LocationSample
}

func (p *fakePipeline) Ingest(_ context.Context, touristID string, sample *models.LocationSample) (*ingest.Result, error) {
	p.gotTouristID = touristID
	p.gotSample = sample
	if p.err != nil {
		return nil, p.err
	}
	return p.result, nil
}

type fakePanics struct {
	alert  *models.Alert
	wasNew bool
	err    error

	gotLat, gotLon *float64
	gotMessage     string
}

func (p *fakePanics) CreatePanic(_ context.Context, touristID string, lat, lon *float64, message string) (*models.Alert, bool, error) {
	p.gotLat, p.gotLon = lat, lon
	p.gotMessage = message
	if p.err != nil {
		return nil, false, p.err
	}
	return p.alert, p.wasNew, nil
}

type fakeScorer struct {
	result *scoring.Result
	err    error
	gotIn  scoring.Input
}

func (s *fakeScorer) Compute(_ context.Context, in scoring.Input) (*scoring.Result, error) {
	s.gotIn = in
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

type fakeIssuer struct {
	report *models.EFIR
	verify *models.EFIRVerifyResponse
	err    error

	gotIssue   efir.IssueRequest
	gotVerifyT string
}

func (i *fakeIssuer) Issue(_ context.Context, req efir.IssueRequest) (*models.EFIR, error) {
	i.gotIssue = req
	if i.err != nil {
		return nil, i.err
	}
	return i.report, nil
}

func (i *fakeIssuer) Verify(_ context.Context, txID string) (*models.EFIRVerifyResponse, error) {
	i.gotVerifyT = txID
	if i.err != nil {
		return nil, i.err
	}
	return i.verify, nil
}

type fakeBroadcaster struct {
	b      *models.Broadcast
	ack    *models.BroadcastAck
	counts map[models.AckStatus]int
	active []models.Broadcast
	err    error

	gotReq broadcast.Request
}

func (f *fakeBroadcaster) Dispatch(_ context.Context, req broadcast.Request) (*models.Broadcast, error) {
	f.gotReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.b, nil
}

func (f *fakeBroadcaster) Ack(_ context.Context, broadcastID, touristID string, status models.AckStatus, note string) (*models.BroadcastAck, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.ack, nil
}

func (f *fakeBroadcaster) Status(_ context.Context, broadcastID string) (*models.Broadcast, map[models.AckStatus]int, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.b, f.counts, nil
}

func (f *fakeBroadcaster) ActiveFor(_ context.Context, touristID string, limit int) ([]models.Broadcast, error) {
	return f.active, nil
}

type pushRecord struct {
	token, title, body string
	data               map[string]string
}

type smsRecord struct {
	phone, body string
}

type fakeOutbox struct {
	pushes []pushRecord
	sms    []smsRecord
	err    error
}

func (o *fakeOutbox) EnqueuePush(token, title, body string, data map[string]string) error {
	if o.err != nil {
		return o.err
	}
	o.pushes = append(o.pushes, pushRecord{token: token, title: title, body: body, data: data})
	return nil
}

func (o *fakeOutbox) EnqueueSMS(phone, body string) error {
	if o.err != nil {
		return o.err
	}
	o.sms = append(o.sms, smsRecord{phone: phone, body: body})
	return nil
}

type publishedFrame struct {
	channel string
	frame   models.Frame
}

type fakePublisher struct {
	mu     sync.Mutex
	frames []publishedFrame
	err    error
	stats  models.HubStats
}

func (p *fakePublisher) Publish(_ context.Context, channel string, frame models.Frame) error {
	if p.err != nil {
		return p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = append(p.frames, publishedFrame{channel: channel, frame: frame})
	return nil
}

func (p *fakePublisher) Stats() models.HubStats { return p.stats }

func (p *fakePublisher) onChannel(channel string) []models.Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	var frames []models.Frame
	for _, pf := range p.frames {
		if pf.channel == channel {
			frames = append(frames, pf.frame)
		}
	}
	return frames
}

type fakeBroker struct{ healthy bool }

func (b *fakeBroker) Healthy() bool { return b.healthy }

type fakeRefresher struct{ calls int }

func (f *fakeRefresher) Invalidate() { f.calls++ }

// testEnv bundles a Handler with every fake behind it.
type testEnv struct {
	handler   *Handler
	store     *fakeStore
	pipeline  *fakePipeline
	panics    *fakePanics
	scorer    *fakeScorer
	issuer    *fakeIssuer
	broadcast *fakeBroadcaster
	outbox    *fakeOutbox
	pub       *fakePublisher
	zones     *geofence.Index
	refresher *fakeRefresher
	broker    *fakeBroker
	jwt       *auth.JWTManager
	cfg       *config.Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := &config.Config{
		Security: config.SecurityConfig{
			JWTSecret:        "0123456789abcdef0123456789abcdef",
			JWTExpiryMin:     60,
			AllowedOrigins:   []string{"*"},
			RateLimitRPM:     600,
			AuthRateLimitRPM: 120,
		},
	}
	jwtm, err := auth.NewJWTManager(cfg.Security)
	if err != nil {
		t.Fatalf("NewJWTManager: %v", err)
	}

	env := &testEnv{
		store:     &fakeStore{},
		pipeline:  &fakePipeline{},
		panics:    &fakePanics{},
		scorer:    &fakeScorer{},
		issuer:    &fakeIssuer{},
		broadcast: &fakeBroadcaster{},
		outbox:    &fakeOutbox{},
		pub:       &fakePublisher{},
		zones:     geofence.NewIndex(),
		refresher: &fakeRefresher{},
		broker:    &fakeBroker{healthy: true},
		jwt:       jwtm,
		cfg:       cfg,
	}
	env.handler = NewHandler(Deps{
		Store:     env.store,
		Config:    cfg,
		JWT:       jwtm,
		Pipeline:  env.pipeline,
		Panics:    env.panics,
		Scorer:    env.scorer,
		Issuer:    env.issuer,
		Broadcast: env.broadcast,
		Outbox:    env.outbox,
		Hub:       env.pub,
		Zones:     env.zones,
		Refresher: env.refresher,
		Broker:    env.broker,
		Gateway:   http.NotFoundHandler(),
		Version:   "test",
	})
	return env
}

func jsonRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func as(r *http.Request, userID string, role models.Role) *http.Request {
	return r.WithContext(auth.WithPrincipal(r.Context(), userID, role))
}

// withURLParam injects a chi route parameter for handlers invoked
// outside the router.
func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// envelope mirrors APIResponse with the payload kept raw so tests can
// decode it into the concrete type.
type envelope struct {
	Status   string          `json:"status"`
	Data     json.RawMessage `json:"data"`
	Metadata models.Metadata `json:"metadata"`
	Error    *models.APIError `json:"error"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v\nbody: %s", err, rec.Body.String())
	}
	return env
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	env := decodeEnvelope(t, rec)
	if env.Status != "success" {
		t.Fatalf("expected success envelope, got %s: %s", env.Status, rec.Body.String())
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		t.Fatalf("decode data: %v\nbody: %s", err, rec.Body.String())
	}
}

func wantError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) *models.APIError {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status: want %d, got %d (body %s)", status, rec.Code, rec.Body.String())
	}
	env := decodeEnvelope(t, rec)
	if env.Status != "error" || env.Error == nil {
		t.Fatalf("expected error envelope, got %s", rec.Body.String())
	}
	if env.Error.Code != code {
		t.Fatalf("error code: want %s, got %s", code, env.Error.Code)
	}
	return env.Error
}
