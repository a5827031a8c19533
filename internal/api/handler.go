// SafeHorizon - Tourist Safety Platform Backend
// Copyright 2026 SafeHorizon Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/safehorizon/safehorizon

// Package api is the HTTP surface: chi routing, the response envelope,
// and every REST handler. Handlers stay thin; domain behavior lives in
// ingest, alerts, broadcast, efir and scoring.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/safehorizon/safehorizon/internal/auth"
	"github.com/safehorizon/safehorizon/internal/broadcast"
	"github.com/safehorizon/safehorizon/internal/config"
	"github.com/safehorizon/safehorizon/internal/database"
	"github.com/safehorizon/safehorizon/internal/efir"
	"github.com/safehorizon/safehorizon/internal/geofence"
	"github.com/safehorizon/safehorizon/internal/hub"
	"github.com/safehorizon/safehorizon/internal/ingest"
	"github.com/safehorizon/safehorizon/internal/models"
	"github.com/safehorizon/safehorizon/internal/scoring"
)

// Store is the persistence surface the handlers read and write. The
// concrete implementation is database.Store; tests substitute fakes.
type Store interface {
	Ping(ctx context.Context) error

	CreateTourist(ctx context.Context, req *models.RegisterTouristRequest, passwordHash string) (*models.Tourist, error)
	CreateAuthority(ctx context.Context, req *models.RegisterAuthorityRequest, passwordHash string, role models.Role) (*models.Authority, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetTourist(ctx context.Context, id string) (*models.Tourist, error)
	GetAuthority(ctx context.Context, id string) (*models.Authority, error)
	SetUserActive(ctx context.Context, id string, active bool) error
	ListUsers(ctx context.Context, limit int) ([]models.User, error)

	StartTrip(ctx context.Context, touristID, destination, itinerary string) (*models.Trip, error)
	EndTrip(ctx context.Context, touristID string) (*models.Trip, error)
	TripHistory(ctx context.Context, touristID string, limit int) ([]models.Trip, error)

	CreateZone(ctx context.Context, zone *models.Zone, createdBy string) (*models.Zone, error)
	UpdateZone(ctx context.Context, id string, req *models.ZoneUpdateRequest) (*models.Zone, error)
	DeactivateZone(ctx context.Context, id string) error
	ActiveZones(ctx context.Context) ([]models.Zone, error)

	LocationHistory(ctx context.Context, touristID string, since time.Time, limit int) ([]models.LocationSample, error)
	LatestSample(ctx context.Context, touristID string) (*models.LocationSample, error)
	ActiveTourists(ctx context.Context, since time.Time, limit int) ([]models.Tourist, error)

	ListAlerts(ctx context.Context, filter database.AlertFilter) ([]models.Alert, error)
	GetAlert(ctx context.Context, id string) (*models.Alert, error)
	AcknowledgeAlert(ctx context.Context, id, byUserID string) (*models.Alert, error)
	ResolveAlert(ctx context.Context, id, byUserID string) (*models.Alert, error)
	PanicAlertsSince(ctx context.Context, since time.Time, limit int) ([]models.Alert, error)

	OpenIncidentForAlert(ctx context.Context, alertID, assignedTo string) (*models.Incident, error)
	UpdateIncidentStatus(ctx context.Context, alertID string, status models.IncidentStatus, notes string) (*models.Incident, error)

	UpsertDevice(ctx context.Context, touristID string, platform models.Platform, pushToken string) (*models.Device, error)
	ActiveDevicesFor(ctx context.Context, touristIDs []string) ([]models.Device, error)

	ListEFIRs(ctx context.Context, touristID string, limit int) ([]models.EFIR, error)

	Dashboard(ctx context.Context, activeSince time.Time) (*models.DashboardResponse, error)
}

// Ingestor runs the location pipeline.
type Ingestor interface {
	Ingest(ctx context.Context, touristID string, sample *models.LocationSample) (*ingest.Result, error)
}

// PanicCreator raises panic alerts for the SOS endpoint.
type PanicCreator interface {
	CreatePanic(ctx context.Context, touristID string, lat, lon *float64, message string) (*models.Alert, bool, error)
}

// Scorer computes on-demand safety scores.
type Scorer interface {
	Compute(ctx context.Context, in scoring.Input) (*scoring.Result, error)
}

// Issuer files and verifies E-FIR reports.
type Issuer interface {
	Issue(ctx context.Context, req efir.IssueRequest) (*models.EFIR, error)
	Verify(ctx context.Context, txID string) (*models.EFIRVerifyResponse, error)
}

// Broadcaster runs authority fan-outs.
type Broadcaster interface {
	Dispatch(ctx context.Context, req broadcast.Request) (*models.Broadcast, error)
	Ack(ctx context.Context, broadcastID, touristID string, status models.AckStatus, note string) (*models.BroadcastAck, error)
	Status(ctx context.Context, broadcastID string) (*models.Broadcast, map[models.AckStatus]int, error)
	ActiveFor(ctx context.Context, touristID string, limit int) ([]models.Broadcast, error)
}

// Enqueuer journals push and SMS deliveries.
type Enqueuer interface {
	EnqueuePush(token, title, body string, data map[string]string) error
	EnqueueSMS(phone, body string) error
}

// Publisher emits hub frames for alert lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, channel string, frame models.Frame) error
	Stats() models.HubStats
}

// BrokerHealth reports cross-instance propagation health.
type BrokerHealth interface {
	Healthy() bool
}

// Invalidator triggers a geofence snapshot reload after zone mutations.
type Invalidator interface {
	Invalidate()
}

// Handler carries every dependency the REST handlers use.
type Handler struct {
	store     Store
	cfg       *config.Config
	jwt       *auth.JWTManager
	pipeline  Ingestor
	panics    PanicCreator
	scorer    Scorer
	issuer    Issuer
	broadcast Broadcaster
	outbox    Enqueuer
	pub       Publisher
	zones     *geofence.Index
	refresher Invalidator
	broker    BrokerHealth
	gateway   http.Handler
	startTime time.Time
	version   string
}

// Deps bundles the Handler dependencies.
type Deps struct {
	Store     Store
	Config    *config.Config
	JWT       *auth.JWTManager
	Pipeline  Ingestor
	Panics    PanicCreator
	Scorer    Scorer
	Issuer    Issuer
	Broadcast Broadcaster
	Outbox    Enqueuer
	Hub       Publisher
	Zones     *geofence.Index
	Refresher Invalidator
	Broker    BrokerHealth
	Gateway   http.Handler
	Version   string
}

// NewHandler builds the handler set.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		store:     deps.Store,
		cfg:       deps.Config,
		jwt:       deps.JWT,
		pipeline:  deps.Pipeline,
		panics:    deps.Panics,
		scorer:    deps.Scorer,
		issuer:    deps.Issuer,
		broadcast: deps.Broadcast,
		outbox:    deps.Outbox,
		pub:       deps.Hub,
		zones:     deps.Zones,
		refresher: deps.Refresher,
		broker:    deps.Broker,
		gateway:   deps.Gateway,
		startTime: time.Now().UTC(),
		version:   deps.Version,
	}
}

var _ Store = (*database.Store)(nil)
var _ Publisher = (*hub.Hub)(nil)
