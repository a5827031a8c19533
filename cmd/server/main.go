// SafeHorizon - Tourist Safety Platform Backend
// Copyright 2026 SafeHorizon Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/safehorizon/safehorizon

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	_ "github.com/safehorizon/safehorizon/docs" // generated swagger spec
	"github.com/safehorizon/safehorizon/internal/alerts"
	"github.com/safehorizon/safehorizon/internal/api"
	"github.com/safehorizon/safehorizon/internal/auth"
	"github.com/safehorizon/safehorizon/internal/authz"
	"github.com/safehorizon/safehorizon/internal/broadcast"
	"github.com/safehorizon/safehorizon/internal/broker"
	"github.com/safehorizon/safehorizon/internal/config"
	"github.com/safehorizon/safehorizon/internal/database"
	"github.com/safehorizon/safehorizon/internal/efir"
	"github.com/safehorizon/safehorizon/internal/geofence"
	"github.com/safehorizon/safehorizon/internal/hub"
	"github.com/safehorizon/safehorizon/internal/ingest"
	"github.com/safehorizon/safehorizon/internal/logging"
	"github.com/safehorizon/safehorizon/internal/models"
	"github.com/safehorizon/safehorizon/internal/notify"
	"github.com/safehorizon/safehorizon/internal/scoring"
	"github.com/safehorizon/safehorizon/internal/supervisor"
	"github.com/safehorizon/safehorizon/internal/websocket"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(); err != nil {
		logging.Error().Err(err).Msg("server exited")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().
		Str("version", version).
		Str("addr", cfg.Server.Addr).
		Msg("starting safehorizon")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := database.New(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	// Origin distinguishes this instance's envelopes on the broker.
	h := hub.New(uuid.NewString()[:8])

	zones := geofence.NewIndex()
	refresher := geofence.NewRefresher(zones, store,
		time.Duration(cfg.Geofence.RefreshSecs)*time.Second)

	engine := scoring.New(store, zones)
	generator := alerts.New(&alertStore{store}, h)
	pipeline := ingest.New(store, engine, generator, zones, h)
	rescorer := ingest.NewRescorer(store, engine,
		time.Duration(cfg.Scoring.RefreshSecs)*time.Second, cfg.Scoring.BackfillBatch)

	issuer := efir.New(store)

	notifier, err := notify.NewHTTP(cfg.Notify)
	if err != nil {
		return fmt.Errorf("notify providers: %w", err)
	}
	outbox, err := notify.Open(cfg.Notify, notifier)
	if err != nil {
		return fmt.Errorf("open outbox: %w", err)
	}
	defer outbox.Close()

	dispatcher := broadcast.New(store, zones, h, outbox)

	bridge, err := broker.New(cfg.Broker, h)
	if err != nil {
		return fmt.Errorf("broker: %w", err)
	}

	// Zone mutations announce on admin.system so peers refresh their
	// snapshots before the interval elapses.
	refresher.OnZoneChanged(func() {
		frame := models.Frame{
			EventType: models.EventZoneChanged,
			Timestamp: time.Now().UTC(),
		}
		if err := h.Publish(ctx, hub.ChannelAdminSystem, frame); err != nil {
			logging.Warn().Err(err).Msg("zone change announce failed")
		}
	})

	jwtm, err := auth.NewJWTManager(cfg.Security)
	if err != nil {
		return fmt.Errorf("jwt: %w", err)
	}

	gateway := websocket.NewGateway(h, store, jwtm, cfg.Gateway)
	defer gateway.Close()

	enforcer, err := authz.NewEnforcer()
	if err != nil {
		return fmt.Errorf("authz: %w", err)
	}

	var brokerHealth api.BrokerHealth
	if bridge != nil {
		brokerHealth = bridge
	}
	handler := api.NewHandler(api.Deps{
		Store:     store,
		Config:    cfg,
		JWT:       jwtm,
		Pipeline:  pipeline,
		Panics:    generator,
		Scorer:    engine,
		Issuer:    issuer,
		Broadcast: dispatcher,
		Outbox:    outbox,
		Hub:       h,
		Zones:     zones,
		Refresher: refresher,
		Broker:    brokerHealth,
		Gateway:   gateway,
		Version:   version,
	})
	router := api.NewRouter(handler, enforcer)

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
		// No global read/write deadlines: gateway sessions are
		// long-lived WebSockets with their own ping/pong timers.
		ReadHeaderTimeout: cfg.Server.Timeout,
		IdleTimeout:       120 * time.Second,
	}

	treeCfg := supervisor.DefaultTreeConfig()
	tree := supervisor.NewTree(logging.NewSlogLogger(), treeCfg)
	tree.AddDeliveryService(outbox)
	tree.AddDomainService(refresher)
	tree.AddDomainService(rescorer)
	if bridge != nil {
		tree.AddDomainService(bridge)
		tree.AddDomainService(&zoneWatch{hub: h, refresher: refresher})
	}
	tree.AddAPIService(supervisor.NewHTTPService(server, treeCfg.ShutdownTimeout))

	err = tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if report, reportErr := tree.UnstoppedServiceReport(); reportErr == nil {
		for _, svc := range report {
			logging.Warn().Str("service", svc.Name).Msg("service missed shutdown timeout")
		}
	}
	logging.Info().Msg("safehorizon stopped")
	return nil
}

// zoneWatch refreshes the geofence snapshot when a peer instance
// announces a zone change. Own-origin announcements are skipped; the
// local refresher already ran.
type zoneWatch struct {
	hub       *hub.Hub
	refresher *geofence.Refresher
}

func (w *zoneWatch) Serve(ctx context.Context) error {
	sub := w.hub.Subscribe(hub.ChannelAdminSystem)
	defer sub.Cancel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-sub.C():
			if !ok {
				return nil
			}
			if env.EventType != models.EventZoneChanged || env.Origin == w.hub.Origin() {
				continue
			}
			_ = w.refresher.Refresh(ctx)
		}
	}
}

func (w *zoneWatch) String() string { return "zone-watch" }

// alertStore adapts *database.Store to alerts.Store, converting the
// database.SampleScore rows into the alerts package's mirror type.
type alertStore struct {
	*database.Store
}

func (a *alertStore) RecentSampleScores(ctx context.Context, touristID string, n int) ([]alerts.SampleScore, error) {
	rows, err := a.Store.RecentSampleScores(ctx, touristID, n)
	if err != nil {
		return nil, err
	}
	scores := make([]alerts.SampleScore, len(rows))
	for i, r := range rows {
		scores[i] = alerts.SampleScore{Score: r.Score, RecordedAt: r.RecordedAt}
	}
	return scores, nil
}
