// SafeHorizon - Tourist Safety Platform Backend
// Copyright 2026 SafeHorizon Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/safehorizon/safehorizon

package broker

import (
	"context"
	"testing"
	"time"

	natssrv "github.com/nats-io/nats-server/v2/server"

	"github.com/safehorizon/safehorizon/internal/config"
	"github.com/safehorizon/safehorizon/internal/hub"
	"github.com/safehorizon/safehorizon/internal/models"
)

func startNATS(t *testing.T) *natssrv.Server {
	t.Helper()
	srv, err := natssrv.NewServer(&natssrv.Options{
		ServerName: "test-nats",
		Host:       "127.0.0.1",
		Port:       -1,
	})
	if err != nil {
		t.Fatalf("create nats server: %v", err)
	}
	srv.Start()
	if !srv.ReadyForConnections(10 * time.Second) {
		srv.Shutdown()
		t.Fatal("nats server not ready")
	}
	t.Cleanup(srv.Shutdown)
	return srv
}

func runBridge(t *testing.T, ctx context.Context, url string, h *hub.Hub) {
	t.Helper()
	b, err := New(config.BrokerConfig{URL: url, Subject: "test.hub"}, h)
	if err != nil {
		t.Fatalf("broker.New: %v", err)
	}
	go func() { _ = b.Serve(ctx) }()
}

func TestNewDisabledWithoutURL(t *testing.T) {
	b, err := New(config.BrokerConfig{}, hub.New("a"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if b != nil {
		t.Error("empty config should disable the bridge")
	}
}

func TestBridgePropagatesAcrossInstances(t *testing.T) {
	if testing.Short() {
		t.Skip("starts an in-process nats server")
	}
	srv := startNATS(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hubA := hub.New("instance-a")
	hubB := hub.New("instance-b")
	runBridge(t, ctx, srv.ClientURL(), hubA)
	runBridge(t, ctx, srv.ClientURL(), hubB)

	subA := hubA.Subscribe(hub.ChannelAuthorityAlerts)
	defer subA.Cancel()
	subB := hubB.Subscribe(hub.ChannelAuthorityAlerts)
	defer subB.Cancel()

	frame := models.AlertFrame(models.EventAlertCreated, &models.Alert{
		ID:        "a-1",
		TouristID: "t-1",
		Kind:      models.AlertPanic,
		Severity:  models.SeverityCritical,
	})

	// The subscriber attach on the B side is asynchronous; republish
	// until the envelope crosses or the deadline hits. Local delivery on
	// A is synchronous, so drain subA as we go.
	deadline := time.After(10 * time.Second)
	var got hub.Envelope
	var published int
waitB:
	for {
		if err := hubA.Publish(ctx, hub.ChannelAuthorityAlerts, frame); err != nil {
			t.Fatalf("Publish: %v", err)
		}
		published++
		select {
		case got = <-subB.C():
			break waitB
		case <-time.After(200 * time.Millisecond):
		case <-deadline:
			t.Fatal("envelope never reached instance B")
		}
	}

	if got.Origin != "instance-a" {
		t.Errorf("origin: want instance-a, got %s", got.Origin)
	}
	if got.Channel != hub.ChannelAuthorityAlerts {
		t.Errorf("channel: want %s, got %s", hub.ChannelAuthorityAlerts, got.Channel)
	}

	// Instance A must see each publish exactly once: local delivery only,
	// broker echoes suppressed. Allow propagation to settle first.
	time.Sleep(500 * time.Millisecond)
	seen := 0
drainA:
	for {
		select {
		case <-subA.C():
			seen++
		default:
			break drainA
		}
	}
	if seen != published {
		t.Errorf("instance A deliveries: want %d (no echoes), got %d", published, seen)
	}
}
