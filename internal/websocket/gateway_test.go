// SafeHorizon - Tourist Safety Platform Backend
// Copyright 2026 SafeHorizon Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/safehorizon/safehorizon

package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/safehorizon/safehorizon/internal/auth"
	"github.com/safehorizon/safehorizon/internal/config"
	"github.com/safehorizon/safehorizon/internal/hub"
	"github.com/safehorizon/safehorizon/internal/models"
)

type fakeAlertStore struct {
	alerts []models.Alert
	gotID  string
	since  time.Time
}

func (f *fakeAlertStore) AlertsSince(_ context.Context, touristID string, since time.Time, limit int) ([]models.Alert, error) {
	f.gotID = touristID
	f.since = since
	if limit < len(f.alerts) {
		return f.alerts[:limit], nil
	}
	return f.alerts, nil
}

func testGatewayServer(t *testing.T, store AlertStore) (*httptest.Server, *hub.Hub, *auth.JWTManager) {
	t.Helper()
	return testGatewayServerIdle(t, store, 300)
}

func testGatewayServerIdle(t *testing.T, store AlertStore, idleSecs int) (*httptest.Server, *hub.Hub, *auth.JWTManager) {
	t.Helper()
	manager, err := auth.NewJWTManager(config.SecurityConfig{
		JWTSecret:    "0123456789abcdef0123456789abcdef",
		JWTExpiryMin: 60,
	})
	if err != nil {
		t.Fatalf("NewJWTManager: %v", err)
	}
	h := hub.New("test-instance")
	g := NewGateway(h, store, manager, config.GatewayConfig{
		SessionIdleSecs: idleSecs,
		SendQueueSize:   32,
		ReplayLimit:     100,
	})
	server := httptest.NewServer(g)
	t.Cleanup(func() {
		g.Close()
		server.Close()
	})
	return server, h, manager
}

func dial(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/alerts/subscribe" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) hub.Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env hub.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		t.Fatalf("unmarshal %s: %v", payload, err)
	}
	return env
}

func TestGateway_RejectsBadToken(t *testing.T) {
	server, _, _ := testGatewayServer(t, &fakeAlertStore{})
	conn := dial(t, server, "?token=not-a-jwt")

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("want close 1008, got %v", err)
	}
}

func TestGateway_RejectsMalformedSince(t *testing.T) {
	server, _, manager := testGatewayServer(t, &fakeAlertStore{})
	token, _ := manager.Generate("t-1", models.RoleTourist)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/alerts/subscribe?token=" + token + "&since=yesterday"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial must fail on malformed since")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("want 400, got %+v", resp)
	}
}

func TestGateway_PingLiteralGetsPong(t *testing.T) {
	server, _, manager := testGatewayServer(t, &fakeAlertStore{})
	token, _ := manager.Generate("t-1", models.RoleTourist)
	conn := dial(t, server, "?token="+token)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(payload) != "pong" {
		t.Errorf("want literal pong, got %q", payload)
	}
}

func TestGateway_TouristSeesOwnChannelOnly(t *testing.T) {
	server, h, manager := testGatewayServer(t, &fakeAlertStore{})
	token, _ := manager.Generate("t-1", models.RoleTourist)
	conn := dial(t, server, "?token="+token)

	// Subscription attach races the publish; give the session a beat.
	time.Sleep(100 * time.Millisecond)

	other := models.Alert{ID: "a-other", TouristID: "t-2", Kind: models.AlertGeofence, Severity: models.SeverityHigh, CreatedAt: time.Now().UTC()}
	mine := models.Alert{ID: "a-mine", TouristID: "t-1", Kind: models.AlertGeofence, Severity: models.SeverityHigh, CreatedAt: time.Now().UTC()}
	_ = h.Publish(context.Background(), hub.TouristAlerts("t-2"), models.AlertFrame(models.EventAlertCreated, &other))
	_ = h.Publish(context.Background(), hub.TouristAlerts("t-1"), models.AlertFrame(models.EventAlertCreated, &mine))

	env := readEnvelope(t, conn)
	if env.Channel != hub.TouristAlerts("t-1") {
		t.Errorf("channel %s", env.Channel)
	}
	var frame models.Frame
	if err := json.Unmarshal(env.Data, &frame); err != nil {
		t.Fatalf("frame: %v", err)
	}
	if frame.Alert == nil || frame.Alert.ID != "a-mine" {
		t.Errorf("frame: %+v", frame)
	}
}

func TestGateway_AuthorityJoinsSharedChannels(t *testing.T) {
	server, h, manager := testGatewayServer(t, &fakeAlertStore{})
	token, _ := manager.Generate("u-auth", models.RoleAuthority)
	conn := dial(t, server, "?token="+token)

	time.Sleep(100 * time.Millisecond)

	alert := models.Alert{ID: "a-1", TouristID: "t-9", Kind: models.AlertPanic, Severity: models.SeverityCritical, CreatedAt: time.Now().UTC()}
	_ = h.Publish(context.Background(), hub.ChannelAuthorityAlerts, models.AlertFrame(models.EventAlertCreated, &alert))

	env := readEnvelope(t, conn)
	if env.Channel != hub.ChannelAuthorityAlerts || env.EventType != models.EventAlertCreated {
		t.Errorf("envelope: %+v", env)
	}
}

func TestGateway_SinceReplayPrecedesLiveFrames(t *testing.T) {
	created := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	store := &fakeAlertStore{alerts: []models.Alert{
		{ID: "a-old-1", TouristID: "t-1", Kind: models.AlertGeofence, Severity: models.SeverityHigh, CreatedAt: created},
		{ID: "a-old-2", TouristID: "t-1", Kind: models.AlertAnomaly, Severity: models.SeverityCritical, CreatedAt: created.Add(time.Minute)},
	}}
	server, h, manager := testGatewayServer(t, store)
	token, _ := manager.Generate("t-1", models.RoleTourist)
	conn := dial(t, server, "?token="+token+"&since="+created.Add(-time.Hour).Format(time.RFC3339))

	var ids []string
	for i := 0; i < 2; i++ {
		env := readEnvelope(t, conn)
		if env.EventType != models.EventAlertCreated || !strings.HasPrefix(env.PublishID, "replay-") {
			t.Fatalf("replay envelope: %+v", env)
		}
		var frame models.Frame
		if err := json.Unmarshal(env.Data, &frame); err != nil {
			t.Fatalf("frame: %v", err)
		}
		ids = append(ids, frame.Alert.ID)
	}
	if ids[0] != "a-old-1" || ids[1] != "a-old-2" {
		t.Errorf("replay order: %v", ids)
	}
	if store.gotID != "t-1" {
		t.Errorf("tourist replay must scope to own alerts, got %q", store.gotID)
	}

	// Live frames follow the replay.
	time.Sleep(100 * time.Millisecond)
	live := models.Alert{ID: "a-live", TouristID: "t-1", Kind: models.AlertSequence, Severity: models.SeverityHigh, CreatedAt: time.Now().UTC()}
	_ = h.Publish(context.Background(), hub.TouristAlerts("t-1"), models.AlertFrame(models.EventAlertCreated, &live))
	env := readEnvelope(t, conn)
	if strings.HasPrefix(env.PublishID, "replay-") {
		t.Errorf("live frame flagged as replay: %+v", env)
	}
}

func TestGateway_OutboundTrafficKeepsSessionAlive(t *testing.T) {
	server, h, manager := testGatewayServerIdle(t, &fakeAlertStore{}, 1)
	token, _ := manager.Generate("u-auth", models.RoleAuthority)
	conn := dial(t, server, "?token="+token)

	time.Sleep(100 * time.Millisecond)

	// A passive dashboard: it sends nothing, but receives a frame every
	// 200 ms for twice the idle window. Every frame must arrive.
	received := 0
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		alert := models.Alert{ID: "a-live", TouristID: "t-1", Kind: models.AlertGeofence, Severity: models.SeverityHigh, CreatedAt: time.Now().UTC()}
		_ = h.Publish(context.Background(), hub.ChannelAuthorityAlerts, models.AlertFrame(models.EventAlertCreated, &alert))
		env := readEnvelope(t, conn)
		if env.EventType != models.EventAlertCreated {
			t.Fatalf("envelope: %+v", env)
		}
		received++
		time.Sleep(200 * time.Millisecond)
	}
	if received < 8 {
		t.Fatalf("received only %d frames across the idle window", received)
	}

	// Traffic stops; now the idle clock runs down and closes 1011 with
	// the idle reason, not the write-failure one.
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, readErr := conn.ReadMessage()
	closeErr, ok := readErr.(*websocket.CloseError)
	if !ok || closeErr.Code != websocket.CloseInternalServerErr {
		t.Fatalf("want close 1011 after traffic stops, got %v", readErr)
	}
	if closeErr.Text != reasonIdleTimeout {
		t.Errorf("close reason %q, want %q", closeErr.Text, reasonIdleTimeout)
	}
}

func TestGateway_TokenExpiryClosesMidSession(t *testing.T) {
	server, _, _ := testGatewayServer(t, &fakeAlertStore{})

	// Hand-signed token expiring in 500 ms: valid at handshake, expired
	// shortly after the session goes live.
	claims := &auth.Claims{
		Role: models.RoleTourist,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "t-1",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(500 * time.Millisecond)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).
		SignedString([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	conn := dial(t, server, "?token="+token)
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, readErr := conn.ReadMessage()
	if !websocket.IsCloseError(readErr, websocket.ClosePolicyViolation) {
		t.Fatalf("want close 1008 on token expiry, got %v", readErr)
	}
}

func TestNewExpiryTimer_PastExpiryFiresImmediately(t *testing.T) {
	claims := &auth.Claims{
		Role: models.RoleTourist,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "t-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}
	timer := newExpiryTimer(claims)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-time.After(time.Second):
		t.Fatal("expired claims must fire the timer at once")
	}
}
