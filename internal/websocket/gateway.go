// SafeHorizon - Tourist Safety Platform Backend
// Copyright 2026 SafeHorizon Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/safehorizon/safehorizon

// Package websocket is the subscription gateway. Each session
// authenticates with a query-param JWT, optionally replays missed
// alerts, then streams hub envelopes for the channels its role may see.
package websocket

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/safehorizon/safehorizon/internal/auth"
	"github.com/safehorizon/safehorizon/internal/config"
	"github.com/safehorizon/safehorizon/internal/hub"
	"github.com/safehorizon/safehorizon/internal/metrics"
	"github.com/safehorizon/safehorizon/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// Client frames are tiny (acks, pings). Anything larger is abuse.
	maxMessageSize = 4 * 1024
)

// TokenValidator checks a session token and returns its claims.
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// AlertStore supplies missed alerts for since= replay.
type AlertStore interface {
	AlertsSince(ctx context.Context, touristID string, since time.Time, limit int) ([]models.Alert, error)
}

// Gateway upgrades subscription requests and runs their sessions.
type Gateway struct {
	hub    *hub.Hub
	store  AlertStore
	tokens TokenValidator
	cfg    config.GatewayConfig

	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[*session]struct{}
	closed   bool
}

// NewGateway builds a gateway. Origin checks are skipped: sessions are
// authenticated by token, and the API serves non-browser clients.
func NewGateway(h *hub.Hub, store AlertStore, tokens TokenValidator, cfg config.GatewayConfig) *Gateway {
	return &Gateway{
		hub:    h,
		store:  store,
		tokens: tokens,
		cfg:    cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		sessions: make(map[*session]struct{}),
	}
}

// ServeHTTP handles GET /api/alerts/subscribe.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "since must be RFC 3339", http.StatusBadRequest)
			return
		}
		since = parsed
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}

	claims, err := g.tokens.Validate(r.URL.Query().Get("token"))
	if err != nil {
		closeWith(conn, websocket.ClosePolicyViolation, "invalid token")
		metrics.RecordSessionClosed(websocket.ClosePolicyViolation)
		_ = conn.Close()
		return
	}

	s := &session{
		gateway:  g,
		conn:     conn,
		claims:   claims,
		send:     make(chan []byte, g.sendQueueSize()),
		activity: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	if !g.register(s) {
		closeWith(conn, websocket.CloseGoingAway, "server shutting down")
		_ = conn.Close()
		return
	}
	s.run(r.Context(), since)
}

// Close drains every session with close code 1001. Called on shutdown.
func (g *Gateway) Close() {
	g.mu.Lock()
	g.closed = true
	sessions := make([]*session, 0, len(g.sessions))
	for s := range g.sessions {
		sessions = append(sessions, s)
	}
	g.mu.Unlock()

	for _, s := range sessions {
		s.close(websocket.CloseGoingAway, "server shutting down")
	}
}

func (g *Gateway) register(s *session) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	g.sessions[s] = struct{}{}
	return true
}

func (g *Gateway) unregister(s *session) {
	g.mu.Lock()
	delete(g.sessions, s)
	g.mu.Unlock()
}

func (g *Gateway) sendQueueSize() int {
	if g.cfg.SendQueueSize > 0 {
		return g.cfg.SendQueueSize
	}
	return 64
}

func (g *Gateway) replayLimit() int {
	if g.cfg.ReplayLimit > 0 {
		return g.cfg.ReplayLimit
	}
	return 200
}

// channelsFor maps a role to its hub subscriptions. Tourists only ever
// see their own alert channel; the id comes from the token subject.
func channelsFor(claims *auth.Claims) []string {
	switch claims.Role {
	case models.RoleAdmin:
		return []string{hub.ChannelAuthorityAlerts, hub.ChannelBroadcastsAll, hub.ChannelAdminSystem}
	case models.RoleAuthority:
		return []string{hub.ChannelAuthorityAlerts, hub.ChannelBroadcastsAll}
	default:
		return []string{hub.TouristAlerts(claims.Subject), hub.ChannelBroadcastsAll}
	}
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(writeWait)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)
}
