// SafeHorizon - Tourist Safety Platform Backend
// Copyright 2026 SafeHorizon Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/safehorizon/safehorizon

package websocket

import (
	"context"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/safehorizon/safehorizon/internal/auth"
	"github.com/safehorizon/safehorizon/internal/hub"
	"github.com/safehorizon/safehorizon/internal/logging"
	"github.com/safehorizon/safehorizon/internal/metrics"
	"github.com/safehorizon/safehorizon/internal/models"
)

// Close reasons. Idle closes share code 1011 with write failures; the
// reason string is what tells them apart in operator logs and close
// frames.
const (
	reasonWriteFailed = "write failed"
	reasonIdleTimeout = "idle timeout"
)

// session is one connected subscriber. A reader goroutine consumes
// client frames and a writer goroutine serializes everything going out;
// nothing else touches the connection after run starts.
type session struct {
	gateway *Gateway
	conn    *websocket.Conn
	claims  *auth.Claims

	// send carries out-of-band writes (pong replies) to the writer.
	send chan []byte

	// activity signals client frames so the writer can reset the idle
	// clock. Buffered: a missed signal coalesces with the next.
	activity chan struct{}

	done     chan struct{}
	closeOne sync.Once
}

func (s *session) run(ctx context.Context, since time.Time) {
	role := string(s.claims.Role)
	metrics.SessionsActive.WithLabelValues(role).Inc()
	defer metrics.SessionsActive.WithLabelValues(role).Dec()
	defer s.gateway.unregister(s)

	// Replay precedes the live subscription so a reconnecting client
	// sees missed alerts before anything published after connect.
	if !since.IsZero() {
		if err := s.replay(ctx, since); err != nil {
			logging.Warn().Err(err).Str("tourist_id", s.claims.Subject).Msg("alert replay failed")
			s.close(websocket.CloseInternalServerErr, "replay failed")
			return
		}
	}

	sub := s.gateway.hub.Subscribe(channelsFor(s.claims)...)
	defer sub.Cancel()

	go s.readLoop()
	s.writeLoop(sub)
}

// replay emits alerts newer than the cutoff as alert_created envelopes
// in created_at order. Authority and admin replay the shared channel;
// tourists replay only their own.
func (s *session) replay(ctx context.Context, since time.Time) error {
	touristID := ""
	channel := hub.ChannelAuthorityAlerts
	if s.claims.Role == models.RoleTourist {
		touristID = s.claims.Subject
		channel = hub.TouristAlerts(touristID)
	}

	alerts, err := s.gateway.store.AlertsSince(ctx, touristID, since, s.gateway.replayLimit())
	if err != nil {
		return err
	}
	for i := range alerts {
		frame := models.AlertFrame(models.EventAlertCreated, &alerts[i])
		frame.Timestamp = alerts[i].CreatedAt
		data, err := json.Marshal(frame)
		if err != nil {
			return err
		}
		env := hub.Envelope{
			Channel:   channel,
			EventType: models.EventAlertCreated,
			Timestamp: alerts[i].CreatedAt,
			PublishID: "replay-" + alerts[i].ID,
			Origin:    s.gateway.hub.Origin(),
			Data:      data,
		}
		if err := s.writeEnvelope(env); err != nil {
			return err
		}
		metrics.ReplayFrames.Inc()
	}
	return nil
}

// readLoop consumes client frames. A literal "ping" is answered with a
// literal "pong" before any JSON parsing; everything else only counts
// as activity for the idle clock.
func (s *session) readLoop() {
	defer s.close(websocket.CloseNormalClosure, "")

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.Debug().Err(err).Msg("websocket read ended")
			}
			return
		}
		select {
		case s.activity <- struct{}{}:
		default:
		}
		if string(payload) == "ping" {
			select {
			case s.send <- []byte("pong"):
			case <-s.done:
				return
			}
		}
	}
}

// writeLoop is the only writer. It multiplexes live envelopes, pong
// replies, keepalive pings, the idle clock and the token expiry timer.
func (s *session) writeLoop(sub *hub.Subscription) {
	pingTicker := time.NewTicker(pingPeriod)
	defer pingTicker.Stop()

	idle := time.NewTimer(s.gateway.cfg.SessionIdle())
	defer idle.Stop()

	expiry := newExpiryTimer(s.claims)
	defer expiry.Stop()

	for {
		select {
		case env, ok := <-sub.C():
			if !ok {
				s.close(websocket.CloseGoingAway, "subscription closed")
				return
			}
			if err := s.writeEnvelope(env); err != nil {
				s.close(websocket.CloseInternalServerErr, reasonWriteFailed)
				return
			}
			// Outbound traffic keeps the session alive: a passive
			// dashboard receiving alerts is not idle.
			resetTimer(idle, s.gateway.cfg.SessionIdle())
		case payload := <-s.send:
			if err := s.writeText(payload); err != nil {
				s.close(websocket.CloseInternalServerErr, reasonWriteFailed)
				return
			}
			resetTimer(idle, s.gateway.cfg.SessionIdle())
		case <-pingTicker.C:
			// Protocol keepalives fire regardless of traffic and do not
			// touch the idle clock.
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.close(websocket.CloseInternalServerErr, "ping failed")
				return
			}
		case <-s.activity:
			resetTimer(idle, s.gateway.cfg.SessionIdle())
		case <-idle.C:
			s.close(websocket.CloseInternalServerErr, reasonIdleTimeout)
			return
		case <-expiry.C:
			s.close(websocket.ClosePolicyViolation, "token expired")
			return
		case <-s.done:
			return
		}
	}
}

func (s *session) writeEnvelope(env hub.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return s.writeText(payload)
}

func (s *session) writeText(payload []byte) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

// close sends the close frame once, records the code and tears down the
// connection. Safe from any goroutine.
func (s *session) close(code int, reason string) {
	s.closeOne.Do(func() {
		closeWith(s.conn, code, reason)
		metrics.RecordSessionClosed(code)
		close(s.done)
		_ = s.conn.Close()
	})
}

// newExpiryTimer fires when the session token expires. Tokens without
// an expiry (should not happen) never fire.
func newExpiryTimer(claims *auth.Claims) *time.Timer {
	if claims.ExpiresAt == nil {
		return time.NewTimer(time.Duration(1<<62) - 1)
	}
	d := time.Until(claims.ExpiresAt.Time)
	if d < 0 {
		d = 0
	}
	return time.NewTimer(d)
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
