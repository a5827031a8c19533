// SafeHorizon - Tourist Safety Platform Backend
// Copyright 2026 SafeHorizon Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/safehorizon/safehorizon

package logging

import (
	"strings"

	"github.com/rs/zerolog"
)

// SecurityEvent is an auth-relevant event for the audit trail: logins,
// token rejections, role denials, WebSocket policy closes.
type SecurityEvent struct {
	// Event names the action, e.g. "login", "token_rejected", "ws_policy_close".
	Event string
	// UserID is the subject if known. Logged truncated.
	UserID string
	// Role is the token role if known.
	Role string
	// IPAddress is the client address.
	IPAddress string
	// Success marks whether the action was permitted.
	Success bool
	// Reason carries the rejection reason for failed events. Never a token
	// or password.
	Reason string
}

// SecurityLogger writes sanitized auth events. Failed auth stays at INFO;
// it is client behavior, not an operator fault.
type SecurityLogger struct {
	logger zerolog.Logger
}

// NewSecurityLogger creates a security logger tagged component=auth.
func NewSecurityLogger() *SecurityLogger {
	return &SecurityLogger{logger: WithComponent("auth")}
}

// LogEvent writes one security event.
func (l *SecurityLogger) LogEvent(ev *SecurityEvent) {
	e := l.logger.Info().Str("event", ev.Event)
	if ev.Success {
		e = e.Str("status", "success")
	} else {
		e = e.Str("status", "denied")
	}
	if ev.UserID != "" {
		e = e.Str("user_id", TruncateID(ev.UserID))
	}
	if ev.Role != "" {
		e = e.Str("role", ev.Role)
	}
	if ev.IPAddress != "" {
		e = e.Str("ip", ev.IPAddress)
	}
	if ev.Reason != "" && !ev.Success {
		e = e.Str("reason", sanitizeReason(ev.Reason))
	}
	e.Msg("auth event")
}

// TruncateID shortens identifiers for logs: first 8 chars plus ellipsis.
// Full ids stay out of the audit trail.
func TruncateID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8] + "..."
}

// sanitizeReason strips anything that looks like a bearer credential from a
// rejection reason before it reaches the log stream.
func sanitizeReason(reason string) string {
	lower := strings.ToLower(reason)
	if strings.Contains(lower, "bearer ") || strings.Contains(lower, "eyj") {
		return "token rejected"
	}
	const maxLen = 160
	if len(reason) > maxLen {
		return reason[:maxLen]
	}
	return reason
}
