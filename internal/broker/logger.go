// SafeHorizon - Tourist Safety Platform Backend
// Copyright 2026 SafeHorizon Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/safehorizon/safehorizon

package broker

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"

	"github.com/safehorizon/safehorizon/internal/logging"
)

// watermillLogger adapts watermill's logging interface onto zerolog so
// bridge internals land in the same structured stream as everything
// else. Trace is discarded.
type watermillLogger struct {
	fields watermill.LogFields
}

func (l watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.emit(logging.Error().Err(err), fields, msg)
}

func (l watermillLogger) Info(msg string, fields watermill.LogFields) {
	l.emit(logging.Info(), fields, msg)
}

func (l watermillLogger) Debug(msg string, fields watermill.LogFields) {
	l.emit(logging.Debug(), fields, msg)
}

func (l watermillLogger) Trace(string, watermill.LogFields) {}

func (l watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return watermillLogger{fields: l.fields.Add(fields)}
}

func (l watermillLogger) emit(ev *zerolog.Event, fields watermill.LogFields, msg string) {
	ev = ev.Str("component", "broker")
	for k, v := range l.fields.Add(fields) {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}
