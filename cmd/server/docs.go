// SafeHorizon - Tourist Safety Platform Backend
// Copyright 2026 SafeHorizon Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/safehorizon/safehorizon

// Package main provides the SafeHorizon HTTP server
//
// SafeHorizon is a tourist safety platform: GPS telemetry ingest with
// per-ping safety scoring, geofenced risk zones, automated and panic
// alerts, authority broadcasts, and hash-chained electronic FIRs.
//
// @title SafeHorizon API
// @version 1.0
// @description Tourist safety platform backend: telemetry ingest, safety scoring, geofencing, alerting, broadcasts, and E-FIR issuance.
// @description
// @description ## Roles
// @description
// @description - **tourist**: location updates, SOS, own alerts and trips, E-FIR filing
// @description - **authority**: zone management, broadcasts, incident handling, E-FIR issuance
// @description - **admin**: authority surface plus user and system administration
// @description
// @description ## Authentication
// @description
// @description Endpoints under /api require a JWT bearer token from /api/auth/login.
// @description The WebSocket gateway at /api/alerts/subscribe accepts the token as a query parameter.
// @description
// @description ## Rate Limiting
// @description
// @description Authentication endpoints and the general API surface are rate limited per IP.
// @description
// @description ## Error Responses
// @description
// @description All error responses follow this format:
// @description ```json
// @description {
// @description   "status": "error",
// @description   "data": null,
// @description   "error": {
// @description     "code": "ERROR_CODE",
// @description     "message": "Human-readable error message",
// @description     "details": {}
// @description   },
// @description   "metadata": {
// @description     "timestamp": "2026-01-15T12:34:56Z"
// @description   }
// @description }
// @description ```
//
// @contact.name GitHub Repository
// @contact.url https://github.com/safehorizon/safehorizon/issues
//
// @license.name AGPL-3.0-or-later
// @license.url https://www.gnu.org/licenses/agpl-3.0.html
//
// @host localhost:8080
// @BasePath /api
// @schemes http https
//
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description JWT bearer token. Obtain via /api/auth/login and send as "Bearer {token}".
//
// @tag.name Auth
// @tag.description Registration, login, and session identity endpoints
//
// @tag.name Location
// @tag.description GPS telemetry ingest, location history, safety score, SOS, and nearby risks
//
// @tag.name Trips
// @tag.description Trip lifecycle endpoints for tourists
//
// @tag.name Zones
// @tag.description Geofenced risk zone management for authorities
//
// @tag.name Alerts
// @tag.description Alert feeds, incident acknowledgement, and public panic-alert map
//
// @tag.name Broadcast
// @tag.description Authority broadcast dispatch, acknowledgement, and delivery status
//
// @tag.name EFIR
// @tag.description Hash-chained electronic FIR issuance and verification
//
// @tag.name Admin
// @tag.description User administration, system status, and analytics dashboard
package main
