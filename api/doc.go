// Package api documents the CallFlow HTTP surface. Handlers live in
// api/handlers; routing and middleware are wired in cmd/callflow.
//
// # API Overview
//
// CallFlow exposes:
//   - A Twilio Media Streams WebSocket endpoint (default /media-stream)
//   - Read-only session and provider status under /api/v1
//   - Liveness, readiness and version endpoints
//   - Prometheus metrics on a separate listener
//
// # Endpoints
//
//	GET  /healthz                 liveness
//	GET  /ready                   readiness (providers, persistence backends)
//	GET  /version                 build information
//	GET  /media-stream            WebSocket upgrade, Twilio Media Streams protocol
//	GET  /api/v1/sessions         active session snapshots
//	GET  /api/v1/sessions/{id}    one session snapshot
//	GET  /api/v1/providers        provider pool health
//	GET  /metrics                 Prometheus exposition (metrics port)
//
// # Authentication
//
// When jwt.secret or jwt.public_key is configured, /api/v1 requires a bearer
// token:
//
//	Authorization: Bearer <token>
//
// The media stream endpoint is not authenticated by JWT; restrict it at the
// network edge or with Twilio request signing in front of the service.
//
// # Base URL
//
// The default base URL for the API is:
//
//	http://localhost:8080
package api
