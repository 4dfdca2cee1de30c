// Package internal holds the process wiring of the mesh services. Nothing
// here is public API.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - dispatch: Redis Stream queue and worker for background session binding
//   - httpapi: chi routers for the auth, authz and session services
//   - obs: slog, Sentry and OpenTelemetry setup plus request middleware
//   - rate: Redis login throttle and per-IP HTTP limiter
//   - sessionapi: client for the session service's binding endpoint
//   - settings: environment and .env process configuration
//   - stores: GORM-backed user store
package internal
