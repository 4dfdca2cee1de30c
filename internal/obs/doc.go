// Package obs holds the process-level observability plumbing shared by every
// mesh service: the slog logger, Sentry reporting, the OpenTelemetry meter
// provider and the HTTP recover/request-log middleware.
package obs
