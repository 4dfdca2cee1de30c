// Package zerotrust is the authentication core of a zero-trust service mesh:
// password plus TOTP login, short-lived JWT issuance, Redis-backed sessions
// and a permission service consulted on every login and refresh.
//
// The package is designed for concurrent server workloads: Engine methods are safe to call
// from multiple goroutines after initialization through [Builder.Build].
//
// # Architecture boundaries
//
// zerotrust is the public surface. It exposes [Engine], [Builder], [Config] and value
// types ([LoginResult], [SignupResult], [AuthResult]). Components live in sub-packages:
// jwt (token issuer), session (session manager and cache), vault (TOTP secret vault),
// password (Argon2id and policy) and authz (permission service). Process wiring lives
// under internal/ and cmd/.
//
// # What this package must NOT do
//
//   - Return raw store, cache or vault errors; callers see the sentinels in errors.go.
//   - Log passwords, TOTP secrets or tokens.
//   - Perform I/O outside of Engine methods (construction via Builder is allocation-only
//     until Build).
//   - Import any sub-package that re-imports zerotrust (no import cycles).
//
// # Performance contract
//
// Validate is the hot path. In ModeJWTOnly it never touches Redis; ModeStrict adds one
// HGETALL. Login costs one Argon2id evaluation plus one store, one vault and one
// permission round trip, each bounded by Security.StoreTimeout.
package zerotrust
