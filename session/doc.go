// Package session provides Redis-backed session persistence and the session
// lifecycle used by the auth mesh.
//
// # Storage layout
//
// Each session is a Redis hash keyed by its id with a TTL that never exceeds
// the remaining lifetime of the access token it binds. A per-subject set
// indexes live ids for logout-all. Refresh token ids are consumed with SETNX
// so a refresh token can be redeemed once.
//
// # Architecture boundaries
//
// This package owns the [Store] (Redis operations), the [Session] model and
// the [Manager] lifecycle. It verifies tokens through the jwt package but
// does NOT evaluate permissions or enforce login policy; those belong to
// the Engine and the authz service.
package session
