// Package middleware guards net/http handlers with mesh access tokens.
//
//   - [Guard], [RequireJWTOnly], [RequireStrict] validate the bearer token
//     through a [Validator] and attach the identity to the context.
//   - [RequirePermission] and [RequireAction] authorize on the attached
//     permission snapshot.
//
// [Verifier] lets services that only share the signing secret (and,
// optionally, the session store) validate tokens without an engine.
package middleware
