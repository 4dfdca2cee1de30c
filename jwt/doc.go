// Package jwt issues and verifies the compact HS256 tokens shared by every
// service in the mesh: short-lived access tokens carrying a permission
// snapshot, long-lived refresh tokens without permissions, and service tokens
// minted by the client-credentials flow.
//
// Verification applies zero leeway by default, so exp and nbf are compared
// against the verifying clock exactly. Any service holding the shared secret
// can verify a token without calling back into the issuer.
package jwt
