// Package vault stores per-user TOTP secrets in an external secret store.
//
// The [Adapter] addresses secrets by owner id: each secret is created under
// the name "secret for user {id}" and found again by that name. Backends
// implement the create/list/get-payload contract of an OpenStack Key Manager
// (Barbican); [MemoryBackend] serves development and tests.
//
// Plaintext never leaves this package except as the return value of a
// retrieve call, and is never logged.
package vault
