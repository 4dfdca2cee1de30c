// Package authz stores per-user permission lists and answers authorization
// questions against a permission-to-action catalog.
//
// The [Service] is the single entry point for reads and writes. It is
// backed by a [Store]: [MemoryStore] for tests, [SQLStore] for Postgres
// through pgx, optionally fronted by a [CachedStore] in Redis.
//
// Remote callers reach the service over gRPC ([RegisterPermissionsServer],
// [Client]) using a JSON codec. Calls are authenticated with service tokens
// minted by [TokenHandler] under the OAuth2 client-credentials grant.
package authz
