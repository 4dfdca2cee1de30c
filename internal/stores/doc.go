// Package stores holds the GORM-backed credential store used by the auth
// service. Postgres is the production dialect; SQLite backs local runs and
// tests.
package stores
