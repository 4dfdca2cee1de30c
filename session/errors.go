package session

import "errors"

var (
	// ErrNotFound is returned when a session id does not resolve to a live session.
	ErrNotFound = errors.New("session not found")
	// ErrRedisUnavailable wraps every transport failure talking to the cache.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrInvalidToken is returned when the token presented for a session fails verification.
	ErrInvalidToken = errors.New("session token invalid")
	// ErrRefreshReuse is returned when a refresh token id has already been consumed.
	ErrRefreshReuse = errors.New("refresh token already used")
	// ErrNoPermissions is returned when a refresh finds no permissions for the subject.
	ErrNoPermissions = errors.New("no permissions for subject")
	// ErrPermissionLookup wraps failures of the permission source during refresh.
	ErrPermissionLookup = errors.New("permission lookup failed")
	// ErrSessionMismatch is returned when a token is bound to a different session id.
	ErrSessionMismatch = errors.New("token bound to a different session")
	// ErrCorrupt is returned when a stored session hash cannot be decoded.
	ErrCorrupt = errors.New("session record corrupt")
	// ErrInvalidID is returned for session ids that could not have been issued by NewID.
	ErrInvalidID = errors.New("invalid session id")
)
