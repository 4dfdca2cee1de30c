package session

import "time"

// CurrentSchemaVersion is written into every session hash. Readers accept
// older versions and rewrite them on the next save.
const CurrentSchemaVersion = 1

// Session is the cached record binding a session id to the access token it
// was created for.
type Session struct {
	SessionID     string
	Subject       string
	AccessToken   string
	TokenID       string
	Permissions   []string
	SchemaVersion uint8

	CreatedAt int64
	ExpiresAt int64
}

// Expired reports whether the session's recorded expiry has passed.
func (s *Session) Expired(now time.Time) bool {
	return s == nil || now.Unix() >= s.ExpiresAt
}

// TTL returns the time left until ExpiresAt.
func (s *Session) TTL(now time.Time) time.Duration {
	if s == nil {
		return 0
	}
	return time.Unix(s.ExpiresAt, 0).Sub(now)
}
