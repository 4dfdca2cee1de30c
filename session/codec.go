package session

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const (
	fieldVersion     = "v"
	fieldAccessToken = "access_token"
	fieldSubject     = "subject"
	fieldTokenID     = "token_id"
	fieldPermissions = "permissions"
	fieldCreatedAt   = "created_at"
	fieldExpiresAt   = "expires_at"
)

// EncodeFields flattens a session into the hash fields stored in Redis.
// Permissions are kept as a JSON array so that names containing commas
// survive a round trip.
func EncodeFields(s *Session) (map[string]interface{}, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: nil session", ErrCorrupt)
	}
	perms := s.Permissions
	if perms == nil {
		perms = []string{}
	}
	encodedPerms, err := json.Marshal(perms)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		fieldVersion:     CurrentSchemaVersion,
		fieldAccessToken: s.AccessToken,
		fieldSubject:     s.Subject,
		fieldTokenID:     s.TokenID,
		fieldPermissions: string(encodedPerms),
		fieldCreatedAt:   s.CreatedAt,
		fieldExpiresAt:   s.ExpiresAt,
	}, nil
}

// DecodeFields rebuilds a session from an HGETALL reply. Records written
// before the version field existed are treated as version 0.
func DecodeFields(fields map[string]string) (*Session, error) {
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	s := &Session{
		AccessToken: fields[fieldAccessToken],
		Subject:     fields[fieldSubject],
		TokenID:     fields[fieldTokenID],
	}
	if s.AccessToken == "" || s.Subject == "" {
		return nil, fmt.Errorf("%w: missing token or subject", ErrCorrupt)
	}

	if raw, ok := fields[fieldVersion]; ok {
		v, err := strconv.ParseUint(raw, 10, 8)
		if err != nil || v > CurrentSchemaVersion {
			return nil, fmt.Errorf("%w: unsupported schema version %q", ErrCorrupt, raw)
		}
		s.SchemaVersion = uint8(v)
	}

	if raw := fields[fieldPermissions]; raw != "" {
		if s.SchemaVersion == 0 && !strings.HasPrefix(raw, "[") {
			// Version 0 records stored a comma-joined list.
			s.Permissions = splitLegacyPermissions(raw)
		} else if err := json.Unmarshal([]byte(raw), &s.Permissions); err != nil {
			return nil, fmt.Errorf("%w: permissions: %v", ErrCorrupt, err)
		}
	}

	var err error
	if s.CreatedAt, err = parseUnix(fields[fieldCreatedAt]); err != nil {
		return nil, err
	}
	if s.ExpiresAt, err = parseUnix(fields[fieldExpiresAt]); err != nil {
		return nil, err
	}
	return s, nil
}

func parseUnix(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: timestamp %q", ErrCorrupt, raw)
	}
	return v, nil
}

func splitLegacyPermissions(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
