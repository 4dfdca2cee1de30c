package jwt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod names the MAC algorithm used to sign tokens.
type SigningMethod string

const (
	// MethodHS256 signs tokens with HMAC-SHA256 over a shared secret.
	MethodHS256 SigningMethod = "hs256"
)

const (
	// DefaultIssuer is stamped into every token unless Config.Issuer overrides it.
	DefaultIssuer = "zerotrust"

	minSecretBytes = 16
)

// TokenType separates access, refresh and service tokens so that one can
// never be replayed in place of another.
type TokenType string

const (
	TypeAccess  TokenType = "access"
	TypeRefresh TokenType = "refresh"
	TypeService TokenType = "service"
)

// Config holds issuance and verification parameters for a [Manager].
//
// Config instances are intended to be configured during initialization and then treated as immutable.
type Config struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	ServiceTTL    time.Duration
	SigningMethod SigningMethod
	Secret        []byte
	Issuer        string
	Audience      string
	// Leeway is the clock tolerance applied to exp/nbf. Zero means the
	// verifying clock is trusted as-is.
	Leeway time.Duration
	KeyID  string
	Now    func() time.Time
}

// Claims is the claim set carried by every token the mesh issues.
type Claims struct {
	Permissions []string  `json:"permissions,omitempty"`
	SessionID   string    `json:"sid,omitempty"`
	Type        TokenType `json:"typ"`
	jwt.RegisteredClaims
}

// Manager issues and verifies compact HS256 tokens.
//
// Manager instances are intended to be configured during initialization and then treated as immutable.
type Manager struct {
	config Config
	parser *jwt.Parser
}

// NewManager validates cfg and returns a ready [Manager]. Missing TTLs fall
// back to 15 minutes (access), 7 days (refresh) and 5 minutes (service).
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}
	if cfg.ServiceTTL == 0 {
		cfg.ServiceTTL = 5 * time.Minute
	}
	if cfg.AccessTTL < time.Second || cfg.RefreshTTL < time.Second || cfg.ServiceTTL < time.Second {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.SigningMethod == "" {
		cfg.SigningMethod = MethodHS256
	}
	if cfg.SigningMethod != MethodHS256 {
		return nil, errors.New("unsupported signing method")
	}
	if len(cfg.Secret) < minSecretBytes {
		return nil, ErrMissingSecret
	}
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultIssuer
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)
	cfg.Secret = secret

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(cfg.Now),
	}
	if cfg.Leeway > 0 {
		options = append(options, jwt.WithLeeway(cfg.Leeway))
	}
	if cfg.Audience != "" {
		options = append(options, jwt.WithAudience(cfg.Audience))
	}

	return &Manager{config: cfg, parser: jwt.NewParser(options...)}, nil
}

// AccessTTL returns the configured access-token lifetime.
func (m *Manager) AccessTTL() time.Duration { return m.config.AccessTTL }

// RefreshTTL returns the configured refresh-token lifetime.
func (m *Manager) RefreshTTL() time.Duration { return m.config.RefreshTTL }

// IssueAccess signs an access token carrying a permission snapshot. The
// returned claims are the exact values embedded in the token.
func (m *Manager) IssueAccess(subject string, permissions []string, sessionID string) (string, *Claims, error) {
	return m.issue(subject, TypeAccess, permissions, sessionID, m.config.AccessTTL)
}

// IssueAccessTTL is IssueAccess with a caller-chosen lifetime.
func (m *Manager) IssueAccessTTL(subject string, permissions []string, sessionID string, ttl time.Duration) (string, *Claims, error) {
	return m.issue(subject, TypeAccess, permissions, sessionID, ttl)
}

// IssueRefresh signs a refresh token. Refresh tokens never carry
// permissions; they are looked up again at refresh time.
func (m *Manager) IssueRefresh(subject, sessionID string) (string, *Claims, error) {
	return m.issue(subject, TypeRefresh, nil, sessionID, m.config.RefreshTTL)
}

// IssueService signs a service-to-service token for a registered client.
func (m *Manager) IssueService(clientID string, scopes []string) (string, *Claims, error) {
	return m.issue(clientID, TypeService, scopes, "", m.config.ServiceTTL)
}

func (m *Manager) issue(subject string, typ TokenType, permissions []string, sessionID string, ttl time.Duration) (string, *Claims, error) {
	if strings.TrimSpace(subject) == "" {
		return "", nil, ErrInvalidSubject
	}
	if ttl < time.Second {
		return "", nil, errors.New("invalid TTL")
	}

	// NumericDate has second precision; truncating keeps exp-iat == ttl.
	now := m.config.Now().Truncate(time.Second)

	claims := &Claims{
		SessionID: sessionID,
		Type:      typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	if len(permissions) > 0 {
		claims.Permissions = append([]string(nil), permissions...)
	}
	if m.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{m.config.Audience}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if m.config.KeyID != "" {
		token.Header["kid"] = m.config.KeyID
	}

	signed, err := token.SignedString(m.config.Secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}
	return signed, claims, nil
}

// Verify checks signature, issuer, nbf and exp and returns the decoded
// claims. Failures are classified into [ErrExpired], [ErrNotYetValid],
// [ErrInvalidSignature], [ErrMalformed] or [ErrInvalid].
func (m *Manager) Verify(tokenStr string) (*Claims, error) {
	if strings.TrimSpace(tokenStr) == "" {
		return nil, ErrMalformed
	}

	token, err := m.parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		if m.config.KeyID != "" {
			kid, _ := t.Header["kid"].(string)
			if kid != m.config.KeyID {
				return nil, errors.New("unknown kid")
			}
		}
		return m.config.Secret, nil
	})
	if err != nil {
		return nil, classify(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalid
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalid)
	}
	return claims, nil
}

// VerifyAccess is Verify plus a token-type check for access tokens.
func (m *Manager) VerifyAccess(tokenStr string) (*Claims, error) {
	return m.verifyType(tokenStr, TypeAccess)
}

// VerifyRefresh is Verify plus a token-type check for refresh tokens.
func (m *Manager) VerifyRefresh(tokenStr string) (*Claims, error) {
	return m.verifyType(tokenStr, TypeRefresh)
}

// VerifyService is Verify plus a token-type check for service tokens.
func (m *Manager) VerifyService(tokenStr string) (*Claims, error) {
	return m.verifyType(tokenStr, TypeService)
}

func (m *Manager) verifyType(tokenStr string, want TokenType) (*Claims, error) {
	claims, err := m.Verify(tokenStr)
	if err != nil {
		return nil, err
	}
	if claims.Type != want {
		return nil, ErrWrongType
	}
	return claims, nil
}

// RemainingLifetime returns how long the token stays valid relative to the
// manager's clock. It is zero or negative once expired.
func (m *Manager) RemainingLifetime(claims *Claims) time.Duration {
	if claims == nil || claims.ExpiresAt == nil {
		return 0
	}
	return claims.ExpiresAt.Time.Sub(m.config.Now())
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpired, err)
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return fmt.Errorf("%w: %v", ErrNotYetValid, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	default:
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
}
