package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/jwt"
)

// DefaultTTLCap is the longest a session may live regardless of its token.
const DefaultTTLCap = 15 * time.Minute

// PermissionLookup resolves the current permissions of a subject.
type PermissionLookup interface {
	GetPermissions(ctx context.Context, userID string) ([]string, error)
}

// ManagerConfig tunes a [Manager].
type ManagerConfig struct {
	TTLCap time.Duration
	Now    func() time.Time
}

// RefreshResult carries the tokens minted by [Manager.Refresh].
type RefreshResult struct {
	Subject      string
	SessionID    string
	AccessToken  string
	RefreshToken string
	Permissions  []string
	ExpiresAt    time.Time
}

// Manager implements the session lifecycle on top of a [Store]:
// Created -> Active -> Expired | Revoked | Refreshed.
type Manager struct {
	store  *Store
	tokens *jwt.Manager
	perms  PermissionLookup
	ttlCap time.Duration
	now    func() time.Time
}

// NewManager wires a session manager. perms may be nil when Refresh is not used.
func NewManager(store *Store, tokens *jwt.Manager, perms PermissionLookup, cfg ManagerConfig) (*Manager, error) {
	if store == nil {
		return nil, errors.New("session store required")
	}
	if tokens == nil {
		return nil, errors.New("token manager required")
	}
	if cfg.TTLCap <= 0 {
		cfg.TTLCap = DefaultTTLCap
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{
		store:  store,
		tokens: tokens,
		perms:  perms,
		ttlCap: cfg.TTLCap,
		now:    cfg.Now,
	}, nil
}

// Store returns the underlying store.
func (m *Manager) Store() *Store { return m.store }

// CreateSession verifies the access token, derives a fresh session id and
// persists the session. An invalid token creates nothing.
func (m *Manager) CreateSession(ctx context.Context, accessToken string) (string, error) {
	claims, err := m.verifyAccess(accessToken)
	if err != nil {
		return "", err
	}
	sessionID := claims.SessionID
	if sessionID == "" {
		if sessionID, err = NewID(); err != nil {
			return "", err
		}
	}
	if err := m.persist(ctx, sessionID, accessToken, claims); err != nil {
		return "", err
	}
	return sessionID, nil
}

// Bind persists a session under a caller-chosen id. A token that names a
// different sid is rejected. Binding the same token twice is idempotent.
func (m *Manager) Bind(ctx context.Context, sessionID, accessToken string) error {
	if !ValidID(sessionID) {
		return ErrInvalidID
	}
	claims, err := m.verifyAccess(accessToken)
	if err != nil {
		return err
	}
	if claims.SessionID != "" && claims.SessionID != sessionID {
		return ErrSessionMismatch
	}
	return m.persist(ctx, sessionID, accessToken, claims)
}

// GetSession returns the session fields, or [ErrNotFound].
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	return m.store.Get(ctx, sessionID)
}

// DeleteSession revokes a session. Deleting an unknown id is not an error.
func (m *Manager) DeleteSession(ctx context.Context, sessionID string) error {
	return m.store.Delete(ctx, sessionID)
}

// DeleteAllForSubject revokes every session of a subject.
func (m *Manager) DeleteAllForSubject(ctx context.Context, subject string) (int, error) {
	return m.store.DeleteAllForSubject(ctx, subject)
}

// CheckActive verifies an access token and confirms the session it names
// still holds that exact token. Used by verifiers that honor logout before
// natural expiry.
func (m *Manager) CheckActive(ctx context.Context, accessToken string) (*Session, *jwt.Claims, error) {
	claims, err := m.verifyAccess(accessToken)
	if err != nil {
		return nil, nil, err
	}
	if claims.SessionID == "" {
		return nil, nil, ErrNotFound
	}
	sess, err := m.store.Get(ctx, claims.SessionID)
	if err != nil {
		return nil, nil, err
	}
	if sess.TokenID != claims.ID {
		return nil, nil, ErrNotFound
	}
	return sess, claims, nil
}

// Refresh redeems a refresh token exactly once. It looks up the subject's
// current permissions, mints a new access and refresh token pair bound to a
// new session id, and persists that session before returning anything. If
// persistence fails no token is returned and the refresh token stays usable.
// The superseded session is deleted on success.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	if m.perms == nil {
		return nil, fmt.Errorf("%w: no permission source configured", ErrPermissionLookup)
	}

	claims, err := m.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	fresh, err := m.store.ConsumeTokenID(ctx, claims.ID, m.tokens.RemainingLifetime(claims))
	if err != nil {
		return nil, err
	}
	if !fresh {
		return nil, ErrRefreshReuse
	}

	result, err := m.rotate(ctx, claims)
	if err != nil {
		_ = m.store.ReleaseTokenID(ctx, claims.ID)
		return nil, err
	}

	if claims.SessionID != "" && claims.SessionID != result.SessionID {
		_ = m.store.Delete(ctx, claims.SessionID)
	}
	return result, nil
}

func (m *Manager) rotate(ctx context.Context, refreshClaims *jwt.Claims) (*RefreshResult, error) {
	perms, err := m.perms.GetPermissions(ctx, refreshClaims.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPermissionLookup, err)
	}
	if len(perms) == 0 {
		return nil, ErrNoPermissions
	}

	sessionID, err := NewID()
	if err != nil {
		return nil, err
	}

	access, accessClaims, err := m.tokens.IssueAccess(refreshClaims.Subject, perms, sessionID)
	if err != nil {
		return nil, err
	}
	refresh, _, err := m.tokens.IssueRefresh(refreshClaims.Subject, sessionID)
	if err != nil {
		return nil, err
	}

	if err := m.persist(ctx, sessionID, access, accessClaims); err != nil {
		return nil, err
	}

	return &RefreshResult{
		Subject:      refreshClaims.Subject,
		SessionID:    sessionID,
		AccessToken:  access,
		RefreshToken: refresh,
		Permissions:  perms,
		ExpiresAt:    accessClaims.ExpiresAt.Time,
	}, nil
}

func (m *Manager) verifyAccess(accessToken string) (*jwt.Claims, error) {
	claims, err := m.tokens.VerifyAccess(accessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return claims, nil
}

// persist stores the session with TTL = min(cap, remaining token lifetime)
// so a session never outlives its token.
func (m *Manager) persist(ctx context.Context, sessionID, accessToken string, claims *jwt.Claims) error {
	now := m.now()
	ttl := claims.ExpiresAt.Time.Sub(now)
	if ttl <= 0 {
		return fmt.Errorf("%w: %w", ErrInvalidToken, jwt.ErrExpired)
	}
	if ttl > m.ttlCap {
		ttl = m.ttlCap
	}

	sess := &Session{
		SessionID:   sessionID,
		Subject:     claims.Subject,
		AccessToken: accessToken,
		TokenID:     claims.ID,
		Permissions: claims.Permissions,
		CreatedAt:   now.Unix(),
		ExpiresAt:   now.Add(ttl).Unix(),
	}
	return m.store.Save(ctx, sess, ttl)
}

// TTLCap returns the configured session lifetime cap.
func (m *Manager) TTLCap() time.Duration { return m.ttlCap }
