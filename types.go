package zerotrust

import (
	"context"
	"time"
)

// UserRecord is a registered identity as held by the credential store.
// The TOTP secret is not part of it: the vault is addressed by ID.
//
//	Docs: DESIGN.md#credential-store
type UserRecord struct {
	ID           string
	Email        string
	PasswordHash string
	Permissions  []string
	CreatedAt    time.Time
}

// NewUser is the insert payload for [UserStore.Insert].
type NewUser struct {
	Email        string
	PasswordHash string
	Permissions  []string
}

// UserStore persists identities. Implementations must enforce email
// uniqueness at the storage layer and report a violation as
// [ErrDuplicateEmail]; lookups that match nothing return [ErrUserNotFound].
// Any other error is treated as an outage.
type UserStore interface {
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	FindByEmail(ctx context.Context, email string) (UserRecord, error)
	FindByID(ctx context.Context, id string) (UserRecord, error)
	Insert(ctx context.Context, user NewUser) (UserRecord, error)
	UpdatePasswordHash(ctx context.Context, id, hash string) error
}

// SecretVault stores and retrieves TOTP secrets by owner id.
// *vault.Adapter satisfies it.
type SecretVault interface {
	StoreSecret(ctx context.Context, ownerID, plaintext string) (string, error)
	RetrieveSecret(ctx context.Context, ownerID string) (string, error)
}

// PermissionSource is the authorization service as seen by the Engine.
// *authz.Service and *authz.Client satisfy it.
type PermissionSource interface {
	GetPermissions(ctx context.Context, userID string) ([]string, error)
	SetPermissions(ctx context.Context, userID string, permissions []string) ([]string, error)
}

// BindJob asks a [SessionBinder] to persist the session for a freshly
// issued access token.
type BindJob struct {
	SessionID   string `json:"session_id"`
	AccessToken string `json:"access_token"`
	Subject     string `json:"subject"`
}

// SessionBinder accepts session bindings after Login has returned tokens.
// Enqueue must not block on the session write itself. Implementations that
// hold resources may also implement Close() error.
type SessionBinder interface {
	Enqueue(ctx context.Context, job BindJob) error
}

// SignupResult carries what a client needs to enroll its authenticator.
type SignupResult struct {
	UserID    string
	Email     string
	TOTPURI   string
	QRCodePNG []byte
}

// LoginResult is returned by [Engine.Login] and [Engine.Refresh].
type LoginResult struct {
	UserID       string
	AccessToken  string
	RefreshToken string
	SessionID    string
	ExpiresAt    time.Time
	Permissions  []string
}

// AuthResult is returned by [Engine.Validate].
type AuthResult struct {
	UserID      string
	SessionID   string
	TokenID     string
	Permissions []string
	ExpiresAt   time.Time
}

// Enrollment is the authenticator provisioning data for an existing account.
type Enrollment struct {
	URI       string
	QRCodePNG []byte
}

// HasPermission reports whether the result carries perm.
func (r *AuthResult) HasPermission(perm string) bool {
	if r == nil {
		return false
	}
	for _, p := range r.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}
