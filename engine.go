package zerotrust

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/authz"
	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/internal/audit"
	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/internal/rate"
	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/jwt"
	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/password"
	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/session"
	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/vault"
)

// Engine is the authentication orchestrator. It gates login on password,
// TOTP and permissions in that order, issues tokens, and hands session
// binding to a [SessionBinder].
//
// Engine instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Engine struct {
	config       Config
	users        UserStore
	vault        SecretVault
	permissions  PermissionSource
	defaultPerms []string
	passwordHash *password.Argon2
	policy       password.Policy
	totp         *totpManager
	jwtManager   *jwt.Manager
	sessions     *session.Manager
	binder       SessionBinder
	rateLimiter  *rate.Limiter
	audit        *audit.Dispatcher
	metrics      *Metrics
	logger       *slog.Logger
	now          func() time.Time
}

// Close drains the binder and the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if c, ok := e.binder.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			e.logger.Warn("session binder close failed", slog.Any("error", err))
		}
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns how many audit events were dropped because the buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of the Engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Sessions exposes the session manager for the session service surface
// and durable binders.
func (e *Engine) Sessions() *session.Manager {
	if e == nil {
		return nil
	}
	return e.sessions
}

// Tokens exposes the token issuer. Downstream verifiers share its secret.
func (e *Engine) Tokens() *jwt.Manager {
	if e == nil {
		return nil
	}
	return e.jwtManager
}

// Config returns a copy of the Engine configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

// Validate authenticates an access token.
//
// ModeJWTOnly checks signature, issuer and expiry only. ModeStrict also
// requires the session named by the token's sid to be live and bound to the
// same jti, so logout revokes immediately. ModeInherit uses
// Config.ValidationMode.
//
//	Performance: ModeJWTOnly is CPU only; ModeStrict adds one HGETALL.
func (e *Engine) Validate(ctx context.Context, accessToken string, routeMode RouteMode) (*AuthResult, error) {
	if e == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	defer e.metricObserve(MetricValidateLatency, start)

	mode, err := e.resolveRouteMode(routeMode)
	if err != nil {
		return nil, err
	}

	var claims *jwt.Claims
	switch mode {
	case ModeJWTOnly:
		claims, err = e.jwtManager.VerifyAccess(accessToken)
		if err != nil {
			err = mapTokenError(err)
		}
	case ModeStrict:
		ctx, cancel := e.storeCtx(ctx)
		defer cancel()
		_, claims, err = e.sessions.CheckActive(ctx, accessToken)
		if err != nil {
			err = e.mapSessionError("validate", err)
		}
	}
	if err != nil {
		e.metricInc(MetricValidateFailure)
		return nil, err
	}

	return &AuthResult{
		UserID:      claims.Subject,
		SessionID:   claims.SessionID,
		TokenID:     claims.ID,
		Permissions: append([]string(nil), claims.Permissions...),
		ExpiresAt:   claims.ExpiresAt.Time,
	}, nil
}

func (e *Engine) resolveRouteMode(routeMode RouteMode) (ValidationMode, error) {
	switch routeMode {
	case ModeInherit:
		return e.config.ValidationMode, nil
	case ModeJWTOnly, ModeStrict:
		return routeMode, nil
	default:
		return 0, ErrInvalidRouteMode
	}
}

// Logout revokes the session bound to accessToken. An already expired or
// unknown session is not an error.
func (e *Engine) Logout(ctx context.Context, accessToken string) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}
	claims, err := e.jwtManager.VerifyAccess(accessToken)
	if err != nil {
		return mapTokenError(err)
	}
	if claims.SessionID == "" {
		return nil
	}

	ctx, cancel := e.storeCtx(ctx)
	defer cancel()
	if err := e.sessions.DeleteSession(ctx, claims.SessionID); err != nil {
		return e.mapSessionError("logout", err)
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogoutSession, true, claims.Subject, claims.SessionID, nil, nil)
	return nil
}

// LogoutAll revokes every session of userID and returns how many were removed.
func (e *Engine) LogoutAll(ctx context.Context, userID string) (int, error) {
	if e == nil || e.sessions == nil {
		return 0, ErrEngineNotReady
	}
	if !authz.ValidUserID(userID) {
		return 0, ErrInvalidIdentifier
	}

	ctx, cancel := e.storeCtx(ctx)
	defer cancel()
	n, err := e.sessions.DeleteAllForSubject(ctx, userID)
	if err != nil {
		return 0, e.mapSessionError("logout_all", err)
	}

	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, auditEventLogoutAll, true, userID, "", nil, func() map[string]string {
		return map[string]string{"sessions": fmt.Sprint(n)}
	})
	return n, nil
}

func (e *Engine) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, e.config.Security.StoreTimeout)
}

// unavailable logs the raw cause and returns the opaque sentinel.
func (e *Engine) unavailable(op string, err error) error {
	e.logger.Error("backend call failed", slog.String("op", op), slog.Any("error", err))
	return fmt.Errorf("%w: %s", ErrUnavailable, op)
}

func mapTokenError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrExpired):
		return fmt.Errorf("%w: %v", ErrTokenExpired, err)
	case errors.Is(err, jwt.ErrMalformed):
		return fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	default:
		return fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
}

func (e *Engine) mapSessionError(op string, err error) error {
	switch {
	case errors.Is(err, session.ErrRefreshReuse):
		return ErrRefreshReuse
	case errors.Is(err, session.ErrInvalidToken):
		return mapTokenError(err)
	case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrSessionMismatch):
		return ErrSessionNotFound
	case errors.Is(err, session.ErrCorrupt):
		e.logger.Warn("corrupt session record", slog.String("op", op))
		return ErrSessionNotFound
	case errors.Is(err, session.ErrNoPermissions), errors.Is(err, ErrPermissionsNotFound):
		return ErrPermissionsNotFound
	case errors.Is(err, ErrUnavailable):
		return err
	default:
		return e.unavailable(op, err)
	}
}

// lookupPermissions returns the current permissions of userID from the
// permission source, or from the user record when none is configured.
func (e *Engine) lookupPermissions(ctx context.Context, userID string, fallback []string) ([]string, error) {
	var (
		perms []string
		err   error
	)
	if e.permissions != nil {
		perms, err = e.permissions.GetPermissions(ctx, userID)
	} else if fallback != nil {
		perms = fallback
	} else {
		var user UserRecord
		user, err = e.users.FindByID(ctx, userID)
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrPermissionsNotFound
		}
		perms = user.Permissions
	}

	switch {
	case err == nil:
	case errors.Is(err, authz.ErrNotFound), errors.Is(err, ErrPermissionsNotFound):
		return nil, ErrPermissionsNotFound
	case errors.Is(err, authz.ErrInvalidIdentifier):
		return nil, ErrInvalidIdentifier
	default:
		return nil, e.unavailable("permissions", err)
	}
	if len(perms) == 0 {
		return nil, ErrPermissionsNotFound
	}
	return perms, nil
}

// permissionLookup feeds the Engine's permission resolution into session refresh.
type permissionLookup struct {
	engine *Engine
}

func (p permissionLookup) GetPermissions(ctx context.Context, userID string) ([]string, error) {
	return p.engine.lookupPermissions(ctx, userID, nil)
}

func vaultUnavailable(err error) bool {
	return errors.Is(err, vault.ErrUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}
