package zerotrust

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/internal/rate"
	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/session"
	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/vault"
)

// Login authenticates email, password and a TOTP code and issues an access
// and refresh token pair.
//
// Gates run strictly in order and stop at the first failure:
//
//  1. the account exists ([ErrUserNotFound])
//  2. the password verifies ([ErrInvalidCredentials])
//  3. the TOTP code verifies against the vaulted secret ([ErrInvalidTOTPCode])
//  4. the account has permissions ([ErrPermissionsNotFound])
//
// Tokens are issued only after all four pass. The session is bound through
// the configured [SessionBinder]; a binding failure is logged and does not
// fail the login. Backend outages surface as [ErrUnavailable].
func (e *Engine) Login(ctx context.Context, email, pass, totpCode string) (*LoginResult, error) {
	if e == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}
	email = NormalizeEmail(email)
	ip := clientIPFromContext(ctx)

	if err := e.checkLoginThrottle(ctx, email, ip); err != nil {
		return nil, err
	}

	res, err := e.login(ctx, email, pass, totpCode)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		if errors.Is(err, ErrUserNotFound) || errors.Is(err, ErrInvalidCredentials) || errors.Is(err, ErrInvalidTOTPCode) {
			e.recordLoginFailure(ctx, email, ip)
		}
		e.emitAudit(ctx, auditEventLoginFailure, false, "", "", err, nil)
		return nil, err
	}

	if e.rateLimiter != nil {
		if rerr := e.rateLimiter.ResetLogin(ctx, email, ip); rerr != nil {
			e.logger.Warn("login throttle reset failed", slog.Any("error", rerr))
		}
	}
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, res.UserID, res.SessionID, nil, nil)
	return res, nil
}

func (e *Engine) login(ctx context.Context, email, pass, totpCode string) (*LoginResult, error) {
	// Gate 1: account.
	user, err := e.findUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	// Gate 2: password.
	ok, err := e.passwordHash.Verify(pass, user.PasswordHash)
	if err != nil || !ok {
		return nil, ErrInvalidCredentials
	}
	e.maybeUpgradePasswordHash(ctx, user.ID, pass, user.PasswordHash)

	// Gate 3: second factor.
	if err := e.verifyUserTOTP(ctx, user.ID, totpCode); err != nil {
		return nil, err
	}

	// Gate 4: permissions.
	pctx, cancel := e.storeCtx(ctx)
	perms, err := e.lookupPermissions(pctx, user.ID, user.Permissions)
	cancel()
	if err != nil {
		return nil, err
	}

	return e.issueSession(ctx, user.ID, perms)
}

func (e *Engine) findUserByEmail(ctx context.Context, email string) (UserRecord, error) {
	if email == "" {
		return UserRecord{}, ErrUserNotFound
	}
	ctx, cancel := e.storeCtx(ctx)
	defer cancel()

	user, err := e.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return UserRecord{}, ErrUserNotFound
		}
		return UserRecord{}, e.unavailable("find_user", err)
	}
	return user, nil
}

func (e *Engine) verifyUserTOTP(ctx context.Context, userID, code string) error {
	vctx, cancel := e.storeCtx(ctx)
	secret, err := e.vault.RetrieveSecret(vctx, userID)
	cancel()
	if err != nil {
		if vaultUnavailable(err) {
			e.metricInc(MetricVaultFailure)
			return e.unavailable("vault_retrieve", err)
		}
		if errors.Is(err, vault.ErrNotFound) {
			// Enrollment never completed; treat like a wrong code.
			e.logger.Warn("no totp secret for user", slog.String("user_id", userID))
			e.metricInc(MetricTOTPFailure)
			return ErrInvalidTOTPCode
		}
		return e.unavailable("vault_retrieve", err)
	}

	if ok, _ := e.totp.Verify(secret, code, e.now()); !ok {
		e.metricInc(MetricTOTPFailure)
		return ErrInvalidTOTPCode
	}
	e.metricInc(MetricTOTPSuccess)
	return nil
}

// issueSession mints the token pair under a fresh session id and queues the
// binding. Tokens are returned even if the binder refuses the job.
func (e *Engine) issueSession(ctx context.Context, userID string, perms []string) (*LoginResult, error) {
	sessionID, err := session.NewID()
	if err != nil {
		return nil, err
	}
	access, claims, err := e.jwtManager.IssueAccess(userID, perms, sessionID)
	if err != nil {
		return nil, err
	}
	refresh, _, err := e.jwtManager.IssueRefresh(userID, sessionID)
	if err != nil {
		return nil, err
	}

	job := BindJob{SessionID: sessionID, AccessToken: access, Subject: userID}
	if err := e.binder.Enqueue(ctx, job); err != nil {
		e.metricInc(MetricSessionBindFailed)
		e.logger.Error("session binding not queued",
			slog.String("session_id", sessionID),
			slog.String("user_id", userID),
			slog.Any("error", err),
		)
		e.emitAudit(ctx, auditEventSessionBindFailed, false, userID, sessionID, ErrSessionBindUnavailable, nil)
	} else {
		e.metricInc(MetricSessionBindQueued)
	}

	return &LoginResult{
		UserID:       userID,
		AccessToken:  access,
		RefreshToken: refresh,
		SessionID:    sessionID,
		ExpiresAt:    claims.ExpiresAt.Time,
		Permissions:  append([]string(nil), perms...),
	}, nil
}

func (e *Engine) checkLoginThrottle(ctx context.Context, email, ip string) error {
	if e.rateLimiter == nil {
		return nil
	}
	err := e.rateLimiter.CheckLogin(ctx, email, ip)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, rate.ErrRateLimited):
		e.metricInc(MetricLoginRateLimited)
		e.emitAudit(ctx, auditEventLoginRateLimited, false, "", "", ErrLoginRateLimited, nil)
		return ErrLoginRateLimited
	default:
		return e.unavailable("login_throttle", err)
	}
}

func (e *Engine) recordLoginFailure(ctx context.Context, email, ip string) {
	if e.rateLimiter == nil || email == "" {
		return
	}
	if err := e.rateLimiter.IncrementLogin(ctx, email, ip); err != nil && !errors.Is(err, rate.ErrRateLimited) {
		e.logger.Warn("login throttle increment failed", slog.Any("error", err))
	}
}

// maybeUpgradePasswordHash rehashes with the current cost parameters after a
// successful verify. Failures are logged and never fail the login.
func (e *Engine) maybeUpgradePasswordHash(ctx context.Context, userID, pass, encoded string) {
	if !e.config.Password.UpgradeOnLogin {
		return
	}
	needs, err := e.passwordHash.NeedsUpgrade(encoded)
	if err != nil || !needs {
		return
	}
	upgraded, err := e.passwordHash.Hash(pass)
	if err != nil {
		return
	}
	ctx, cancel := e.storeCtx(ctx)
	defer cancel()
	if err := e.users.UpdatePasswordHash(ctx, userID, upgraded); err != nil {
		e.logger.Warn("password hash upgrade failed", slog.String("user_id", userID), slog.Any("error", err))
	}
}
