package zerotrust

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Signup registers a new account and returns its TOTP enrollment data.
//
// Steps: validate input, reject known emails, hash the password, generate a
// TOTP secret, insert the user, store the secret in the vault, grant the
// default role's permissions, then build the provisioning URI and QR code.
//
// The storage layer's unique index decides duplicates; the pre-check only
// saves the hashing cost. If the vault write fails after the insert, the
// account exists without a secret and every login fails the TOTP gate until
// it is repaired. A failed permission grant leaves the account stuck at the
// permission gate the same way. Both windows are logged and reported as
// [ErrUnavailable].
func (e *Engine) Signup(ctx context.Context, email, pass string) (*SignupResult, error) {
	if e == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}
	email = NormalizeEmail(email)

	res, err := e.signup(ctx, email, pass)
	if err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			e.metricInc(MetricSignupDuplicate)
			e.emitAudit(ctx, auditEventSignupDuplicate, false, "", "", err, nil)
		} else {
			e.metricInc(MetricSignupFailure)
			e.emitAudit(ctx, auditEventSignupFailure, false, "", "", err, nil)
		}
		return nil, err
	}

	e.metricInc(MetricSignupSuccess)
	e.emitAudit(ctx, auditEventSignupSuccess, true, res.UserID, "", nil, nil)
	return res, nil
}

func (e *Engine) signup(ctx context.Context, email, pass string) (*SignupResult, error) {
	if !ValidEmail(email) {
		return nil, ErrInvalidEmail
	}
	if err := e.policy.Check(pass); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPasswordPolicy, err)
	}

	exists, err := e.emailExists(ctx, email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrDuplicateEmail
	}

	hash, err := e.passwordHash.Hash(pass)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPasswordPolicy, err)
	}
	secret, err := GenerateTOTPSecret()
	if err != nil {
		return nil, err
	}

	user, err := e.insertUser(ctx, NewUser{
		Email:        email,
		PasswordHash: hash,
		Permissions:  append([]string(nil), e.defaultPerms...),
	})
	if err != nil {
		return nil, err
	}

	vctx, cancel := e.storeCtx(ctx)
	_, err = e.vault.StoreSecret(vctx, user.ID, secret)
	cancel()
	if err != nil {
		e.metricInc(MetricVaultFailure)
		e.logger.Error("account created without totp secret",
			slog.String("user_id", user.ID),
			slog.Any("error", err),
		)
		return nil, fmt.Errorf("%w: vault_store", ErrUnavailable)
	}

	if err := e.grantDefaultPermissions(ctx, user.ID); err != nil {
		return nil, err
	}

	uri := e.totp.ProvisionURI(secret, email)
	qr, err := RenderQRCode(uri)
	if err != nil {
		return nil, err
	}

	return &SignupResult{
		UserID:    user.ID,
		Email:     email,
		TOTPURI:   uri,
		QRCodePNG: qr,
	}, nil
}

func (e *Engine) emailExists(ctx context.Context, email string) (bool, error) {
	ctx, cancel := e.storeCtx(ctx)
	defer cancel()
	exists, err := e.users.ExistsByEmail(ctx, email)
	if err != nil {
		return false, e.unavailable("exists_by_email", err)
	}
	return exists, nil
}

func (e *Engine) insertUser(ctx context.Context, user NewUser) (UserRecord, error) {
	ctx, cancel := e.storeCtx(ctx)
	defer cancel()
	rec, err := e.users.Insert(ctx, user)
	if err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return UserRecord{}, ErrDuplicateEmail
		}
		return UserRecord{}, e.unavailable("insert_user", err)
	}
	return rec, nil
}

// grantDefaultPermissions registers the default role with the permission
// service. Login reads only that service once it is configured, so the copy
// on the user record does not cover a failed grant.
func (e *Engine) grantDefaultPermissions(ctx context.Context, userID string) error {
	if e.permissions == nil {
		return nil
	}
	ctx, cancel := e.storeCtx(ctx)
	defer cancel()
	if _, err := e.permissions.SetPermissions(ctx, userID, e.defaultPerms); err != nil {
		e.logger.Error("default permissions not registered",
			slog.String("user_id", userID),
			slog.Any("error", err),
		)
		return fmt.Errorf("%w: permissions_grant", ErrUnavailable)
	}
	return nil
}
