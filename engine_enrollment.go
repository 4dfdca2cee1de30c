package zerotrust

import (
	"context"
	"errors"

	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/authz"
	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/vault"
)

// EnrollmentQR rebuilds the provisioning URI and QR code for userID from the
// vaulted secret. Callers must have authenticated userID first; the result
// lets anyone holding it generate valid codes.
func (e *Engine) EnrollmentQR(ctx context.Context, userID string) (*Enrollment, error) {
	if e == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}
	if !authz.ValidUserID(userID) {
		return nil, ErrInvalidIdentifier
	}

	uctx, cancel := e.storeCtx(ctx)
	user, err := e.users.FindByID(uctx, userID)
	cancel()
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, e.unavailable("find_user", err)
	}

	vctx, cancel := e.storeCtx(ctx)
	secret, err := e.vault.RetrieveSecret(vctx, userID)
	cancel()
	if err != nil {
		if errors.Is(err, vault.ErrNotFound) {
			// Signup stopped before the secret was stored.
			return nil, ErrUserNotFound
		}
		e.metricInc(MetricVaultFailure)
		return nil, e.unavailable("vault_retrieve", err)
	}

	uri := e.totp.ProvisionURI(secret, user.Email)
	qr, err := RenderQRCode(uri)
	if err != nil {
		return nil, err
	}

	e.emitAudit(ctx, auditEventEnrollmentQR, true, userID, "", nil, nil)
	return &Enrollment{URI: uri, QRCodePNG: qr}, nil
}
