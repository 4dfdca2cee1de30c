package zerotrust

import (
	"context"
	"errors"
)

// Refresh redeems a refresh token once and returns a new token pair bound to
// a new session. Permissions are read again, so changes made since login
// take effect. Presenting the same refresh token twice yields
// [ErrRefreshReuse].
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}

	sctx, cancel := e.storeCtx(ctx)
	res, err := e.sessions.Refresh(sctx, refreshToken)
	cancel()
	if err != nil {
		mapped := e.mapSessionError("refresh", err)
		if errors.Is(mapped, ErrRefreshReuse) {
			e.metricInc(MetricRefreshReuseDetected)
			e.emitAudit(ctx, auditEventRefreshReuseDetected, false, "", "", mapped, nil)
		} else {
			e.metricInc(MetricRefreshFailure)
			e.emitAudit(ctx, auditEventRefreshInvalid, false, "", "", mapped, nil)
		}
		return nil, mapped
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, res.Subject, res.SessionID, nil, nil)
	return &LoginResult{
		UserID:       res.Subject,
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		SessionID:    res.SessionID,
		ExpiresAt:    res.ExpiresAt,
		Permissions:  res.Permissions,
	}, nil
}
