package middleware

import (
	"context"
	"errors"

	zerotrust "github.com/Meraviglioso8/ZeroTrust-DeepLearning"
	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/jwt"
	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/session"
)

// Verifier validates access tokens for services that share the signing
// secret but do not run the auth engine. With a nil Sessions it can only
// serve ModeJWTOnly.
type Verifier struct {
	Tokens   *jwt.Manager
	Sessions *session.Manager
	// Default is used for ModeInherit. Anything but ModeStrict means
	// ModeJWTOnly.
	Default zerotrust.ValidationMode
}

func (v *Verifier) Validate(ctx context.Context, token string, mode zerotrust.RouteMode) (*zerotrust.AuthResult, error) {
	if mode == zerotrust.ModeInherit {
		mode = zerotrust.ModeJWTOnly
		if v.Default == zerotrust.ModeStrict {
			mode = zerotrust.ModeStrict
		}
	}
	switch mode {
	case zerotrust.ModeJWTOnly:
		claims, err := v.Tokens.VerifyAccess(token)
		if err != nil {
			return nil, tokenError(err)
		}
		return result(claims), nil
	case zerotrust.ModeStrict:
		if v.Sessions == nil {
			return nil, zerotrust.ErrInvalidRouteMode
		}
		_, claims, err := v.Sessions.CheckActive(ctx, token)
		switch {
		case err == nil:
			return result(claims), nil
		case errors.Is(err, session.ErrNotFound):
			return nil, zerotrust.ErrSessionNotFound
		case errors.Is(err, session.ErrRedisUnavailable):
			return nil, zerotrust.ErrUnavailable
		default:
			return nil, tokenError(err)
		}
	default:
		return nil, zerotrust.ErrInvalidRouteMode
	}
}

func tokenError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrExpired):
		return zerotrust.ErrTokenExpired
	case errors.Is(err, jwt.ErrMalformed):
		return zerotrust.ErrTokenMalformed
	default:
		return zerotrust.ErrTokenInvalid
	}
}

func result(c *jwt.Claims) *zerotrust.AuthResult {
	res := &zerotrust.AuthResult{
		UserID:      c.Subject,
		SessionID:   c.SessionID,
		TokenID:     c.ID,
		Permissions: c.Permissions,
	}
	if c.ExpiresAt != nil {
		res.ExpiresAt = c.ExpiresAt.Time
	}
	return res
}
