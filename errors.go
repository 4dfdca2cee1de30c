package zerotrust

import "errors"

var (
	// ErrUserNotFound is returned when no account matches the email or id.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidCredentials is returned when the password does not verify.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidTOTPCode is returned when the second factor does not verify
	// or the account has no enrolled secret.
	ErrInvalidTOTPCode = errors.New("invalid totp code")
	// ErrPermissionsNotFound is returned when an authenticated user has no permission record.
	ErrPermissionsNotFound = errors.New("permissions not found")
	// ErrDuplicateEmail is returned by Signup when the email is already registered.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrTokenExpired is returned for tokens whose exp has passed.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid is returned for tokens with a bad signature, issuer, type or timing.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrTokenMalformed is returned for input that is not a compact JWS.
	ErrTokenMalformed = errors.New("token malformed")
	// ErrSessionNotFound is returned when a strict check finds no live session for the token.
	ErrSessionNotFound = errors.New("session not found")
	// ErrUnavailable is returned when a store, cache or vault cannot be reached in time.
	ErrUnavailable = errors.New("service temporarily unavailable")
	// ErrInvalidIdentifier is returned for user ids outside ^[a-zA-Z0-9_-]{1,50}$.
	ErrInvalidIdentifier = errors.New("invalid user identifier")
	// ErrLoginRateLimited is returned once the login budget for an email or IP is spent.
	ErrLoginRateLimited = errors.New("login rate limited")
	// ErrPasswordPolicy is returned by Signup when the password fails the policy.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrInvalidEmail is returned by Signup for malformed email addresses.
	ErrInvalidEmail = errors.New("invalid email")
	// ErrRefreshReuse is returned when a refresh token is presented a second time.
	ErrRefreshReuse = errors.New("refresh token reuse detected")
	// ErrEngineNotReady is returned when an Engine method is called on a nil or closed engine.
	ErrEngineNotReady = errors.New("engine is not initialized")
	// ErrInvalidRouteMode is returned by Validate for unknown modes.
	ErrInvalidRouteMode = errors.New("invalid route mode")
	// ErrSessionBindUnavailable is returned by a SessionBinder that cannot accept work.
	ErrSessionBindUnavailable = errors.New("session binder unavailable")
)

const (
	msgInvalidCredentials = "Invalid credentials"
	msgTryAgainLater      = "Try again later"
)

// PublicMessage returns the text that may be shown to a client for err.
//
// Every authentication-gate failure collapses to "Invalid credentials" so a
// caller cannot tell which gate rejected it. With reveal set (development
// only, see SecurityConfig.RevealAuthFailureReason) the gate is named.
// Infrastructure failures always read "Try again later".
func PublicMessage(err error, reveal bool) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnavailable), errors.Is(err, ErrEngineNotReady):
		return msgTryAgainLater
	case errors.Is(err, ErrLoginRateLimited):
		return "Too many attempts, try again later"
	case errors.Is(err, ErrDuplicateEmail):
		return "Email already registered"
	case errors.Is(err, ErrInvalidEmail):
		return "Invalid email"
	case errors.Is(err, ErrPasswordPolicy):
		return "Password must be 8-16 characters and contain a letter and a digit"
	case errors.Is(err, ErrInvalidIdentifier):
		return "Invalid user identifier"
	}

	if reveal {
		switch {
		case errors.Is(err, ErrUserNotFound):
			return "User not found"
		case errors.Is(err, ErrInvalidTOTPCode):
			return "Invalid TOTP code"
		case errors.Is(err, ErrPermissionsNotFound):
			return "Permissions not found"
		case errors.Is(err, ErrTokenExpired):
			return "Token expired"
		case errors.Is(err, ErrRefreshReuse):
			return "Refresh token already used"
		}
	}

	switch {
	case errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrInvalidTOTPCode),
		errors.Is(err, ErrPermissionsNotFound),
		errors.Is(err, ErrTokenExpired),
		errors.Is(err, ErrTokenInvalid),
		errors.Is(err, ErrTokenMalformed),
		errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrRefreshReuse):
		return msgInvalidCredentials
	}
	return msgTryAgainLater
}

// IsUnavailable reports whether err is an infrastructure failure rather than
// a rejection. Callers map it to 503 instead of 401.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrEngineNotReady)
}
