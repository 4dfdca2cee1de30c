package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	zerotrust "github.com/Meraviglioso8/ZeroTrust-DeepLearning"
	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/authz"
	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/session"
)

var errBadRequest = errors.New("malformed request body")

// Error codes carried in the envelope.
const (
	codeInvalidRequest = "INVALID_REQUEST"
	codeUnauthorized   = "UNAUTHORIZED"
	codeForbidden      = "FORBIDDEN"
	codeNotFound       = "NOT_FOUND"
	codeConflict       = "CONFLICT"
	codeRateLimited    = "RATE_LIMITED"
	codeUnavailable    = "UNAVAILABLE"
	codeInternal       = "INTERNAL"
)

// classify maps an error from any mesh component to a status, a code and
// the message that may be shown to the caller. Infrastructure detail never
// reaches the response.
func classify(err error, reveal bool) (int, string, string) {
	switch {
	case zerotrust.IsUnavailable(err),
		errors.Is(err, authz.ErrUnavailable),
		errors.Is(err, session.ErrRedisUnavailable),
		errors.Is(err, zerotrust.ErrSessionBindUnavailable):
		return http.StatusServiceUnavailable, codeUnavailable, "Try again later"

	case errors.Is(err, zerotrust.ErrLoginRateLimited):
		return http.StatusTooManyRequests, codeRateLimited, zerotrust.PublicMessage(err, reveal)

	case errors.Is(err, zerotrust.ErrDuplicateEmail):
		return http.StatusConflict, codeConflict, zerotrust.PublicMessage(err, reveal)

	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, codeInvalidRequest, "Malformed request body"
	case errors.Is(err, zerotrust.ErrInvalidEmail),
		errors.Is(err, zerotrust.ErrPasswordPolicy),
		errors.Is(err, zerotrust.ErrInvalidIdentifier):
		return http.StatusBadRequest, codeInvalidRequest, zerotrust.PublicMessage(err, reveal)
	case errors.Is(err, authz.ErrInvalidIdentifier),
		errors.Is(err, authz.ErrInvalidPermission),
		errors.Is(err, authz.ErrUnknownPermission),
		errors.Is(err, session.ErrInvalidToken),
		errors.Is(err, session.ErrSessionMismatch),
		errors.Is(err, session.ErrInvalidID):
		return http.StatusBadRequest, codeInvalidRequest, sentinelMessage(err)

	case errors.Is(err, authz.ErrForbidden):
		return http.StatusForbidden, codeForbidden, "forbidden"

	case errors.Is(err, authz.ErrNotFound),
		errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound, codeNotFound, sentinelMessage(err)
	}

	if msg := zerotrust.PublicMessage(err, reveal); msg != "Try again later" {
		return http.StatusUnauthorized, codeUnauthorized, msg
	}
	return http.StatusInternalServerError, codeInternal, "Try again later"
}

var publicSentinels = []error{
	authz.ErrNotFound,
	authz.ErrInvalidIdentifier,
	authz.ErrInvalidPermission,
	authz.ErrUnknownPermission,
	session.ErrNotFound,
	session.ErrInvalidToken,
	session.ErrSessionMismatch,
	session.ErrInvalidID,
}

// sentinelMessage returns the sentinel text without any wrapped detail.
func sentinelMessage(err error) string {
	for _, s := range publicSentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "invalid request"
}

func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error, reveal bool) {
	status, code, msg := classify(err, reveal)
	if status >= http.StatusInternalServerError && logger != nil {
		logger.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.Any("error", err),
		)
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="zerotrust"`)
	}
	writeErrorCode(w, r, status, code, msg)
}
