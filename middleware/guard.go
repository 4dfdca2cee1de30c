package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	zerotrust "github.com/Meraviglioso8/ZeroTrust-DeepLearning"
)

// Validator checks an access token. *zerotrust.Engine and *Verifier
// satisfy it.
type Validator interface {
	Validate(ctx context.Context, token string, mode zerotrust.RouteMode) (*zerotrust.AuthResult, error)
}

// AuthResultFromContext returns the identity a guard attached to ctx.
func AuthResultFromContext(ctx context.Context) (*zerotrust.AuthResult, bool) {
	return zerotrust.AuthResultFromContext(ctx)
}

// Guard rejects requests without a valid bearer token and attaches the
// validated identity to the request context. routeMode ModeInherit uses the
// validator's default.
func Guard(v Validator, routeMode zerotrust.RouteMode) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v == nil {
				deny(w, http.StatusUnauthorized, zerotrust.ErrTokenInvalid)
				return
			}

			token, ok := BearerToken(r.Header.Get("Authorization"))
			if !ok {
				deny(w, http.StatusUnauthorized, zerotrust.ErrTokenInvalid)
				return
			}

			res, err := v.Validate(r.Context(), token, routeMode)
			if err != nil {
				code := http.StatusUnauthorized
				if zerotrust.IsUnavailable(err) {
					code = http.StatusServiceUnavailable
				}
				deny(w, code, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(zerotrust.WithAuthResult(r.Context(), res)))
		})
	}
}

// RequireJWTOnly validates the token signature and claims only. Logout is
// not observed until the token expires.
func RequireJWTOnly(v Validator) func(http.Handler) http.Handler {
	return Guard(v, zerotrust.ModeJWTOnly)
}

// RequireStrict additionally requires the token's session to be live.
func RequireStrict(v Validator) func(http.Handler) http.Handler {
	return Guard(v, zerotrust.ModeStrict)
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(value string) (string, bool) {
	token, ok := strings.CutPrefix(value, "Bearer ")
	if !ok || token == "" {
		return "", false
	}
	return token, true
}

func deny(w http.ResponseWriter, code int, err error) {
	if code == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="zerotrust"`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": zerotrust.PublicMessage(err, false)})
}
