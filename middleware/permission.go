package middleware

import (
	"errors"
	"net/http"
	"slices"

	zerotrust "github.com/Meraviglioso8/ZeroTrust-DeepLearning"
)

var errForbidden = errors.New("forbidden")

// ActionChecker decides whether a permission set grants an action.
// *authz.Catalog and *authz.Service satisfy it.
type ActionChecker interface {
	CanPerform(perms []string, action string) bool
}

// RequirePermission lets the request through when the token carries perm.
// It must run after a guard.
func RequirePermission(perm string) func(http.Handler) http.Handler {
	return require(func(res *zerotrust.AuthResult) bool {
		return slices.Contains(res.Permissions, perm)
	})
}

// RequireAction lets the request through when one of the token's
// permissions grants action under checker.
func RequireAction(checker ActionChecker, action string) func(http.Handler) http.Handler {
	return require(func(res *zerotrust.AuthResult) bool {
		return checker.CanPerform(res.Permissions, action)
	})
}

func require(allowed func(*zerotrust.AuthResult) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, ok := zerotrust.AuthResultFromContext(r.Context())
			if !ok {
				deny(w, http.StatusUnauthorized, zerotrust.ErrTokenInvalid)
				return
			}
			if !allowed(res) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"error":"` + errForbidden.Error() + `"}` + "\n"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
