package httpapi

import (
	"context"
	"net/http"
	"slices"

	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/jwt"
	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/middleware"
)

type serviceClientKey struct{}

// RequireServiceScope admits requests carrying a service token (issued by
// the client-credentials endpoint) that was granted scope.
func RequireServiceScope(tokens *jwt.Manager, scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := middleware.BearerToken(r.Header.Get("Authorization"))
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="zerotrust"`)
				writeErrorCode(w, r, http.StatusUnauthorized, codeUnauthorized, "service token required")
				return
			}
			claims, err := tokens.VerifyService(raw)
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="zerotrust", error="invalid_token"`)
				writeErrorCode(w, r, http.StatusUnauthorized, codeUnauthorized, "invalid service token")
				return
			}
			if !slices.Contains(claims.Permissions, scope) {
				w.Header().Set("WWW-Authenticate", `Bearer realm="zerotrust", error="insufficient_scope", scope="`+scope+`"`)
				writeErrorCode(w, r, http.StatusForbidden, codeForbidden, "insufficient scope")
				return
			}
			ctx := context.WithValue(r.Context(), serviceClientKey{}, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ServiceClientFromContext returns the client id admitted by RequireServiceScope.
func ServiceClientFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(serviceClientKey{}).(string)
	return id, ok && id != ""
}
