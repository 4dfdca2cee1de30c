package httpapi

import (
	"context"
	"net/http"
	"time"

	zerotrust "github.com/Meraviglioso8/ZeroTrust-DeepLearning"
	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/middleware"
	"github.com/go-chi/chi/v5"
)

// Authenticator is the auth engine as seen by the HTTP layer.
// *zerotrust.Engine satisfies it.
type Authenticator interface {
	middleware.Validator
	Signup(ctx context.Context, email, password string) (*zerotrust.SignupResult, error)
	Login(ctx context.Context, email, password, totpCode string) (*zerotrust.LoginResult, error)
	Refresh(ctx context.Context, refreshToken string) (*zerotrust.LoginResult, error)
	Logout(ctx context.Context, accessToken string) error
	LogoutAll(ctx context.Context, userID string) (int, error)
	EnrollmentQR(ctx context.Context, userID string) (*zerotrust.Enrollment, error)
}

type signupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signupResponse struct {
	UserID  string `json:"user_id"`
	Email   string `json:"email"`
	TOTPURI string `json:"totp_uri"`
	// QRCode is the enrollment PNG; encoding/json emits it as base64.
	QRCode []byte `json:"qr_code_png"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	TOTPCode string `json:"totp_code"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	UserID       string    `json:"user_id"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	SessionID    string    `json:"session_id"`
	ExpiresAt    time.Time `json:"expires_at"`
	Permissions  []string  `json:"permissions"`
}

type identityResponse struct {
	UserID      string    `json:"user_id"`
	SessionID   string    `json:"session_id,omitempty"`
	Permissions []string  `json:"permissions"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type authHandler struct {
	engine Authenticator
	common Common
}

// NewAuthRouter serves the authentication API:
//
//	POST /v1/auth/signup        create an account, returns the TOTP enrollment
//	POST /v1/auth/login         password + TOTP, returns a token pair
//	POST /v1/auth/refresh       rotate a refresh token
//	POST /v1/auth/logout        revoke the presented access token's session
//	POST /v1/auth/logout-all    revoke every session of the caller
//	GET  /v1/auth/enrollment/qr the caller's enrollment QR as image/png
//	GET  /v1/auth/me            the validated identity
func NewAuthRouter(engine Authenticator, c Common) http.Handler {
	h := &authHandler{engine: engine, common: c}
	r := newRouter(c)

	r.Route("/v1/auth", func(r chi.Router) {
		r.Post("/signup", h.signup)
		r.Post("/login", h.login)
		r.Post("/refresh", h.refresh)

		r.With(middleware.RequireJWTOnly(engine)).Post("/logout", h.logout)
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireStrict(engine))
			r.Post("/logout-all", h.logoutAll)
			r.Get("/enrollment/qr", h.enrollmentQR)
		})
		r.With(middleware.Guard(engine, zerotrust.ModeInherit)).Get("/me", h.me)
	})
	return r
}

func (h *authHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, h.common.logger(), err, h.common.Reveal)
}

func (h *authHandler) signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.engine.Signup(r.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, signupResponse{
		UserID:  res.UserID,
		Email:   res.Email,
		TOTPURI: res.TOTPURI,
		QRCode:  res.QRCodePNG,
	})
}

func (h *authHandler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.engine.Login(r.Context(), req.Email, req.Password, req.TOTPCode)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newTokenResponse(res))
}

func (h *authHandler) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.engine.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newTokenResponse(res))
}

func (h *authHandler) logout(w http.ResponseWriter, r *http.Request) {
	token, _ := middleware.BearerToken(r.Header.Get("Authorization"))
	if err := h.engine.Logout(r.Context(), token); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (h *authHandler) logoutAll(w http.ResponseWriter, r *http.Request) {
	id, _ := zerotrust.AuthResultFromContext(r.Context())
	n, err := h.engine.LogoutAll(r.Context(), id.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]int{"revoked": n})
}

func (h *authHandler) enrollmentQR(w http.ResponseWriter, r *http.Request) {
	id, _ := zerotrust.AuthResultFromContext(r.Context())
	enrollment, err := h.engine.EnrollmentQR(r.Context(), id.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(enrollment.QRCodePNG)
}

func (h *authHandler) me(w http.ResponseWriter, r *http.Request) {
	id, _ := zerotrust.AuthResultFromContext(r.Context())
	writeJSON(w, r, http.StatusOK, identityResponse{
		UserID:      id.UserID,
		SessionID:   id.SessionID,
		Permissions: id.Permissions,
		ExpiresAt:   id.ExpiresAt,
	})
}

func newTokenResponse(res *zerotrust.LoginResult) tokenResponse {
	return tokenResponse{
		UserID:       res.UserID,
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		TokenType:    "Bearer",
		SessionID:    res.SessionID,
		ExpiresAt:    res.ExpiresAt,
		Permissions:  res.Permissions,
	}
}
