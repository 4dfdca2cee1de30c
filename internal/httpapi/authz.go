package httpapi

import (
	"errors"
	"net/http"

	zerotrust "github.com/Meraviglioso8/ZeroTrust-DeepLearning"
	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/authz"
	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/jwt"
	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/middleware"
	"github.com/go-chi/chi/v5"
)

// AuthzDeps wires the permission administration API.
type AuthzDeps struct {
	Service *authz.Service
	// Tokens verifies service tokens and signs them at /oauth/token.
	Tokens  *jwt.Manager
	Clients *authz.ClientRegistry
	// Users validates end-user access tokens for the /v1/me routes. The
	// routes are not mounted when nil.
	Users middleware.Validator
}

type permissionsRequest struct {
	Permissions []string `json:"permissions"`
}

type permissionsResponse struct {
	UserID      string   `json:"user_id"`
	Permissions []string `json:"permissions"`
}

type decisionResponse struct {
	UserID  string `json:"user_id"`
	Action  string `json:"action"`
	Allowed bool   `json:"allowed"`
}

type authzHandler struct {
	svc    *authz.Service
	common Common
}

// NewAuthzRouter serves the permission service:
//
//	POST   /oauth/token                          client-credentials grant
//	GET    /v1/permissions/{user_id}             permissions:read
//	PUT    /v1/permissions/{user_id}             permissions:write, replace
//	POST   /v1/permissions/{user_id}/add         permissions:write
//	POST   /v1/permissions/{user_id}/remove      permissions:write
//	GET    /v1/permissions/{user_id}/can/{action} permissions:read
//	GET    /v1/catalog                           permissions:read
//	GET    /v1/me/permissions                    end-user token
//	GET    /v1/me/can/{action}                   end-user token
func NewAuthzRouter(deps AuthzDeps, c Common) http.Handler {
	h := &authzHandler{svc: deps.Service, common: c}
	r := newRouter(c)

	r.Method(http.MethodPost, "/oauth/token", authz.TokenHandler(deps.Clients, deps.Tokens))

	r.Route("/v1", func(r chi.Router) {
		read := RequireServiceScope(deps.Tokens, authz.ScopeRead)
		write := RequireServiceScope(deps.Tokens, authz.ScopeWrite)

		r.Route("/permissions/{userID}", func(r chi.Router) {
			r.With(read).Get("/", h.get)
			r.With(write).Put("/", h.set)
			r.With(write).Post("/add", h.add)
			r.With(write).Post("/remove", h.remove)
			r.With(read).Get("/can/{action}", h.can)
		})
		r.With(read).Get("/catalog", h.catalog)

		if deps.Users != nil {
			r.Group(func(r chi.Router) {
				r.Use(middleware.Guard(deps.Users, zerotrust.ModeInherit))
				r.Get("/me/permissions", h.mine)
				r.Get("/me/can/{action}", h.myDecision)
			})
		}
	})
	return r
}

func (h *authzHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, h.common.logger(), err, false)
}

func (h *authzHandler) get(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	perms, err := h.svc.GetPermissions(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, permissionsResponse{UserID: userID, Permissions: perms})
}

func (h *authzHandler) set(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(userID string, perms []string) ([]string, error) {
		return h.svc.SetPermissions(r.Context(), userID, perms)
	})
}

func (h *authzHandler) add(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(userID string, perms []string) ([]string, error) {
		return h.svc.AddPermissions(r.Context(), userID, perms...)
	})
}

func (h *authzHandler) remove(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(userID string, perms []string) ([]string, error) {
		return h.svc.RemovePermissions(r.Context(), userID, perms...)
	})
}

func (h *authzHandler) mutate(w http.ResponseWriter, r *http.Request, fn func(string, []string) ([]string, error)) {
	userID := chi.URLParam(r, "userID")
	var req permissionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	perms, err := fn(userID, req.Permissions)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, permissionsResponse{UserID: userID, Permissions: perms})
}

func (h *authzHandler) can(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, chi.URLParam(r, "userID"))
}

func (h *authzHandler) myDecision(w http.ResponseWriter, r *http.Request) {
	id, _ := zerotrust.AuthResultFromContext(r.Context())
	h.decide(w, r, id.UserID)
}

func (h *authzHandler) decide(w http.ResponseWriter, r *http.Request, userID string) {
	action := chi.URLParam(r, "action")
	err := h.svc.Authorize(r.Context(), userID, action)
	if err != nil && !errors.Is(err, authz.ErrForbidden) {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, decisionResponse{UserID: userID, Action: action, Allowed: err == nil})
}

func (h *authzHandler) mine(w http.ResponseWriter, r *http.Request) {
	id, _ := zerotrust.AuthResultFromContext(r.Context())
	perms, err := h.svc.GetPermissions(r.Context(), id.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, permissionsResponse{UserID: id.UserID, Permissions: perms})
}

func (h *authzHandler) catalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string][]string{"permissions": h.svc.Catalog().Permissions()})
}
