package httpapi

import (
	"net/http"
	"time"

	zerotrust "github.com/Meraviglioso8/ZeroTrust-DeepLearning"
	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/internal/sessionapi"
	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/jwt"
	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/session"
	"github.com/go-chi/chi/v5"
)

// SessionDeps wires the session API.
type SessionDeps struct {
	Sessions *session.Manager
	Tokens   *jwt.Manager
	// Queue accepts bindings asynchronously when set; otherwise
	// /v1/bindings writes the session before answering.
	Queue zerotrust.SessionBinder
}

type createSessionRequest struct {
	AccessToken string `json:"access_token"`
}

type sessionView struct {
	SessionID   string    `json:"session_id"`
	Subject     string    `json:"subject"`
	Permissions []string  `json:"permissions"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type sessionHandler struct {
	deps   SessionDeps
	common Common
}

// NewSessionRouter serves the session service. Every route needs a service
// token with the sessions:read or sessions:write scope.
//
//	POST   /v1/sessions                       create from an access token
//	POST   /v1/bindings                       bind a caller-chosen session id
//	GET    /v1/sessions/{sessionID}
//	DELETE /v1/sessions/{sessionID}
//	GET    /v1/subjects/{subject}/sessions    live session ids
//	DELETE /v1/subjects/{subject}/sessions    revoke all
func NewSessionRouter(deps SessionDeps, c Common) http.Handler {
	h := &sessionHandler{deps: deps, common: c}
	r := newRouter(c)

	read := RequireServiceScope(deps.Tokens, sessionapi.ScopeRead)
	write := RequireServiceScope(deps.Tokens, sessionapi.ScopeWrite)

	r.Route("/v1", func(r chi.Router) {
		r.With(write).Post("/sessions", h.create)
		r.With(write).Post("/bindings", h.bind)
		r.With(read).Get("/sessions/{sessionID}", h.get)
		r.With(write).Delete("/sessions/{sessionID}", h.delete)
		r.With(read).Get("/subjects/{subject}/sessions", h.list)
		r.With(write).Delete("/subjects/{subject}/sessions", h.deleteAll)
	})
	return r
}

func (h *sessionHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, h.common.logger(), err, false)
}

func (h *sessionHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	id, err := h.deps.Sessions.CreateSession(r.Context(), req.AccessToken)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, map[string]string{"session_id": id})
}

func (h *sessionHandler) bind(w http.ResponseWriter, r *http.Request) {
	var job zerotrust.BindJob
	if err := decodeJSON(w, r, &job); err != nil {
		h.fail(w, r, err)
		return
	}
	if !session.ValidID(job.SessionID) || job.AccessToken == "" {
		h.fail(w, r, session.ErrInvalidID)
		return
	}

	if h.deps.Queue != nil {
		if err := h.deps.Queue.Enqueue(r.Context(), job); err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusAccepted, map[string]string{"session_id": job.SessionID, "status": "queued"})
		return
	}

	if err := h.deps.Sessions.Bind(r.Context(), job.SessionID, job.AccessToken); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, map[string]string{"session_id": job.SessionID, "status": "bound"})
}

func (h *sessionHandler) get(w http.ResponseWriter, r *http.Request) {
	sess, err := h.deps.Sessions.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, sessionView{
		SessionID:   sess.SessionID,
		Subject:     sess.Subject,
		Permissions: sess.Permissions,
		CreatedAt:   time.Unix(sess.CreatedAt, 0).UTC(),
		ExpiresAt:   time.Unix(sess.ExpiresAt, 0).UTC(),
	})
}

func (h *sessionHandler) delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if err := h.deps.Sessions.DeleteSession(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"session_id": id, "status": "deleted"})
}

func (h *sessionHandler) list(w http.ResponseWriter, r *http.Request) {
	subject := chi.URLParam(r, "subject")
	ids, err := h.deps.Sessions.Store().ActiveSessionIDs(r.Context(), subject)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"subject": subject, "session_ids": ids})
}

func (h *sessionHandler) deleteAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.deps.Sessions.DeleteAllForSubject(r.Context(), chi.URLParam(r, "subject"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]int{"revoked": n})
}
