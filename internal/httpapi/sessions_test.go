package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	zerotrust "github.com/Meraviglioso8/ZeroTrust-DeepLearning"
	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/internal/sessionapi"
	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/jwt"
	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/session"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sessionHarness struct {
	mr       *miniredis.Miniredis
	tokens   *jwt.Manager
	sessions *session.Manager
	service  string
}

func newSessionHarness(t *testing.T) *sessionHarness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	tokens, err := jwt.NewManager(jwt.Config{Secret: []byte("session-http-test-secret-01")})
	require.NoError(t, err)
	sessions, err := session.NewManager(session.NewStore(client), tokens, nil, session.ManagerConfig{})
	require.NoError(t, err)

	svcToken, _, err := tokens.IssueService("auth-service", []string{sessionapi.ScopeRead, sessionapi.ScopeWrite})
	require.NoError(t, err)

	return &sessionHarness{mr: mr, tokens: tokens, sessions: sessions, service: svcToken}
}

func (h *sessionHarness) access(t *testing.T, subject, sid string) string {
	t.Helper()
	token, _, err := h.tokens.IssueAccess(subject, []string{"view_products"}, sid)
	require.NoError(t, err)
	return token
}

func TestSessionLifecycle(t *testing.T) {
	h := newSessionHarness(t)
	router := NewSessionRouter(SessionDeps{Sessions: h.sessions, Tokens: h.tokens}, Common{})

	rr := perform(router, http.MethodPost, "/v1/sessions", bearer(h.service),
		`{"access_token":"`+h.access(t, "user_1", "")+`"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created map[string]string
	decodeData(t, rr, &created)
	sid := created["session_id"]
	require.NotEmpty(t, sid)

	rr = perform(router, http.MethodGet, "/v1/sessions/"+sid, bearer(h.service), "")
	require.Equal(t, http.StatusOK, rr.Code)
	var view sessionView
	decodeData(t, rr, &view)
	assert.Equal(t, "user_1", view.Subject)
	assert.Equal(t, []string{"view_products"}, view.Permissions)
	assert.NotContains(t, rr.Body.String(), "access_token")

	rr = perform(router, http.MethodGet, "/v1/subjects/user_1/sessions", bearer(h.service), "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), sid)

	rr = perform(router, http.MethodDelete, "/v1/sessions/"+sid, bearer(h.service), "")
	require.Equal(t, http.StatusOK, rr.Code)

	rr = perform(router, http.MethodGet, "/v1/sessions/"+sid, bearer(h.service), "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSessionCreateRejectsInvalidToken(t *testing.T) {
	h := newSessionHarness(t)
	router := NewSessionRouter(SessionDeps{Sessions: h.sessions, Tokens: h.tokens}, Common{})

	rr := perform(router, http.MethodPost, "/v1/sessions", bearer(h.service), `{"access_token":"not-a-token"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Empty(t, h.mr.Keys())
}

func TestSessionRoutesNeedServiceToken(t *testing.T) {
	h := newSessionHarness(t)
	router := NewSessionRouter(SessionDeps{Sessions: h.sessions, Tokens: h.tokens}, Common{})

	rr := perform(router, http.MethodDelete, "/v1/subjects/user_1/sessions", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	readOnly, _, err := h.tokens.IssueService("dashboard", []string{sessionapi.ScopeRead})
	require.NoError(t, err)
	rr = perform(router, http.MethodDelete, "/v1/subjects/user_1/sessions", bearer(readOnly), "")
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestSessionServiceOutage(t *testing.T) {
	h := newSessionHarness(t)
	router := NewSessionRouter(SessionDeps{Sessions: h.sessions, Tokens: h.tokens}, Common{})
	h.mr.Close()

	sid, err := session.NewID()
	require.NoError(t, err)
	rr := perform(router, http.MethodGet, "/v1/sessions/"+sid, bearer(h.service), "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

type recordingQueue struct {
	mu   sync.Mutex
	jobs []zerotrust.BindJob
}

func (q *recordingQueue) Enqueue(_ context.Context, job zerotrust.BindJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func TestBindingsAreQueuedWhenQueueConfigured(t *testing.T) {
	h := newSessionHarness(t)
	queue := &recordingQueue{}
	router := NewSessionRouter(SessionDeps{Sessions: h.sessions, Tokens: h.tokens, Queue: queue}, Common{})

	sid, err := session.NewID()
	require.NoError(t, err)
	body := `{"session_id":"` + sid + `","access_token":"` + h.access(t, "user_1", sid) + `","subject":"user_1"}`

	rr := perform(router, http.MethodPost, "/v1/bindings", bearer(h.service), body)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	require.Len(t, queue.jobs, 1)
	assert.Equal(t, sid, queue.jobs[0].SessionID)
}

func TestRemoteBinderBindsThroughSessionService(t *testing.T) {
	h := newSessionHarness(t)
	router := NewSessionRouter(SessionDeps{Sessions: h.sessions, Tokens: h.tokens}, Common{})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	client := &http.Client{Transport: authTransport{token: h.service}}
	binder := sessionapi.NewBinderWithClient(server.URL, client, time.Second)
	t.Cleanup(func() { _ = binder.Close() })

	sid, err := session.NewID()
	require.NoError(t, err)
	access := h.access(t, "user_1", sid)

	require.NoError(t, binder.Post(context.Background(), zerotrust.BindJob{SessionID: sid, AccessToken: access, Subject: "user_1"}))

	sess, _, err := h.sessions.CheckActive(context.Background(), access)
	require.NoError(t, err)
	assert.Equal(t, sid, sess.SessionID)

	other, err := session.NewID()
	require.NoError(t, err)
	err = binder.Post(context.Background(), zerotrust.BindJob{SessionID: other, AccessToken: access, Subject: "user_1"})
	assert.ErrorIs(t, err, sessionapi.ErrRejected, "a token bound to another sid is refused")
}

type authTransport struct{ token string }

func (a authTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.Header.Set("Authorization", "Bearer "+a.token)
	return http.DefaultTransport.RoundTrip(r)
}
