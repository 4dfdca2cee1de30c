package sessionapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	zerotrust "github.com/Meraviglioso8/ZeroTrust-DeepLearning"
	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/authz"
	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/jwt"
	"github.com/cenkalti/backoff/v5"
)

func TestBinderFetchesServiceToken(t *testing.T) {
	tokens, err := jwt.NewManager(jwt.Config{Secret: []byte("sessionapi-test-secret-0123")})
	if err != nil {
		t.Fatalf("jwt manager: %v", err)
	}
	registry := authz.NewClientRegistry()
	if err := registry.Register("auth-service", "s3cret", ScopeWrite); err != nil {
		t.Fatalf("register: %v", err)
	}

	var (
		mu     sync.Mutex
		scopes []string
		got    zerotrust.BindJob
	)
	mux := http.NewServeMux()
	mux.Handle("/oauth/token", authz.TokenHandler(registry, tokens))
	mux.HandleFunc("/v1/bindings", func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		claims, err := tokens.VerifyService(raw)
		if err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		mu.Lock()
		scopes = claims.Permissions
		_ = json.NewDecoder(r.Body).Decode(&got)
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	binder, err := NewBinder(context.Background(), server.URL+"/", Credentials{
		TokenURL:     server.URL + "/oauth/token",
		ClientID:     "auth-service",
		ClientSecret: "s3cret",
	}, time.Second)
	if err != nil {
		t.Fatalf("new binder: %v", err)
	}

	job := zerotrust.BindJob{SessionID: "sid", AccessToken: "tok", Subject: "user_1"}
	if err := binder.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	// Close drains the queue, so the post has landed once it returns.
	if err := binder.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if got != job {
		t.Fatalf("job = %+v", got)
	}
	if len(scopes) != 1 || scopes[0] != ScopeWrite {
		t.Fatalf("scopes = %v", scopes)
	}
}

func TestBinderStatusMapping(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusAccepted, nil},
		{http.StatusCreated, nil},
		{http.StatusBadRequest, ErrRejected},
		{http.StatusServiceUnavailable, zerotrust.ErrSessionBindUnavailable},
	}
	for _, tc := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tc.status)
		}))
		binder := NewBinderWithClient(server.URL, server.Client(), time.Second)
		err := binder.Post(context.Background(), zerotrust.BindJob{SessionID: "s", AccessToken: "t"})
		_ = binder.Close()
		server.Close()

		if tc.want == nil && err != nil {
			t.Fatalf("status %d: unexpected error %v", tc.status, err)
		}
		if tc.want != nil && !errors.Is(err, tc.want) {
			t.Fatalf("status %d: expected %v, got %v", tc.status, tc.want, err)
		}
	}
}

func TestBinderUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	binder := NewBinderWithClient(url, http.DefaultClient, 200*time.Millisecond)
	defer binder.Close()
	err := binder.Post(context.Background(), zerotrust.BindJob{SessionID: "s", AccessToken: "t"})
	if !errors.Is(err, zerotrust.ErrSessionBindUnavailable) {
		t.Fatalf("expected ErrSessionBindUnavailable, got %v", err)
	}
}

// slowSessionService holds every binding until release is closed and
// reports each request it starts on started.
func slowSessionService(t *testing.T) (*httptest.Server, chan struct{}, chan zerotrust.BindJob) {
	t.Helper()
	release := make(chan struct{})
	started := make(chan zerotrust.BindJob, 16)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var job zerotrust.BindJob
		_ = json.NewDecoder(r.Body).Decode(&job)
		started <- job
		<-release
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(server.Close)
	return server, release, started
}

func TestBinderEnqueueDoesNotWaitForSessionService(t *testing.T) {
	server, release, started := slowSessionService(t)
	binder := NewBinderWithClient(server.URL, server.Client(), 5*time.Second)

	begin := time.Now()
	if err := binder.Enqueue(context.Background(), zerotrust.BindJob{SessionID: "sid", AccessToken: "tok"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if elapsed := time.Since(begin); elapsed > 100*time.Millisecond {
		t.Fatalf("enqueue waited %v on a slow session service", elapsed)
	}

	select {
	case job := <-started:
		if job.SessionID != "sid" {
			t.Fatalf("posted %+v", job)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("binding never reached the session service")
	}
	close(release)
	if err := binder.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestBinderQueueFull(t *testing.T) {
	server, release, started := slowSessionService(t)
	binder := NewBinderWithClient(server.URL, server.Client(), 5*time.Second, WithWorkers(1), WithQueueSize(1))
	defer func() {
		close(release)
		_ = binder.Close()
	}()

	job := zerotrust.BindJob{SessionID: "sid", AccessToken: "tok"}
	if err := binder.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	<-started // the only worker is now busy
	if err := binder.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	err := binder.Enqueue(context.Background(), job)
	if !errors.Is(err, zerotrust.ErrSessionBindUnavailable) {
		t.Fatalf("expected ErrSessionBindUnavailable on a full queue, got %v", err)
	}
}

func TestBinderRetriesUnavailableThenStops(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	binder := NewBinderWithClient(server.URL, server.Client(), time.Second,
		WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }, 5))
	if err := binder.Enqueue(context.Background(), zerotrust.BindJob{SessionID: "s", AccessToken: "t"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	_ = binder.Close()

	mu.Lock()
	defer mu.Unlock()
	if calls != 2 {
		t.Fatalf("calls = %d, want a retry after 503 and none after 400", calls)
	}
}

func TestBinderRejectsAfterClose(t *testing.T) {
	binder := NewBinderWithClient("http://127.0.0.1:1", http.DefaultClient, time.Second)
	if err := binder.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := binder.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	err := binder.Enqueue(context.Background(), zerotrust.BindJob{SessionID: "s", AccessToken: "t"})
	if !errors.Is(err, zerotrust.ErrSessionBindUnavailable) {
		t.Fatalf("expected ErrSessionBindUnavailable after close, got %v", err)
	}
}
