package vault

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gophercloud/gophercloud/v2"
)

// fakeBarbican serves the subset of the Key Manager v1 API the backend uses.
type fakeBarbican struct {
	mu       sync.Mutex
	base     string
	names    map[string]string
	payloads map[string]string
	next     int
}

func (f *fakeBarbican) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/v1/")
	switch {
	case r.Method == http.MethodPost && path == "secrets":
		var body struct {
			Name    string `json:"name"`
			Payload string `json:"payload"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.next++
		id := "id-" + string(rune('a'+f.next))
		f.names[id] = body.Name
		f.payloads[id] = body.Payload
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"secret_ref": f.base + "/v1/secrets/" + id})

	case r.Method == http.MethodGet && path == "secrets":
		name := r.URL.Query().Get("name")
		list := []map[string]string{}
		for id, n := range f.names {
			if name != "" && n != name {
				continue
			}
			list = append(list, map[string]string{"name": n, "secret_ref": f.base + "/v1/secrets/" + id})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"secrets": list, "total": len(list)})

	case r.Method == http.MethodGet && strings.HasSuffix(path, "/payload"):
		id := strings.TrimSuffix(strings.TrimPrefix(path, "secrets/"), "/payload")
		payload, ok := f.payloads[id]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, payload)

	default:
		http.NotFound(w, r)
	}
}

func newBarbicanTest(t *testing.T) (*BarbicanBackend, func()) {
	t.Helper()
	fake := &fakeBarbican{names: map[string]string{}, payloads: map[string]string{}}
	srv := httptest.NewServer(fake)
	fake.base = srv.URL

	client := &gophercloud.ServiceClient{
		ProviderClient: &gophercloud.ProviderClient{TokenID: "test-token"},
		Endpoint:       srv.URL + "/v1/",
	}
	return NewBarbicanBackendFromClient(client), srv.Close
}

func TestBarbicanAdapterRoundTrip(t *testing.T) {
	backend, done := newBarbicanTest(t)
	defer done()
	a, err := NewAdapter(backend)
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	ctx := context.Background()

	ref, err := a.StoreSecret(ctx, "u-42", "JBSWY3DPEHPK3PXP")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if !strings.Contains(ref, "/v1/secrets/") {
		t.Fatalf("unexpected ref %q", ref)
	}

	got, err := a.RetrieveSecret(ctx, "u-42")
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if got != "JBSWY3DPEHPK3PXP" {
		t.Fatalf("secret = %q", got)
	}
}

func TestBarbicanMissingPayload(t *testing.T) {
	backend, done := newBarbicanTest(t)
	defer done()

	_, err := backend.Payload(context.Background(), "https://example.invalid/v1/secrets/none")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSecretIDFromRef(t *testing.T) {
	cases := map[string]string{
		"https://kms/v1/secrets/abc":  "abc",
		"https://kms/v1/secrets/abc/": "abc",
		"abc":                         "abc",
	}
	for in, want := range cases {
		if got := secretID(in); got != want {
			t.Fatalf("secretID(%q) = %q, want %q", in, got, want)
		}
	}
}
