package authz

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/jwt"
)

// ServiceClient is a registered machine identity allowed to obtain service
// tokens with the client-credentials grant.
type ServiceClient struct {
	ID     string
	Scopes []string
	secret [sha256.Size]byte
}

// ClientRegistry holds service clients. Secrets are kept only as SHA-256
// digests and compared in constant time.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*ServiceClient
}

// NewClientRegistry returns an empty registry.
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{clients: make(map[string]*ServiceClient)}
}

// Register adds or replaces a client.
func (r *ClientRegistry) Register(id, secret string, scopes ...string) error {
	id = strings.TrimSpace(id)
	if id == "" || secret == "" {
		return ErrInvalidClient
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[id] = &ServiceClient{
		ID:     id,
		Scopes: slices.Clone(scopes),
		secret: sha256.Sum256([]byte(secret)),
	}
	return nil
}

// RegisterList parses "id:secret:scope1 scope2,id2:secret2:scope" lists
// as found in environment variables.
func (r *ClientRegistry) RegisterList(list string) error {
	for _, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) < 2 {
			return errors.New("malformed client entry")
		}
		var scopes []string
		if len(parts) == 3 {
			scopes = strings.Fields(parts[2])
		}
		if err := r.Register(parts[0], parts[1], scopes...); err != nil {
			return err
		}
	}
	return nil
}

// Authenticate checks id and secret and returns the client.
func (r *ClientRegistry) Authenticate(id, secret string) (*ServiceClient, error) {
	r.mu.RLock()
	c, ok := r.clients[id]
	r.mu.RUnlock()

	sum := sha256.Sum256([]byte(secret))
	if !ok {
		// Burn the same comparison so unknown ids are not faster.
		subtle.ConstantTimeCompare(sum[:], sum[:])
		return nil, ErrInvalidClient
	}
	if subtle.ConstantTimeCompare(sum[:], c.secret[:]) != 1 {
		return nil, ErrInvalidClient
	}
	return c, nil
}

// Len returns the number of registered clients.
func (r *ClientRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// grant narrows requested to the client's scopes. An empty request grants
// everything the client holds.
func (c *ServiceClient) grant(requested []string) ([]string, error) {
	if len(requested) == 0 {
		return slices.Clone(c.Scopes), nil
	}
	for _, s := range requested {
		if !slices.Contains(c.Scopes, s) {
			return nil, ErrInvalidScope
		}
	}
	return slices.Clone(requested), nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope,omitempty"`
}

type tokenError struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// TokenHandler serves the client-credentials grant (RFC 6749 section 4.4).
// Credentials come from HTTP Basic auth or the client_id and client_secret
// form fields.
func TokenHandler(registry *ClientRegistry, tokens *jwt.Manager) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			writeTokenError(w, http.StatusMethodNotAllowed, "invalid_request", "POST required")
			return
		}
		if err := r.ParseForm(); err != nil {
			writeTokenError(w, http.StatusBadRequest, "invalid_request", "malformed form")
			return
		}
		if r.PostForm.Get("grant_type") != "client_credentials" {
			writeTokenError(w, http.StatusBadRequest, "unsupported_grant_type", "")
			return
		}

		id, secret, ok := r.BasicAuth()
		if ok {
			// Basic credentials are form-encoded before base64 (RFC 6749 2.3.1).
			id, _ = url.QueryUnescape(id)
			secret, _ = url.QueryUnescape(secret)
		} else {
			id, secret = r.PostForm.Get("client_id"), r.PostForm.Get("client_secret")
		}

		client, err := registry.Authenticate(id, secret)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="zerotrust"`)
			writeTokenError(w, http.StatusUnauthorized, "invalid_client", "")
			return
		}
		scopes, err := client.grant(strings.Fields(r.PostForm.Get("scope")))
		if err != nil {
			writeTokenError(w, http.StatusBadRequest, "invalid_scope", "")
			return
		}

		token, claims, err := tokens.IssueService(client.ID, scopes)
		if err != nil {
			writeTokenError(w, http.StatusInternalServerError, "server_error", "")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		_ = json.NewEncoder(w).Encode(tokenResponse{
			AccessToken: token,
			TokenType:   "Bearer",
			ExpiresIn:   int64(claims.ExpiresAt.Sub(claims.IssuedAt.Time) / time.Second),
			Scope:       strings.Join(scopes, " "),
		})
	})
}

func writeTokenError(w http.ResponseWriter, code int, kind, desc string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(tokenError{Error: kind, Description: desc})
}
