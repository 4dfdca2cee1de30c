package authz

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2/clientcredentials"
)

func newTokenServer(t *testing.T) (*httptest.Server, *ClientRegistry) {
	t.Helper()
	reg := NewClientRegistry()
	require.NoError(t, reg.Register("auth-service", "s3cret", ScopeRead, ScopeWrite))
	require.NoError(t, reg.Register("reporting", "r3port", ScopeRead))

	srv := httptest.NewServer(TokenHandler(reg, newTestTokens(t)))
	t.Cleanup(srv.Close)
	return srv, reg
}

func TestClientCredentialsFlow(t *testing.T) {
	srv, _ := newTokenServer(t)
	cfg := clientcredentials.Config{
		ClientID:     "auth-service",
		ClientSecret: "s3cret",
		TokenURL:     srv.URL,
		Scopes:       []string{ScopeRead},
	}

	tok, err := cfg.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), tok.Expiry, 10*time.Second)

	claims, err := newTestTokens(t).VerifyService(tok.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "auth-service", claims.Subject)
	assert.Equal(t, []string{ScopeRead}, claims.Permissions)
}

func TestClientCredentialsRejectsBadSecret(t *testing.T) {
	srv, _ := newTokenServer(t)
	cfg := clientcredentials.Config{ClientID: "auth-service", ClientSecret: "wrong", TokenURL: srv.URL}

	_, err := cfg.Token(context.Background())
	assert.Error(t, err)
}

func TestClientCredentialsRejectsUngrantedScope(t *testing.T) {
	srv, _ := newTokenServer(t)
	cfg := clientcredentials.Config{
		ClientID:     "reporting",
		ClientSecret: "r3port",
		TokenURL:     srv.URL,
		Scopes:       []string{ScopeWrite},
	}

	_, err := cfg.Token(context.Background())
	assert.Error(t, err)
}

func TestTokenHandlerFormCredentialsAndGrantType(t *testing.T) {
	srv, _ := newTokenServer(t)

	resp, err := http.PostForm(srv.URL, url.Values{
		"grant_type":    {"password"},
		"client_id":     {"auth-service"},
		"client_secret": {"s3cret"},
	})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.PostForm(srv.URL, url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {"auth-service"},
		"client_secret": {"s3cret"},
	})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))

	resp, err = http.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestRegisterList(t *testing.T) {
	reg := NewClientRegistry()
	require.NoError(t, reg.RegisterList("svc-a:aaa:permissions:read permissions:write, svc-b:bbb"))
	assert.Equal(t, 2, reg.Len())

	c, err := reg.Authenticate("svc-a", "aaa")
	require.NoError(t, err)
	assert.Equal(t, []string{ScopeRead, ScopeWrite}, c.Scopes)

	_, err = reg.Authenticate("svc-b", "nope")
	assert.ErrorIs(t, err, ErrInvalidClient)
	_, err = reg.Authenticate("svc-c", "bbb")
	assert.ErrorIs(t, err, ErrInvalidClient)

	assert.Error(t, reg.RegisterList("lonely"))
}

func TestClientCredentialsTokenAuthorizesRPC(t *testing.T) {
	srv, _ := newTokenServer(t)
	tokens := newTestTokens(t)
	listener := startBufGRPC(t, NewService(NewMemoryStore()), tokens)

	cfg := clientcredentials.Config{
		ClientID:     "auth-service",
		ClientSecret: "s3cret",
		TokenURL:     srv.URL,
		Scopes:       []string{ScopeRead, ScopeWrite},
	}
	client := dialBuf(t, listener, cfg.TokenSource(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	perms, err := client.SetPermissions(ctx, "u-9", []string{"manage_products"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(perms[0], "manage_"))
}
