package authz

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

const bufSize = 1024 * 1024

var testSecret = []byte("authz-test-secret-0123456789")

func newTestTokens(t *testing.T) *jwt.Manager {
	t.Helper()
	m, err := jwt.NewManager(jwt.Config{Secret: testSecret})
	require.NoError(t, err)
	return m
}

func startBufGRPC(t *testing.T, svc *Service, tokens *jwt.Manager) *bufconn.Listener {
	t.Helper()

	listener := bufconn.Listen(bufSize)
	server := grpc.NewServer(grpc.UnaryInterceptor(AuthInterceptor(tokens)))
	RegisterPermissionsServer(server, NewRPCServer(svc))

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			t.Logf("grpc serve error: %v", err)
		}
	}()
	t.Cleanup(func() {
		server.GracefulStop()
		_ = listener.Close()
	})
	return listener
}

func dialBuf(t *testing.T, listener *bufconn.Listener, ts oauth2.TokenSource) *Client {
	t.Helper()
	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		return listener.DialContext(ctx)
	}
	client, err := Dial("passthrough:///bufnet", ts,
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func serviceToken(t *testing.T, tokens *jwt.Manager, scopes ...string) oauth2.TokenSource {
	t.Helper()
	tok, _, err := tokens.IssueService("auth-service", scopes)
	require.NoError(t, err)
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: tok, TokenType: "Bearer"})
}

func TestRPCSetAndGetPermissions(t *testing.T) {
	tokens := newTestTokens(t)
	listener := startBufGRPC(t, NewService(NewMemoryStore()), tokens)
	client := dialBuf(t, listener, serviceToken(t, tokens, ScopeRead, ScopeWrite))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := client.GetPermissions(ctx, "u1")
	assert.ErrorIs(t, err, ErrNotFound)

	perms, err := client.SetPermissions(ctx, "u1", []string{"view_products", "place_orders"})
	require.NoError(t, err)
	assert.Equal(t, []string{"view_products", "place_orders"}, perms)

	got, err := client.GetPermissions(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, perms, got)
}

func TestRPCRejectsInvalidIdentifierServerSide(t *testing.T) {
	tokens := newTestTokens(t)
	listener := startBufGRPC(t, NewService(NewMemoryStore()), tokens)
	client := dialBuf(t, listener, serviceToken(t, tokens, ScopeRead))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	out := new(PermissionsReply)
	err := client.conn.Invoke(ctx, methodGetPermissions, &GetPermissionsRequest{UserID: "../etc"}, out, grpc.CallContentSubtype("json"))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	assert.ErrorIs(t, fromStatus(err), ErrInvalidIdentifier)
}

func TestRPCRequiresServiceToken(t *testing.T) {
	tokens := newTestTokens(t)
	listener := startBufGRPC(t, NewService(NewMemoryStore()), tokens)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	anonymous := dialBuf(t, listener, nil)
	_, err := anonymous.GetPermissions(ctx, "u1")
	assert.ErrorIs(t, err, ErrInvalidClient)

	access, _, err := tokens.IssueAccess("user-1", []string{ScopeRead}, "")
	require.NoError(t, err)
	userToken := dialBuf(t, listener, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: access}))
	_, err = userToken.GetPermissions(ctx, "u1")
	assert.ErrorIs(t, err, ErrInvalidClient, "access tokens are not service tokens")
}

func TestRPCEnforcesScopes(t *testing.T) {
	tokens := newTestTokens(t)
	listener := startBufGRPC(t, NewService(NewMemoryStore()), tokens)
	reader := dialBuf(t, listener, serviceToken(t, tokens, ScopeRead))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := reader.SetPermissions(ctx, "u1", []string{"manage_users"})
	assert.ErrorIs(t, err, ErrInvalidScope)
}
