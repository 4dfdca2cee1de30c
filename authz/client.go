package authz

import (
	"context"
	"errors"

	"golang.org/x/oauth2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client calls a remote permission service. It satisfies the engine's
// permission source contract, so the auth service can run against a
// separately deployed authz service.
type Client struct {
	conn grpc.ClientConnInterface
	own  *grpc.ClientConn
}

// NewClient wraps an existing connection.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Dial connects to target. When ts is non-nil every call carries a bearer
// token from it, typically a clientcredentials.Config TokenSource.
func Dial(target string, ts oauth2.TokenSource, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	if ts != nil {
		opts = append(opts, grpc.WithPerRPCCredentials(TokenCredentials{Source: ts}))
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, own: conn}, nil
}

// Close closes a connection opened by Dial.
func (c *Client) Close() error {
	if c == nil || c.own == nil {
		return nil
	}
	return c.own.Close()
}

func (c *Client) GetPermissions(ctx context.Context, userID string) ([]string, error) {
	if !ValidUserID(userID) {
		return nil, ErrInvalidIdentifier
	}
	out := new(PermissionsReply)
	if err := c.conn.Invoke(ctx, methodGetPermissions, &GetPermissionsRequest{UserID: userID}, out, grpc.CallContentSubtype("json")); err != nil {
		return nil, fromStatus(err)
	}
	return out.Permissions, nil
}

func (c *Client) SetPermissions(ctx context.Context, userID string, permissions []string) ([]string, error) {
	if !ValidUserID(userID) {
		return nil, ErrInvalidIdentifier
	}
	out := new(PermissionsReply)
	req := &SetPermissionsRequest{UserID: userID, Permissions: permissions}
	if err := c.conn.Invoke(ctx, methodSetPermissions, req, out, grpc.CallContentSubtype("json")); err != nil {
		return nil, fromStatus(err)
	}
	return out.Permissions, nil
}

// TokenCredentials adapts an oauth2.TokenSource to per-RPC credentials.
type TokenCredentials struct {
	Source oauth2.TokenSource
	// Secure requires a TLS transport when true.
	Secure bool
}

func (t TokenCredentials) GetRequestMetadata(ctx context.Context, _ ...string) (map[string]string, error) {
	if t.Source == nil {
		return nil, errors.New("token source required")
	}
	tok, err := t.Source.Token()
	if err != nil {
		return nil, errors.Join(ErrInvalidClient, err)
	}
	return map[string]string{"authorization": "Bearer " + tok.AccessToken}, nil
}

func (t TokenCredentials) RequireTransportSecurity() bool { return t.Secure }
