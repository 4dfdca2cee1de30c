package authz

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/jwt"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// ServiceName is the fully qualified RPC service name.
const ServiceName = "zerotrust.authz.v1.Permissions"

const (
	methodGetPermissions = "/" + ServiceName + "/GetPermissions"
	methodSetPermissions = "/" + ServiceName + "/SetPermissions"
)

// Scopes a service client must hold to call the permission RPCs.
const (
	ScopeRead  = "permissions:read"
	ScopeWrite = "permissions:write"
)

// GetPermissionsRequest asks for one user's permission list.
type GetPermissionsRequest struct {
	UserID string `json:"user_id"`
}

// SetPermissionsRequest replaces one user's permission list.
type SetPermissionsRequest struct {
	UserID      string   `json:"user_id"`
	Permissions []string `json:"permissions"`
}

// PermissionsReply is returned by both RPCs.
type PermissionsReply struct {
	Info        string   `json:"info,omitempty"`
	Permissions []string `json:"permissions"`
}

// jsonCodec lets plain Go structs travel over gRPC without generated stubs.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return "json" }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// PermissionsServer is the server-side contract of the permission RPCs.
type PermissionsServer interface {
	GetPermissions(ctx context.Context, req *GetPermissionsRequest) (*PermissionsReply, error)
	SetPermissions(ctx context.Context, req *SetPermissionsRequest) (*PermissionsReply, error)
}

var permissionsServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PermissionsServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetPermissions", Handler: getPermissionsHandler},
		{MethodName: "SetPermissions", Handler: setPermissionsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "authz/rpc.go",
}

func getPermissionsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetPermissionsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PermissionsServer).GetPermissions(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetPermissions}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(PermissionsServer).GetPermissions(ctx, req.(*GetPermissionsRequest))
	})
}

func setPermissionsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(SetPermissionsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PermissionsServer).SetPermissions(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodSetPermissions}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(PermissionsServer).SetPermissions(ctx, req.(*SetPermissionsRequest))
	})
}

// RegisterPermissionsServer attaches srv to a gRPC server.
func RegisterPermissionsServer(s grpc.ServiceRegistrar, srv PermissionsServer) {
	s.RegisterService(&permissionsServiceDesc, srv)
}

// RPCServer exposes a [Service] over gRPC.
type RPCServer struct {
	svc *Service
}

// NewRPCServer wraps svc.
func NewRPCServer(svc *Service) *RPCServer {
	return &RPCServer{svc: svc}
}

func (r *RPCServer) GetPermissions(ctx context.Context, req *GetPermissionsRequest) (*PermissionsReply, error) {
	perms, err := r.svc.GetPermissions(ctx, req.UserID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &PermissionsReply{Permissions: perms}, nil
}

func (r *RPCServer) SetPermissions(ctx context.Context, req *SetPermissionsRequest) (*PermissionsReply, error) {
	perms, err := r.svc.SetPermissions(ctx, req.UserID, req.Permissions)
	if err != nil {
		return nil, toStatus(err)
	}
	return &PermissionsReply{Info: "permissions updated", Permissions: perms}, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return status.Error(codes.NotFound, ErrNotFound.Error())
	case errors.Is(err, ErrInvalidIdentifier):
		return status.Error(codes.InvalidArgument, ErrInvalidIdentifier.Error())
	case errors.Is(err, ErrInvalidPermission), errors.Is(err, ErrUnknownPermission):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, ErrUnavailable):
		return status.Error(codes.Unavailable, ErrUnavailable.Error())
	default:
		return status.Error(codes.Internal, "internal")
	}
}

// fromStatus reverses toStatus on the client side.
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.NotFound:
		return ErrNotFound
	case codes.InvalidArgument:
		if st.Message() == ErrInvalidIdentifier.Error() {
			return ErrInvalidIdentifier
		}
		return ErrInvalidPermission
	case codes.Unauthenticated:
		return ErrInvalidClient
	case codes.PermissionDenied:
		return ErrInvalidScope
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
		return errors.Join(ErrUnavailable, err)
	default:
		return err
	}
}

// methodScopes maps each RPC to the scope it requires.
var methodScopes = map[string]string{
	methodGetPermissions: ScopeRead,
	methodSetPermissions: ScopeWrite,
}

// AuthInterceptor requires a service token in the "authorization" metadata
// carrying the scope the called method needs.
func AuthInterceptor(tokens *jwt.Manager) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		var raw string
		if vals := md.Get("authorization"); len(vals) > 0 {
			raw = vals[0]
		}
		token, ok := strings.CutPrefix(raw, "Bearer ")
		if !ok || token == "" {
			return nil, status.Error(codes.Unauthenticated, "missing bearer token")
		}
		claims, err := tokens.VerifyService(token)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "invalid service token")
		}
		need, known := methodScopes[info.FullMethod]
		if !known {
			return nil, status.Error(codes.PermissionDenied, "method not allowed")
		}
		if !hasScope(claims.Permissions, need) {
			return nil, status.Error(codes.PermissionDenied, "scope "+need+" required")
		}
		return handler(ctx, req)
	}
}

func hasScope(granted []string, need string) bool {
	for _, s := range granted {
		if s == need {
			return true
		}
	}
	return false
}
