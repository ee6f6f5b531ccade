package streaming

import (
	"context"
	"slices"
	"strings"

	"github.com/KevinKickass/OpenPLCWorkspace/internal/auth"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// AuthOptions make every call present a bearer token with at least operator
// permission. Nothing is checked while authentication is disabled.
func AuthOptions(svc *auth.AuthService) []grpc.ServerOption {
	if !svc.Enabled() {
		return nil
	}
	return []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
			if err := authorize(ctx, svc); err != nil {
				return nil, err
			}
			return handler(ctx, req)
		}),
		grpc.ChainStreamInterceptor(func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
			if err := authorize(ss.Context(), svc); err != nil {
				return err
			}
			return handler(srv, ss)
		}),
	}
}

func authorize(ctx context.Context, svc *auth.AuthService) error {
	md, _ := metadata.FromIncomingContext(ctx)
	values := md.Get("authorization")
	if len(values) == 0 {
		return status.Error(codes.Unauthenticated, "missing authorization metadata")
	}
	token, ok := strings.CutPrefix(values[0], "Bearer ")
	if !ok {
		return status.Error(codes.Unauthenticated, "invalid authorization format")
	}

	id, err := svc.ValidateToken(ctx, token)
	if err != nil {
		return status.Error(codes.Unauthenticated, "invalid or expired token")
	}
	if !slices.Contains(id.Permissions, auth.PermOperator) {
		return status.Error(codes.PermissionDenied, "insufficient permissions")
	}
	return nil
}

// BearerToken attaches token to every client call.
type BearerToken string

func (t BearerToken) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + string(t)}, nil
}

// RequireTransportSecurity is false: the workspace usually runs on a plant
// network without TLS.
func (t BearerToken) RequireTransportSecurity() bool {
	return false
}

var _ credentials.PerRPCCredentials = BearerToken("")
