// ABOUTME: gRPC server assembly with guard interceptors and health service
// ABOUTME: Claims come from metadata or from a verified bearer token

package gateway

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"

	"github.com/bakhmaro/gurulo-gateway/internal/claims"
	"github.com/bakhmaro/gurulo-gateway/internal/guard"
	"github.com/bakhmaro/gurulo-gateway/internal/store"
	"github.com/bakhmaro/gurulo-gateway/internal/token"
)

// adminMethodPrefix scopes the guard interceptors: everything under the
// admin service is privileged, the health service stays open.
const adminMethodPrefix = "/gurulo.admin."

// newGRPCServer builds the gRPC server. Calls under adminMethodPrefix
// pass through the guard; token auth runs first so bearer credentials
// become claims before the guard decides.
func newGRPCServer(g *guard.Guard, tokens *token.Service, users store.UserStore, logger *slog.Logger) *grpc.Server {
	requirement := guard.Requirement{
		Action:     "admin.rpc",
		Privileged: true,
	}

	server := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.ChainUnaryInterceptor(
			tokenAuthUnaryInterceptor(tokens, users, logger),
			g.UnaryInterceptor(adminMethodPrefix, requirement),
		),
		grpc.ChainStreamInterceptor(
			g.StreamInterceptor(adminMethodPrefix, requirement),
		),
	)

	healthpb.RegisterHealthServer(server, health.NewServer())
	return server
}

// tokenAuthUnaryInterceptor verifies a bearer access token from the
// authorization metadata and attaches the subject's claims to the
// context. Requests without a token pass through; the guard decides
// whether anonymous access is acceptable per method.
func tokenAuthUnaryInterceptor(tokens *token.Service, users store.UserStore, logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		raw := bearerFromMetadata(ctx)
		if raw == "" {
			return handler(ctx, req)
		}

		subject, err := tokens.Verify(raw, token.TypeAccess)
		if err != nil {
			logger.Debug("rejected bearer token", "method", info.FullMethod, "error", err)
			return handler(ctx, req)
		}

		cs := claims.ClaimSet{
			PersonalID: subject.PersonalID,
			Roles:      []string{subject.Role},
		}
		if user, err := users.GetUser(ctx, subject.UserID); err == nil {
			cs.PersonalID = user.PersonalID
			cs.Roles = []string{user.Role}
		}
		return handler(guard.WithClaims(ctx, cs), req)
	}
}

func bearerFromMetadata(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get("authorization")
	if len(values) == 0 {
		return ""
	}
	const prefix = "bearer "
	if len(values[0]) > len(prefix) && strings.EqualFold(values[0][:len(prefix)], prefix) {
		return values[0][len(prefix):]
	}
	return ""
}
