// ABOUTME: gRPC interceptors enforcing guard requirements from metadata claims
// ABOUTME: Unary and stream variants gated by a method prefix

package guard

import (
	"context"
	"net/http"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/bakhmaro/gurulo-gateway/internal/claims"
)

// Metadata keys carrying claims and confirmation over gRPC.
const (
	mdPersonalID   = "x-personal-id"
	mdRoles        = "x-user-roles"
	mdOrgs         = "x-user-orgs"
	mdRiskFlags    = "x-risk-flags"
	mdConfirmation = "x-super-admin-confirmed"
	mdRequestID    = "x-request-id"
)

// ClaimsFromMetadata extracts a claim set from incoming gRPC metadata.
func ClaimsFromMetadata(md metadata.MD) claims.ClaimSet {
	return claims.Merge(metadataSource(md))
}

// metadataSource is the metadata-backed claim source, merged after any
// claims an upstream auth interceptor attached to the context.
func metadataSource(md metadata.MD) claims.Source {
	return claims.Source{
		PersonalIDs: []string{firstValue(md, mdPersonalID)},
		Roles:       claims.SplitList(firstValue(md, mdRoles)),
		Orgs:        claims.SplitList(firstValue(md, mdOrgs)),
		RiskFlags:   claims.SplitList(firstValue(md, mdRiskFlags)),
	}
}

func firstValue(md metadata.MD, key string) string {
	if vals := md.Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// UnaryInterceptor returns a gRPC unary interceptor enforcing the
// requirement on methods under methodPrefix. Other methods pass through.
func (g *Guard) UnaryInterceptor(methodPrefix string, req Requirement) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, request any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !strings.HasPrefix(info.FullMethod, methodPrefix) {
			return handler(ctx, request)
		}

		ctx, err := g.intercept(ctx, req, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, request)
	}
}

// StreamInterceptor returns the stream variant of UnaryInterceptor.
func (g *Guard) StreamInterceptor(methodPrefix string, req Requirement) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if !strings.HasPrefix(info.FullMethod, methodPrefix) {
			return handler(srv, ss)
		}

		ctx, err := g.intercept(ss.Context(), req, info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &claimsServerStream{ServerStream: ss, ctx: ctx})
	}
}

// intercept runs the guard for a gRPC call and returns the claims-bearing
// context on success or the denial as a status error. Claims attached to
// the context (by an upstream auth interceptor) and incoming metadata are
// merged in that order: the first non-empty personal id wins, list fields
// concatenate.
func (g *Guard) intercept(ctx context.Context, req Requirement, fullMethod string) (context.Context, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	attached := FromContext(ctx)
	cs := claims.Merge(claims.FromAttached(&attached), metadataSource(md))
	confirmed := Truthy(firstValue(md, mdConfirmation))

	meta := RequestMeta{
		Route:         fullMethod,
		Method:        "grpc",
		CorrelationID: firstValue(md, mdRequestID),
	}

	decision := g.Check(ctx, cs, req, confirmed, meta)
	if !decision.Allowed {
		return nil, status.Error(grpcCode(decision), denialMessages[decision.Reason])
	}
	return WithClaims(ctx, cs), nil
}

// grpcCode maps a denial to its gRPC status code.
func grpcCode(d Decision) codes.Code {
	switch d.HTTPStatus() {
	case http.StatusUnauthorized:
		return codes.Unauthenticated
	case http.StatusPreconditionRequired:
		return codes.FailedPrecondition
	case http.StatusInternalServerError:
		return codes.Internal
	default:
		return codes.PermissionDenied
	}
}

// claimsServerStream overrides the stream context with the claims-bearing one.
type claimsServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *claimsServerStream) Context() context.Context { return s.ctx }
