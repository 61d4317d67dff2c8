// ABOUTME: Tests for the guard gRPC interceptors
// ABOUTME: Covers metadata claims extraction and status code mapping

package guard

import (
	"context"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/bakhmaro/gurulo-gateway/internal/claims"
	"github.com/bakhmaro/gurulo-gateway/internal/identity"
)

func unaryInfo(method string) *grpc.UnaryServerInfo {
	return &grpc.UnaryServerInfo{FullMethod: method}
}

func passthroughHandler(called *bool) grpc.UnaryHandler {
	return func(ctx context.Context, req any) (any, error) {
		*called = true
		return "ok", nil
	}
}

func mdContext(pairs ...string) context.Context {
	return metadata.NewIncomingContext(context.Background(), metadata.Pairs(pairs...))
}

func TestClaimsFromMetadata(t *testing.T) {
	md := metadata.Pairs(
		"x-personal-id", "12345678901",
		"x-user-roles", "USER, AUDITOR",
		"x-risk-flags", "vpn",
	)
	cs := ClaimsFromMetadata(md)
	if cs.PersonalID != "12345678901" {
		t.Errorf("PersonalID = %q", cs.PersonalID)
	}
	if len(cs.Roles) != 2 {
		t.Errorf("Roles = %v", cs.Roles)
	}
	if len(cs.RiskFlags) != 1 {
		t.Errorf("RiskFlags = %v", cs.RiskFlags)
	}
}

func TestUnaryInterceptorAllows(t *testing.T) {
	g := newTestGuard()
	interceptor := g.UnaryInterceptor("/gurulo.Admin/", Requirement{Action: "x", Privileged: true})

	called := false
	ctx := mdContext("x-personal-id", identity.SuperAdminPersonalID)
	_, err := interceptor(ctx, nil, unaryInfo("/gurulo.Admin/ClearCache"), passthroughHandler(&called))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called")
	}
}

func TestUnaryInterceptorDenies(t *testing.T) {
	g := newTestGuard()
	interceptor := g.UnaryInterceptor("/gurulo.Admin/", Requirement{Action: "x", Privileged: true})

	tests := []struct {
		name string
		ctx  context.Context
		want codes.Code
	}{
		{"no metadata", context.Background(), codes.Unauthenticated},
		{"regular user", mdContext("x-personal-id", "12345678901"), codes.PermissionDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			_, err := interceptor(tt.ctx, nil, unaryInfo("/gurulo.Admin/ClearCache"), passthroughHandler(&called))
			if called {
				t.Fatal("handler called despite denial")
			}
			if status.Code(err) != tt.want {
				t.Errorf("code = %v, want %v", status.Code(err), tt.want)
			}
		})
	}
}

func TestUnaryInterceptorMergesAttachedAndMetadata(t *testing.T) {
	g := newTestGuard()
	interceptor := g.UnaryInterceptor("/gurulo.Admin/", Requirement{Action: "x", Privileged: true})

	// Claims attached by an upstream auth interceptor win the personal id;
	// metadata list fields still contribute.
	ctx := metadata.NewIncomingContext(
		WithClaims(context.Background(), claims.ClaimSet{PersonalID: identity.SuperAdminPersonalID}),
		metadata.Pairs("x-personal-id", "99999999999", "x-user-orgs", "ops"),
	)

	var got claims.ClaimSet
	handler := func(ctx context.Context, req any) (any, error) {
		got = FromContext(ctx)
		return "ok", nil
	}
	_, err := interceptor(ctx, nil, unaryInfo("/gurulo.Admin/ClearCache"), handler)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.PersonalID != identity.SuperAdminPersonalID {
		t.Errorf("PersonalID = %q, metadata overrode attached claims", got.PersonalID)
	}
	if len(got.Orgs) != 1 || got.Orgs[0] != "ops" {
		t.Errorf("Orgs = %v, metadata orgs dropped", got.Orgs)
	}
}

func TestUnaryInterceptorSkipsOtherServices(t *testing.T) {
	g := newTestGuard()
	interceptor := g.UnaryInterceptor("/gurulo.Admin/", Requirement{Action: "x", Privileged: true})

	called := false
	_, err := interceptor(context.Background(), nil, unaryInfo("/gurulo.Public/Health"), passthroughHandler(&called))
	if err != nil || !called {
		t.Fatalf("non-admin method blocked: err=%v called=%v", err, called)
	}
}

func TestUnaryInterceptorDestructiveConfirmation(t *testing.T) {
	g := newTestGuard()
	interceptor := g.UnaryInterceptor("/gurulo.Admin/", Requirement{Action: "x", Destructive: true})

	// Owner without confirmation.
	called := false
	ctx := mdContext("x-personal-id", identity.SuperAdminPersonalID)
	_, err := interceptor(ctx, nil, unaryInfo("/gurulo.Admin/Wipe"), passthroughHandler(&called))
	if status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("code = %v, want FailedPrecondition", status.Code(err))
	}

	// Owner with confirmation metadata.
	ctx = mdContext(
		"x-personal-id", identity.SuperAdminPersonalID,
		"x-super-admin-confirmed", "yes",
	)
	_, err = interceptor(ctx, nil, unaryInfo("/gurulo.Admin/Wipe"), passthroughHandler(&called))
	if err != nil || !called {
		t.Fatalf("confirmed destructive call denied: %v", err)
	}
}

func TestStreamInterceptor(t *testing.T) {
	g := newTestGuard()
	interceptor := g.StreamInterceptor("/gurulo.Admin/", Requirement{Action: "x", Privileged: true})

	called := false
	handler := func(srv any, ss grpc.ServerStream) error {
		called = true
		if FromContext(ss.Context()).PersonalID != identity.SuperAdminPersonalID {
			t.Error("claims not propagated to stream context")
		}
		return nil
	}

	ss := &fakeServerStream{ctx: mdContext("x-personal-id", identity.SuperAdminPersonalID)}
	err := interceptor(nil, ss, &grpc.StreamServerInfo{FullMethod: "/gurulo.Admin/Tail"}, handler)
	if err != nil || !called {
		t.Fatalf("stream denied: err=%v called=%v", err, called)
	}

	ss = &fakeServerStream{ctx: context.Background()}
	err = interceptor(nil, ss, &grpc.StreamServerInfo{FullMethod: "/gurulo.Admin/Tail"}, handler)
	if status.Code(err) != codes.Unauthenticated {
		t.Errorf("code = %v, want Unauthenticated", status.Code(err))
	}
}

type fakeServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *fakeServerStream) Context() context.Context { return s.ctx }
