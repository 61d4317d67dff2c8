// ABOUTME: Claims propagation through request contexts
// ABOUTME: WithClaims/FromContext pair used by middleware and interceptors

package guard

import (
	"context"

	"github.com/bakhmaro/gurulo-gateway/internal/claims"
)

type claimsContextKey struct{}

// WithClaims returns a new context with the claim set attached.
func WithClaims(ctx context.Context, cs claims.ClaimSet) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, cs)
}

// FromContext retrieves the claim set from the context. The zero value is
// returned when none is attached; callers treat it as unauthenticated.
func FromContext(ctx context.Context) claims.ClaimSet {
	val := ctx.Value(claimsContextKey{})
	if val == nil {
		return claims.ClaimSet{}
	}
	cs, ok := val.(claims.ClaimSet)
	if !ok {
		return claims.ClaimSet{}
	}
	return cs
}
