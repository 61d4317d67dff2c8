// ABOUTME: Tests for the guard HTTP middleware
// ABOUTME: Covers claim sourcing, denial rendering, and body restoration

package guard

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bakhmaro/gurulo-gateway/internal/audit"
	"github.com/bakhmaro/gurulo-gateway/internal/claims"
	"github.com/bakhmaro/gurulo-gateway/internal/identity"
)

func newTestGuard() *Guard {
	recorder := audit.NewRecorder("test", func(ctx context.Context, e audit.Event) error {
		return nil
	})
	return New("test", recorder)
}

func okHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireAllowsHeaderClaims(t *testing.T) {
	g := newTestGuard()
	called := false
	h := g.Require(Requirement{Action: "x"})(okHandler(&called))

	r := httptest.NewRequest("GET", "/x", nil)
	r.Header.Set("x-personal-id", "12345678901")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if !called {
		t.Fatalf("handler not called, status %d", w.Code)
	}
}

func TestRequireDeniesUnauthenticated(t *testing.T) {
	g := newTestGuard()
	called := false
	h := g.Require(Requirement{Action: "x"})(okHandler(&called))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/x", nil))

	if called {
		t.Fatal("handler called for unauthenticated request")
	}
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}

	var body struct {
		Success bool   `json:"success"`
		Code    string `json:"code"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decoding denial body: %v", err)
	}
	if body.Success || body.Code != ReasonUnauthenticated {
		t.Errorf("body = %+v", body)
	}
}

func TestRequireAttachedClaimsTakePrecedence(t *testing.T) {
	g := newTestGuard()
	var gotID string
	h := g.Require(Requirement{Action: "x"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = FromContext(r.Context()).PersonalID
	}))

	r := httptest.NewRequest("GET", "/x", nil)
	r.Header.Set("x-personal-id", "99999999999")
	r = r.WithContext(WithClaims(r.Context(), ownerClaims()))
	h.ServeHTTP(httptest.NewRecorder(), r)

	if gotID != identity.SuperAdminPersonalID {
		t.Errorf("claims id = %q, want attached owner id", gotID)
	}
}

func TestRequireMergesAttachedAndHeaderClaims(t *testing.T) {
	g := newTestGuard()
	var got claims.ClaimSet
	h := g.Require(Requirement{Action: "x"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
	}))

	r := httptest.NewRequest("GET", "/x", nil)
	r.Header.Set("x-user-orgs", "ops")
	r.Header.Set("x-risk-flags", "vpn")
	r = r.WithContext(WithClaims(r.Context(), ownerClaims()))
	h.ServeHTTP(httptest.NewRecorder(), r)

	if got.PersonalID != identity.SuperAdminPersonalID {
		t.Errorf("PersonalID = %q, want attached owner id", got.PersonalID)
	}
	if len(got.Orgs) != 1 || got.Orgs[0] != "ops" {
		t.Errorf("Orgs = %v, header orgs dropped for authenticated caller", got.Orgs)
	}
	if len(got.RiskFlags) != 1 || got.RiskFlags[0] != "vpn" {
		t.Errorf("RiskFlags = %v, header risk flags dropped", got.RiskFlags)
	}
}

func TestRequireDestructiveConfirmationFlow(t *testing.T) {
	g := newTestGuard()
	req := Requirement{Action: "admin.cache.clear", Destructive: true}

	// Owner without confirmation: 428.
	called := false
	h := g.Require(req)(okHandler(&called))
	r := httptest.NewRequest("POST", "/admin/cache/clear", nil)
	r = r.WithContext(WithClaims(r.Context(), ownerClaims()))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if called || w.Code != http.StatusPreconditionRequired {
		t.Fatalf("status = %d, want 428", w.Code)
	}

	// Owner with body confirmation: allowed, body readable downstream.
	var seenBody string
	h = g.Require(req)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		seenBody = string(raw)
	}))
	r = httptest.NewRequest("POST", "/admin/cache/clear",
		strings.NewReader(`{"superAdminConfirmed": true}`))
	r.Header.Set("Content-Type", "application/json")
	r = r.WithContext(WithClaims(r.Context(), ownerClaims()))
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(seenBody, "superAdminConfirmed") {
		t.Error("request body was not restored for the handler")
	}

	// Regular user with confirmation: still 403.
	called = false
	h = g.Require(req)(okHandler(&called))
	r = httptest.NewRequest("POST", "/admin/cache/clear", nil)
	r.Header.Set("x-super-admin-confirmed", "yes")
	r = r.WithContext(WithClaims(r.Context(), userClaims()))
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if called || w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
}
