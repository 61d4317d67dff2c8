// ABOUTME: Authorization guard with destructive-action confirmation gating
// ABOUTME: Every decision is audited; failures inside the guard deny access

package guard

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/bakhmaro/gurulo-gateway/internal/audit"
	"github.com/bakhmaro/gurulo-gateway/internal/claims"
	"github.com/bakhmaro/gurulo-gateway/internal/identity"
)

// Decision reason codes.
const (
	ReasonUnauthenticated      = "UNAUTHENTICATED"
	ReasonPrivilegedRequired   = "PRIVILEGED_REQUIRED"
	ReasonRoleMissing          = "ROLE_MISSING"
	ReasonConfirmationRequired = "CONFIRMATION_REQUIRED"
	ReasonGuardFailure         = "GUARD_FAILURE"
)

// Requirement describes what an operation demands of the caller.
type Requirement struct {
	Action      string   // audit action name, e.g. "admin.cache.clear"
	Roles       []string // any-of role list, empty means no role requirement
	Privileged  bool     // operation is restricted to the super admin
	Destructive bool     // operation additionally needs explicit confirmation

	// DisablePrivilegedOverride makes the role list binding even for the
	// super admin. By default the privileged identity satisfies any role
	// requirement.
	DisablePrivilegedOverride bool
}

// Decision is the guard's verdict on one request.
type Decision struct {
	Allowed bool
	Reason  string // empty when allowed
}

// HTTPStatus maps a decision to the status code its denial carries.
func (d Decision) HTTPStatus() int {
	if d.Allowed {
		return http.StatusOK
	}
	switch d.Reason {
	case ReasonUnauthenticated:
		return http.StatusUnauthorized
	case ReasonConfirmationRequired:
		return http.StatusPreconditionRequired
	case ReasonGuardFailure:
		return http.StatusInternalServerError
	default:
		return http.StatusForbidden
	}
}

// Decide evaluates a requirement against the caller's claims. It is pure:
// no audit, no recovery, no side effects.
//
// Privilege comes from the personal id alone. A SUPER_ADMIN role claim
// without the registered owner's personal id grants nothing; roles can be
// forged upstream, the personal id match cannot.
func Decide(cs claims.ClaimSet, req Requirement, confirmed bool) Decision {
	if cs.IsEmpty() {
		return Decision{Reason: ReasonUnauthenticated}
	}

	privileged := identity.IsSuperAdmin(cs.PersonalID)

	if req.Privileged && !privileged {
		return Decision{Reason: ReasonPrivilegedRequired}
	}

	overrides := privileged && !req.DisablePrivilegedOverride
	if len(req.Roles) > 0 && !overrides {
		matched := false
		for _, role := range req.Roles {
			if cs.HasRole(role) {
				matched = true
				break
			}
		}
		if !matched {
			return Decision{Reason: ReasonRoleMissing}
		}
	}

	if req.Destructive {
		if !privileged {
			return Decision{Reason: ReasonPrivilegedRequired}
		}
		if !confirmed {
			return Decision{Reason: ReasonConfirmationRequired}
		}
	}

	return Decision{Allowed: true}
}

// Guard wraps Decide with auditing and fail-closed error handling.
type Guard struct {
	recorder *audit.Recorder
	service  string
	logger   *slog.Logger
	decide   func(claims.ClaimSet, Requirement, bool) Decision
}

// New creates a guard recording decisions for the named service.
func New(service string, recorder *audit.Recorder) *Guard {
	return &Guard{
		recorder: recorder,
		service:  service,
		logger:   slog.Default().With("component", "guard"),
		decide:   Decide,
	}
}

// RequestMeta carries transport details into the audit trail.
type RequestMeta struct {
	Route         string
	Method        string
	CorrelationID string
}

// Check evaluates the requirement, records exactly one audit event, and
// returns the decision. A panic anywhere inside evaluation is converted
// into a deny with ReasonGuardFailure; the guard never fails open.
func (g *Guard) Check(ctx context.Context, cs claims.ClaimSet, req Requirement, confirmed bool, meta RequestMeta) (decision Decision) {
	defer func() {
		if rec := recover(); rec != nil {
			g.logger.Error("guard panic", "panic", rec, "action", req.Action)
			decision = Decision{Reason: ReasonGuardFailure}
			g.record(ctx, cs, req, confirmed, meta, decision)
		}
	}()

	decision = g.decide(cs, req, confirmed)
	g.record(ctx, cs, req, confirmed, meta, decision)
	return decision
}

func (g *Guard) record(ctx context.Context, cs claims.ClaimSet, req Requirement, confirmed bool, meta RequestMeta, decision Decision) {
	if g.recorder == nil {
		return
	}
	g.recorder.Record(ctx, audit.Event{
		Action:               req.Action,
		Allowed:              decision.Allowed,
		Destructive:          req.Destructive,
		Reason:               decision.Reason,
		Service:              g.service,
		Route:                meta.Route,
		Method:               meta.Method,
		ConfirmationProvided: confirmed,
		CorrelationID:        meta.CorrelationID,
		PersonalID:           cs.PersonalID,
		Roles:                cs.Roles,
		RiskFlags:            cs.RiskFlags,
	})
}

// errorBody is the JSON error shape denials are rendered with.
type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

// denialMessages maps reasons to client-facing text.
var denialMessages = map[string]string{
	ReasonUnauthenticated:      "authentication required",
	ReasonPrivilegedRequired:   "privileged access required",
	ReasonRoleMissing:          "insufficient role",
	ReasonConfirmationRequired: "explicit confirmation required for destructive action",
	ReasonGuardFailure:         "authorization check failed",
}

// WriteDenial renders a denial as JSON with the decision's status code.
func WriteDenial(w http.ResponseWriter, decision Decision) {
	msg := denialMessages[decision.Reason]
	if msg == "" {
		msg = "access denied"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(decision.HTTPStatus())
	_ = json.NewEncoder(w).Encode(errorBody{
		Success: false,
		Error:   msg,
		Code:    decision.Reason,
	})
}
