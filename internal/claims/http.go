// ABOUTME: HTTP extractors building claim sources from request parts
// ABOUTME: Precedence is request-attached claims, then session, then headers

package claims

import (
	"net/http"
)

// Header names consulted for identity signals. Gateways in front of this
// service forward verified identity through these headers.
var (
	personalIDHeaders = []string{"x-personal-id", "x-user-id", "x-gurulo-personal-id", "x-admin-id"}
	roleHeaders       = []string{"x-user-role", "x-user-roles", "x-gurulo-roles"}
	orgHeaders        = []string{"x-user-orgs", "x-gurulo-orgs"}
	riskHeaders       = []string{"x-risk-flags", "x-gurulo-risk"}
)

// SessionClaims is the identity blob a session store may hold for a request.
type SessionClaims struct {
	PersonalID string   `json:"personalId"`
	Roles      []string `json:"roles"`
	Orgs       []string `json:"orgs"`
	RiskFlags  []string `json:"riskFlags"`
}

// FromAttached converts an already-normalized claim set (e.g. populated by an
// upstream token middleware) into a source.
func FromAttached(set *ClaimSet) Source {
	if set == nil {
		return Source{}
	}
	return Source{
		PersonalIDs: []string{set.PersonalID},
		Roles:       set.Roles,
		Orgs:        set.Orgs,
		RiskFlags:   set.RiskFlags,
	}
}

// FromSession converts session-held claims into a source.
func FromSession(sc *SessionClaims) Source {
	if sc == nil {
		return Source{}
	}
	return Source{
		PersonalIDs: []string{sc.PersonalID},
		Roles:       sc.Roles,
		Orgs:        sc.Orgs,
		RiskFlags:   sc.RiskFlags,
	}
}

// FromHeaders reads the forwarded identity headers.
func FromHeaders(h http.Header) Source {
	src := Source{}
	for _, key := range personalIDHeaders {
		if v := h.Get(key); v != "" {
			src.PersonalIDs = append(src.PersonalIDs, v)
		}
	}
	for _, key := range roleHeaders {
		if v := h.Get(key); v != "" {
			src.Roles = append(src.Roles, SplitList(v)...)
		}
	}
	for _, key := range orgHeaders {
		if v := h.Get(key); v != "" {
			src.Orgs = append(src.Orgs, SplitList(v)...)
		}
	}
	for _, key := range riskHeaders {
		if v := h.Get(key); v != "" {
			src.RiskFlags = append(src.RiskFlags, SplitList(v)...)
		}
	}
	return src
}

// FromHTTP builds the canonical claim set for a request: attached claims take
// precedence, then session claims, then forwarded headers.
func FromHTTP(r *http.Request, attached *ClaimSet, session *SessionClaims) ClaimSet {
	return Merge(
		FromAttached(attached),
		FromSession(session),
		FromHeaders(r.Header),
	)
}
