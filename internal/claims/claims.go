// ABOUTME: Per-request claim set normalization from heterogeneous sources
// ABOUTME: Merges request, session, and header identity signals into one ClaimSet

package claims

import (
	"strings"

	"github.com/bakhmaro/gurulo-gateway/internal/identity"
)

// ClaimSet is the canonical, per-request identity signal. It is built fresh
// for every request and never persisted.
type ClaimSet struct {
	PersonalID string
	Roles      []string
	Orgs       []string
	RiskFlags  []string
}

// IsEmpty reports whether the claim set carries no identity signal at all.
// Risk flags alone do not constitute identity.
func (c ClaimSet) IsEmpty() bool {
	return c.PersonalID == "" && len(c.Roles) == 0 && len(c.Orgs) == 0
}

// HasRole reports whether the claim set contains the role, case-insensitively.
func (c ClaimSet) HasRole(role string) bool {
	for _, r := range c.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// Source is a partial claim contribution from one extractor. Extractors are
// pure: they read a request-shaped input and return whatever identity signal
// that source carries, without consulting each other.
type Source struct {
	PersonalIDs []string
	Roles       []string
	Orgs        []string
	RiskFlags   []string
}

// Merge combines sources in precedence order: the first non-empty personal id
// wins, list fields concatenate then dedupe case-insensitively (first-seen
// casing preserved). The privileged role is injected when the resolved
// personal id equals the super-admin constant, regardless of explicit role
// claims.
func Merge(sources ...Source) ClaimSet {
	var (
		personalID string
		roles      []string
		orgs       []string
		riskFlags  []string
	)

	for _, src := range sources {
		if personalID == "" {
			for _, id := range src.PersonalIDs {
				if trimmed := strings.TrimSpace(id); trimmed != "" {
					personalID = trimmed
					break
				}
			}
		}
		roles = append(roles, src.Roles...)
		orgs = append(orgs, src.Orgs...)
		riskFlags = append(riskFlags, src.RiskFlags...)
	}

	set := ClaimSet{
		PersonalID: personalID,
		Roles:      dedupe(roles),
		Orgs:       dedupe(orgs),
		RiskFlags:  dedupe(riskFlags),
	}

	if identity.IsSuperAdmin(set.PersonalID) && !set.HasRole(identity.RoleSuperAdmin) {
		set.Roles = append(set.Roles, identity.RoleSuperAdmin)
	}

	return set
}

// dedupe removes duplicates case-insensitively, preserving order and the
// first-seen casing. Blank entries are dropped.
func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		key := strings.ToUpper(trimmed)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		result = append(result, trimmed)
	}
	return result
}

// SplitList splits a comma- or whitespace-separated header value into its
// trimmed entries.
func SplitList(value string) []string {
	fields := strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	result := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			result = append(result, f)
		}
	}
	return result
}
