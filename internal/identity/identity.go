// ABOUTME: Privileged identity resolver for the single super-admin profile
// ABOUTME: Holds the fixed personal id constant and alias matching logic

package identity

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// SuperAdminPersonalID is the fixed personal id of the only privileged
// identity the system supports. It is a compile-time constant on purpose:
// the platform operates with exactly one super-admin profile.
const SuperAdminPersonalID = "01019062020"

// Role names.
const (
	RoleSuperAdmin = "SUPER_ADMIN"
	RoleUser       = "USER"
)

// ErrIdentityConflict is returned when a candidate profile carries a personal
// id that differs from the fixed constant.
var ErrIdentityConflict = errors.New("identity conflict: only the super-admin profile is supported")

// ErrRoleImmutable is returned when attempting to change the privileged role.
var ErrRoleImmutable = errors.New("the super-admin role cannot be changed")

// Profile is the single privileged identity. PersonalID and Role are
// immutable; only display fields may change.
type Profile struct {
	OwnerID     string
	PersonalID  string
	Email       string
	DisplayName string
	Role        string
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Candidate carries the mutable fields accepted by Ensure.
type Candidate struct {
	OwnerID     string
	PersonalID  string
	Email       string
	DisplayName string
}

// Resolver owns the privileged profile and the alias set used to recognize
// it across login identifiers (owner id, personal id, email, configured
// aliases). Safe for concurrent use.
type Resolver struct {
	mu      sync.RWMutex
	profile Profile
	aliases map[string]struct{}
	extra   []string
	logger  *slog.Logger
}

// Config holds the startup values for the privileged profile.
type Config struct {
	OwnerID     string   // defaults to SuperAdminPersonalID
	Email       string   // defaults to admin@bakhmaro.co
	DisplayName string   // defaults to Super Admin
	Aliases     []string // additional identifiers that resolve to the profile
}

// NewResolver constructs the resolver with the fixed personal id. There is no
// way to construct a resolver for any other identity.
func NewResolver(cfg Config) *Resolver {
	ownerID := strings.TrimSpace(cfg.OwnerID)
	if ownerID == "" {
		ownerID = SuperAdminPersonalID
	}
	email := strings.TrimSpace(cfg.Email)
	if email == "" {
		email = "admin@bakhmaro.co"
	}
	displayName := strings.TrimSpace(cfg.DisplayName)
	if displayName == "" {
		displayName = "Super Admin"
	}

	now := time.Now().UTC()
	r := &Resolver{
		profile: Profile{
			OwnerID:     ownerID,
			PersonalID:  SuperAdminPersonalID,
			Email:       email,
			DisplayName: displayName,
			Role:        RoleSuperAdmin,
			Status:      "active",
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		extra:  cfg.Aliases,
		logger: slog.Default().With("component", "identity"),
	}
	r.refreshAliases()
	return r
}

// refreshAliases rebuilds the alias set from the current profile plus the
// configured extras. Must be called with mu held (or before publication).
func (r *Resolver) refreshAliases() {
	aliases := make(map[string]struct{})
	add := func(v string) {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			aliases[v] = struct{}{}
		}
	}
	add(r.profile.OwnerID)
	add(r.profile.PersonalID)
	add(r.profile.Email)
	for _, a := range r.extra {
		add(a)
	}
	r.aliases = aliases
}

// Ensure reconciles a candidate profile against the fixed identity. A
// candidate with an empty personal id inherits the constant; a non-empty
// personal id that differs fails with ErrIdentityConflict. Only display
// fields are updated.
func (r *Resolver) Ensure(c Candidate) (Profile, error) {
	personalID := strings.TrimSpace(c.PersonalID)
	if personalID != "" && personalID != SuperAdminPersonalID {
		return Profile{}, ErrIdentityConflict
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if ownerID := strings.TrimSpace(c.OwnerID); ownerID != "" {
		r.profile.OwnerID = ownerID
	}
	if email := strings.TrimSpace(c.Email); email != "" {
		r.profile.Email = email
	}
	if displayName := strings.TrimSpace(c.DisplayName); displayName != "" {
		r.profile.DisplayName = displayName
	}
	r.profile.UpdatedAt = time.Now().UTC()
	r.refreshAliases()

	r.logger.Info("super-admin profile ensured",
		"owner_id", r.profile.OwnerID,
		"email", r.profile.Email,
	)
	return r.profile, nil
}

// Matches reports whether value identifies the privileged profile. The
// comparison is case-insensitive across owner id, personal id, email, and
// configured aliases.
func (r *Resolver) Matches(value string) bool {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.aliases[normalized]
	return ok
}

// IsSuperAdmin reports whether personalID equals the fixed constant. Unlike
// Matches it does not consult aliases: role elevation requires the exact id.
func IsSuperAdmin(personalID string) bool {
	return strings.TrimSpace(personalID) == SuperAdminPersonalID
}

// ResolveRole returns the privileged role for the fixed personal id and the
// neutral default for anything else.
func (r *Resolver) ResolveRole(personalID string) string {
	if IsSuperAdmin(personalID) {
		return RoleSuperAdmin
	}
	return RoleUser
}

// Profile returns a copy of the current profile.
func (r *Resolver) Profile() Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.profile
}

// UpdateRole rejects any role change; the privileged role is immutable.
func (r *Resolver) UpdateRole(ownerID, role string) (Profile, error) {
	if !r.Matches(ownerID) {
		return Profile{}, ErrIdentityConflict
	}
	if role != RoleSuperAdmin {
		return Profile{}, ErrRoleImmutable
	}
	return r.Profile(), nil
}

// UsersByRole returns the single profile for the privileged role and an
// empty slice for any other role.
func (r *Resolver) UsersByRole(role string) []Profile {
	if role != RoleSuperAdmin {
		return nil
	}
	return []Profile{r.Profile()}
}
