package auth

import (
	"sort"
	"time"
)

// Tenant is the isolation root; every scoped entity carries its id.
type Tenant struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	TokenTTLMinutes *int      `json:"token_ttl_minutes,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Application is a second scoping axis beneath a tenant, e.g. distinct
// products sharing one tenant's user base. Name is unique within the tenant.
type Application struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// User is a global identity. Tenant membership and per-application activation
// live in the join tables, not on the user itself.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// UserApplication records a user's activation state for one application.
// Activation is user-initiated and mutable at any time.
type UserApplication struct {
	UserID        string    `json:"user_id"`
	ApplicationID string    `json:"application_id"`
	IsActive      bool      `json:"is_active"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Role groups permissions. Roles are shared across tenants. ParentRoleID is a
// declared hierarchy reference that resolution never consults.
type Role struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	ParentRoleID *string   `json:"parent_role_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Permission is a flat, globally unique capability key such as "user.create".
// No wildcard or hierarchy semantics are attached to the key.
type Permission struct {
	ID          string    `json:"id"`
	Key         string    `json:"key"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// UserRole assigns a role to a user. The resolver enforces at most one
// current assignment per user; see Resolver.AssignRole.
type UserRole struct {
	UserID    string    `json:"user_id"`
	RoleID    string    `json:"role_id"`
	CreatedAt time.Time `json:"created_at"`
}

// RoleGrant is one (role, permission) pair resolved for a user, carrying the
// display names needed by the combined entitlement view.
type RoleGrant struct {
	RoleID        string `json:"role_id"`
	RoleName      string `json:"role_name"`
	PermissionID  string `json:"permission_id"`
	PermissionKey string `json:"permission_key"`
}

// DirectGrant is the only permission assignment scoped to a specific
// tenant+application pair.
type DirectGrant struct {
	UserID          string    `json:"user_id"`
	PermissionID    string    `json:"permission_id"`
	TenantID        string    `json:"tenant_id"`
	ApplicationID   string    `json:"application_id"`
	PermissionKey   string    `json:"permission_key,omitempty"`
	GrantedAt       time.Time `json:"granted_at"`
	GrantedByUserID *string   `json:"granted_by_user_id,omitempty"`
	Notes           *string   `json:"notes,omitempty"`
}

// RefreshToken is a persisted opaque refresh credential. Only the SHA-256
// hash of the token is stored.
type RefreshToken struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	TokenHash string    `json:"-"`
	Device    string    `json:"device,omitempty"`
	IP        string    `json:"ip,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	Revoked   bool      `json:"revoked"`
}

// PermissionSet is a deduplicated set of permission keys.
type PermissionSet map[string]struct{}

// NewPermissionSet builds a set from keys, dropping empties.
func NewPermissionSet(keys ...string) PermissionSet {
	set := make(PermissionSet, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		set[k] = struct{}{}
	}
	return set
}

// Has reports whether key is in the set.
func (s PermissionSet) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// Union returns a new set containing members of both sets.
func (s PermissionSet) Union(other PermissionSet) PermissionSet {
	out := make(PermissionSet, len(s)+len(other))
	for k := range s {
		out[k] = struct{}{}
	}
	for k := range other {
		out[k] = struct{}{}
	}
	return out
}

// Sorted returns the members in lexical order.
func (s PermissionSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
