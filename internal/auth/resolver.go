package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Resolver computes the effective permission set for a user inside one
// (tenant, application) scope by merging role-derived permissions with
// directly-granted ones. Absence of a grant is the only form of denial;
// there is no explicit-deny and no wildcard expansion.
type Resolver struct {
	identity IdentityStore
	grants   GrantStore
}

// NewResolver constructs a Resolver.
func NewResolver(identity IdentityStore, grants GrantStore) (*Resolver, error) {
	if identity == nil {
		return nil, errors.New("auth: identity store is required")
	}
	if grants == nil {
		return nil, errors.New("auth: grant store is required")
	}
	return &Resolver{identity: identity, grants: grants}, nil
}

// Entitlement is the resolved view for one (user, tenant, application) scope.
type Entitlement struct {
	Roles     []Role                  `json:"roles"`
	RolePerms map[string][]Permission `json:"role_permissions"`
	Direct    []DirectGrant           `json:"direct"`
	Effective PermissionSet           `json:"-"`
}

// Resolve returns the deduplicated union of role-derived and directly-granted
// permission keys for (userID, tenantID, applicationID). Role permissions
// carry no scope; direct grants must match the scope exactly. An unknown user
// resolves to the empty set rather than an error.
func (r *Resolver) Resolve(ctx context.Context, userID, tenantID, applicationID string) (PermissionSet, error) {
	ent, err := r.Entitlements(ctx, userID, tenantID, applicationID)
	if err != nil {
		return nil, err
	}
	return ent.Effective, nil
}

// Entitlements returns the full resolved view: roles with their permissions,
// scope-matching direct grants, and the effective union.
func (r *Resolver) Entitlements(ctx context.Context, userID, tenantID, applicationID string) (Entitlement, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Entitlement{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}

	roles, err := r.identity.RolesForUser(ctx, userID)
	if err != nil {
		return Entitlement{}, err
	}
	roleGrants, err := r.identity.RoleGrantsForUser(ctx, userID)
	if err != nil {
		return Entitlement{}, err
	}

	effective := make(PermissionSet)
	rolePerms := make(map[string][]Permission, len(roles))
	for _, g := range roleGrants {
		rolePerms[g.RoleName] = append(rolePerms[g.RoleName], Permission{ID: g.PermissionID, Key: g.PermissionKey})
		effective[g.PermissionKey] = struct{}{}
	}

	// Direct grants are scoped; without both scope ids no row can match and
	// sentinel rows must stay invisible.
	var direct []DirectGrant
	if tenantID != "" && applicationID != "" {
		direct, err = r.grants.GrantsForScope(ctx, userID, tenantID, applicationID)
		if err != nil {
			return Entitlement{}, err
		}
		for _, g := range direct {
			effective[g.PermissionKey] = struct{}{}
		}
	}

	return Entitlement{
		Roles:     roles,
		RolePerms: rolePerms,
		Direct:    direct,
		Effective: effective,
	}, nil
}

// GrantDirect records a direct grant for an exact (user, tenant, application)
// scope and returns the stored row. Granting an already-held permission is a
// no-op success returning the existing grant.
func (r *Resolver) GrantDirect(ctx context.Context, grant DirectGrant) (DirectGrant, error) {
	grant.UserID = strings.TrimSpace(grant.UserID)
	grant.PermissionID = strings.TrimSpace(grant.PermissionID)
	grant.TenantID = strings.TrimSpace(grant.TenantID)
	grant.ApplicationID = strings.TrimSpace(grant.ApplicationID)
	if grant.UserID == "" || grant.PermissionID == "" {
		return DirectGrant{}, fmt.Errorf("%w: user_id and permission_id are required", ErrInvalidInput)
	}
	// Sentinel scopes are never written; checks ignore legacy rows that
	// still carry them.
	if grant.TenantID == "" || grant.ApplicationID == "" {
		return DirectGrant{}, fmt.Errorf("%w: tenant_id and application_id are required", ErrInvalidInput)
	}
	if err := r.grants.Grant(ctx, grant); err != nil {
		return DirectGrant{}, err
	}
	// The write has landed; fall back to the request values if the read
	// back fails.
	if rows, err := r.grants.GrantsForScope(ctx, grant.UserID, grant.TenantID, grant.ApplicationID); err == nil {
		for _, g := range rows {
			if g.PermissionID == grant.PermissionID {
				return g, nil
			}
		}
	}
	return grant, nil
}

// RevokeDirect removes a direct grant. Revoking a grant that was never held
// is a no-op success, keeping client retry logic simple.
func (r *Resolver) RevokeDirect(ctx context.Context, userID, permissionID, tenantID, applicationID string) error {
	userID = strings.TrimSpace(userID)
	permissionID = strings.TrimSpace(permissionID)
	if userID == "" || permissionID == "" {
		return fmt.Errorf("%w: user_id and permission_id are required", ErrInvalidInput)
	}
	if tenantID == "" || applicationID == "" {
		return fmt.Errorf("%w: tenant_id and application_id are required", ErrInvalidInput)
	}
	return r.grants.Revoke(ctx, userID, permissionID, tenantID, applicationID)
}

// AssignRole installs roleID as the user's single current role, replacing
// any prior assignments. The replace semantics are an invariant of this
// resolver, not an accident of storage: multi-role support would change
// Resolve's inputs and must go through here.
func (r *Resolver) AssignRole(ctx context.Context, userID, roleID string) (UserRole, error) {
	userID = strings.TrimSpace(userID)
	roleID = strings.TrimSpace(roleID)
	if userID == "" || roleID == "" {
		return UserRole{}, fmt.Errorf("%w: user_id and role_id are required", ErrInvalidInput)
	}
	return r.identity.ReplaceUserRoles(ctx, userID, roleID)
}
