package auth

import "context"

// IdentityStore exposes the identity records the resolver and token flows
// read. Implementations must be safe for concurrent use.
type IdentityStore interface {
	FindUser(ctx context.Context, userID string) (User, error)
	FindUserByEmail(ctx context.Context, email string) (User, error)
	FindTenant(ctx context.Context, tenantID string) (Tenant, error)
	FindPermission(ctx context.Context, permissionID string) (Permission, error)
	EnsurePermissions(ctx context.Context, perms []Permission) error

	// RolesForUser returns the user's current role assignments; an unknown
	// user yields an empty slice, not an error.
	RolesForUser(ctx context.Context, userID string) ([]Role, error)

	// RoleGrantsForUser returns every (role, permission) pair the user holds
	// through role membership, with no tenant or application filter.
	RoleGrantsForUser(ctx context.Context, userID string) ([]RoleGrant, error)

	// ReplaceUserRoles removes all existing role assignments for the user and
	// installs roleID as the single current role, atomically.
	ReplaceUserRoles(ctx context.Context, userID, roleID string) (UserRole, error)

	// ActiveApplications returns the ids of applications the user has marked
	// active, ordered by activation recency.
	ActiveApplications(ctx context.Context, userID string) ([]string, error)
}

// GrantStore manages tenant+application scoped direct grants.
type GrantStore interface {
	// Grant inserts the direct grant; inserting an identical key again is a
	// no-op success.
	Grant(ctx context.Context, grant DirectGrant) error

	// Revoke removes the grant; revoking an absent grant is a no-op success.
	Revoke(ctx context.Context, userID, permissionID, tenantID, applicationID string) error

	// GrantsForScope returns grants matching (user, tenant, application)
	// exactly, excluding rows that still carry an empty sentinel scope.
	GrantsForScope(ctx context.Context, userID, tenantID, applicationID string) ([]DirectGrant, error)

	// GrantsForUser returns all of the user's direct grants across scopes.
	GrantsForUser(ctx context.Context, userID string) ([]DirectGrant, error)
}

// RefreshTokenStore persists opaque refresh credentials.
type RefreshTokenStore interface {
	Create(ctx context.Context, tok *RefreshToken) error
	FindByHash(ctx context.Context, hash string) (RefreshToken, error)
	MarkRevoked(ctx context.Context, id string) error
	MarkRevokedByUser(ctx context.Context, userID string) error
}
