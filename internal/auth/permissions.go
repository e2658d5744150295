package auth

const (
	PermUserView             = "user.view"
	PermUserCreate           = "user.create"
	PermRoleAssign           = "role.assign"
	PermUserPermissionView   = "userpermission.view"
	PermUserPermissionAssign = "userpermission.assign"
	PermUserPermissionRemove = "userpermission.remove"
	PermAuditView            = "audit.view"
)

var BuiltinPermissions = []Permission{
	{Key: PermUserView, Description: "View users"},
	{Key: PermUserCreate, Description: "Create users"},
	{Key: PermRoleAssign, Description: "Assign roles to users"},
	{Key: PermUserPermissionView, Description: "View resolved user permissions"},
	{Key: PermUserPermissionAssign, Description: "Grant direct permissions"},
	{Key: PermUserPermissionRemove, Description: "Revoke direct permissions"},
	{Key: PermAuditView, Description: "Read the audit trail"},
}
