package httpapi

import (
	"net/http"
	"strings"

	"authoria.org/internal/auth"
	"authoria.org/internal/cache"
)

type assignPermissionRequest struct {
	UserID       string  `json:"userId"`
	PermissionID string  `json:"permissionId"`
	Notes        *string `json:"notes,omitempty"`
}

type removePermissionRequest struct {
	UserID       string `json:"userId"`
	PermissionID string `json:"permissionId"`
}

type assignRoleRequest struct {
	UserID string `json:"userId"`
	RoleID string `json:"roleId"`
}

type permissionView struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

type roleView struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Permissions []permissionView `json:"permissions"`
}

type userPermissionsResponse struct {
	UserID        string             `json:"userId"`
	TenantID      string             `json:"tenantId,omitempty"`
	ApplicationID string             `json:"applicationId,omitempty"`
	Roles         []roleView         `json:"roles"`
	Direct        []auth.DirectGrant `json:"direct"`
	Effective     []string           `json:"effective"`
}

// grantScope pulls the active tenant and application from the request
// identity. Direct grants are meaningless without both.
func (a *API) grantScope(w http.ResponseWriter, r *http.Request) (tenantID, appID string, ok bool) {
	rc, _ := auth.RequestFromContext(r.Context())
	tenantID = rc.TenantID
	if len(rc.Applications) > 0 {
		appID = rc.Applications[0]
	}
	if tenantID == "" || appID == "" {
		writeError(w, r, http.StatusBadRequest, "an active tenant and application are required")
		return "", "", false
	}
	return tenantID, appID, true
}

// AssignPermission grants a permission directly to a user within the caller's
// active tenant and application scope.
func (a *API) AssignPermission(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.authorize(w, r, auth.PermUserPermissionAssign) {
		return
	}
	var req assignPermissionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	tenantID, appID, ok := a.grantScope(w, r)
	if !ok {
		return
	}

	rc, _ := auth.RequestFromContext(r.Context())
	grant := auth.DirectGrant{
		UserID:        req.UserID,
		PermissionID:  req.PermissionID,
		TenantID:      tenantID,
		ApplicationID: appID,
		Notes:         req.Notes,
	}
	if rc.UserID != "" {
		grant.GrantedByUserID = &rc.UserID
	}
	stored, err := a.resolver.GrantDirect(r.Context(), grant)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}

	a.hints.InvalidateUser(r.Context(), req.UserID)
	_ = a.recorder.LogDatabaseOperation(r.Context(), "userpermission.assign", "user_permission",
		req.UserID+":"+req.PermissionID, map[string]any{
			"tenant_id":      tenantID,
			"application_id": appID,
		})
	writeJSON(w, http.StatusCreated, stored)
}

// RemovePermission revokes a direct grant. Revoking an absent grant still
// returns 204.
func (a *API) RemovePermission(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if !a.authorize(w, r, auth.PermUserPermissionRemove) {
		return
	}
	var req removePermissionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	tenantID, appID, ok := a.grantScope(w, r)
	if !ok {
		return
	}

	if err := a.resolver.RevokeDirect(r.Context(), req.UserID, req.PermissionID, tenantID, appID); err != nil {
		handleAuthError(w, r, err)
		return
	}

	a.hints.InvalidateUser(r.Context(), req.UserID)
	_ = a.recorder.LogDatabaseOperation(r.Context(), "userpermission.remove", "user_permission",
		req.UserID+":"+req.PermissionID, map[string]any{
			"tenant_id":      tenantID,
			"application_id": appID,
		})
	w.WriteHeader(http.StatusNoContent)
}

// UserPermissions returns the combined view for one user under the caller's
// active scope: roles with their permissions, direct grants and the effective
// union.
func (a *API) UserPermissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.authorize(w, r, auth.PermUserPermissionView) {
		return
	}
	userID := strings.TrimPrefix(r.URL.Path, "/api/userpermissions/user/")
	if userID == "" || strings.Contains(userID, "/") {
		writeError(w, r, http.StatusBadRequest, "user id is required")
		return
	}

	rc, _ := auth.RequestFromContext(r.Context())
	tenantID := rc.TenantID
	appID := ""
	if len(rc.Applications) > 0 {
		appID = rc.Applications[0]
	}

	key := cache.UserPermissionsKey(userID, tenantID, appID)
	var resp userPermissionsResponse
	if a.hints.GetJSON(r.Context(), key, &resp) {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	ent, err := a.resolver.Entitlements(r.Context(), userID, tenantID, appID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}

	roles := make([]roleView, 0, len(ent.Roles))
	for _, role := range ent.Roles {
		rv := roleView{ID: role.ID, Name: role.Name, Permissions: []permissionView{}}
		for _, p := range ent.RolePerms[role.Name] {
			rv.Permissions = append(rv.Permissions, permissionView{ID: p.ID, Key: p.Key})
		}
		roles = append(roles, rv)
	}
	direct := ent.Direct
	if direct == nil {
		direct = []auth.DirectGrant{}
	}
	resp = userPermissionsResponse{
		UserID:        userID,
		TenantID:      tenantID,
		ApplicationID: appID,
		Roles:         roles,
		Direct:        direct,
		Effective:     ent.Effective.Sorted(),
	}

	a.hints.SetJSON(r.Context(), key, resp)
	writeJSON(w, http.StatusOK, resp)
}

// AssignRole replaces the user's current role assignment.
func (a *API) AssignRole(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.authorize(w, r, auth.PermRoleAssign) {
		return
	}
	var req assignRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	assignment, err := a.resolver.AssignRole(r.Context(), req.UserID, req.RoleID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}

	a.hints.InvalidateUser(r.Context(), req.UserID)
	_ = a.recorder.LogDatabaseOperation(r.Context(), "userrole.assign", "user_role",
		req.UserID+":"+req.RoleID, nil)
	writeJSON(w, http.StatusOK, assignment)
}
