package httpapi

import (
	"context"
	"testing"
	"time"

	"authoria.org/internal/audit"
	"authoria.org/internal/auth"
)

type stubStore struct {
	users      map[string]auth.User
	emails     map[string]string
	tenants    map[string]auth.Tenant
	perms      map[string]auth.Permission
	roles      map[string][]auth.Role
	roleGrants map[string][]auth.RoleGrant
	activeApps map[string][]string
	grants     []auth.DirectGrant
	refresh    map[string]*auth.RefreshToken
	assigned   map[string]string
}

func newStubStore() *stubStore {
	return &stubStore{
		users:      map[string]auth.User{},
		emails:     map[string]string{},
		tenants:    map[string]auth.Tenant{},
		perms:      map[string]auth.Permission{},
		roles:      map[string][]auth.Role{},
		roleGrants: map[string][]auth.RoleGrant{},
		activeApps: map[string][]string{},
		refresh:    map[string]*auth.RefreshToken{},
		assigned:   map[string]string{},
	}
}

func (s *stubStore) addUser(t *testing.T, id, email, password string) {
	t.Helper()
	hash, err := auth.HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	s.users[id] = auth.User{ID: id, Email: email, PasswordHash: hash, Status: "active"}
	s.emails[email] = id
}

func (s *stubStore) FindUser(_ context.Context, id string) (auth.User, error) {
	u, ok := s.users[id]
	if !ok {
		return auth.User{}, auth.ErrNotFound
	}
	return u, nil
}

func (s *stubStore) FindUserByEmail(_ context.Context, email string) (auth.User, error) {
	id, ok := s.emails[email]
	if !ok {
		return auth.User{}, auth.ErrNotFound
	}
	return s.users[id], nil
}

func (s *stubStore) FindTenant(_ context.Context, id string) (auth.Tenant, error) {
	t, ok := s.tenants[id]
	if !ok {
		return auth.Tenant{}, auth.ErrNotFound
	}
	return t, nil
}

func (s *stubStore) FindPermission(_ context.Context, id string) (auth.Permission, error) {
	p, ok := s.perms[id]
	if !ok {
		return auth.Permission{}, auth.ErrNotFound
	}
	return p, nil
}

func (s *stubStore) EnsurePermissions(_ context.Context, perms []auth.Permission) error {
	for _, p := range perms {
		s.perms[p.ID] = p
	}
	return nil
}

func (s *stubStore) RolesForUser(_ context.Context, userID string) ([]auth.Role, error) {
	return s.roles[userID], nil
}

func (s *stubStore) RoleGrantsForUser(_ context.Context, userID string) ([]auth.RoleGrant, error) {
	return s.roleGrants[userID], nil
}

func (s *stubStore) ReplaceUserRoles(_ context.Context, userID, roleID string) (auth.UserRole, error) {
	s.assigned[userID] = roleID
	return auth.UserRole{UserID: userID, RoleID: roleID, CreatedAt: time.Now()}, nil
}

func (s *stubStore) ActiveApplications(_ context.Context, userID string) ([]string, error) {
	return s.activeApps[userID], nil
}

func (s *stubStore) Grant(_ context.Context, grant auth.DirectGrant) error {
	if _, ok := s.perms[grant.PermissionID]; !ok {
		return auth.ErrNotFound
	}
	for _, g := range s.grants {
		if g.UserID == grant.UserID && g.PermissionID == grant.PermissionID &&
			g.TenantID == grant.TenantID && g.ApplicationID == grant.ApplicationID {
			return nil
		}
	}
	if grant.PermissionKey == "" {
		grant.PermissionKey = s.perms[grant.PermissionID].Key
	}
	s.grants = append(s.grants, grant)
	return nil
}

func (s *stubStore) Revoke(_ context.Context, userID, permissionID, tenantID, applicationID string) error {
	out := s.grants[:0]
	for _, g := range s.grants {
		if g.UserID == userID && g.PermissionID == permissionID &&
			g.TenantID == tenantID && g.ApplicationID == applicationID {
			continue
		}
		out = append(out, g)
	}
	s.grants = out
	return nil
}

func (s *stubStore) GrantsForScope(_ context.Context, userID, tenantID, applicationID string) ([]auth.DirectGrant, error) {
	var out []auth.DirectGrant
	for _, g := range s.grants {
		if g.TenantID == "" || g.ApplicationID == "" {
			continue
		}
		if g.UserID == userID && g.TenantID == tenantID && g.ApplicationID == applicationID {
			out = append(out, g)
		}
	}
	return out, nil
}

func (s *stubStore) GrantsForUser(_ context.Context, userID string) ([]auth.DirectGrant, error) {
	var out []auth.DirectGrant
	for _, g := range s.grants {
		if g.UserID == userID {
			out = append(out, g)
		}
	}
	return out, nil
}

func (s *stubStore) Create(_ context.Context, tok *auth.RefreshToken) error {
	cp := *tok
	s.refresh[cp.TokenHash] = &cp
	return nil
}

func (s *stubStore) FindByHash(_ context.Context, hash string) (auth.RefreshToken, error) {
	tok, ok := s.refresh[hash]
	if !ok {
		return auth.RefreshToken{}, auth.ErrNotFound
	}
	return *tok, nil
}

func (s *stubStore) MarkRevoked(_ context.Context, id string) error {
	for _, tok := range s.refresh {
		if tok.ID == id {
			tok.Revoked = true
			return nil
		}
	}
	return auth.ErrNotFound
}

func (s *stubStore) MarkRevokedByUser(_ context.Context, userID string) error {
	for _, tok := range s.refresh {
		if tok.UserID == userID {
			tok.Revoked = true
		}
	}
	return nil
}

type stubAuditStore struct {
	entries []audit.Entry
}

func (s *stubAuditStore) Append(_ context.Context, entry audit.Entry) error {
	s.entries = append(s.entries, entry)
	return nil
}

func (s *stubAuditStore) List(_ context.Context, _ audit.Filter) ([]audit.Entry, int, error) {
	return s.entries, len(s.entries), nil
}

func (s *stubAuditStore) byAction(action string) []audit.Entry {
	var out []audit.Entry
	for _, e := range s.entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

type testEnv struct {
	api    *API
	store  *stubStore
	audits *stubAuditStore
	issuer *auth.Issuer
}

func newTestAPI(t *testing.T) *testEnv {
	t.Helper()
	store := newStubStore()
	audits := &stubAuditStore{}

	resolver, err := auth.NewResolver(store, store)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	issuer, err := auth.NewIssuer("httpapi-test-secret", store)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	recorder, err := audit.NewRecorder(audits)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}

	api := New(Deps{
		Resolver: resolver,
		Issuer:   issuer,
		Identity: store,
		Recorder: recorder,
		Hints:    nil,
		Ready:    ReadyProbe{},
		Version:  "test",
	})
	return &testEnv{api: api, store: store, audits: audits, issuer: issuer}
}

// token mints an access token directly, bypassing the login flow.
func (e *testEnv) token(t *testing.T, userID, tenantID string, apps, perms []string) string {
	t.Helper()
	signed, _, err := e.issuer.IssueAccessToken(auth.AccessTokenRequest{
		UserID:       userID,
		TenantID:     tenantID,
		Applications: apps,
		Permissions:  perms,
	})
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	return signed
}
