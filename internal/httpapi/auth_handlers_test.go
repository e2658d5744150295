package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"authoria.org/internal/auth"
)

const tenantULID = "01J8ZK3V9XQ4R5T6Y7W8N9M0P1"

func postJSON(t *testing.T, handler http.Handler, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodeTokenResponse(t *testing.T, rr *httptest.ResponseRecorder) tokenResponse {
	t.Helper()
	var resp tokenResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode token response: %v", err)
	}
	return resp
}

func TestLoginSuccess(t *testing.T) {
	env := newTestAPI(t)
	env.store.addUser(t, "u1", "dev@example.com", "hunter2!")
	env.store.roles["u1"] = []auth.Role{{ID: "r1", Name: "viewer"}}
	env.store.roleGrants["u1"] = []auth.RoleGrant{
		{RoleID: "r1", RoleName: "viewer", PermissionID: "p1", PermissionKey: "user.view"},
	}
	handler := env.api.Handler()

	rr := postJSON(t, handler, "/api/auth/login",
		loginRequest{Email: "dev@example.com", Password: "hunter2!"}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("login status = %d body = %s", rr.Code, rr.Body.String())
	}
	resp := decodeTokenResponse(t, rr)
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		t.Fatal("token pair incomplete")
	}
	if resp.TokenType != "Bearer" {
		t.Fatalf("tokenType = %q", resp.TokenType)
	}

	claims, err := env.issuer.ParseAndValidate(resp.AccessToken)
	if err != nil {
		t.Fatalf("access token invalid: %v", err)
	}
	if claims.Subject != "u1" {
		t.Fatalf("subject = %q", claims.Subject)
	}
	if claims.TenantID != "" {
		t.Fatalf("tid = %q, want empty without tenant header", claims.TenantID)
	}
	if len(claims.Permissions) != 1 || claims.Permissions[0] != "user.view" {
		t.Fatalf("perm claims = %v", claims.Permissions)
	}

	if got := env.audits.byAction("auth.login.success"); len(got) != 1 {
		t.Fatalf("expected 1 success audit entry, got %d", len(got))
	}
}

func TestLoginWithTenantHeader(t *testing.T) {
	env := newTestAPI(t)
	env.store.addUser(t, "u1", "dev@example.com", "hunter2!")
	ttl := 15
	env.store.tenants[tenantULID] = auth.Tenant{ID: tenantULID, Name: "acme", TokenTTLMinutes: &ttl}
	handler := env.api.Handler()

	rr := postJSON(t, handler, "/api/auth/login",
		loginRequest{Email: "dev@example.com", Password: "hunter2!"},
		map[string]string{auth.TenantHeader: tenantULID})
	if rr.Code != http.StatusOK {
		t.Fatalf("login status = %d body = %s", rr.Code, rr.Body.String())
	}
	resp := decodeTokenResponse(t, rr)
	claims, err := env.issuer.ParseAndValidate(resp.AccessToken)
	if err != nil {
		t.Fatalf("access token invalid: %v", err)
	}
	if claims.TenantID != tenantULID {
		t.Fatalf("tid = %q, want %q", claims.TenantID, tenantULID)
	}
	ttlGot := claims.ExpiresAt.Sub(claims.IssuedAt.Time)
	if ttlGot.Minutes() < 14 || ttlGot.Minutes() > 16 {
		t.Fatalf("tenant ttl override not applied: %v", ttlGot)
	}
}

func TestLoginTenantInBody(t *testing.T) {
	env := newTestAPI(t)
	env.store.addUser(t, "u1", "dev@example.com", "hunter2!")
	env.store.tenants[tenantULID] = auth.Tenant{ID: tenantULID, Name: "acme"}
	handler := env.api.Handler()

	// An empty tenantId field must not trip the strict decoder.
	rr := postJSON(t, handler, "/api/auth/login",
		loginRequest{Email: "dev@example.com", Password: "hunter2!", TenantID: ""}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("empty tenantId status = %d body = %s", rr.Code, rr.Body.String())
	}

	rr = postJSON(t, handler, "/api/auth/login",
		loginRequest{Email: "dev@example.com", Password: "hunter2!", TenantID: tenantULID}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("body tenantId status = %d body = %s", rr.Code, rr.Body.String())
	}
	resp := decodeTokenResponse(t, rr)
	claims, err := env.issuer.ParseAndValidate(resp.AccessToken)
	if err != nil {
		t.Fatalf("access token invalid: %v", err)
	}
	if claims.TenantID != tenantULID {
		t.Fatalf("tid = %q, want tenant from body", claims.TenantID)
	}
}

func TestLoginTenantHeaderWinsOverBody(t *testing.T) {
	env := newTestAPI(t)
	env.store.addUser(t, "u1", "dev@example.com", "hunter2!")
	env.store.tenants[tenantULID] = auth.Tenant{ID: tenantULID, Name: "acme"}
	handler := env.api.Handler()

	rr := postJSON(t, handler, "/api/auth/login",
		loginRequest{Email: "dev@example.com", Password: "hunter2!", TenantID: "01J8ZK3V9XQ4R5T6Y7W8N9M0P2"},
		map[string]string{auth.TenantHeader: tenantULID})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rr.Code, rr.Body.String())
	}
	resp := decodeTokenResponse(t, rr)
	claims, err := env.issuer.ParseAndValidate(resp.AccessToken)
	if err != nil {
		t.Fatalf("access token invalid: %v", err)
	}
	if claims.TenantID != tenantULID {
		t.Fatalf("tid = %q, want header tenant", claims.TenantID)
	}
}

func TestLoginUnknownTenantRejected(t *testing.T) {
	env := newTestAPI(t)
	env.store.addUser(t, "u1", "dev@example.com", "hunter2!")
	handler := env.api.Handler()

	rr := postJSON(t, handler, "/api/auth/login",
		loginRequest{Email: "dev@example.com", Password: "hunter2!"},
		map[string]string{auth.TenantHeader: tenantULID})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 for unknown tenant", rr.Code)
	}
}

func TestLoginBadCredentials(t *testing.T) {
	env := newTestAPI(t)
	env.store.addUser(t, "u1", "dev@example.com", "hunter2!")
	handler := env.api.Handler()

	cases := []loginRequest{
		{Email: "dev@example.com", Password: "wrong"},
		{Email: "nobody@example.com", Password: "hunter2!"},
	}
	for _, c := range cases {
		rr := postJSON(t, handler, "/api/auth/login", c, nil)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("login %q status = %d, want 401", c.Email, rr.Code)
		}
	}
	if got := env.audits.byAction("auth.login.failed"); len(got) != 2 {
		t.Fatalf("expected 2 failure audit entries, got %d", len(got))
	}
}

func TestLoginInactiveUser(t *testing.T) {
	env := newTestAPI(t)
	env.store.addUser(t, "u1", "dev@example.com", "hunter2!")
	u := env.store.users["u1"]
	u.Status = "disabled"
	env.store.users["u1"] = u
	handler := env.api.Handler()

	rr := postJSON(t, handler, "/api/auth/login",
		loginRequest{Email: "dev@example.com", Password: "hunter2!"}, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 for inactive user", rr.Code)
	}
}

func TestRefreshRotatesAndReresolves(t *testing.T) {
	env := newTestAPI(t)
	env.store.addUser(t, "u1", "dev@example.com", "hunter2!")
	handler := env.api.Handler()

	login := postJSON(t, handler, "/api/auth/login",
		loginRequest{Email: "dev@example.com", Password: "hunter2!"}, nil)
	pair := decodeTokenResponse(t, login)

	// Entitlements granted after login must show up in the refreshed token.
	env.store.roleGrants["u1"] = []auth.RoleGrant{
		{RoleID: "r1", RoleName: "viewer", PermissionID: "p1", PermissionKey: "user.view"},
	}

	rr := postJSON(t, handler, "/api/auth/refresh",
		refreshRequest{RefreshToken: pair.RefreshToken}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("refresh status = %d body = %s", rr.Code, rr.Body.String())
	}
	fresh := decodeTokenResponse(t, rr)
	claims, err := env.issuer.ParseAndValidate(fresh.AccessToken)
	if err != nil {
		t.Fatalf("refreshed token invalid: %v", err)
	}
	if len(claims.Permissions) != 1 || claims.Permissions[0] != "user.view" {
		t.Fatalf("entitlements not re-resolved: %v", claims.Permissions)
	}

	// The old refresh token is single use.
	replay := postJSON(t, handler, "/api/auth/refresh",
		refreshRequest{RefreshToken: pair.RefreshToken}, nil)
	if replay.Code != http.StatusUnauthorized {
		t.Fatalf("replay status = %d, want 401", replay.Code)
	}
}

func TestRefreshGarbageToken(t *testing.T) {
	env := newTestAPI(t)
	handler := env.api.Handler()
	rr := postJSON(t, handler, "/api/auth/refresh",
		refreshRequest{RefreshToken: "garbage"}, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
}

func TestLoginMethodNotAllowed(t *testing.T) {
	env := newTestAPI(t)
	handler := env.api.Handler()
	req := httptest.NewRequest(http.MethodGet, "/api/auth/login", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rr.Code)
	}
	if rr.Header().Get("Allow") == "" {
		t.Fatal("expected Allow header")
	}
}
