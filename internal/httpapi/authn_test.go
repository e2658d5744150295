package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"authoria.org/internal/auth"
)

func TestPublicPathsSkipAuth(t *testing.T) {
	env := newTestAPI(t)
	handler := env.api.Handler()

	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status = %d, want 200 without token", path, rr.Code)
		}
	}
}

func TestProtectedPathRequiresToken(t *testing.T) {
	env := newTestAPI(t)
	handler := env.api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/audit", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
}

func TestRejectedRequestStillAudited(t *testing.T) {
	env := newTestAPI(t)
	handler := env.api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/audit", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}

	calls := env.audits.byAction("api.call")
	if len(calls) != 1 {
		t.Fatalf("expected 1 api.call row for the rejection, got %d", len(calls))
	}
	e := calls[0]
	if e.StatusCode == nil || *e.StatusCode != http.StatusUnauthorized {
		t.Fatalf("recorded status = %+v, want 401", e.StatusCode)
	}
	if e.Path != "/api/audit" {
		t.Fatalf("recorded path = %q", e.Path)
	}
}

func TestInvalidTokenRejected(t *testing.T) {
	env := newTestAPI(t)
	handler := env.api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/audit", nil)
	req.Header.Set("Authorization", "Bearer not.a.token")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
}

func TestTenantHeaderOverridesTokenTenant(t *testing.T) {
	env := newTestAPI(t)
	handler := env.api.Handler()

	// Token carries no scope; the header supplies the tenant, and without an
	// application the grant scope check fires.
	token := env.token(t, "admin", "", nil, []string{auth.PermUserPermissionAssign})
	rr := doJSON(t, handler, http.MethodPost, "/api/userpermissions/assign", token,
		assignPermissionRequest{UserID: "u1", PermissionID: "p1"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 without scope", rr.Code)
	}

	token = env.token(t, "admin", "token-tenant", []string{"a1"}, []string{auth.PermUserPermissionView})
	req := httptest.NewRequest(http.MethodGet, "/api/userpermissions/user/u1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(auth.TenantHeader, tenantULID)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if got := rec.Body.String(); !containsJSONValue(t, got, "tenantId", tenantULID) {
		t.Fatalf("tenant header did not win: %s", got)
	}
}

func TestUnparseableTenantHeaderFallsBack(t *testing.T) {
	env := newTestAPI(t)
	handler := env.api.Handler()

	token := env.token(t, "admin", "token-tenant", []string{"a1"}, []string{auth.PermUserPermissionView})
	req := httptest.NewRequest(http.MethodGet, "/api/userpermissions/user/u1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(auth.TenantHeader, "definitely-not-a-ulid")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rr.Code, rr.Body.String())
	}
	if got := rr.Body.String(); !containsJSONValue(t, got, "tenantId", "token-tenant") {
		t.Fatalf("bad header must fall back to token tenant: %s", got)
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header  string
		want    string
		wantErr bool
	}{
		{"Bearer abc", "abc", false},
		{"bearer abc", "abc", false},
		{"Bearer   abc  ", "abc", false},
		{"", "", true},
		{"Basic abc", "", true},
		{"Bearer ", "", true},
	}
	for _, tt := range tests {
		got, err := extractBearerToken(tt.header)
		if tt.wantErr != (err != nil) {
			t.Fatalf("header %q: err = %v", tt.header, err)
		}
		if got != tt.want {
			t.Fatalf("header %q: token = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func containsJSONValue(t *testing.T, body, key, value string) bool {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(body), &m); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return m[key] == value
}
