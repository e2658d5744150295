package auth

import (
	"context"
	"strings"

	"github.com/oklog/ulid/v2"
)

// TenantHeader names the request header that selects the active tenant for a
// call, overriding the tenant baked into the token.
const TenantHeader = "X-Authoria-Tenant"

// RequestContext is the per-request identity snapshot threaded through
// context.Context. TenantID is the active tenant after header resolution and
// may be empty.
type RequestContext struct {
	UserID       string
	TenantID     string
	Applications []string
	Roles        []string
	Permissions  []string
}

// NewRequestContext builds the snapshot from validated claims and the raw
// tenant header. A parseable header wins over the token's tenant claim; an
// unparseable header is ignored rather than rejected, so stale or garbled
// clients degrade to the token's tenant.
func NewRequestContext(claims *Claims, tenantHeader string) RequestContext {
	rc := RequestContext{}
	if claims != nil {
		rc.UserID = claims.Subject
		rc.TenantID = claims.TenantID
		rc.Applications = claims.Applications
		rc.Roles = claims.Roles
		rc.Permissions = claims.Permissions
	}
	if id, ok := parseTenantID(tenantHeader); ok {
		rc.TenantID = id
	}
	return rc
}

// HasPermission reports whether the request holds the permission.
func (rc RequestContext) HasPermission(name string) bool {
	return Evaluate(&Claims{Permissions: rc.Permissions}, name).Allowed()
}

type requestContextKey struct{}
type tokenContextKey struct{}

// ContextWithRequest attaches the request snapshot to ctx.
func ContextWithRequest(ctx context.Context, rc RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rc)
}

// RequestFromContext extracts the request snapshot, if present.
func RequestFromContext(ctx context.Context) (RequestContext, bool) {
	rc, ok := ctx.Value(requestContextKey{}).(RequestContext)
	return rc, ok
}

// ContextWithToken attaches the raw bearer token to ctx.
func ContextWithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// TokenFromContext extracts the raw bearer token, if present.
func TokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(tokenContextKey{}).(string)
	return token, ok
}

// parseTenantID validates raw as a ULID and returns its canonical form.
func parseTenantID(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	id, err := ulid.Parse(raw)
	if err != nil {
		return "", false
	}
	return id.String(), true
}
