package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"authoria.org/internal/auth"
	"authoria.org/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/api/auth/login",
	"/api/auth/refresh",
	"/metrics",
	"/healthz",
	"/readyz",
	"/",
}

// withAuth validates the bearer token and installs the request identity,
// including the tenant selected by the X-Authoria-Tenant header. Public paths
// pass through untouched.
func (a *API) withAuth(next http.Handler) http.Handler {
	if a == nil || a.issuer == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			a.auditRejected(r, http.StatusUnauthorized, err.Error())
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		claims, err := a.issuer.ParseAndValidate(token)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) {
				a.auditRejected(r, http.StatusUnauthorized, "invalid token")
				writeError(w, r, http.StatusUnauthorized, "invalid token")
				return
			}
			a.auditRejected(r, http.StatusInternalServerError, "authentication error")
			writeError(w, r, http.StatusInternalServerError, "authentication error")
			return
		}

		rc := auth.NewRequestContext(claims, r.Header.Get(auth.TenantHeader))
		ctx := auth.ContextWithRequest(r.Context(), rc)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// auditRejected records requests turned away before they reach the audit
// middleware, which sits inside the auth layer.
func (a *API) auditRejected(r *http.Request, status int, reason string) {
	if a.recorder == nil {
		return
	}
	_ = a.recorder.LogAPICall(r.Context(), r, status, 0, map[string]any{"reason": reason})
}

// authorize writes the failure response itself and reports whether the
// request may proceed.
func (a *API) authorize(w http.ResponseWriter, r *http.Request, perm string) bool {
	rc, ok := auth.RequestFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing bearer token")
		return false
	}
	if !rc.HasPermission(perm) {
		obs.IncPermissionDenied()
		writeError(w, r, http.StatusForbidden, "forbidden")
		return false
	}
	return true
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
