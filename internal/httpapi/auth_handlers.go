package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"authoria.org/internal/auth"
	"authoria.org/internal/obs"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	TenantID string `json:"tenantId,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
	TenantID     string `json:"tenantId,omitempty"`
}

type tokenResponse struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	TokenType    string    `json:"tokenType"`
	ExpiresAtUtc time.Time `json:"expiresAtUtc"`
}

// Login exchanges credentials for a token pair. The tenant stamped into the
// token comes from the X-Authoria-Tenant header, or from the body's tenantId
// when no header is sent; an unknown tenant fails like bad credentials so the
// endpoint leaks nothing about tenant existence.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "email and password are required")
		return
	}

	ctx := r.Context()
	user, err := a.identity.FindUserByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			a.loginFailed(r, req.Email, "unknown user")
			writeError(w, r, http.StatusUnauthorized, "invalid credentials")
			return
		}
		handleAuthError(w, r, err)
		return
	}
	if err := auth.VerifyPassword(user.PasswordHash, req.Password); err != nil {
		a.loginFailed(r, req.Email, "bad password")
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if user.Status != "active" {
		a.loginFailed(r, req.Email, "inactive user")
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		return
	}

	tenantID, ttl, err := a.tenantForRequest(r, req.TenantID)
	if err != nil {
		a.loginFailed(r, req.Email, "unknown tenant")
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		return
	}

	resp, err := a.issueTokenPair(r, user, tenantID, ttl)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	obs.IncTokensIssued("login")
	_ = a.recorder.LogUserAction(ctx, "auth.login.success", user.ID, map[string]any{
		"tenant_id": tenantID,
		"ip":        clientIP(r),
	})
	writeJSON(w, http.StatusOK, resp)
}

// Refresh rotates a refresh token into a fresh pair. Entitlements are
// re-resolved, so permission changes land here at the latest.
func (a *API) Refresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	rec, err := a.issuer.RedeemRefreshToken(ctx, req.RefreshToken)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}
		handleAuthError(w, r, err)
		return
	}
	user, err := a.identity.FindUser(ctx, rec.UserID)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}
		handleAuthError(w, r, err)
		return
	}
	if user.Status != "active" {
		writeError(w, r, http.StatusUnauthorized, "invalid token")
		return
	}

	tenantID, ttl, err := a.tenantForRequest(r, req.TenantID)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "invalid token")
		return
	}

	resp, err := a.issueTokenPair(r, user, tenantID, ttl)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	obs.IncTokensIssued("refresh")
	_ = a.recorder.LogUserAction(ctx, "auth.refresh", user.ID, map[string]any{
		"tenant_id": tenantID,
	})
	writeJSON(w, http.StatusOK, resp)
}

// tenantForRequest resolves the tenant selector to a known tenant and its TTL
// override. The header wins over the body field; both parse with the same
// rules, and neither present means no active tenant.
func (a *API) tenantForRequest(r *http.Request, bodyTenantID string) (string, time.Duration, error) {
	selector := r.Header.Get(auth.TenantHeader)
	if strings.TrimSpace(selector) == "" {
		selector = bodyTenantID
	}
	rc := auth.NewRequestContext(nil, selector)
	if rc.TenantID == "" {
		return "", 0, nil
	}
	tenant, err := a.identity.FindTenant(r.Context(), rc.TenantID)
	if err != nil {
		return "", 0, err
	}
	var ttl time.Duration
	if tenant.TokenTTLMinutes != nil && *tenant.TokenTTLMinutes > 0 {
		ttl = time.Duration(*tenant.TokenTTLMinutes) * time.Minute
	}
	return tenant.ID, ttl, nil
}

// issueTokenPair resolves current entitlements under the user's first active
// application and mints both tokens.
func (a *API) issueTokenPair(r *http.Request, user auth.User, tenantID string, ttl time.Duration) (tokenResponse, error) {
	ctx := r.Context()
	apps, err := a.identity.ActiveApplications(ctx, user.ID)
	if err != nil {
		return tokenResponse{}, err
	}
	appID := ""
	if len(apps) > 0 {
		appID = apps[0]
	}

	ent, err := a.resolver.Entitlements(ctx, user.ID, tenantID, appID)
	if err != nil {
		return tokenResponse{}, err
	}
	roles := make([]string, 0, len(ent.Roles))
	for _, role := range ent.Roles {
		roles = append(roles, role.Name)
	}

	access, expiresAt, err := a.issuer.IssueAccessToken(auth.AccessTokenRequest{
		UserID:       user.ID,
		TenantID:     tenantID,
		Applications: apps,
		Roles:        roles,
		Permissions:  ent.Effective.Sorted(),
		TTL:          ttl,
	})
	if err != nil {
		return tokenResponse{}, err
	}
	refresh, _, err := a.issuer.IssueRefreshToken(ctx, user.ID, r.UserAgent(), clientIP(r))
	if err != nil {
		return tokenResponse{}, err
	}
	return tokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresAtUtc: expiresAt,
	}, nil
}

func (a *API) loginFailed(r *http.Request, email, reason string) {
	_ = a.recorder.LogUserAction(r.Context(), "auth.login.failed", "", map[string]any{
		"email":  email,
		"reason": reason,
		"ip":     clientIP(r),
	})
}
