package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"authoria.org/internal/ids"
)

const (
	defaultAccessTTL  = 50 * time.Minute
	defaultRefreshTTL = 30 * 24 * time.Hour
)

// Claims is the access-token payload. Subject carries the user id; TenantID is
// empty when the token was issued without an active tenant.
type Claims struct {
	TenantID     string   `json:"tid"`
	Applications []string `json:"aid,omitempty"`
	Roles        []string `json:"roles,omitempty"`
	Permissions  []string `json:"perm,omitempty"`
	jwt.RegisteredClaims
}

// Issuer mints HS256 access tokens and opaque refresh tokens. Claims embedded
// in an access token are trusted for its whole lifetime; entitlement changes
// take effect on the next issue or refresh.
type Issuer struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	refresh    RefreshTokenStore
	now        func() time.Time
}

// IssuerOption customises an Issuer.
type IssuerOption func(*Issuer)

// WithIssuer sets the iss claim value.
func WithIssuer(name string) IssuerOption {
	return func(i *Issuer) { i.issuer = name }
}

// WithAccessTTL overrides the default access-token lifetime.
func WithAccessTTL(ttl time.Duration) IssuerOption {
	return func(i *Issuer) {
		if ttl > 0 {
			i.accessTTL = ttl
		}
	}
}

// WithRefreshTTL overrides the default refresh-token lifetime.
func WithRefreshTTL(ttl time.Duration) IssuerOption {
	return func(i *Issuer) {
		if ttl > 0 {
			i.refreshTTL = ttl
		}
	}
}

// WithClock injects a clock, used by tests.
func WithClock(now func() time.Time) IssuerOption {
	return func(i *Issuer) {
		if now != nil {
			i.now = now
		}
	}
}

// NewIssuer constructs an Issuer. The refresh store may be nil when only
// access tokens are needed.
func NewIssuer(secret string, refresh RefreshTokenStore, opts ...IssuerOption) (*Issuer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: signing secret is required")
	}
	iss := &Issuer{
		secret:     []byte(secret),
		issuer:     "authoria",
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		refresh:    refresh,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(iss)
	}
	return iss, nil
}

// AccessTokenRequest carries everything stamped into one access token.
// TTL, when positive, overrides the issuer default for this token only.
type AccessTokenRequest struct {
	UserID       string
	TenantID     string
	Applications []string
	Roles        []string
	Permissions  []string
	TTL          time.Duration
}

// IssueAccessToken signs an HS256 access token for the request and returns it
// with its expiry.
func (i *Issuer) IssueAccessToken(req AccessTokenRequest) (string, time.Time, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return "", time.Time{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	ttl := i.accessTTL
	if req.TTL > 0 {
		ttl = req.TTL
	}
	now := i.now().UTC()
	expiresAt := now.Add(ttl)

	claims := Claims{
		TenantID:     req.TenantID,
		Applications: dedupe(req.Applications),
		Roles:        dedupeRoles(req.Roles),
		Permissions:  dedupe(req.Permissions),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   req.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

// IssueRefreshToken mints an opaque refresh token and persists its hash.
// The returned string is the only copy of the secret material.
func (i *Issuer) IssueRefreshToken(ctx context.Context, userID, device, ip string) (string, RefreshToken, error) {
	if i.refresh == nil {
		return "", RefreshToken{}, errors.New("auth: refresh store not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return "", RefreshToken{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}

	opaque, err := newOpaqueToken()
	if err != nil {
		return "", RefreshToken{}, err
	}
	now := i.now().UTC()
	rec := RefreshToken{
		ID:        ids.New(),
		UserID:    userID,
		TokenHash: HashRefreshToken(opaque),
		Device:    device,
		IP:        ip,
		ExpiresAt: now.Add(i.refreshTTL),
		CreatedAt: now,
	}
	if err := i.refresh.Create(ctx, &rec); err != nil {
		return "", RefreshToken{}, fmt.Errorf("store refresh token: %w", err)
	}
	return opaque, rec, nil
}

// RedeemRefreshToken validates an opaque refresh token and revokes it so each
// token is single-use. The caller re-resolves entitlements and mints a fresh
// pair for the returned user.
func (i *Issuer) RedeemRefreshToken(ctx context.Context, token string) (RefreshToken, error) {
	if i.refresh == nil {
		return RefreshToken{}, errors.New("auth: refresh store not configured")
	}
	if strings.TrimSpace(token) == "" {
		return RefreshToken{}, ErrInvalidToken
	}
	rec, err := i.refresh.FindByHash(ctx, HashRefreshToken(token))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return RefreshToken{}, ErrInvalidToken
		}
		return RefreshToken{}, err
	}
	if rec.Revoked || i.now().UTC().After(rec.ExpiresAt) {
		return RefreshToken{}, ErrInvalidToken
	}
	if err := i.refresh.MarkRevoked(ctx, rec.ID); err != nil {
		return RefreshToken{}, fmt.Errorf("rotate refresh token: %w", err)
	}
	return rec, nil
}

// RevokeUserTokens revokes every refresh token the user holds.
func (i *Issuer) RevokeUserTokens(ctx context.Context, userID string) error {
	if i.refresh == nil {
		return errors.New("auth: refresh store not configured")
	}
	return i.refresh.MarkRevokedByUser(ctx, userID)
}

// ParseAndValidate verifies signature, algorithm and time claims, returning
// the parsed claims on success.
func (i *Issuer) ParseAndValidate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.secret, nil
	},
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(func() time.Time { return i.now().UTC() }),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	claims.Roles = dedupeRoles(claims.Roles)
	claims.Permissions = dedupe(claims.Permissions)
	return claims, nil
}

// HashRefreshToken returns the hex SHA-256 digest persisted for an opaque
// refresh token.
func HashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// newOpaqueToken concatenates two independent 128-bit random values so a
// partial leak of the entropy source never reveals a full token.
func newOpaqueToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf[:16]); err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	if _, err := rand.Read(buf[16:]); err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// dedupeRoles normalises role names to lower case and removes duplicates,
// preserving first-seen order.
func dedupeRoles(roles []string) []string {
	if len(roles) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(roles))
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		r = strings.ToLower(strings.TrimSpace(r))
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// dedupe removes empty and duplicate entries, preserving case and first-seen
// order.
func dedupe(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
