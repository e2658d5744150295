package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const defaultTTL = 5 * time.Minute

// Hints is a best-effort read cache for resolved entitlements and audit
// listings. Every method degrades to a miss on any Redis error; the database
// stays authoritative.
type Hints struct {
	client *redis.Client
	ttl    time.Duration
}

// NewHints connects to Redis and verifies the connection.
func NewHints(addr, password string) (*Hints, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &Hints{client: client, ttl: defaultTTL}, nil
}

// WithTTL overrides the default entry lifetime.
func (h *Hints) WithTTL(ttl time.Duration) *Hints {
	if ttl > 0 {
		h.ttl = ttl
	}
	return h
}

func (h *Hints) Close() error {
	if h == nil || h.client == nil {
		return nil
	}
	return h.client.Close()
}

// GetJSON loads key into dest, reporting whether a usable value was found.
func (h *Hints) GetJSON(ctx context.Context, key string, dest any) bool {
	if h == nil || h.client == nil {
		return false
	}
	data, err := h.client.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		// Stale shape from an older build; drop it.
		h.client.Del(ctx, key)
		return false
	}
	return true
}

// SetJSON stores value under key, best effort.
func (h *Hints) SetJSON(ctx context.Context, key string, value any) {
	if h == nil || h.client == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	h.client.Set(ctx, key, data, h.ttl)
}

// Invalidate removes keys, best effort.
func (h *Hints) Invalidate(ctx context.Context, keys ...string) {
	if h == nil || h.client == nil || len(keys) == 0 {
		return
	}
	h.client.Del(ctx, keys...)
}

// UserPermissionsKey addresses one user's resolved view within a scope.
func UserPermissionsKey(userID, tenantID, applicationID string) string {
	return fmt.Sprintf("authoria:userperms:%s:%s:%s", userID, tenantID, applicationID)
}

// UserPermissionsPrefix matches every scope of one user, for invalidation
// after grants change.
func UserPermissionsPrefix(userID string) string {
	return fmt.Sprintf("authoria:userperms:%s:*", userID)
}

// InvalidateUser drops every cached view for the user across scopes.
func (h *Hints) InvalidateUser(ctx context.Context, userID string) {
	if h == nil || h.client == nil {
		return
	}
	iter := h.client.Scan(ctx, 0, UserPermissionsPrefix(userID), 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if len(keys) > 0 {
		h.client.Del(ctx, keys...)
	}
}
