package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHints(t *testing.T) (*Hints, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	h := &Hints{
		client: redis.NewClient(&redis.Options{Addr: mr.Addr()}),
		ttl:    time.Minute,
	}
	t.Cleanup(func() { h.Close() })
	return h, mr
}

type cachedView struct {
	Effective []string `json:"effective"`
}

func TestHintsRoundTrip(t *testing.T) {
	h, _ := newTestHints(t)
	ctx := context.Background()
	key := UserPermissionsKey("u1", "t1", "a1")

	var miss cachedView
	assert.False(t, h.GetJSON(ctx, key, &miss))

	h.SetJSON(ctx, key, cachedView{Effective: []string{"user.view"}})

	var hit cachedView
	require.True(t, h.GetJSON(ctx, key, &hit))
	assert.Equal(t, []string{"user.view"}, hit.Effective)
}

func TestHintsExpiry(t *testing.T) {
	h, mr := newTestHints(t)
	ctx := context.Background()
	key := UserPermissionsKey("u1", "t1", "a1")

	h.SetJSON(ctx, key, cachedView{Effective: []string{"user.view"}})
	mr.FastForward(2 * time.Minute)

	var out cachedView
	assert.False(t, h.GetJSON(ctx, key, &out))
}

func TestHintsCorruptValueDropped(t *testing.T) {
	h, mr := newTestHints(t)
	ctx := context.Background()
	key := UserPermissionsKey("u1", "t1", "a1")

	require.NoError(t, mr.Set(key, "{not json"))
	var out cachedView
	assert.False(t, h.GetJSON(ctx, key, &out))
	assert.False(t, mr.Exists(key))
}

func TestInvalidateUserDropsAllScopes(t *testing.T) {
	h, mr := newTestHints(t)
	ctx := context.Background()

	h.SetJSON(ctx, UserPermissionsKey("u1", "t1", "a1"), cachedView{})
	h.SetJSON(ctx, UserPermissionsKey("u1", "t2", "a9"), cachedView{})
	h.SetJSON(ctx, UserPermissionsKey("u2", "t1", "a1"), cachedView{})

	h.InvalidateUser(ctx, "u1")

	assert.False(t, mr.Exists(UserPermissionsKey("u1", "t1", "a1")))
	assert.False(t, mr.Exists(UserPermissionsKey("u1", "t2", "a9")))
	assert.True(t, mr.Exists(UserPermissionsKey("u2", "t1", "a1")))
}

func TestNilHintsIsSafe(t *testing.T) {
	var h *Hints
	ctx := context.Background()
	var out cachedView
	assert.False(t, h.GetJSON(ctx, "k", &out))
	h.SetJSON(ctx, "k", out)
	h.Invalidate(ctx, "k")
	h.InvalidateUser(ctx, "u1")
	assert.NoError(t, h.Close())
}
