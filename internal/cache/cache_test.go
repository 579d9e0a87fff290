package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/safar/go-shop-api/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := New(config.RedisConfig{Addr: mr.Addr(), TTL: time.Minute}, zap.NewNop())
	return c, mr
}

type payload struct {
	Name  string `json:"name"`
	Stock int    `json:"stock"`
}

func TestCacheRoundTrip(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	key := Key("product", 7)

	c.SetJSON(ctx, key, payload{Name: "widget", Stock: 3})

	var got payload
	require.True(t, c.GetJSON(ctx, key, &got))
	assert.Equal(t, payload{Name: "widget", Stock: 3}, got)
}

func TestCacheMiss(t *testing.T) {
	c, _ := newTestCache(t)

	var got payload
	assert.False(t, c.GetJSON(context.Background(), Key("product", 999), &got))
}

func TestCacheDelete(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	key := Key("product", 1)

	c.SetJSON(ctx, key, payload{Name: "widget"})
	c.Delete(ctx, key)

	var got payload
	assert.False(t, c.GetJSON(ctx, key, &got))
}

// Redis going away must degrade to misses, never propagate an error.
func TestCacheUnavailableDegrades(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	key := Key("product", 1)

	c.SetJSON(ctx, key, payload{Name: "widget"})
	mr.Close()

	var got payload
	assert.False(t, c.GetJSON(ctx, key, &got))
	c.SetJSON(ctx, key, payload{Name: "widget"})
	c.Delete(ctx, key)
}

func TestCacheCorruptEntryDropped(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	key := Key("product", 1)

	require.NoError(t, mr.Set(key, "{not json"))

	var got payload
	assert.False(t, c.GetJSON(ctx, key, &got))
	assert.False(t, mr.Exists(key), "corrupt entry should be evicted")
}
