package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redisv8 "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	svc, err := New(Options{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return svc, mr
}

func TestNewFailsWhenUnreachable(t *testing.T) {
	_, err := New(Options{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}

func TestHealthCheck(t *testing.T) {
	svc, mr := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, svc.HealthCheck(ctx))

	mr.Close()
	assert.Error(t, svc.HealthCheck(ctx))
}

func TestCacheRoundTrip(t *testing.T) {
	svc, mr := newTestRedis(t)
	ctx := context.Background()

	type payload struct {
		URL    string `json:"url"`
		Status int    `json:"status"`
	}

	require.NoError(t, svc.CacheSet(ctx, "k", payload{URL: "https://example.com", Status: 200}, 60))

	var got payload
	require.NoError(t, svc.CacheGet(ctx, "k", &got))
	assert.Equal(t, "https://example.com", got.URL)
	assert.Equal(t, 200, got.Status)

	// entries expire with their TTL
	mr.FastForward(2 * time.Minute)
	err := svc.CacheGet(ctx, "k", &got)
	assert.ErrorIs(t, err, redisv8.Nil)

	require.NoError(t, svc.CacheSet(ctx, "k2", payload{}, 60))
	require.NoError(t, svc.CacheDel(ctx, "k2"))
	assert.ErrorIs(t, svc.CacheGet(ctx, "k2", &got), redisv8.Nil)
}

func TestAsynqRedisOpt(t *testing.T) {
	svc, mr := newTestRedis(t)
	opt := svc.AsynqRedisOpt()
	assert.Equal(t, mr.Addr(), opt.Addr)
}
