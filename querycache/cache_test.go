package querycache_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hipcheck-oss/hipcheck-core/querycache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestCache(t *testing.T) (*querycache.RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := querycache.New(querycache.Options{URL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestGetMissReturnsFalse(t *testing.T) {
	c, _ := setupTestCache(t)
	_, ok, err := c.Get(context.Background(), "mitre/activity\x00\x00{}")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetThenGetRoundTrips(t *testing.T) {
	c, _ := setupTestCache(t)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "key", `{"n":1}`))

	value, ok, err := c.Get(ctx, "key")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"n":1}`, value)
}

func TestTTLExpiresEntry(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := querycache.New(querycache.Options{URL: "redis://" + mr.Addr(), TTL: time.Second})
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "key", "value"))
	mr.FastForward(2 * time.Second)

	_, ok, err := c.Get(ctx, "key")
	require.NoError(t, err)
	assert.False(t, ok)
}
