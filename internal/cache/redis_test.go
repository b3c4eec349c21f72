// SPDX-License-Identifier: MIT
package cache

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisCache(t *testing.T) *RedisCache {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := NewRedisCache(RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRedisCacheSetGet(t *testing.T) {
	c := newRedisCache(t)

	c.Set("panel", []byte(`{"mainRelayState":"CLOSED"}`), time.Minute)

	got, ok := c.Get("panel")
	require.True(t, ok)
	assert.Equal(t, []byte(`{"mainRelayState":"CLOSED"}`), got)

	_, ok = c.Get("missing")
	assert.False(t, ok)

	stats := c.Stats()
	assert.EqualValues(t, 1, stats.Hits)
	assert.EqualValues(t, 1, stats.Misses)
	assert.Equal(t, 1, stats.CurrentSize)
}

func TestRedisCacheDeleteAndClear(t *testing.T) {
	c := newRedisCache(t)

	c.Set("a", []byte("1"), time.Minute)
	c.Set("b", []byte("2"), time.Minute)

	c.Delete("a")
	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Clear()
	_, ok = c.Get("b")
	assert.False(t, ok)
}

func TestRedisCacheHealthCheck(t *testing.T) {
	c := newRedisCache(t)
	require.NoError(t, c.HealthCheck(t.Context()))
}

func TestNewRedisCacheUnreachable(t *testing.T) {
	_, err := NewRedisCache(RedisConfig{Addr: "127.0.0.1:1"})
	require.Error(t, err)
}
