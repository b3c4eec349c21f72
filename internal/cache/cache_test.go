// SPDX-License-Identifier: MIT
package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMemoryCacheSetGet(t *testing.T) {
	c := NewMemoryCache(0)

	c.Set("circuits", []byte(`{"circuits":{}}`), time.Minute)

	got, ok := c.Get("circuits")
	require.True(t, ok)
	assert.Equal(t, []byte(`{"circuits":{}}`), got)

	_, ok = c.Get("panel")
	assert.False(t, ok)

	stats := c.Stats()
	assert.EqualValues(t, 1, stats.Hits)
	assert.EqualValues(t, 1, stats.Misses)
	assert.EqualValues(t, 1, stats.Sets)
	assert.Equal(t, 1, stats.CurrentSize)
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache(0)

	c.Set("k", []byte("v"), 10*time.Millisecond)
	_, ok := c.Get("k")
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	_, ok = c.Get("k")
	assert.False(t, ok, "expired entry must not be served")
}

func TestMemoryCacheClearAndDelete(t *testing.T) {
	c := NewMemoryCache(0)

	c.Set("a", []byte("1"), time.Minute)
	c.Set("b", []byte("2"), time.Minute)

	c.Delete("a")
	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("b")
	assert.True(t, ok)

	c.Clear()
	_, ok = c.Get("b")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Stats().CurrentSize)
}

func TestMemoryCacheJanitorEvicts(t *testing.T) {
	c := NewMemoryCache(10 * time.Millisecond).(*memoryCache)
	defer func() { _ = c.Close() }()

	c.Set("k", []byte("v"), time.Millisecond)

	require.Eventually(t, func() bool {
		return c.Stats().Evictions >= 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, c.Stats().CurrentSize)
}

func TestMemoryCacheCloseStopsJanitor(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := NewMemoryCache(5 * time.Millisecond).(*memoryCache)
	c.Set("k", []byte("v"), time.Minute)
	require.NoError(t, c.Close())
}

func TestNoOpCache(t *testing.T) {
	c := NewNoOpCache()

	c.Set("k", []byte("v"), time.Minute)
	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, Stats{}, c.Stats())
}
