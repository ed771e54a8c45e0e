package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestMemoryCacheBasic(t *testing.T) {
	c := New[string]()
	defer c.Stop()

	_, found := c.Get("test")
	assert.False(t, found, "expected cache miss for non-existent key")

	c.Set("test", "value", time.Minute)

	got, found := c.Get("test")
	assert.True(t, found)
	assert.Equal(t, "value", got)
}

func TestMemoryCacheTTL(t *testing.T) {
	c := New[int]()
	defer c.Stop()

	now := time.Now()
	c.now = func() time.Time { return now }

	c.Set("short", 1, 50*time.Millisecond)
	_, found := c.Get("short")
	assert.True(t, found, "expected cache hit immediately after set")

	now = now.Add(100 * time.Millisecond)
	_, found = c.Get("short")
	assert.False(t, found, "expected cache miss after TTL expired")
	assert.Equal(t, 0, c.Len(), "expired entry should be removed on read")
}

func TestMemoryCacheZeroTTLIsNoop(t *testing.T) {
	c := New[int]()
	defer c.Stop()

	c.Set("k", 1, 0)
	assert.Equal(t, 0, c.Len())
}

func TestMemoryCacheInvalidate(t *testing.T) {
	c := New[int]()
	defer c.Stop()

	c.Set("test1", 1, time.Minute)
	c.Set("test2", 2, time.Minute)

	c.Invalidate("test1")
	_, found1 := c.Get("test1")
	_, found2 := c.Get("test2")
	assert.False(t, found1)
	assert.True(t, found2)

	c.InvalidateAll()
	assert.Equal(t, 0, c.Len())
}

func TestMemoryCacheCleanup(t *testing.T) {
	c := newWithInterval[int](time.Hour)
	defer c.Stop()

	now := time.Now()
	c.now = func() time.Time { return now }
	c.Set("old", 1, time.Second)
	c.Set("new", 2, time.Hour)

	now = now.Add(time.Minute)
	c.cleanup()

	assert.Equal(t, 1, c.Len())
}

func TestMemoryCacheStopIdempotent(t *testing.T) {
	c := New[int]()
	c.Stop()
	c.Stop()
}

func TestMemoryCacheConcurrentAccess(t *testing.T) {
	c := New[int]()
	defer c.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := Key("n", string(rune('a'+i)))
			c.Set(key, i, time.Minute)
			c.Get(key)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 20, c.Len())
}

func TestKey(t *testing.T) {
	assert.Equal(t, Key("html", "<p>"), Key("html", "<p>"))
	assert.NotEqual(t, Key("html", "<p>"), Key("css", "<p>"))
	assert.NotEqual(t, Key("html", "<p>"), Key("html", "<div>"))
}
