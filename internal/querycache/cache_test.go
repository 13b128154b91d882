package querycache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestGetPut(t *testing.T) {
	t.Parallel()

	c := New[[]int](4, time.Minute, newClock())
	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Put("k", []int{1, 2})
	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, []int{1, 2}, got)
}

func TestTTLExpiryRemovesEntry(t *testing.T) {
	t.Parallel()

	clock := newClock()
	c := New[string](4, 60*time.Second, clock)
	c.Put("q", "v")

	clock.Advance(60 * time.Second)
	_, ok := c.Get("q")
	assert.True(t, ok, "an entry exactly TTL old is still fresh")

	clock.Advance(time.Second)
	_, ok = c.Get("q")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len(), "expired entries are removed on access")
}

func TestEvictsOldestInsertion(t *testing.T) {
	t.Parallel()

	clock := newClock()
	c := New[int](3, time.Hour, clock)
	for i, k := range []string{"a", "b", "c"} {
		c.Put(k, i)
		clock.Advance(time.Second)
	}

	// Reading "a" does not refresh it.
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Put("d", 3)
	assert.Equal(t, 3, c.Len())
	_, ok = c.Get("a")
	assert.False(t, ok, "oldest insertion is evicted")
	for _, k := range []string{"b", "c", "d"} {
		_, ok := c.Get(k)
		assert.True(t, ok, k)
	}
}

func TestReplacingKeyDoesNotEvict(t *testing.T) {
	t.Parallel()

	clock := newClock()
	c := New[int](2, time.Hour, clock)
	c.Put("a", 1)
	clock.Advance(time.Second)
	c.Put("b", 2)
	clock.Advance(time.Second)
	c.Put("a", 10)

	assert.Equal(t, 2, c.Len())
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 10, v)

	// "a" was re-inserted after "b", so "b" is now the oldest.
	c.Put("c", 3)
	_, ok = c.Get("b")
	assert.False(t, ok)
}

func TestEvictionAlwaysRemovesSmallestTimestamp(t *testing.T) {
	t.Parallel()

	clock := newClock()
	c := New[int](5, time.Hour, clock)
	for i := range 50 {
		c.Put(fmt.Sprintf("k%d", i), i)
		clock.Advance(time.Millisecond)
		require.LessOrEqual(t, c.Len(), 5)
	}
	for i := 45; i < 50; i++ {
		_, ok := c.Get(fmt.Sprintf("k%d", i))
		assert.True(t, ok, "k%d", i)
	}
}

func TestConcurrentAccess(t *testing.T) {
	t.Parallel()

	c := New[int](16, time.Hour, newClock())
	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 100 {
				key := fmt.Sprintf("%d-%d", g, i%20)
				c.Put(key, i)
				c.Get(key)
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 16)
}

func TestKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "machine learning|smith|2020||score", Key("  Machine   Learning ", "SMITH", "2020", "", "score"))
	assert.Equal(t, Key("a", "b"), Key(" A", "B "))
	assert.NotEqual(t, Key("a", "b"), Key("b", "a"))
}
