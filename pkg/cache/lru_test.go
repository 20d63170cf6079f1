package cache

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRU_GetPutBasic(t *testing.T) {
	c := NewLRU[string, int](2)

	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Put("a", 1)
	c.Put("b", 2)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	// "a" was just promoted by Get; inserting "c" should evict "b".
	c.Put("c", 3)
	_, ok = c.Get("b")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Evictions)
	assert.LessOrEqual(t, stats.Size, 2)
}

func TestLRU_DeleteAndClear(t *testing.T) {
	c := NewLRU[string, int](4)
	c.Put("x", 1)
	c.Delete("x")
	_, ok := c.Get("x")
	assert.False(t, ok)

	c.Put("y", 2)
	c.Put("z", 3)
	c.Clear()
	assert.Equal(t, 0, c.Len())
}

func TestLRU_CapacityNeverExceededUnderConcurrency(t *testing.T) {
	const capacity = 8
	c := NewLRU[int, int](capacity)

	var wg sync.WaitGroup
	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := worker*1000 + i
				c.Put(key, key)
				_, _ = c.Get(key)
				if i%7 == 0 {
					c.Delete(key)
				}
				assert.LessOrEqual(t, c.Len(), capacity)
			}
		}(w)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), capacity)
}

func TestLRU_StatsConsistentAfterOperations(t *testing.T) {
	c := NewLRU[string, int](1)
	c.Put("a", 1)
	_, _ = c.Get("a")  // hit
	_, _ = c.Get("b")  // miss
	c.Put("b", 2)      // evicts "a"

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, uint64(1), stats.Evictions)
	assert.Equal(t, 1, stats.Size)
}
