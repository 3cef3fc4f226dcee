package oc

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLRUCacheBound(t *testing.T) {
	cache := newLRUCache[int](3)

	for i := 0; i < 10; i++ {
		cache.Put(fmt.Sprintf("k%d", i), i)
	}

	assert.Equal(t, 3, cache.Len())

	_, ok := cache.Get("k0")
	assert.False(t, ok)

	v, ok := cache.Get("k9")
	assert.True(t, ok)
	assert.Equal(t, 9, v)
}

func TestLRUCacheRecencyPromotion(t *testing.T) {
	cache := newLRUCache[int](2)

	cache.Put("a", 1)
	cache.Put("b", 2)

	// touching a makes b the eviction candidate
	_, ok := cache.Get("a")
	assert.True(t, ok)

	cache.Put("c", 3)

	_, ok = cache.Get("b")
	assert.False(t, ok)

	_, ok = cache.Get("a")
	assert.True(t, ok)
}

func TestLRUCacheUpdateInPlace(t *testing.T) {
	cache := newLRUCache[int](2)

	cache.Put("a", 1)
	cache.Put("a", 2)

	assert.Equal(t, 1, cache.Len())

	v, ok := cache.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
}
