package calculator

import (
	"sync"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuoteCacheRoundTrip(t *testing.T) {
	cache := NewQuoteCache(nil, 0)
	pool := testAddr(80)
	in := uint256.NewInt(1000)

	assert.Nil(t, cache.Get(pool, true, in))

	cache.Put(pool, true, in, uint256.NewInt(997))
	got := cache.Get(pool, true, in)
	require.NotNil(t, got)
	assert.Equal(t, uint64(997), got.Uint64())

	// Directions are distinct entries.
	assert.Nil(t, cache.Get(pool, false, in))

	// So are amounts.
	assert.Nil(t, cache.Get(pool, true, uint256.NewInt(1001)))
	assert.Equal(t, 1, cache.Len())
}

func TestQuoteCacheCopiesValues(t *testing.T) {
	cache := NewQuoteCache(nil, 4)
	pool := testAddr(81)
	in := uint256.NewInt(5)
	out := uint256.NewInt(42)

	cache.Put(pool, true, in, out)
	out.SetUint64(9999) // caller mutates after storing

	got := cache.Get(pool, true, in)
	require.NotNil(t, got)
	assert.Equal(t, uint64(42), got.Uint64())

	got.SetUint64(1) // reader mutates its copy
	again := cache.Get(pool, true, in)
	require.NotNil(t, again)
	assert.Equal(t, uint64(42), again.Uint64())
}

func TestQuoteCacheInvalidation(t *testing.T) {
	cache := NewQuoteCache(nil, 0)
	a, b := testAddr(82), testAddr(83)
	in := uint256.NewInt(7)

	cache.Put(a, true, in, uint256.NewInt(1))
	cache.Put(a, false, in, uint256.NewInt(2))
	cache.Put(b, true, in, uint256.NewInt(3))
	require.Equal(t, 3, cache.Len())

	cache.InvalidatePool(a)
	assert.Nil(t, cache.Get(a, true, in))
	assert.Nil(t, cache.Get(a, false, in))
	assert.NotNil(t, cache.Get(b, true, in))
	assert.Equal(t, 1, cache.Len())

	// Dropping a pool that holds nothing is a no-op.
	cache.InvalidatePool(a)

	cache.InvalidateAll()
	assert.Nil(t, cache.Get(b, true, in))
	assert.Equal(t, 0, cache.Len())
}

func TestQuoteCacheConcurrent(t *testing.T) {
	cache := NewQuoteCache(nil, 16)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			pool := testAddr(byte(90 + g%4))
			for i := 0; i < 200; i++ {
				in := uint256.NewInt(uint64(i % 10))
				cache.Put(pool, i%2 == 0, in, uint256.NewInt(uint64(i)))
				cache.Get(pool, i%2 == 0, in)
				if i%50 == 0 {
					cache.InvalidatePool(pool)
				}
			}
		}(g)
	}
	wg.Wait()

	cache.InvalidateAll()
	assert.Equal(t, 0, cache.Len())
}
