package calculator

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
)

// quoteShards must stay a power of two so the shard index is a mask.
const quoteShards = 64

type quoteKey struct {
	amount     [32]byte
	zeroForOne bool
}

type quoteShard struct {
	mu    sync.RWMutex
	pools map[common.Address]map[quoteKey]*uint256.Int
}

// QuoteCache memoizes quotes between state changes. Entries are keyed by
// pool, direction and input amount, and every entry for a pool is dropped
// the moment a block diff touches it, so a hit is always as fresh as the
// mirror itself. Safe for concurrent use.
type QuoteCache struct {
	shards  [quoteShards]quoteShard
	metrics *cacheMetrics
}

// NewQuoteCache builds an empty cache. poolHint sizes the per-shard pool
// maps; zero is fine.
func NewQuoteCache(reg prometheus.Registerer, poolHint int) *QuoteCache {
	c := &QuoteCache{metrics: newCacheMetrics(reg)}
	hint := poolHint / quoteShards
	for i := range c.shards {
		c.shards[i].pools = make(map[common.Address]map[quoteKey]*uint256.Int, hint)
	}
	return c
}

func (c *QuoteCache) shard(pool common.Address) *quoteShard {
	return &c.shards[pool[common.AddressLength-1]&(quoteShards-1)]
}

func makeQuoteKey(zeroForOne bool, amountIn *uint256.Int) quoteKey {
	return quoteKey{amount: amountIn.Bytes32(), zeroForOne: zeroForOne}
}

// Get returns a copy of the cached quote, or nil on a miss.
func (c *QuoteCache) Get(pool common.Address, zeroForOne bool, amountIn *uint256.Int) *uint256.Int {
	s := c.shard(pool)
	key := makeQuoteKey(zeroForOne, amountIn)

	s.mu.RLock()
	cached, ok := s.pools[pool][key]
	s.mu.RUnlock()
	if !ok {
		c.metrics.misses.Inc()
		return nil
	}
	c.metrics.hits.Inc()
	return new(uint256.Int).Set(cached)
}

// Put stores a copy of the quote. The caller keeps ownership of its
// arguments.
func (c *QuoteCache) Put(pool common.Address, zeroForOne bool, amountIn, amountOut *uint256.Int) {
	s := c.shard(pool)
	key := makeQuoteKey(zeroForOne, amountIn)
	value := new(uint256.Int).Set(amountOut)

	s.mu.Lock()
	quotes, ok := s.pools[pool]
	if !ok {
		quotes = make(map[quoteKey]*uint256.Int)
		s.pools[pool] = quotes
	}
	quotes[key] = value
	s.mu.Unlock()
}

// InvalidatePool drops every cached quote for one pool.
func (c *QuoteCache) InvalidatePool(pool common.Address) {
	s := c.shard(pool)
	s.mu.Lock()
	if _, ok := s.pools[pool]; ok {
		delete(s.pools, pool)
		c.metrics.invalidations.Inc()
	}
	s.mu.Unlock()
}

// InvalidateAll drops the whole cache, for reorgs and resyncs.
func (c *QuoteCache) InvalidateAll() {
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		if len(s.pools) > 0 {
			s.pools = make(map[common.Address]map[quoteKey]*uint256.Int)
			c.metrics.invalidations.Inc()
		}
		s.mu.Unlock()
	}
}

// Len counts cached quotes across all shards.
func (c *QuoteCache) Len() int {
	n := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.RLock()
		for _, quotes := range s.pools {
			n += len(quotes)
		}
		s.mu.RUnlock()
	}
	return n
}

type cacheMetrics struct {
	hits          prometheus.Counter
	misses        prometheus.Counter
	invalidations prometheus.Counter
}

func newCacheMetrics(reg prometheus.Registerer) *cacheMetrics {
	m := &cacheMetrics{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dexmirror",
			Subsystem: "quotecache",
			Name:      "hits_total",
			Help:      "Quote cache lookups served from memory.",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dexmirror",
			Subsystem: "quotecache",
			Name:      "misses_total",
			Help:      "Quote cache lookups that fell through to the calculator.",
		}),
		invalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dexmirror",
			Subsystem: "quotecache",
			Name:      "invalidations_total",
			Help:      "Cache drops triggered by state changes.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.hits, m.misses, m.invalidations)
	}
	return m
}
