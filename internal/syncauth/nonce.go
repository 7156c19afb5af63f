package syncauth

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultNonceCacheCapacity is spec §4.11's default LRU capacity.
const DefaultNonceCacheCapacity = 100_000

// NonceCache is a fixed-capacity, access-order nonce replay cache.
// Reservation is a single observational-atomic step (spec §5): a
// nonce is either newly reserved or already present, never both.
type NonceCache struct {
	mu        sync.Mutex
	cache     *lru.Cache[string, struct{}]
	evictions int64
}

// NewNonceCache returns a cache bounded at capacity entries. capacity
// <= 0 uses DefaultNonceCacheCapacity.
func NewNonceCache(capacity int) *NonceCache {
	if capacity <= 0 {
		capacity = DefaultNonceCacheCapacity
	}
	nc := &NonceCache{}
	cache, err := lru.NewWithEvict[string, struct{}](capacity, func(string, struct{}) {
		nc.evictions++
	})
	if err != nil {
		// capacity is always > 0 here, the only documented failure mode.
		panic("syncauth: invalid nonce cache capacity")
	}
	nc.cache = cache
	return nc
}

// Reserve attempts to claim nonce. It returns true if nonce was not
// already present (the reservation succeeded), false if it was (a
// replay). The check and insert happen under a single lock so no two
// callers can simultaneously observe a nonce as absent.
func (nc *NonceCache) Reserve(nonce string) bool {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	if _, present := nc.cache.Get(nonce); present {
		return false
	}
	nc.cache.Add(nonce, struct{}{})
	return true
}

// Evictions returns the number of entries dropped to stay within
// capacity, counted rather than logged individually (spec §5).
func (nc *NonceCache) Evictions() int64 {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	return nc.evictions
}

// Len reports the number of nonces currently held.
func (nc *NonceCache) Len() int {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	return nc.cache.Len()
}
