package prices

import (
	"sync"
	"time"

	"github.com/jwpriem/ev-easee/pkg/types"
)

const (
	// baseTTL is how long a fetched price set stays fresh for most of the day.
	baseTTL = 15 * time.Minute
	// publicationTTL is the narrowed TTL used around the provider's day-ahead
	// publication hour, and whenever tomorrow's prices are overdue, so newly
	// published prices get picked up promptly without hammering the provider.
	publicationTTL = 2 * time.Minute
	// publicationHour is the local hour at which the provider publishes
	// tomorrow's prices.
	publicationHour = 13
	// publicationWindow is how far around the publication hour the narrowed
	// TTL applies.
	publicationWindow = 30 * time.Minute
)

type cacheEntry struct {
	info      types.PriceInfo
	fetchedAt time.Time
}

// Cache memoizes fetched price sets per user. Entries expire by TTL only:
// the working set is one entry per active user, so there is no count-based
// eviction. Safe for concurrent use by overlapping requests.
//
// The clock and location are injectable so TTL behavior is testable without
// waiting on wall-clock time.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	now     func() time.Time
	loc     *time.Location
}

// NewCache creates a Cache using the local timezone for the publication
// window.
func NewCache() *Cache {
	return &Cache{
		entries: make(map[string]cacheEntry),
		now:     time.Now,
		loc:     time.Local,
	}
}

// NewCacheAt creates a Cache with an injected clock and location.
func NewCacheAt(now func() time.Time, loc *time.Location) *Cache {
	return &Cache{
		entries: make(map[string]cacheEntry),
		now:     now,
		loc:     loc,
	}
}

// Get returns the cached price set for the user, or false if there is no
// entry or the entry has outlived its TTL.
func (c *Cache) Get(userKey string) (types.PriceInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[userKey]
	if !ok {
		return types.PriceInfo{}, false
	}

	now := c.now()
	if now.Sub(e.fetchedAt) > c.ttl(now, e) {
		delete(c.entries, userKey)
		return types.PriceInfo{}, false
	}
	return e.info, true
}

// Put stores a freshly fetched price set for the user.
func (c *Cache) Put(userKey string, info types.PriceInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[userKey] = cacheEntry{info: info, fetchedAt: c.now()}
}

// Invalidate drops the user's entry, forcing the next Get to miss.
func (c *Cache) Invalidate(userKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userKey)
}

// ttl computes the effective TTL for an entry at the given instant:
//   - publicationTTL within +-publicationWindow of the publication hour
//   - publicationTTL any time at/after the publication hour while the entry
//     still lacks tomorrow's prices, so we keep retrying on a bounded
//     interval until they show up
//   - baseTTL otherwise
func (c *Cache) ttl(now time.Time, e cacheEntry) time.Duration {
	local := now.In(c.loc)
	pub := time.Date(local.Year(), local.Month(), local.Day(), publicationHour, 0, 0, 0, c.loc)

	diff := local.Sub(pub)
	if diff < 0 {
		diff = -diff
	}
	if diff <= publicationWindow {
		return publicationTTL
	}
	if !local.Before(pub) && !e.info.HasTomorrow() {
		return publicationTTL
	}
	return baseTTL
}
