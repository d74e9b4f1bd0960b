// Package cache provides a capacity- and time-bounded memo store for
// expensive language-model calls, combining TTL expiry with LRU eviction.
package cache

import (
	"container/list"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"specsmith/pkg/logx"
)

// DefaultCapacity bounds the cache when no capacity is configured.
const DefaultCapacity = 256

// Entry is one cached value with its access metadata.
type Entry struct {
	Key            string        `json:"key"`
	Value          any           `json:"value"`
	CreatedAt      time.Time     `json:"created_at"`
	LastAccessedAt time.Time     `json:"last_accessed_at"`
	AccessCount    int           `json:"access_count"`
	TTL            time.Duration `json:"ttl"` // 0 = no expiry
	Tags           []string      `json:"tags,omitempty"`
}

// expired reports whether the entry is past its TTL at the given instant.
func (e *Entry) expired(now time.Time) bool {
	return e.TTL > 0 && now.Sub(e.CreatedAt) >= e.TTL
}

// Stats tracks cache effectiveness counters.
type Stats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	Expired   int64   `json:"expired"`
	Size      int     `json:"size"`
	HitRate   float64 `json:"hit_rate"`
}

// SetOptions carries per-entry settings for Set.
type SetOptions struct {
	TTL  time.Duration // 0 = use cache default; <0 = never expire
	Tags []string
}

// Cache is a mutex-guarded TTL+LRU store shared across sessions. Keys omit
// session identity on purpose: identical prompt+input from two sessions reuse
// one external-call result.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]*list.Element // key -> lruList element holding *Entry
	lruList    *list.List               // front = most recently used
	capacity   int
	defaultTTL time.Duration
	logger     *logx.Logger

	hits      int64
	misses    int64
	evictions int64
	expired   int64
}

// New creates a cache with the given capacity and default TTL.
// Capacity <= 0 falls back to DefaultCapacity; defaultTTL 0 means entries
// never expire unless Set overrides it.
func New(capacity int, defaultTTL time.Duration) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		entries:    make(map[string]*list.Element),
		lruList:    list.New(),
		capacity:   capacity,
		defaultTTL: defaultTTL,
		logger:     logx.NewLogger("cache"),
	}
}

// Get returns the cached value for key. A miss is reported for absent and
// expired entries alike; hits refresh the access metadata and LRU position.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}

	entry := elem.Value.(*Entry)
	now := time.Now().UTC()
	if entry.expired(now) {
		c.removeElement(elem)
		c.expired++
		c.misses++
		return nil, false
	}

	entry.LastAccessedAt = now
	entry.AccessCount++
	c.lruList.MoveToFront(elem)
	c.hits++
	return entry.Value, true
}

// Set stores a value under key, evicting the least-recently-used entry when
// the capacity would be exceeded.
func (c *Cache) Set(key string, value any, opts SetOptions) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ttl := opts.TTL
	switch {
	case ttl == 0:
		ttl = c.defaultTTL
	case ttl < 0:
		ttl = 0 // explicit no-expiry
	}

	now := time.Now().UTC()
	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*Entry)
		entry.Value = value
		entry.CreatedAt = now
		entry.LastAccessedAt = now
		entry.TTL = ttl
		entry.Tags = append([]string(nil), opts.Tags...)
		c.lruList.MoveToFront(elem)
		return
	}

	entry := &Entry{
		Key:            key,
		Value:          value,
		CreatedAt:      now,
		LastAccessedAt: now,
		TTL:            ttl,
		Tags:           append([]string(nil), opts.Tags...),
	}
	c.entries[key] = c.lruList.PushFront(entry)

	for len(c.entries) > c.capacity {
		c.evictOldest()
	}
}

// Delete removes an entry; reports whether it existed.
func (c *Cache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return false
	}
	c.removeElement(elem)
	return true
}

// Clear drops all entries, keeping the counters.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*list.Element)
	c.lruList.Init()
}

// Len returns the number of stored entries, expired ones included until swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// InvalidateByTags removes every entry carrying at least one of the tags and
// returns how many were dropped.
func (c *Cache) InvalidateByTags(tags []string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	wanted := make(map[string]bool, len(tags))
	for _, t := range tags {
		wanted[t] = true
	}

	removed := 0
	for elem := c.lruList.Front(); elem != nil; {
		next := elem.Next()
		entry := elem.Value.(*Entry)
		for _, tag := range entry.Tags {
			if wanted[tag] {
				c.removeElement(elem)
				removed++
				break
			}
		}
		elem = next
	}
	if removed > 0 {
		c.logger.Debug("Invalidated %d entries by tags %v", removed, tags)
	}
	return removed
}

// Sweep removes expired entries and returns how many were dropped. Invoked by
// the manager's periodic cleanup timer, never from the request path.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UTC()
	removed := 0
	for elem := c.lruList.Front(); elem != nil; {
		next := elem.Next()
		if elem.Value.(*Entry).expired(now) {
			c.removeElement(elem)
			c.expired++
			removed++
		}
		elem = next
	}
	return removed
}

// GetStats returns a snapshot of the cache counters.
func (c *Cache) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Expired:   c.expired,
		Size:      len(c.entries),
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}
	return stats
}

// Export serializes all live entries for persistence handoff.
func (c *Cache) Export() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UTC()
	entries := make([]*Entry, 0, len(c.entries))
	// Walk back-to-front so Import re-inserts in LRU order.
	for elem := c.lruList.Back(); elem != nil; elem = elem.Prev() {
		entry := elem.Value.(*Entry)
		if !entry.expired(now) {
			entries = append(entries, entry)
		}
	}

	data, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("failed to export cache: %w", err)
	}
	return data, nil
}

// Import loads previously exported entries, discarding ones already expired.
// Existing entries with the same key are overwritten.
func (c *Cache) Import(data []byte) error {
	var entries []*Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("failed to import cache: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UTC()
	for _, entry := range entries {
		if entry == nil || entry.Key == "" || entry.expired(now) {
			continue
		}
		if elem, ok := c.entries[entry.Key]; ok {
			c.removeElement(elem)
		}
		c.entries[entry.Key] = c.lruList.PushFront(entry)
	}
	for len(c.entries) > c.capacity {
		c.evictOldest()
	}
	return nil
}

// evictOldest drops the least-recently-used entry. Caller holds the lock.
func (c *Cache) evictOldest() {
	elem := c.lruList.Back()
	if elem == nil {
		return
	}
	c.removeElement(elem)
	c.evictions++
}

// removeElement unlinks an element from both indexes. Caller holds the lock.
func (c *Cache) removeElement(elem *list.Element) {
	entry := elem.Value.(*Entry)
	delete(c.entries, entry.Key)
	c.lruList.Remove(elem)
}
