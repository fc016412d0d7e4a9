package cache

import (
	"context"
	"strings"
	"time"

	"github.com/nostr-git/gitrepublic/nostr"
)

// memLookup returns the in-memory entry for key, or nil on a miss.
func (c *Cache) memLookup(key string) *memEntry {
	c.memMu.Lock()
	defer c.memMu.Unlock()
	return c.mem[key]
}

// memStore inserts or refreshes key's entry, evicting the oldest entry by
// insertion order once the FIFO bound of maxMemoryEntries is exceeded.
func (c *Cache) memStore(key string, entry *memEntry) {
	c.memMu.Lock()
	defer c.memMu.Unlock()
	if _, exists := c.mem[key]; !exists {
		c.memOrder = append(c.memOrder, key)
	}
	c.mem[key] = entry
	for len(c.memOrder) > maxMemoryEntries {
		oldest := c.memOrder[0]
		c.memOrder = c.memOrder[1:]
		delete(c.mem, oldest)
	}
}

// persistentLookup loads a filter_index row into a memEntry, or nil if
// absent or past its max age.
func (c *Cache) persistentLookup(key string) *memEntry {
	row := c.db.QueryRow(`SELECT event_ids, cached_at, ttl_seconds FROM filter_index WHERE filter_key = ?`, key)
	var idsJoined string
	var cachedAtUnix int64
	var ttlSeconds int64
	if err := row.Scan(&idsJoined, &cachedAtUnix, &ttlSeconds); err != nil {
		return nil
	}
	cachedAt := time.Unix(cachedAtUnix, 0)
	if time.Since(cachedAt) > maxEventAge {
		return nil
	}
	var ids []string
	if idsJoined != "" {
		ids = strings.Split(idsJoined, ",")
	}
	return &memEntry{eventIDs: ids, cachedAt: cachedAt, ttl: time.Duration(ttlSeconds) * time.Second}
}

func (c *Cache) persistentStoreFilterIndex(key string, entry *memEntry) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.db.Exec(`
INSERT INTO filter_index (filter_key, event_ids, cached_at, ttl_seconds) VALUES (?,?,?,?)
ON CONFLICT(filter_key) DO UPDATE SET event_ids=excluded.event_ids, cached_at=excluded.cached_at, ttl_seconds=excluded.ttl_seconds`,
		key, strings.Join(entry.eventIDs, ","), entry.cachedAt.Unix(), int64(entry.ttl.Seconds()))
	if err != nil {
		c.debugSwallow("store filter index", err)
	}
}

// triggerRefresh kicks off a background revalidation of key, guarded so at
// most one refresh per key runs concurrently (spec.md §4.2's
// stale-while-revalidate).
func (c *Cache) triggerRefresh(key string, filters nostr.Filters) {
	if c.fetch == nil {
		return
	}
	c.refreshMu.Lock()
	if c.refreshing[key] {
		c.refreshMu.Unlock()
		return
	}
	c.refreshing[key] = true
	c.refreshMu.Unlock()

	go func() {
		defer func() {
			c.refreshMu.Lock()
			delete(c.refreshing, key)
			c.refreshMu.Unlock()
		}()
		ctx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
		defer cancel()
		events, err := c.fetch.Fetch(ctx, filters)
		if err != nil {
			c.debugSwallow("background refresh", err)
			return
		}
		c.Set(filters, events, 0)
	}()
}
