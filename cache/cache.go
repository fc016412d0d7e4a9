// Package cache implements the Event Cache of spec.md §4.2: a synchronous
// in-memory FIFO-bounded layer over a persistent store, with stale-while-
// revalidate background refresh, dedup-on-write, and swallowed (debug-only)
// persistence failures — availability over durability.
package cache

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/nostr-git/gitrepublic/internal/logging"
	"github.com/nostr-git/gitrepublic/nostr"
)

const (
	maxMemoryEntries  = 1000
	defaultTTL        = 5 * time.Minute
	profileTTL        = 30 * time.Minute
	maxEventAge       = 7 * 24 * time.Hour
)

// RelayFetch is the narrow capability the cache needs to revalidate stale
// entries, injected at construction to break the Client<->Cache cycle
// described in spec.md §9.
type RelayFetch interface {
	Fetch(ctx context.Context, filters nostr.Filters, relays ...string) ([]*nostr.Event, error)
}

type memEntry struct {
	eventIDs []string
	cachedAt time.Time
	ttl      time.Duration
}

// Cache is the Event Cache.
type Cache struct {
	db    *sql.DB
	fetch RelayFetch
	log   logging.Logger

	memMu     sync.Mutex
	memOrder  []string
	mem       map[string]*memEntry

	refreshMu sync.Mutex
	refreshing map[string]bool

	writeMu sync.Mutex // single-writer queue, per spec.md §4.2/§5
}

// New opens (creating if absent) the persistent store at dbPath and wraps it
// with the in-memory layer.
func New(dbPath string, fetch RelayFetch, log logging.Logger) (*Cache, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("cache: open db: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: schema: %w", err)
	}
	return &Cache{
		db:         db,
		fetch:      fetch,
		log:        log,
		mem:        map[string]*memEntry{},
		refreshing: map[string]bool{},
	}, nil
}

func applySchema(db *sql.DB) error {
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	dedup_kind INTEGER NOT NULL,
	dedup_key TEXT NOT NULL,
	pubkey TEXT NOT NULL,
	kind INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	raw TEXT NOT NULL,
	cached_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_dedup_key ON events(dedup_key);
CREATE INDEX IF NOT EXISTS idx_events_pubkey ON events(pubkey);

CREATE TABLE IF NOT EXISTS filter_index (
	filter_key TEXT PRIMARY KEY,
	event_ids TEXT NOT NULL,
	cached_at INTEGER NOT NULL,
	ttl_seconds INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS profiles (
	pubkey TEXT PRIMARY KEY,
	raw TEXT NOT NULL,
	cached_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS since_marks (
	class TEXT PRIMARY KEY,
	updated_at INTEGER NOT NULL
);
`)
	return err
}

// Close releases the persistent store handle.
func (c *Cache) Close() error { return c.db.Close() }
