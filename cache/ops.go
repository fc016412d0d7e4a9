package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/nostr-git/gitrepublic/nostr"
)

// Get returns the cached events for filters, following spec.md §4.2's
// stale-while-revalidate contract: a fresh hit returns immediately; a stale
// hit returns its (possibly outdated) events and kicks off a background
// refresh; a search-flagged filter set is never served from cache.
func (c *Cache) Get(ctx context.Context, filters nostr.Filters) ([]*nostr.Event, bool) {
	if HasSearch(filters) {
		return nil, false
	}
	key := FilterSetKey(filters)

	entry := c.memLookup(key)
	if entry == nil {
		entry = c.persistentLookup(key)
		if entry != nil {
			c.memStore(key, entry)
		}
	}
	if entry == nil {
		return nil, false
	}

	events := c.eventsByIDs(entry.eventIDs)
	if time.Since(entry.cachedAt) > entry.ttl {
		c.triggerRefresh(key, filters)
	}
	return events, true
}

// Set stores events under filters with the given ttl (defaultTTL if zero).
func (c *Cache) Set(filters nostr.Filters, events []*nostr.Event, ttl time.Duration) {
	if ttl == 0 {
		ttl = defaultTTL
	}
	key := FilterSetKey(filters)
	ids := make([]string, 0, len(events))
	for _, e := range events {
		c.dedupInsert(e)
		ids = append(ids, e.ID)
	}

	entry := &memEntry{eventIDs: ids, cachedAt: time.Now(), ttl: ttl}
	c.memStore(key, entry)
	c.persistentStoreFilterIndex(key, entry)
}

// dedupInsert writes one event, keeping only the newest event per dedup key
// (spec.md §3/§4.2): on every insert, the newest event for the key wins and
// the losers are deleted.
func (c *Cache) dedupInsert(e *nostr.Event) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	dedupKindVal, dedupKey := e.DedupKey()

	raw, err := json.Marshal(e)
	if err != nil {
		c.debugSwallow("marshal event", err)
		return
	}

	var existingID string
	var existingCreatedAt int64
	row := c.db.QueryRow(`SELECT id, created_at FROM events WHERE dedup_key = ? ORDER BY created_at DESC LIMIT 1`, dedupKey)
	err = row.Scan(&existingID, &existingCreatedAt)
	if err == nil && existingCreatedAt > e.CreatedAt {
		// an existing, newer event already owns this dedup key; this one loses
		return
	}

	_, err = c.db.Exec(`
INSERT INTO events (id, dedup_kind, dedup_key, pubkey, kind, created_at, raw, cached_at)
VALUES (?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET raw=excluded.raw, cached_at=excluded.cached_at`,
		e.ID, int(dedupKindVal), dedupKey, e.PubKey, e.Kind, e.CreatedAt, string(raw), time.Now().Unix())
	if err != nil {
		c.debugSwallow("insert event", err)
		return
	}

	if existingID != "" && existingID != e.ID {
		if _, err := c.db.Exec(`DELETE FROM events WHERE id = ?`, existingID); err != nil {
			c.debugSwallow("delete superseded event", err)
		}
	}
}

func (c *Cache) eventsByIDs(ids []string) []*nostr.Event {
	if len(ids) == 0 {
		return nil
	}
	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := `SELECT raw, cached_at FROM events WHERE id IN (` + strings.Join(placeholders, ",") + `)`
	rows, err := c.db.Query(query, args...)
	if err != nil {
		c.debugSwallow("query events", err)
		return nil
	}
	defer rows.Close()

	var out []*nostr.Event
	for rows.Next() {
		var raw string
		var cachedAt int64
		if err := rows.Scan(&raw, &cachedAt); err != nil {
			continue
		}
		if time.Now().Unix()-cachedAt > int64(maxEventAge.Seconds()) {
			continue
		}
		var e nostr.Event
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			continue
		}
		out = append(out, &e)
	}
	return out
}

// DeleteEvent removes an event by id, per spec.md §4.2's deleteEvent and
// the deletion-handling invariant of §8 (S7): events with deleted ids are
// removed eagerly.
func (c *Cache) DeleteEvent(id string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.db.Exec(`DELETE FROM events WHERE id = ?`, id); err != nil {
		c.debugSwallow("delete event", err)
	}
}

// InvalidatePubkey drops replaceable/parameterized-replaceable cache state
// for a pubkey (used after that actor publishes, per spec.md §5's "eager
// invalidation on the mutating actor's pubkey"). Filter-level entries, both
// in memory and in the persistent filter index, are cleared wholesale rather
// than surgically edited, matching the teacher's own "simple cleanup: clear
// map periodically" idiom in git-nostr-bridge/main.go.
func (c *Cache) InvalidatePubkey(pubkey string) {
	c.writeMu.Lock()
	_, err := c.db.Exec(`DELETE FROM events WHERE pubkey = ? AND dedup_kind != 0`, pubkey)
	if err == nil {
		_, err = c.db.Exec(`DELETE FROM filter_index`)
	}
	c.writeMu.Unlock()
	if err != nil {
		c.debugSwallow("invalidate pubkey", err)
	}

	c.memMu.Lock()
	c.mem = map[string]*memEntry{}
	c.memOrder = nil
	c.memMu.Unlock()
}

// ProcessDeletions applies kind-5 deletion events, removing every event
// named in an `e` tag.
func (c *Cache) ProcessDeletions(events []*nostr.Event) {
	for _, del := range events {
		if del.Kind != nostr.KindDeletion {
			continue
		}
		for _, tag := range del.Tags.GetAll("e") {
			if len(tag) > 1 {
				c.DeleteEvent(tag[1])
			}
		}
	}
}

// GetProfile returns a cached kind-0 event for pubkey, if present and fresh.
func (c *Cache) GetProfile(pubkey string) (*nostr.Event, bool) {
	row := c.db.QueryRow(`SELECT raw, cached_at FROM profiles WHERE pubkey = ?`, pubkey)
	var raw string
	var cachedAt int64
	if err := row.Scan(&raw, &cachedAt); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			c.debugSwallow("get profile", err)
		}
		return nil, false
	}
	if time.Since(time.Unix(cachedAt, 0)) > profileTTL {
		return nil, false
	}
	var e nostr.Event
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, false
	}
	return &e, true
}

// SetProfile stores a kind-0 event with the longer profile TTL of §3.
func (c *Cache) SetProfile(pubkey string, e *nostr.Event) {
	raw, err := json.Marshal(e)
	if err != nil {
		c.debugSwallow("marshal profile", err)
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.db.Exec(`
INSERT INTO profiles (pubkey, raw, cached_at) VALUES (?,?,?)
ON CONFLICT(pubkey) DO UPDATE SET raw=excluded.raw, cached_at=excluded.cached_at`,
		pubkey, string(raw), time.Now().Unix())
	if err != nil {
		c.debugSwallow("set profile", err)
	}
}

func (c *Cache) debugSwallow(op string, err error) {
	// Failure semantics, spec.md §4.2: quota exhaustion and transaction-state
	// failures downgrade to a debug log and a no-op write; availability over
	// durability.
	c.log.Debug().Err(err).Str("op", op).Msg("cache write swallowed")
}
