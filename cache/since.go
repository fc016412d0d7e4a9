package cache

import (
	"database/sql"
	"errors"
	"time"
)

// GetSince returns the last-seen timestamp recorded for a filter class, for
// cold-start resume: a Policy Resolver (or any other Source) that restarts
// can bound its first relay fetch to events newer than this instead of
// refetching a repo's full ownership/maintainer/protection history. Mirrors
// the teacher's getSince in git-nostr-bridge/main.go, keyed by filter class
// (cache.SinceClassKey) instead of by event kind.
func (c *Cache) GetSince(class string) (time.Time, bool) {
	row := c.db.QueryRow(`SELECT updated_at FROM since_marks WHERE class = ?`, class)
	var updatedAt int64
	if err := row.Scan(&updatedAt); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			c.debugSwallow("get since", err)
		}
		return time.Time{}, false
	}
	return time.Unix(updatedAt, 0), true
}

// UpdateSince advances the recorded since-mark for class to updatedAt,
// never moving it backwards (the teacher's "ON CONFLICT ... WHERE
// UpdatedAt<?" monotonic-update idiom).
func (c *Cache) UpdateSince(class string, updatedAt time.Time) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.db.Exec(`
INSERT INTO since_marks (class, updated_at) VALUES (?,?)
ON CONFLICT(class) DO UPDATE SET updated_at=excluded.updated_at WHERE excluded.updated_at > since_marks.updated_at`,
		class, updatedAt.Unix())
	if err != nil {
		c.debugSwallow("update since", err)
	}
}
