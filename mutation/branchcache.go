package mutation

import "sync"

// BranchCache holds a short-lived, per-repository branch listing. The API's
// own branch reads run `git for-each-ref` directly and do not consult it. It
// has no TTL of its own: entries are invalidated explicitly whenever a
// mutation changes the branch set.
type BranchCache struct {
	mu      sync.Mutex
	entries map[string][]string
}

// NewBranchCache builds an empty BranchCache.
func NewBranchCache() *BranchCache {
	return &BranchCache{entries: map[string][]string{}}
}

// Get returns the cached branch list for key, if present.
func (c *BranchCache) Get(key string) ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	branches, ok := c.entries[key]
	return branches, ok
}

// Set stores the branch list for key.
func (c *BranchCache) Set(key string, branches []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = branches
}

// Invalidate drops key's cached branch list.
func (c *BranchCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}
