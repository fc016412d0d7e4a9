package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/nostr-git/gitrepublic/nostr"
)

// canonicalFilter is a deterministically-ordered projection of nostr.Filter
// used only to compute a stable cache key; nostr.Filter.Tags is a map and
// its JSON key order is not guaranteed, so the wire-format MarshalJSON
// cannot be reused directly for hashing.
type canonicalFilter struct {
	IDs     []string   `json:"ids,omitempty"`
	Kinds   []int      `json:"kinds,omitempty"`
	Authors []string   `json:"authors,omitempty"`
	Tags    [][]string `json:"tags,omitempty"`
	Since   *int64     `json:"since,omitempty"`
	Until   *int64     `json:"until,omitempty"`
	Limit   int        `json:"limit,omitempty"`
	Search  string     `json:"search,omitempty"`
}

func canonicalize(f nostr.Filter) canonicalFilter {
	ids := append([]string(nil), f.IDs...)
	sort.Strings(ids)
	authors := append([]string(nil), f.Authors...)
	sort.Strings(authors)
	kinds := append([]int(nil), f.Kinds...)
	sort.Ints(kinds)

	var tagNames []string
	for name := range f.Tags {
		tagNames = append(tagNames, name)
	}
	sort.Strings(tagNames)
	var tags [][]string
	for _, name := range tagNames {
		values := append([]string(nil), f.Tags[name]...)
		sort.Strings(values)
		tags = append(tags, append([]string{name}, values...))
	}

	return canonicalFilter{
		IDs: ids, Kinds: kinds, Authors: authors, Tags: tags,
		Since: f.Since, Until: f.Until, Limit: f.Limit, Search: f.Search,
	}
}

// FilterSetKey returns a stable cache key for a set of filters, order
// independent in the filters themselves is NOT assumed (NIP-01 filter lists
// are OR'd, but the caller is expected to pass the same literal filter set
// back to get a cache hit).
func FilterSetKey(filters nostr.Filters) string {
	canon := make([]canonicalFilter, 0, len(filters))
	for _, f := range filters {
		canon = append(canon, canonicalize(f))
	}
	b, _ := json.Marshal(canon)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// HasSearch reports whether any filter in the set is search-flagged,
// per spec.md §4.2: a search-flagged filter bypasses the cache entirely.
func HasSearch(filters nostr.Filters) bool {
	for _, f := range filters {
		if f.Search != "" {
			return true
		}
	}
	return false
}

// SinceClassKey returns a stable key identifying a filter set's *shape*
// (kinds, authors, tags), deliberately excluding Since/Until/Limit so the
// same logical query keeps the same key as its time window slides forward.
// Used to key since_marks for cold-start resume, grounded on the teacher's
// per-kind Since table in git-nostr-bridge/main.go.
func SinceClassKey(filters nostr.Filters) string {
	canon := make([]canonicalFilter, 0, len(filters))
	for _, f := range filters {
		c := canonicalize(f)
		c.Since = nil
		c.Until = nil
		c.Limit = 0
		canon = append(canon, c)
	}
	b, _ := json.Marshal(canon)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
