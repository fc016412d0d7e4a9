// Package eventsource adapts the Event Cache and Relay Client into the
// single Query capability that policy.Resolver, gateway.Gateway, and
// signer.Publisher each depend on narrowly (spec.md §9): check the cache
// first, fall back to the relay client on a miss, and warm the cache with
// whatever the relays returned.
package eventsource

import (
	"context"
	"time"

	"github.com/nostr-git/gitrepublic/cache"
	"github.com/nostr-git/gitrepublic/nostr"
)

// Fetcher is the narrow relay capability a Source needs on a cache miss.
type Fetcher interface {
	Fetch(ctx context.Context, filters nostr.Filters, relays ...string) ([]*nostr.Event, error)
}

// Source composes a Cache and a Fetcher behind the single Query method that
// policy.EventSource, gateway.AnnouncementSource, and signer.RelayListSource
// all structurally satisfy.
type Source struct {
	Cache *cache.Cache
	Fetch Fetcher
	TTL   time.Duration
}

// New builds a Source with the Event Cache's default (non-profile) TTL of
// 5 minutes.
func New(c *cache.Cache, fetch Fetcher) *Source {
	return &Source{Cache: c, Fetch: fetch, TTL: 5 * time.Minute}
}

// Query answers filters from the cache, revalidating against the relays on
// a miss and storing whatever comes back for next time. On a miss, the
// relay fetch is bounded to events newer than this filter class's recorded
// since-mark (if any), so a cold-started gateway doesn't refetch a repo's
// full event history on every restart; the mark then advances to now.
func (s *Source) Query(ctx context.Context, filters nostr.Filters) ([]*nostr.Event, error) {
	if events, hit := s.Cache.Get(ctx, filters); hit {
		return events, nil
	}

	class := cache.SinceClassKey(filters)
	events, err := s.Fetch.Fetch(ctx, resumeFrom(filters, s.Cache, class))
	if err != nil {
		return nil, err
	}
	s.Cache.Set(filters, events, s.TTL)
	s.Cache.UpdateSince(class, time.Now())
	return events, nil
}

// resumeFrom applies a filter class's recorded since-mark to every filter
// that doesn't already carry its own explicit Since bound. A mark older
// than 24h is treated as stale and clamped to 1h ago rather than trusted
// verbatim, and a fresh mark is backed off by 1h to absorb relay clock skew,
// both per the teacher's getSince in git-nostr-bridge/main.go.
func resumeFrom(filters nostr.Filters, c *cache.Cache, class string) nostr.Filters {
	mark, ok := c.GetSince(class)
	if !ok {
		return filters
	}
	since := mark.Add(-1 * time.Hour)
	if time.Since(since) > 24*time.Hour {
		since = time.Now().Add(-1 * time.Hour)
	}
	sinceUnix := since.Unix()

	out := make(nostr.Filters, len(filters))
	for i, f := range filters {
		if f.Since == nil {
			f.Since = &sinceUnix
		}
		out[i] = f
	}
	return out
}
