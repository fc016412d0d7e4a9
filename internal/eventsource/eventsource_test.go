package eventsource

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nostr-git/gitrepublic/cache"
	"github.com/nostr-git/gitrepublic/internal/logging"
	"github.com/nostr-git/gitrepublic/nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	events     []*nostr.Event
	err        error
	calls      int
	lastFilter nostr.Filters
}

func (f *fakeFetcher) Fetch(ctx context.Context, filters nostr.Filters, relays ...string) ([]*nostr.Event, error) {
	f.calls++
	f.lastFilter = filters
	if f.err != nil {
		return nil, f.err
	}
	return f.events, nil
}

func newTestCache(t *testing.T, fetch cache.RelayFetch) *cache.Cache {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "cache.db")
	c, err := cache.New(dbPath, fetch, logging.New(&bytes.Buffer{}, "eventsource-test"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestQueryReturnsCachedEventsWithoutFetching(t *testing.T) {
	fetch := &fakeFetcher{}
	c := newTestCache(t, fetch)
	filters := nostr.Filters{{Kinds: []int{30617}, Authors: []string{"abc"}}}
	e := &nostr.Event{ID: "id1", Kind: 30617, PubKey: "abc"}
	c.Set(filters, []*nostr.Event{e}, 0)

	src := New(c, fetch)
	got, err := src.Query(context.Background(), filters)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, "id1", got[0].ID)
	assert.Equal(t, 0, fetch.calls)
}

func TestQueryFallsThroughToFetcherOnMiss(t *testing.T) {
	e := &nostr.Event{ID: "id2", Kind: 30617, PubKey: "def"}
	fetch := &fakeFetcher{events: []*nostr.Event{e}}
	c := newTestCache(t, fetch)

	src := New(c, fetch)
	filters := nostr.Filters{{Kinds: []int{30617}, Authors: []string{"def"}}}
	got, err := src.Query(context.Background(), filters)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, 1, fetch.calls)

	cached, hit := c.Get(context.Background(), filters)
	require.True(t, hit)
	assert.Len(t, cached, 1)
}

func TestQueryPropagatesFetchError(t *testing.T) {
	fetch := &fakeFetcher{err: assert.AnError}
	c := newTestCache(t, fetch)

	src := New(c, fetch)
	filters := nostr.Filters{{Kinds: []int{1}}}
	_, err := src.Query(context.Background(), filters)
	assert.Error(t, err)
}

func TestQueryResumesFromSinceMarkOnSecondColdStart(t *testing.T) {
	fetch := &fakeFetcher{events: []*nostr.Event{{ID: "id3", Kind: 30617, PubKey: "ghi"}}}
	c := newTestCache(t, fetch)
	filters := nostr.Filters{{Kinds: []int{30617}, Authors: []string{"ghi"}}}

	src := New(c, fetch)
	_, err := src.Query(context.Background(), filters)
	require.NoError(t, err)
	require.Nil(t, fetch.lastFilter[0].Since, "first-ever query has no mark to resume from")

	mark, ok := c.GetSince(cache.SinceClassKey(filters))
	require.True(t, ok)
	assert.WithinDuration(t, time.Now(), mark, 5*time.Second)

	// A second cold start (cache invalidated, mark persists) must bound its
	// relay fetch to the recorded mark instead of refetching everything.
	c.InvalidatePubkey("ghi")
	_, err = src.Query(context.Background(), filters)
	require.NoError(t, err)
	require.NotNil(t, fetch.lastFilter[0].Since)
}

func TestQueryDoesNotOverrideExplicitSince(t *testing.T) {
	fetch := &fakeFetcher{}
	c := newTestCache(t, fetch)
	explicit := int64(12345)
	filters := nostr.Filters{{Kinds: []int{1}, Since: &explicit}}

	src := New(c, fetch)
	_, err := src.Query(context.Background(), filters)
	require.NoError(t, err)
	require.NotNil(t, fetch.lastFilter[0].Since)
	assert.Equal(t, explicit, *fetch.lastFilter[0].Since)
}
