// Package relay implements the multiplexed-websocket Relay Client of
// spec.md §4.1: fetch(filters) -> deduplicated events, and
// publish(event, relays?) -> per-relay outcomes, plus deletion-event
// propagation into an injected cache capability.
package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nostr-git/gitrepublic/nostr"
)

// EventSink is the narrow capability the relay client needs from a cache to
// propagate kind-5 deletions, per spec.md §9's "break the cycle" guidance:
// the cache depends on RelayFetch; the relay client depends on this, not on
// the whole cache.
type EventSink interface {
	DeleteEvent(id string)
}

// Client is the application-facing Relay Client.
type Client struct {
	pool  *Pool
	sink  EventSink
	relays []string

	scanningMu sync.Mutex
	scanning   bool
}

// NewClient builds a relay client over the given default relay set.
func NewClient(relays []string, signer Signer, sink EventSink) *Client {
	return &Client{
		pool:   NewPool(signer),
		sink:   sink,
		relays: relays,
	}
}

func (c *Client) Close() { c.pool.Close() }

// PublishOutcome is one relay's result of a publish attempt.
type PublishOutcome struct {
	Relay   string
	Success bool
	Reason  string
}

// Fetch satisfies filters against every configured (or given) relay and
// returns the union of events, deduplicated per spec.md §3. Per spec.md
// §4.1, if a relay's request window closes with neither EOSE nor a hard
// failure yet, whatever events that relay yielded so far are still
// returned rather than the whole fetch failing.
func (c *Client) Fetch(ctx context.Context, filters nostr.Filters, relays ...string) ([]*nostr.Event, error) {
	targets := relays
	if len(targets) == 0 {
		targets = c.relays
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("relay: no relays configured")
	}

	reqCtx, cancel := context.WithTimeout(ctx, 8*time.Second)
	defer cancel()

	var mu sync.Mutex
	byKey := map[string]*nostr.Event{}

	var wg sync.WaitGroup
	for _, url := range targets {
		url := url
		wg.Add(1)
		go func() {
			defer wg.Done()
			events := c.fetchOne(reqCtx, url, filters)
			mu.Lock()
			for _, e := range events {
				mergeDedup(byKey, e)
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	out := make([]*nostr.Event, 0, len(byKey))
	for _, e := range byKey {
		out = append(out, e)
	}

	go c.scanForDeletions(context.Background(), targets)

	return out, nil
}

func mergeDedup(byKey map[string]*nostr.Event, e *nostr.Event) {
	_, key := e.DedupKey()
	existing, ok := byKey[key]
	if !ok || e.CreatedAt > existing.CreatedAt {
		byKey[key] = e
	}
}

func (c *Client) fetchOne(ctx context.Context, url string, filters nostr.Filters) []*nostr.Event {
	cn, err := c.pool.acquire(ctx, url)
	if err != nil {
		return nil
	}

	if err := cn.waitIfAuthing(ctx); err != nil {
		return nil
	}

	subID := uuid.NewString()
	h := &subHandler{events: make(chan *nostr.Event, 256), eose: make(chan struct{})}

	cn.mu.Lock()
	cn.subs[subID] = h
	cn.mu.Unlock()
	cn.touch(1)
	defer func() {
		cn.touch(-1)
		cn.mu.Lock()
		delete(cn.subs, subID)
		cn.mu.Unlock()
	}()

	frame, err := encodeREQ(subID, filters)
	if err != nil {
		return nil
	}
	if err := cn.writeRaw(frame); err != nil {
		return nil
	}
	defer func() {
		if closeFrame, err := encodeCLOSE(subID); err == nil {
			_ = cn.writeRaw(closeFrame)
		}
	}()

	var collected []*nostr.Event
	for {
		select {
		case e, ok := <-h.events:
			if !ok {
				return collected
			}
			collected = append(collected, e)
		case <-h.eose:
			return collected
		case <-ctx.Done():
			return collected
		}
	}
}

// Publish pushes event to relays (or the default set), awaiting an OK per
// relay up to a 10-second ceiling, per spec.md §4.1. A publish with zero
// successes is a RelayError to the caller; it is never retried at this
// layer.
func (c *Client) Publish(ctx context.Context, event *nostr.Event, relays ...string) ([]PublishOutcome, error) {
	targets := relays
	if len(targets) == 0 {
		targets = c.relays
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("relay: no relays configured")
	}

	pubCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	outcomes := make([]PublishOutcome, len(targets))
	var wg sync.WaitGroup
	for i, url := range targets {
		i, url := i, url
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i] = c.publishOne(pubCtx, url, event)
		}()
	}
	wg.Wait()

	anySuccess := false
	for _, o := range outcomes {
		if o.Success {
			anySuccess = true
			break
		}
	}
	if !anySuccess {
		return outcomes, fmt.Errorf("relay: publish failed on all %d relays", len(targets))
	}
	return outcomes, nil
}

func (c *Client) publishOne(ctx context.Context, url string, event *nostr.Event) PublishOutcome {
	cn, err := c.pool.acquire(ctx, url)
	if err != nil {
		return PublishOutcome{Relay: url, Success: false, Reason: err.Error()}
	}
	if err := cn.waitIfAuthing(ctx); err != nil {
		return PublishOutcome{Relay: url, Success: false, Reason: "auth timeout"}
	}

	okCh := make(chan bool, 1)
	reasonCh := make(chan string, 1)
	cn.touch(1)
	defer cn.touch(-1)

	go c.watchOK(cn, event.ID, okCh, reasonCh)

	frame, err := encodeEVENT(event)
	if err != nil {
		return PublishOutcome{Relay: url, Success: false, Reason: err.Error()}
	}
	if err := cn.writeRaw(frame); err != nil {
		return PublishOutcome{Relay: url, Success: false, Reason: "socket closed before OK"}
	}

	select {
	case ok := <-okCh:
		reason := ""
		select {
		case reason = <-reasonCh:
		default:
		}
		return PublishOutcome{Relay: url, Success: ok, Reason: reason}
	case <-ctx.Done():
		return PublishOutcome{Relay: url, Success: false, Reason: "timeout"}
	}
}

// watchOK polls for the OK response to eventID. OK frames aren't addressed
// by subscription id the way EVENT/EOSE are, so the dispatch loop records
// them into conn.okResults and this polls that map instead of racing a
// dedicated channel per publish.
func (c *Client) watchOK(cn *conn, eventID string, okCh chan<- bool, reasonCh chan<- string) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		<-ticker.C
		cn.mu.Lock()
		result, done := cn.okResults[eventID]
		if done {
			delete(cn.okResults, eventID)
		}
		cn.mu.Unlock()
		if done {
			okCh <- result.accepted
			reasonCh <- result.reason
			return
		}
	}
	okCh <- false
}

// scanForDeletions implements spec.md §4.1's deletion handling: after each
// fetch, asynchronously look for recent kind-5 events and remove their
// targets from the cache. Guarded by a reentrancy flag so the scan never
// recursively triggers itself (a deletion fetch could otherwise itself
// trigger another deletion scan forever).
func (c *Client) scanForDeletions(ctx context.Context, relays []string) {
	c.scanningMu.Lock()
	if c.scanning {
		c.scanningMu.Unlock()
		return
	}
	c.scanning = true
	c.scanningMu.Unlock()
	defer func() {
		c.scanningMu.Lock()
		c.scanning = false
		c.scanningMu.Unlock()
	}()

	if c.sink == nil {
		return
	}

	since := time.Now().Add(-24 * time.Hour).Unix()
	filters := nostr.Filters{{Kinds: []int{nostr.KindDeletion}, Since: &since}}

	var collected []*nostr.Event
	var mu sync.Mutex
	var wg sync.WaitGroup
	reqCtx, cancel := context.WithTimeout(ctx, 8*time.Second)
	defer cancel()
	for _, url := range relays {
		url := url
		wg.Add(1)
		go func() {
			defer wg.Done()
			events := c.fetchOne(reqCtx, url, filters)
			mu.Lock()
			collected = append(collected, events...)
			mu.Unlock()
		}()
	}
	wg.Wait()

	for _, del := range collected {
		for _, tag := range del.Tags.GetAll("e") {
			if len(tag) > 1 {
				c.sink.DeleteEvent(tag[1])
			}
		}
	}
}
