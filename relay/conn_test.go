package relay

import (
	"context"
	"testing"
	"time"

	"github.com/nostr-git/gitrepublic/nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchEventDeliversToSubscriber(t *testing.T) {
	c := newConn("wss://example.test", nil)
	h := &subHandler{events: make(chan *nostr.Event, 1), eose: make(chan struct{})}
	c.mu.Lock()
	c.subs["sub1"] = h
	c.mu.Unlock()

	raw := []byte(`["EVENT","sub1",{"id":"abc","pubkey":"pk","created_at":1,"kind":1,"tags":[],"content":"hi","sig":"s"}]`)
	c.dispatch(raw)

	select {
	case e := <-h.events:
		assert.Equal(t, "abc", e.ID)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestDispatchEOSEClosesHandler(t *testing.T) {
	c := newConn("wss://example.test", nil)
	h := &subHandler{events: make(chan *nostr.Event, 1), eose: make(chan struct{})}
	c.mu.Lock()
	c.subs["sub1"] = h
	c.mu.Unlock()

	c.dispatch([]byte(`["EOSE","sub1"]`))

	select {
	case <-h.eose:
	case <-time.After(time.Second):
		t.Fatal("eose not signaled")
	}
}

func TestDispatchAuthOKResumesWaiters(t *testing.T) {
	c := newConn("wss://example.test", nil)
	c.mu.Lock()
	c.state = stateAuthing
	c.authDone = make(chan struct{})
	c.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- c.waitIfAuthing(context.Background())
	}()

	time.Sleep(10 * time.Millisecond)
	c.dispatch([]byte(`["OK","auth",true,""]`))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("waitIfAuthing never resumed")
	}

	c.mu.Lock()
	assert.Equal(t, stateSubscribed, c.state)
	c.mu.Unlock()
}

func TestWaitIfAuthingReturnsImmediatelyWhenNotAuthing(t *testing.T) {
	c := newConn("wss://example.test", nil)
	err := c.waitIfAuthing(context.Background())
	assert.NoError(t, err)
}

func TestWaitIfAuthingRespectsContextDeadline(t *testing.T) {
	c := newConn("wss://example.test", nil)
	c.mu.Lock()
	c.state = stateAuthing
	c.authDone = make(chan struct{})
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := c.waitIfAuthing(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDispatchRegularOKStoresResult(t *testing.T) {
	c := newConn("wss://example.test", nil)
	c.dispatch([]byte(`["OK","event123",false,"blocked"]`))

	c.mu.Lock()
	result, ok := c.okResults["event123"]
	c.mu.Unlock()

	require.True(t, ok)
	assert.False(t, result.accepted)
	assert.Equal(t, "blocked", result.reason)
}

func TestTeardownClosesAuthDoneAndSubs(t *testing.T) {
	c := newConn("wss://example.test", nil)
	c.mu.Lock()
	c.authDone = make(chan struct{})
	h := &subHandler{events: make(chan *nostr.Event), eose: make(chan struct{})}
	c.subs["sub1"] = h
	c.mu.Unlock()

	c.teardown()

	select {
	case <-h.eose:
	default:
		t.Fatal("subscription not closed on teardown")
	}
	c.mu.Lock()
	assert.Equal(t, stateClosed, c.state)
	assert.Nil(t, c.authDone)
	c.mu.Unlock()
}
