package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nostr-git/gitrepublic/nostr"
)

// connState is the per-socket state machine described in spec.md §9: model
// the original promise/callback choreography as an explicit machine driven
// from one message-dispatch loop, rather than per-message lambdas.
type connState int

const (
	stateDialing connState = iota
	stateOpen
	stateAuthing
	stateSubscribed
	stateDraining
	stateClosed
)

// Signer produces a signed NIP-42 auth-response event for a relay challenge.
// Narrow capability, injected, so the relay client never depends on a
// concrete key-management implementation (spec.md §9's "break the cycle").
type Signer interface {
	SignRelayAuth(ctx context.Context, relayURL, challenge string) (*nostr.Event, error)
}

type subHandler struct {
	events chan *nostr.Event
	eose   chan struct{}
	once   sync.Once
}

func (h *subHandler) closeOnce() {
	h.once.Do(func() {
		close(h.eose)
		close(h.events)
	})
}

// conn is one logical websocket to one relay, demultiplexing many concurrent
// subscriptions over a single socket.
type conn struct {
	url    string
	signer Signer

	mu          sync.Mutex
	state       connState
	ws          *websocket.Conn
	subs        map[string]*subHandler
	okResults   map[string]okResult
	pending     int
	lastUsed    time.Time
	authDone    chan struct{} // non-nil and open while state == stateAuthing

	writeMu sync.Mutex

	backoff time.Duration
}

// okResult records a relay's ["OK", id, accepted, reason] response so a
// publisher polling from outside the dispatch loop can observe it.
type okResult struct {
	accepted bool
	reason   string
}

func newConn(url string, signer Signer) *conn {
	c := &conn{
		url:       url,
		signer:    signer,
		state:     stateDialing,
		subs:      map[string]*subHandler{},
		okResults: map[string]okResult{},
		lastUsed:  time.Now(),
		backoff:   time.Second,
	}
	return c
}

func (c *conn) dial(ctx context.Context) error {
	c.mu.Lock()
	if c.state == stateOpen || c.state == stateSubscribed || c.state == stateAuthing {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	ws, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.url, nil)
	if err != nil {
		c.mu.Lock()
		c.backoff *= 2
		if c.backoff > 32*time.Second {
			c.backoff = 32 * time.Second
		}
		c.mu.Unlock()
		return fmt.Errorf("relay %s: dial failed: %w", c.url, err)
	}

	c.mu.Lock()
	c.ws = ws
	c.state = stateOpen
	c.backoff = time.Second
	c.mu.Unlock()

	go c.readLoop()
	return nil
}

// readLoop is the single message-dispatch loop for this socket, per
// spec.md §9: every inbound frame is handled here rather than via
// per-message callbacks registered at send time.
func (c *conn) readLoop() {
	defer c.teardown()
	for {
		c.mu.Lock()
		ws := c.ws
		c.mu.Unlock()
		if ws == nil {
			return
		}
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		c.dispatch(raw)
	}
}

func (c *conn) dispatch(raw []byte) {
	msgType, env, err := decodeEnvelope(raw)
	if err != nil {
		return
	}
	switch msgType {
	case "EVENT":
		if len(env) < 3 {
			return
		}
		subID := decodeStr(env[1])
		var e nostr.Event
		if err := json.Unmarshal(env[2], &e); err != nil {
			return
		}
		c.mu.Lock()
		h := c.subs[subID]
		c.mu.Unlock()
		if h != nil {
			select {
			case h.events <- &e:
			default:
			}
		}
	case "EOSE":
		if len(env) < 2 {
			return
		}
		subID := decodeStr(env[1])
		c.mu.Lock()
		h := c.subs[subID]
		c.mu.Unlock()
		if h != nil {
			h.closeOnce()
		}
	case "AUTH":
		if len(env) < 2 {
			return
		}
		challenge := decodeStr(env[1])
		go c.handleAuthChallenge(challenge)
	case "OK":
		if len(env) < 3 {
			return
		}
		id := decodeStr(env[1])
		ok := decodeBool(env[2])
		reason := ""
		if len(env) > 3 {
			reason = decodeStr(env[3])
		}
		if id == "auth" && ok {
			c.mu.Lock()
			c.state = stateSubscribed
			if c.authDone != nil {
				close(c.authDone)
				c.authDone = nil
			}
			c.mu.Unlock()
			return
		}
		c.mu.Lock()
		c.okResults[id] = okResult{accepted: ok, reason: reason}
		c.mu.Unlock()
	case "CLOSED", "NOTICE":
		// no action required beyond dispatch logging at a higher layer
	}
}

func (c *conn) handleAuthChallenge(challenge string) {
	c.mu.Lock()
	c.state = stateAuthing
	if c.authDone == nil {
		c.authDone = make(chan struct{})
	}
	c.mu.Unlock()

	if c.signer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()
	ev, err := c.signer.SignRelayAuth(ctx, c.url, challenge)
	if err != nil || ev == nil {
		return
	}
	frame, err := encodeAUTH(ev)
	if err != nil {
		return
	}
	_ = c.writeRaw(frame)
}

// waitIfAuthing blocks REQ transmission while the socket is mid-AUTH,
// resuming only once OK-for-auth arrives (spec.md §4.1).
func (c *conn) waitIfAuthing(ctx context.Context) error {
	c.mu.Lock()
	if c.state != stateAuthing || c.authDone == nil {
		c.mu.Unlock()
		return nil
	}
	ch := c.authDone
	c.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *conn) writeRaw(b []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return fmt.Errorf("relay %s: not connected", c.url)
	}
	return ws.WriteMessage(websocket.TextMessage, b)
}

func (c *conn) teardown() {
	c.mu.Lock()
	c.state = stateClosed
	for _, h := range c.subs {
		h.closeOnce()
	}
	c.subs = map[string]*subHandler{}
	if c.authDone != nil {
		close(c.authDone)
		c.authDone = nil
	}
	if c.ws != nil {
		_ = c.ws.Close()
		c.ws = nil
	}
	c.mu.Unlock()
}

func (c *conn) idleFor() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending > 0 {
		return 0
	}
	return time.Since(c.lastUsed)
}

func (c *conn) touch(delta int) {
	c.mu.Lock()
	c.pending += delta
	c.lastUsed = time.Now()
	c.mu.Unlock()
}
