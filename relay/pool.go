package relay

import (
	"context"
	"sync"
	"time"
)

const maxConnsPerRelay = 3

// Pool is the bounded map of relay-url -> pooled websocket connections
// described in spec.md §4.1/§5: concurrent readers share a socket through
// subscription-id demultiplexing, with a per-relay connection cap and an
// idle reaper.
type Pool struct {
	signer Signer

	mu    sync.Mutex
	conns map[string][]*conn

	stopReaper chan struct{}
}

// NewPool constructs a pool. signer may be nil if NIP-42 AUTH is never
// expected from the configured relays.
func NewPool(signer Signer) *Pool {
	p := &Pool{
		signer:     signer,
		conns:      map[string][]*conn{},
		stopReaper: make(chan struct{}),
	}
	go p.reapLoop()
	return p
}

func (p *Pool) reapLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.reapIdle()
		case <-p.stopReaper:
			return
		}
	}
}

func (p *Pool) reapIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for url, conns := range p.conns {
		kept := conns[:0]
		for _, c := range conns {
			if c.idleFor() >= 30*time.Second {
				go c.teardown()
				continue
			}
			kept = append(kept, c)
		}
		p.conns[url] = kept
	}
}

// Close tears down every pooled connection and stops the reaper.
func (p *Pool) Close() {
	close(p.stopReaper)
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, conns := range p.conns {
		for _, c := range conns {
			c.teardown()
		}
	}
	p.conns = map[string][]*conn{}
}

// acquire returns a connected conn for url, reusing the least-busy pooled
// connection and growing up to maxConnsPerRelay before reusing further.
func (p *Pool) acquire(ctx context.Context, url string) (*conn, error) {
	p.mu.Lock()
	conns := p.conns[url]

	var chosen *conn
	if len(conns) < maxConnsPerRelay {
		chosen = newConn(url, p.signer)
		conns = append(conns, chosen)
		p.conns[url] = conns
	} else {
		chosen = leastPending(conns)
	}
	p.mu.Unlock()

	if err := chosen.dial(ctx); err != nil {
		return nil, err
	}
	return chosen, nil
}

func leastPending(conns []*conn) *conn {
	best := conns[0]
	bestPending := best.idlePending()
	for _, c := range conns[1:] {
		if p := c.idlePending(); p < bestPending {
			best, bestPending = c, p
		}
	}
	return best
}

func (c *conn) idlePending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}
