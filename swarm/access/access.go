// Package access holds the local block set and mute table consulted by the messenger.
package access

import (
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

type Control struct {
	mu      sync.RWMutex
	blocked map[string]struct{}
	muted   map[string]time.Time // Peer -> mute expiry
	clock   clock.Clock
}

func New(clk clock.Clock) *Control {
	if clk == nil {
		clk = clock.New()
	}
	return &Control{
		blocked: make(map[string]struct{}),
		muted:   make(map[string]time.Time),
		clock:   clk,
	}
}

func (c *Control) Block(peer string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocked[peer] = struct{}{}
}

func (c *Control) Unblock(peer string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.blocked, peer)
}

func (c *Control) IsBlocked(peer string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.blocked[peer]
	return ok
}

// Mute suppresses inbound messages from peer for d.
func (c *Control) Mute(peer string, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.muted[peer] = c.clock.Now().Add(d)
}

func (c *Control) Unmute(peer string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.muted, peer)
}

func (c *Control) IsMuted(peer string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	expiry, ok := c.muted[peer]
	return ok && c.clock.Now().Before(expiry)
}

// Suppressed reports whether inbound messages from peer must be discarded.
func (c *Control) Suppressed(peer string) bool {
	return c.IsBlocked(peer) || c.IsMuted(peer)
}

// Blocked returns the block set in lexical order.
func (c *Control) Blocked() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.blocked))
	for p := range c.blocked {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
