// Package presence keeps a local view of the live peers known to the registry and keeps the
// local peer registered.
package presence

import (
	"context"
	"errors"
	"fmt"
	"peerchat/datamodel/peer"
	"peerchat/helper/timer"
	"peerchat/swarm/registry"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	log "github.com/sirupsen/logrus"
)

// Registry is the subset of the registry client used by the presence client.
type Registry interface {
	Register(ctx context.Context, id string, port int) error
	KeepAlive(ctx context.Context, id string) error
	ListLive(ctx context.Context) (peer.Snapshot, error)
}

type EventKind int

const (
	Joined EventKind = iota
	Left
)

func (k EventKind) String() string {
	if k == Joined {
		return "joined"
	}
	return "left"
}

type Event struct {
	Kind    EventKind
	Peer    string
	Address peer.Address // Last known address
}

type Options struct {
	Self string
	Port int // Advertised listen port

	PollInterval   time.Duration
	PollCeiling    time.Duration
	Heartbeat      timer.Interval
	RequestTimeout time.Duration
}

type Client struct {
	registry Registry
	opts     Options

	snapshot atomic.Pointer[peer.Snapshot]

	subMu sync.Mutex
	subs  []chan Event
}

func New(r Registry, opts Options) *Client {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.PollCeiling < opts.PollInterval {
		opts.PollCeiling = opts.PollInterval
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 5 * time.Second
	}

	c := &Client{
		registry: r,
		opts:     opts,
	}
	empty := peer.Snapshot{}
	c.snapshot.Store(&empty)
	return c
}

// Snapshot returns the current view of live peers. The returned map must not be modified.
func (c *Client) Snapshot() peer.Snapshot {
	return *c.snapshot.Load()
}

// Lookup returns the address of a live peer.
func (c *Client) Lookup(id string) (peer.Address, bool) {
	addr, ok := c.Snapshot()[id]
	return addr, ok
}

// Subscribe returns a channel receiving join and leave events. Events are delivered in the order
// they are detected; a slow subscriber delays polling.
func (c *Client) Subscribe(buffer int) <-chan Event {
	ch := make(chan Event, buffer)
	c.subMu.Lock()
	c.subs = append(c.subs, ch)
	c.subMu.Unlock()
	return ch
}

func (c *Client) emit(ctx context.Context, ev Event) error {
	c.subMu.Lock()
	subs := append([]chan Event(nil), c.subs...)
	c.subMu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Poll fetches the live peers once, publishes the new snapshot and emits join and leave events.
// On failure the previous snapshot is kept.
func (c *Client) Poll(ctx context.Context) (bool, error) {
	rctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	live, err := c.registry.ListLive(rctx)
	cancel()
	if err != nil {
		return false, fmt.Errorf("poll registry: %w", err)
	}

	next := live.Without(c.opts.Self)
	prev := c.Snapshot()
	joined, left := peer.Diff(prev, next)

	c.snapshot.Store(&next)

	for _, id := range joined {
		log.Infof("presence: %s joined at %s", id, next[id])
		if err := c.emit(ctx, Event{Kind: Joined, Peer: id, Address: next[id]}); err != nil {
			return true, err
		}
	}
	for _, id := range left {
		log.Infof("presence: %s left", id)
		if err := c.emit(ctx, Event{Kind: Left, Peer: id, Address: prev[id]}); err != nil {
			return true, err
		}
	}

	return len(joined) > 0 || len(left) > 0, nil
}

// Register announces the local peer to the registry.
func (c *Client) Register(ctx context.Context) error {
	rctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()

	if err := c.registry.Register(rctx, c.opts.Self, c.opts.Port); err != nil {
		return err
	}
	log.Infof("presence: registered %s on port %d", c.opts.Self, c.opts.Port)
	return nil
}

// Heartbeat refreshes the local registration, registering again if the registry has forgotten us.
func (c *Client) Heartbeat(ctx context.Context) error {
	rctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	err := c.registry.KeepAlive(rctx, c.opts.Self)
	cancel()

	if errors.Is(err, registry.ErrUnknownPeer) {
		log.Warnf("presence: registry does not know %s, registering again", c.opts.Self)
		return c.Register(ctx)
	}
	return err
}

// Run registers the local peer and runs the poll and heartbeat loops until ctx is cancelled.
// Registry failures are logged and retried, they never stop the loops.
func (c *Client) Run(ctx context.Context) error {
	if err := c.Register(ctx); err != nil {
		log.Warnf("presence: initial registration failed: %v", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		b := &timer.Backoff{Base: c.opts.PollInterval, Ceiling: c.opts.PollCeiling}
		return timer.RunWithBackoff(ctx, b, c.Poll)
	})

	g.Go(func() error {
		return timer.RunWithTicker(ctx, &c.opts.Heartbeat, func(ctx context.Context) error {
			if err := c.Heartbeat(ctx); err != nil && ctx.Err() == nil {
				log.Warnf("presence: heartbeat failed: %v", err)
			}
			return nil
		})
	})

	return g.Wait()
}
