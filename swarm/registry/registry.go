// Package registry implements the presence registry: an in-memory table of peers refreshed by
// heartbeats and expired lazily when listed.
package registry

import (
	"errors"
	"peerchat/datamodel/peer"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	log "github.com/sirupsen/logrus"
)

const DefaultTTL = 30 * time.Second

var (
	ErrUnknownPeer    = errors.New("unknown peer")
	ErrInvalidRequest = errors.New("invalid request")
)

type Registry struct {
	mu      sync.Mutex
	peers   map[string]*peer.Record
	ttl     time.Duration
	clock   clock.Clock
	metrics *Metrics
}

func New(ttl time.Duration, clk clock.Clock, metrics *Metrics) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clk == nil {
		clk = clock.New()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Registry{
		peers:   make(map[string]*peer.Record),
		ttl:     ttl,
		clock:   clk,
		metrics: metrics,
	}
}

// Register upserts a peer with a fresh heartbeat. Re-registration refreshes the address.
func (r *Registry) Register(id string, addr peer.Address) error {
	if id == "" || addr.IP == "" || addr.Port <= 0 || addr.Port > 65535 {
		return ErrInvalidRequest
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.peers[id]
	if !ok {
		rec = &peer.Record{ID: id, BlockedBy: make(map[string]struct{})}
		r.peers[id] = rec
	}
	rec.Address = addr
	rec.LastHeartbeat = r.clock.Now()

	r.metrics.Registrations.Inc()
	log.Debugf("registry: registered %s at %s", id, addr)
	return nil
}

// Heartbeat refreshes a live peer. Returns ErrUnknownPeer if the peer never registered or has expired,
// in which case the caller is expected to register again.
func (r *Registry) Heartbeat(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	rec, ok := r.peers[id]
	if ok && !rec.Live(now, r.ttl) {
		delete(r.peers, id)
		r.metrics.Evictions.Inc()
		ok = false
	}
	if !ok {
		r.metrics.Heartbeats.WithLabelValues("unknown").Inc()
		return ErrUnknownPeer
	}

	rec.LastHeartbeat = now
	r.metrics.Heartbeats.WithLabelValues("ok").Inc()
	return nil
}

// ListLive returns the peers whose last heartbeat is within TTL. Expired records are dropped.
func (r *Registry) ListLive() peer.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	live := make(peer.Snapshot, len(r.peers))
	for id, rec := range r.peers {
		if !rec.Live(now, r.ttl) {
			delete(r.peers, id)
			r.metrics.Evictions.Inc()
			continue
		}
		live[id] = rec.Address
	}

	r.metrics.LivePeers.Set(float64(len(live)))
	return live
}

// Block records an advisory annotation on the blockee. Listings are not affected.
func (r *Registry) Block(blocker, blockee string) error {
	if blocker == "" || blockee == "" {
		return ErrInvalidRequest
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.peers[blockee]; ok {
		rec.BlockedBy[blocker] = struct{}{}
	}
	r.metrics.Blocks.Inc()
	log.Infof("registry: %s blocked %s", blocker, blockee)
	return nil
}

// BlockedBy returns the peers that reported blocking id.
func (r *Registry) BlockedBy(id string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.peers[id]
	if !ok {
		return nil
	}
	var out []string
	for b := range rec.BlockedBy {
		out = append(out, b)
	}
	return out
}

// Sweep removes expired records and returns how many were dropped.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	n := 0
	for id, rec := range r.peers {
		if !rec.Live(now, r.ttl) {
			delete(r.peers, id)
			n++
		}
	}
	if n > 0 {
		r.metrics.Evictions.Add(float64(n))
		log.Debugf("registry: swept %d expired peers", n)
	}
	return n
}
