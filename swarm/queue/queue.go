// Package queue implements the pending delivery queue: outbound messages that could not be
// delivered are kept durably, per peer and in enqueue order, and replayed on demand.
package queue

import (
	"context"
	"errors"
	"fmt"
	"peerchat/datamodel/pending"
	"peerchat/net/frame"
	"peerchat/swarm/messenger"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	log "github.com/sirupsen/logrus"
)

// Deliverer sends one encoded message to a peer.
type Deliverer interface {
	Deliver(ctx context.Context, peer string, addr string, wire []byte) error

	// Check rejects messages that can never be delivered
	Check(wire []byte) error
}

type Outcome int

const (
	Delivered  Outcome = iota // Sent directly
	Queued                    // Direct send failed, message queued
	Backlogged                // Queued behind earlier undelivered messages
	Failed                    // Neither sent nor queued
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Queued:
		return "queued"
	case Backlogged:
		return "backlogged"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

type Queue struct {
	store     pending.Store
	deliverer Deliverer

	// mu protects the following fields
	mu      sync.Mutex
	entries map[string][]*pending.Message // In-memory mirror of the store
	locks   map[string]*sync.Mutex        // Per-peer send locks

	sg singleflight.Group
}

// New creates a queue and reconstitutes its in-memory view from store.
func New(store pending.Store, deliverer Deliverer) (*Queue, error) {
	q := &Queue{
		store:     store,
		deliverer: deliverer,
		locks:     make(map[string]*sync.Mutex),
	}
	all, err := q.LoadAll()
	if err != nil {
		return nil, err
	}
	for peer, msgs := range all {
		log.Infof("queue: %d pending message(s) for %s", len(msgs), peer)
	}
	return q, nil
}

func (q *Queue) peerLock(peer string) *sync.Mutex {
	q.mu.Lock()
	defer q.mu.Unlock()
	l, ok := q.locks[peer]
	if !ok {
		l = &sync.Mutex{}
		q.locks[peer] = l
	}
	return l
}

// LoadAll reloads the in-memory view from durable storage and returns a copy of it.
func (q *Queue) LoadAll() (map[string][]*pending.Message, error) {
	all, err := q.store.LoadAll()
	if err != nil {
		return nil, fmt.Errorf("load pending messages: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = all

	out := make(map[string][]*pending.Message, len(all))
	for peer, msgs := range all {
		out[peer] = append([]*pending.Message(nil), msgs...)
	}
	return out, nil
}

// Pending returns the queued messages of peer in enqueue order.
func (q *Queue) Pending(peer string) []*pending.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*pending.Message(nil), q.entries[peer]...)
}

// Peers returns the peers that have queued messages.
func (q *Queue) Peers() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []string
	for peer, msgs := range q.entries {
		if len(msgs) > 0 {
			out = append(out, peer)
		}
	}
	return out
}

// Enqueue durably stores a message for peer and returns its pending ID.
func (q *Queue) Enqueue(peer string, wire []byte) (string, error) {
	l := q.peerLock(peer)
	l.Lock()
	defer l.Unlock()

	return q.enqueue(peer, wire)
}

// Caller holds the peer lock
func (q *Queue) enqueue(peer string, wire []byte) (string, error) {
	if err := q.deliverer.Check(wire); err != nil {
		return "", err
	}
	msg, err := q.store.Put(peer, wire, time.Now())
	if err != nil {
		return "", fmt.Errorf("%w: enqueue for %s: %v", messenger.ErrStorage, peer, err)
	}

	q.mu.Lock()
	q.entries[peer] = append(q.entries[peer], msg)
	q.mu.Unlock()

	log.Debugf("queue: enqueued %s for %s", msg.ID, peer)
	return msg.ID, nil
}

// Caller holds the peer lock
func (q *Queue) remove(msg *pending.Message) error {
	if err := q.store.Delete(msg); err != nil {
		return fmt.Errorf("%w: remove %s for %s: %v", messenger.ErrStorage, msg.ID, msg.Peer, err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	msgs := q.entries[msg.Peer]
	for i, m := range msgs {
		if m.ID == msg.ID {
			q.entries[msg.Peer] = append(msgs[:i:i], msgs[i+1:]...)
			break
		}
	}
	if len(q.entries[msg.Peer]) == 0 {
		delete(q.entries, msg.Peer)
	}
	return nil
}

// Submit sends wire to peer unless earlier messages are still queued for it, in which case the
// message is queued behind them. A direct send that fails with an unreachable peer is queued.
func (q *Queue) Submit(ctx context.Context, peer string, addr string, wire []byte) (Outcome, error) {
	l := q.peerLock(peer)
	l.Lock()
	defer l.Unlock()

	if len(q.Pending(peer)) > 0 {
		if _, err := q.enqueue(peer, wire); err != nil {
			return Failed, err
		}
		return Backlogged, nil
	}

	err := q.deliverer.Deliver(ctx, peer, addr, wire)
	switch {
	case err == nil:
		return Delivered, nil
	case errors.Is(err, messenger.ErrUnreachable):
		if _, qerr := q.enqueue(peer, wire); qerr != nil {
			return Failed, qerr
		}
		return Queued, nil
	case errors.Is(err, messenger.ErrStorage):
		// Sent, only the history append failed
		return Delivered, err
	default:
		return Failed, err
	}
}

// Drain attempts delivery of every queued message of peer in enqueue order, stopping at the first
// failure. Concurrent drains of the same peer share one run. Returns the number of delivered messages.
func (q *Queue) Drain(ctx context.Context, peer string, addr string) (int, error) {
	v, err, _ := q.sg.Do(peer, func() (interface{}, error) {
		return q.drain(ctx, peer, addr)
	})
	n, _ := v.(int)
	return n, err
}

func (q *Queue) drain(ctx context.Context, peer string, addr string) (int, error) {
	l := q.peerLock(peer)
	l.Lock()
	defer l.Unlock()

	delivered := 0
	for {
		msgs := q.Pending(peer)
		if len(msgs) == 0 {
			break
		}
		head := msgs[0]

		err := q.deliverer.Deliver(ctx, peer, addr, head.Payload)
		if errors.Is(err, frame.ErrFrameTooLarge) {
			// Can never be sent, drop it rather than hold back everything behind it
			log.Errorf("queue: dropping %s for %s: %v", head.ID, peer, err)
			if rerr := q.remove(head); rerr != nil {
				return delivered, rerr
			}
			continue
		}
		if err != nil && !errors.Is(err, messenger.ErrStorage) {
			log.Infof("queue: drain of %s stopped after %d message(s), %d left: %v", peer, delivered, len(msgs), err)
			return delivered, fmt.Errorf("drain %s: %w", peer, err)
		}

		// The message went out, remove it before anything else so it is never sent twice
		if rerr := q.remove(head); rerr != nil {
			return delivered, rerr
		}
		delivered++
		if err != nil {
			return delivered, err
		}
	}

	if delivered > 0 {
		log.Infof("queue: delivered %d queued message(s) to %s", delivered, peer)
	}
	return delivered, nil
}
