package pending

import (
	"time"
)

// Message is an outbound message that failed immediate delivery.
type Message struct {
	ID         string    `cbor:"1,keyasint,omitempty"` // Durable unique ID
	Peer       string    `cbor:"2,keyasint,omitempty"` // Destination peer
	Payload    []byte    `cbor:"3,keyasint,omitempty"` // Wire representation (after transform)
	EnqueuedAt time.Time `cbor:"4,keyasint,omitempty"`
	Sequence   uint64    `cbor:"5,keyasint,omitempty"` // Local enqueue order
}

// Store defines the durable storage behind the pending delivery queue.
type Store interface {
	// Put durably stores a new entry for peer and returns it with ID and sequence assigned.
	Put(peer string, payload []byte, enqueuedAt time.Time) (*Message, error)

	// Delete durably removes an entry.
	Delete(msg *Message) error

	// ListByPeer returns the entries of peer in enqueue order.
	ListByPeer(peer string) ([]*Message, error)

	// LoadAll returns every entry grouped by peer, each group in enqueue order.
	LoadAll() (map[string][]*Message, error)

	// Close releases any resources held by the store.
	Close() error
}
