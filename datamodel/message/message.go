package message

import (
	"time"
)

type Direction string

const (
	Outbound Direction = "out"
	Inbound  Direction = "in"
)

// Message is one entry of the local history. Messages are appended once and never changed.
type Message struct {
	ID        int64
	Peer      string // Counterpart peer
	Direction Direction
	Timestamp time.Time
	Payload   []byte
}

// HistoryStore defines the append-only record of sent and received messages.
type HistoryStore interface {
	// Append records a message exchanged with peer and returns its local, monotonic ID.
	Append(peer string, dir Direction, payload []byte) (int64, error)

	// ListByPeer returns all messages exchanged with peer in insertion order.
	ListByPeer(peer string) ([]*Message, error)

	// Close releases any resources held by the store.
	Close() error
}
