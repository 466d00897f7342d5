package node

import (
	"context"
	"errors"
	"fmt"
	"peerchat/swarm/messenger"
	"peerchat/swarm/queue"
	"time"

	log "github.com/sirupsen/logrus"
)

type NoticeKind int

const (
	NoticeMessage NoticeKind = iota
	NoticeJoined
	NoticeLeft
	NoticeSessionEnded
	NoticeQueued
	NoticeDelivered
)

// Notice is a user-facing notification.
type Notice struct {
	Kind NoticeKind
	Peer string
	Text string
}

func (n Notice) String() string {
	switch n.Kind {
	case NoticeMessage:
		return fmt.Sprintf("%s: %s", n.Peer, n.Text)
	case NoticeJoined:
		return fmt.Sprintf("%s is online", n.Peer)
	case NoticeLeft:
		return fmt.Sprintf("%s went offline", n.Peer)
	case NoticeSessionEnded:
		return fmt.Sprintf("chat with %s ended, peer went offline", n.Peer)
	case NoticeQueued:
		return fmt.Sprintf("could not reach %s, message queued", n.Peer)
	case NoticeDelivered:
		return fmt.Sprintf("%s: %s", n.Peer, n.Text)
	}
	return n.Text
}

// Session returns the peer of the active session, or an empty string.
func (n *Node) Session() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.session
}

// StartSession makes peer the active conversation and replays its queued messages if it is live.
// Returns whether the peer is currently live.
func (n *Node) StartSession(ctx context.Context, peer string) bool {
	n.mu.Lock()
	n.session = peer
	n.mu.Unlock()

	if _, ok := n.Presence.Lookup(peer); !ok {
		return false
	}
	n.drain(ctx, peer)
	return true
}

// EndSession leaves the active conversation.
func (n *Node) EndSession() {
	n.mu.Lock()
	n.session = ""
	n.mu.Unlock()
}

func (n *Node) endSessionWith(peer string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.session != peer {
		return false
	}
	n.session = ""
	return true
}

// SendOrQueue sends text to peer, queueing it when the peer cannot be reached right now.
// Blocked peers are refused with messenger.ErrBlocked and messages that do not fit in a frame with
// frame.ErrFrameTooLarge, neither is queued. A messenger.ErrStorage error is unrecoverable.
func (n *Node) SendOrQueue(ctx context.Context, peer string, text string) (queue.Outcome, error) {
	if n.Access.IsBlocked(peer) {
		return queue.Failed, messenger.ErrBlocked
	}

	wire, err := n.Messenger.Encode([]byte(text))
	if err != nil {
		return queue.Failed, err
	}

	addr, live := n.Presence.Lookup(peer)
	if !live {
		if _, err := n.Queue.Enqueue(peer, wire); err != nil {
			if errors.Is(err, messenger.ErrStorage) {
				n.fail(err)
			}
			return queue.Failed, err
		}
		n.notify(Notice{Kind: NoticeQueued, Peer: peer})
		return queue.Queued, nil
	}

	outcome, err := n.Queue.Submit(ctx, peer, addr.String(), wire)
	switch {
	case errors.Is(err, messenger.ErrStorage):
		n.fail(err)
		return outcome, err
	case err != nil:
		return outcome, err
	}

	switch outcome {
	case queue.Queued:
		n.notify(Notice{Kind: NoticeQueued, Peer: peer})
	case queue.Backlogged:
		n.drain(ctx, peer)
		if len(n.Queue.Pending(peer)) > 0 {
			n.notify(Notice{Kind: NoticeQueued, Peer: peer})
		}
	}
	return outcome, nil
}

// Block stops all traffic with peer and tells the registry about it.
func (n *Node) Block(ctx context.Context, peer string) {
	n.Access.Block(peer)
	if err := n.Registry.Block(ctx, n.Self, peer); err != nil {
		log.Warnf("Failed to report block of %s to the registry: %v", peer, err)
	}
}

func (n *Node) Unblock(peer string) {
	n.Access.Unblock(peer)
}

func (n *Node) Mute(peer string, d time.Duration) {
	n.Access.Mute(peer, d)
}

func (n *Node) Unmute(peer string) {
	n.Access.Unmute(peer)
}
