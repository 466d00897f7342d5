package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"peerchat/config"
	"peerchat/datamodel/message"
	"peerchat/datastore/leveldb"
	"peerchat/datastore/sqlite"
	"peerchat/helper/timer"
	"peerchat/swarm/access"
	"peerchat/swarm/messenger"
	"peerchat/swarm/presence"
	"peerchat/swarm/queue"
	"peerchat/swarm/registry"
	"sync"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	log "github.com/sirupsen/logrus"
)

// Node ties together the stores, presence tracking and message delivery of one local peer.
type Node struct {
	Self string
	Port int // Advertised to the registry

	// Storage
	History *sqlite.HistoryStore
	Pending *leveldb.PendingIndex

	// Delivery
	Access    *access.Control
	Messenger *messenger.Messenger
	Queue     *queue.Queue

	// Presence
	Registry *registry.Client
	Presence *presence.Client

	listener net.Listener
	notices  chan Notice
	fatal    chan error
	drains   sync.WaitGroup // Join-triggered drains in flight

	mu      sync.Mutex
	session string // Peer of the active interactive session
}

// New opens the per-peer stores and wires the components. The listener accepts inbound messages.
func New(cfg *config.Config, listener net.Listener, clk clock.Clock) (*Node, error) {
	if err := cfg.ValidatePeer(); err != nil {
		return nil, err
	}

	port := cfg.Network.AdvertisedPort
	if port == 0 {
		tcpAddr, ok := listener.Addr().(*net.TCPAddr)
		if !ok {
			return nil, fmt.Errorf("cannot derive a port from listener address %s", listener.Addr())
		}
		port = tcpAddr.Port
	}

	n := &Node{
		Self:     cfg.Node.PeerID,
		Port:     port,
		listener: listener,
		notices:  make(chan Notice, 64),
		fatal:    make(chan error, 1),
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DataStore.HistoryPath), 0700); err != nil {
		return nil, err
	}
	history, err := sqlite.NewHistoryStore(cfg.DataStore.HistoryPath)
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}
	n.History = history

	pending, err := leveldb.NewPendingIndex(cfg.DataStore.PendingPath)
	if err != nil {
		history.Close()
		return nil, fmt.Errorf("open pending store: %w", err)
	}
	n.Pending = pending

	n.Access = access.New(clk)
	n.Messenger = messenger.New(n.Self, n.Access, n.History, messenger.Options{
		DialTimeout:    cfg.Network.DialTimeout.Std(),
		IOTimeout:      cfg.Network.IOTimeout.Std(),
		MaxFrameSize:   cfg.Network.MaxFrameSize,
		Transform:      messenger.NewTransform(cfg.Transform.Passphrase),
		Handler:        n.handleInbound,
		OnStorageError: n.fail,
	})

	n.Queue, err = queue.New(n.Pending, n.Messenger)
	if err != nil {
		n.Close()
		return nil, err
	}

	n.Registry = registry.NewClient(cfg.Registry.URL, cfg.Presence.RequestTimeout.Std())
	n.Presence = presence.New(n.Registry, presence.Options{
		Self:         n.Self,
		Port:         n.Port,
		PollInterval: cfg.Presence.PollInterval.Std(),
		PollCeiling:  cfg.Presence.PollCeiling.Std(),
		Heartbeat: timer.Interval{
			Duration: cfg.Presence.HeartbeatInterval.Std(),
			Jitter:   cfg.Presence.HeartbeatJitter.Std(),
		},
		RequestTimeout: cfg.Presence.RequestTimeout.Std(),
	})

	log.Infof("I am %s, listening on %s (advertised port %d)", n.Self, listener.Addr(), n.Port)

	return n, nil
}

// Notices returns the channel of user-facing notifications.
func (n *Node) Notices() <-chan Notice {
	return n.notices
}

func (n *Node) notify(ntc Notice) {
	select {
	case n.notices <- ntc:
	default:
		log.Warnf("Notice dropped, nobody is reading: %s", ntc)
	}
}

// fail records an unrecoverable local storage failure, which stops Run.
func (n *Node) fail(err error) {
	log.Errorf("Local storage failure: %v", err)
	select {
	case n.fatal <- err:
	default:
	}
}

func (n *Node) handleInbound(sender string, payload []byte) {
	n.notify(Notice{Kind: NoticeMessage, Peer: sender, Text: string(payload)})
}

// Conversation returns the recorded messages exchanged with peer.
func (n *Node) Conversation(peer string) ([]*message.Message, error) {
	return n.History.ListByPeer(peer)
}

// Close releases the stores.
func (n *Node) Close() error {
	var err error
	if n.History != nil {
		err = multierr.Append(err, n.History.Close())
	}
	if n.Pending != nil {
		err = multierr.Append(err, n.Pending.Close())
	}
	return err
}

// Run serves inbound messages, keeps presence up to date and replays queued messages to peers that
// join, until ctx is cancelled or a local storage failure occurs.
func (n *Node) Run(ctx context.Context) error {
	events := n.Presence.Subscribe(16)

	wg, cctx := errgroup.WithContext(ctx)

	wg.Go(func() error {
		return n.Messenger.Serve(cctx, n.listener)
	})

	wg.Go(func() error {
		return n.Presence.Run(cctx)
	})

	wg.Go(func() error {
		for {
			select {
			case <-cctx.Done():
				return cctx.Err()
			case ev := <-events:
				n.handlePresence(cctx, ev)
			}
		}
	})

	wg.Go(func() error {
		select {
		case <-cctx.Done():
			return cctx.Err()
		case err := <-n.fatal:
			return err
		}
	})

	err := wg.Wait()
	n.drains.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (n *Node) handlePresence(ctx context.Context, ev presence.Event) {
	switch ev.Kind {
	case presence.Joined:
		n.notify(Notice{Kind: NoticeJoined, Peer: ev.Peer})
		// Drains run off the event loop, the queue merges concurrent drains of one peer
		n.drains.Add(1)
		go func() {
			defer n.drains.Done()
			n.drain(ctx, ev.Peer)
		}()
	case presence.Left:
		n.notify(Notice{Kind: NoticeLeft, Peer: ev.Peer})
		if n.endSessionWith(ev.Peer) {
			n.notify(Notice{Kind: NoticeSessionEnded, Peer: ev.Peer})
		}
	}
}

// drain replays queued messages to peer if it is live.
func (n *Node) drain(ctx context.Context, peer string) {
	if len(n.Queue.Pending(peer)) == 0 {
		return
	}
	addr, ok := n.Presence.Lookup(peer)
	if !ok {
		return
	}
	delivered, err := n.Queue.Drain(ctx, peer, addr.String())
	if delivered > 0 {
		n.notify(Notice{Kind: NoticeDelivered, Peer: peer, Text: fmt.Sprintf("%d queued message(s) delivered", delivered)})
	}
	switch {
	case errors.Is(err, messenger.ErrStorage):
		n.fail(err)
	case err != nil:
		log.Infof("Queued messages for %s remain pending: %v", peer, err)
	}
}
