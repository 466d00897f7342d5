// Package messenger delivers single messages over direct TCP connections and accepts
// inbound ones, one frame per connection.
package messenger

import (
	"context"
	"errors"
	"fmt"
	"net"
	"peerchat/datamodel/message"
	"peerchat/net/frame"
	"peerchat/swarm/access"
	"time"

	log "github.com/sirupsen/logrus"
)

var (
	ErrBlocked     = errors.New("peer is blocked")
	ErrUnreachable = errors.New("peer is unreachable")
	ErrStorage     = errors.New("local storage failure")
)

// Handler receives decoded inbound messages for display.
type Handler func(sender string, payload []byte)

type Options struct {
	DialTimeout  time.Duration
	IOTimeout    time.Duration
	MaxFrameSize uint32
	Transform    Transform
	Handler      Handler

	// OnStorageError is called when an inbound message cannot be recorded
	OnStorageError func(error)
}

type Messenger struct {
	self      string
	access    *access.Control
	history   message.HistoryStore
	transform Transform
	handler   Handler
	onStorage func(error)

	dialTimeout time.Duration
	ioTimeout   time.Duration
	maxFrame    uint32
}

func New(self string, ac *access.Control, history message.HistoryStore, opts Options) *Messenger {
	m := &Messenger{
		self:        self,
		access:      ac,
		history:     history,
		transform:   opts.Transform,
		handler:     opts.Handler,
		onStorage:   opts.OnStorageError,
		dialTimeout: opts.DialTimeout,
		ioTimeout:   opts.IOTimeout,
		maxFrame:    opts.MaxFrameSize,
	}
	if m.transform == nil {
		m.transform = Identity{}
	}
	if m.dialTimeout <= 0 {
		m.dialTimeout = 5 * time.Second
	}
	if m.ioTimeout <= 0 {
		m.ioTimeout = 5 * time.Second
	}
	if m.maxFrame == 0 {
		m.maxFrame = frame.DefaultMaxSize
	}
	return m
}

// Encode applies the transform to an outgoing payload. Returns frame.ErrFrameTooLarge if the
// result cannot be sent in one frame.
func (m *Messenger) Encode(payload []byte) ([]byte, error) {
	wire, err := m.transform.Encode(payload)
	if err != nil {
		return nil, err
	}
	if err := m.Check(wire); err != nil {
		return nil, err
	}
	return wire, nil
}

// Check reports frame.ErrFrameTooLarge if wire does not fit in one frame.
func (m *Messenger) Check(wire []byte) error {
	return frame.Check(&frame.Envelope{Sender: m.self, Payload: wire}, m.maxFrame)
}

// Send encodes payload and delivers it to peer at addr.
func (m *Messenger) Send(ctx context.Context, peer string, addr string, payload []byte) error {
	if m.access.IsBlocked(peer) {
		return ErrBlocked
	}
	wire, err := m.Encode(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	return m.Deliver(ctx, peer, addr, wire)
}

// Deliver sends an already encoded payload over a new connection and records it as outbound on success.
// Returns ErrBlocked or frame.ErrFrameTooLarge without any network I/O, and ErrUnreachable on any I/O failure.
func (m *Messenger) Deliver(ctx context.Context, peer string, addr string, wire []byte) error {
	if m.access.IsBlocked(peer) {
		return ErrBlocked
	}
	if err := m.Check(wire); err != nil {
		return err
	}

	if err := m.write(ctx, addr, wire); err != nil {
		log.Debugf("messenger: delivery to %s @ %s failed: %v", peer, addr, err)
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	if _, err := m.history.Append(peer, message.Outbound, wire); err != nil {
		return fmt.Errorf("%w: record outbound: %v", ErrStorage, err)
	}
	return nil
}

func (m *Messenger) write(ctx context.Context, addr string, wire []byte) error {
	d := &net.Dialer{Timeout: m.dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.SetWriteDeadline(time.Now().Add(m.ioTimeout)); err != nil {
		return err
	}
	return frame.Write(conn, &frame.Envelope{Sender: m.self, Payload: wire}, m.maxFrame)
}

// Serve accepts inbound connections on l until ctx is cancelled. Each connection carries exactly one frame.
func (m *Messenger) Serve(ctx context.Context, l net.Listener) error {
	go func() {
		<-ctx.Done()
		log.Infof("messenger: context cancelled, closing listener %s", l.Addr())
		if err := l.Close(); err != nil {
			log.Warnf("messenger: error closing listener %s: %v", l.Addr(), err)
		}
	}()

	var tempDelay time.Duration // how long to sleep on accept failure
	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if max := 1 * time.Second; tempDelay > max {
					tempDelay = max
				}
				log.Warnf("messenger: accept error on %s: %v; retrying in %v", l.Addr(), err, tempDelay)
				time.Sleep(tempDelay)
				continue
			}
			log.Errorf("messenger: critical accept error on %s: %v", l.Addr(), err)
			return err
		}

		tempDelay = 0
		go m.serveConn(conn)
	}
}

func (m *Messenger) serveConn(conn net.Conn) {
	defer conn.Close()

	if err := conn.SetReadDeadline(time.Now().Add(m.ioTimeout)); err != nil {
		return
	}

	env, err := frame.Read(conn, m.maxFrame)
	if err != nil {
		log.Warnf("messenger: dropping connection from %s: %v", conn.RemoteAddr(), err)
		return
	}

	if err := m.receive(env); err != nil {
		log.Errorf("messenger: %v", err)
		if m.onStorage != nil {
			m.onStorage(err)
		}
	}
}

// receive applies the inbound policy to one decoded frame.
func (m *Messenger) receive(env *frame.Envelope) error {
	// The sender is not told that it was blocked or muted
	if m.access.Suppressed(env.Sender) {
		log.Debugf("messenger: discarding message from suppressed peer %s", env.Sender)
		return nil
	}

	payload, err := m.transform.Decode(env.Payload)
	if err != nil {
		log.Warnf("messenger: dropping undecodable message from %s: %v", env.Sender, err)
		return nil
	}

	if _, err := m.history.Append(env.Sender, message.Inbound, env.Payload); err != nil {
		return fmt.Errorf("%w: record inbound from %s: %v", ErrStorage, env.Sender, err)
	}

	if m.handler != nil {
		m.handler(env.Sender, payload)
	}
	return nil
}

// Decode removes the transform from a stored payload.
func (m *Messenger) Decode(wire []byte) ([]byte, error) {
	return m.transform.Decode(wire)
}
