package messenger

import (
	"context"
	"encoding/binary"
	"net"
	"path/filepath"
	"peerchat/datamodel/message"
	"peerchat/datastore/sqlite"
	"peerchat/net/frame"
	"peerchat/swarm/access"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type inbox struct {
	mu   sync.Mutex
	msgs []string
}

func (i *inbox) handle(sender string, payload []byte) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.msgs = append(i.msgs, sender+"|"+string(payload))
}

func (i *inbox) list() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]string(nil), i.msgs...)
}

type testPeer struct {
	id      string
	addr    string
	access  *access.Control
	history *sqlite.HistoryStore
	m       *Messenger
	inbox   *inbox
}

func newTestPeer(t *testing.T, id string, transform Transform) *testPeer {
	h, err := sqlite.NewHistoryStore(filepath.Join(t.TempDir(), id+".db"))
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })

	p := &testPeer{id: id, access: access.New(nil), history: h, inbox: &inbox{}}
	p.m = New(id, p.access, h, Options{
		DialTimeout: time.Second,
		IOTimeout:   time.Second,
		Transform:   transform,
		Handler:     p.inbox.handle,
	})

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	p.addr = l.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go p.m.Serve(ctx, l)
	return p
}

func (p *testPeer) historyWith(t *testing.T, peer string) []*message.Message {
	msgs, err := p.history.ListByPeer(peer)
	require.NoError(t, err)
	return msgs
}

func TestSendDelivers(t *testing.T) {
	a := newTestPeer(t, "alice", nil)
	b := newTestPeer(t, "bob", nil)

	require.NoError(t, a.m.Send(context.Background(), "bob", b.addr, []byte("hello: world")))

	require.Eventually(t, func() bool { return len(b.inbox.list()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"alice|hello: world"}, b.inbox.list())

	out := a.historyWith(t, "bob")
	require.Len(t, out, 1)
	assert.Equal(t, message.Outbound, out[0].Direction)

	in := b.historyWith(t, "alice")
	require.Len(t, in, 1)
	assert.Equal(t, message.Inbound, in[0].Direction)
	assert.Equal(t, "hello: world", string(in[0].Payload))
}

func TestSendUnreachable(t *testing.T) {
	a := newTestPeer(t, "alice", nil)

	// Grab a free port and release it so nothing listens there
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	l.Close()

	err = a.m.Send(context.Background(), "bob", addr, []byte("hello"))
	require.ErrorIs(t, err, ErrUnreachable)
	assert.Empty(t, a.historyWith(t, "bob"))
}

func TestSendToBlockedPeerSkipsNetwork(t *testing.T) {
	a := newTestPeer(t, "alice", nil)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	var accepted atomic.Int32
	go func() {
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			accepted.Add(1)
			c.Close()
		}
	}()

	a.access.Block("bob")
	err = a.m.Send(context.Background(), "bob", l.Addr().String(), []byte("hello"))
	require.ErrorIs(t, err, ErrBlocked)
	require.ErrorIs(t, a.m.Deliver(context.Background(), "bob", l.Addr().String(), []byte("x")), ErrBlocked)

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, accepted.Load())
	assert.Empty(t, a.historyWith(t, "bob"))
}

func TestOversizedMessageSkipsNetwork(t *testing.T) {
	h, err := sqlite.NewHistoryStore(filepath.Join(t.TempDir(), "alice.db"))
	require.NoError(t, err)
	defer h.Close()
	m := New("alice", access.New(nil), h, Options{MaxFrameSize: 64})

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	var accepted atomic.Int32
	go func() {
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			accepted.Add(1)
			c.Close()
		}
	}()

	big := make([]byte, 200)
	_, err = m.Encode(big)
	require.ErrorIs(t, err, frame.ErrFrameTooLarge)
	require.ErrorIs(t, m.Deliver(context.Background(), "bob", l.Addr().String(), big), frame.ErrFrameTooLarge)
	require.NotErrorIs(t, m.Deliver(context.Background(), "bob", l.Addr().String(), big), ErrUnreachable)

	wire, err := m.Encode([]byte("small"))
	require.NoError(t, err)
	require.NoError(t, m.Deliver(context.Background(), "bob", l.Addr().String(), wire))

	require.Eventually(t, func() bool { return accepted.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	msgs, err := h.ListByPeer("bob")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}

func TestInboundFromMutedOrBlockedIsDiscarded(t *testing.T) {
	a := newTestPeer(t, "alice", nil)
	b := newTestPeer(t, "bob", nil)
	c := newTestPeer(t, "carol", nil)

	b.access.Mute("alice", time.Minute)
	b.access.Block("carol")

	require.NoError(t, a.m.Send(context.Background(), "bob", b.addr, []byte("muted")))
	require.NoError(t, c.m.Send(context.Background(), "bob", b.addr, []byte("blocked")))

	// Connections are served independently, so watch the suppressed senders for a while
	d := newTestPeer(t, "dave", nil)
	require.NoError(t, d.m.Send(context.Background(), "bob", b.addr, []byte("visible")))
	require.Eventually(t, func() bool { return len(b.historyWith(t, "dave")) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Never(t, func() bool {
		return len(b.historyWith(t, "alice")) > 0 || len(b.historyWith(t, "carol")) > 0
	}, 300*time.Millisecond, 10*time.Millisecond)

	assert.Equal(t, []string{"dave|visible"}, b.inbox.list())
}

func TestMalformedFrameDoesNotStopListener(t *testing.T) {
	b := newTestPeer(t, "bob", nil)

	conn, err := net.Dial("tcp", b.addr)
	require.NoError(t, err)
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, 0xffffffff)
	_, err = conn.Write(header)
	require.NoError(t, err)
	conn.Close()

	conn, err = net.Dial("tcp", b.addr)
	require.NoError(t, err)
	_, err = conn.Write([]byte("alice:hello"))
	require.NoError(t, err)
	conn.Close()

	a := newTestPeer(t, "alice", nil)
	require.NoError(t, a.m.Send(context.Background(), "bob", b.addr, []byte("still here")))
	require.Eventually(t, func() bool { return len(b.inbox.list()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"alice|still here"}, b.inbox.list())
}

func TestTransformIsAppliedAtBoundary(t *testing.T) {
	a := newTestPeer(t, "alice", NewSecretBox("shared secret"))
	b := newTestPeer(t, "bob", NewSecretBox("shared secret"))
	c := newTestPeer(t, "carol", NewSecretBox("other secret"))

	require.NoError(t, a.m.Send(context.Background(), "bob", b.addr, []byte("sealed")))
	require.Eventually(t, func() bool { return len(b.inbox.list()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"alice|sealed"}, b.inbox.list())

	// History keeps the encoded form
	in := b.historyWith(t, "alice")
	require.Len(t, in, 1)
	assert.NotEqual(t, "sealed", string(in[0].Payload))
	plain, err := b.m.Decode(in[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, "sealed", string(plain))

	// Undecodable payloads are dropped
	require.NoError(t, c.m.Send(context.Background(), "bob", b.addr, []byte("wrong key")))
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, b.historyWith(t, "carol"))
	assert.Len(t, b.inbox.list(), 1)
}

func TestSecretBoxRejectsShortInput(t *testing.T) {
	s := NewSecretBox("k")
	_, err := s.Decode([]byte("short"))
	require.ErrorIs(t, err, ErrDecode)

	_, ok := NewTransform("").(Identity)
	assert.True(t, ok)
}
