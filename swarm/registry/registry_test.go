package registry

import (
	"peerchat/datamodel/peer"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() (*Registry, *clock.Mock) {
	clk := clock.NewMock()
	return New(30*time.Second, clk, nil), clk
}

func TestRegisterIsIdempotent(t *testing.T) {
	r, clk := newTestRegistry()

	require.NoError(t, r.Register("alice", peer.Address{IP: "127.0.0.1", Port: 9001}))
	clk.Add(10 * time.Second)
	require.NoError(t, r.Register("alice", peer.Address{IP: "127.0.0.1", Port: 9101}))

	live := r.ListLive()
	require.Len(t, live, 1)
	assert.Equal(t, 9101, live["alice"].Port)
}

func TestRegisterRejectsInvalid(t *testing.T) {
	r, _ := newTestRegistry()
	assert.ErrorIs(t, r.Register("", peer.Address{IP: "127.0.0.1", Port: 1}), ErrInvalidRequest)
	assert.ErrorIs(t, r.Register("a", peer.Address{IP: "127.0.0.1", Port: 0}), ErrInvalidRequest)
	assert.ErrorIs(t, r.Register("a", peer.Address{IP: "127.0.0.1", Port: 70000}), ErrInvalidRequest)
}

func TestListLiveHonoursTTL(t *testing.T) {
	r, clk := newTestRegistry()

	require.NoError(t, r.Register("alice", peer.Address{IP: "127.0.0.1", Port: 9001}))
	clk.Add(20 * time.Second)
	require.NoError(t, r.Register("bob", peer.Address{IP: "127.0.0.1", Port: 9002}))

	clk.Add(9 * time.Second) // alice at 29s, bob at 9s
	assert.Equal(t, []string{"alice", "bob"}, r.ListLive().IDs())

	clk.Add(time.Second) // alice at exactly 30s
	assert.Equal(t, []string{"bob"}, r.ListLive().IDs())

	require.NoError(t, r.Heartbeat("bob"))
	clk.Add(29 * time.Second)
	assert.Equal(t, []string{"bob"}, r.ListLive().IDs())
}

func TestHeartbeatUnknownAndExpired(t *testing.T) {
	r, clk := newTestRegistry()

	assert.ErrorIs(t, r.Heartbeat("ghost"), ErrUnknownPeer)

	require.NoError(t, r.Register("alice", peer.Address{IP: "127.0.0.1", Port: 9001}))
	require.NoError(t, r.Heartbeat("alice"))

	// Expired but not yet evicted by a listing
	clk.Add(31 * time.Second)
	assert.ErrorIs(t, r.Heartbeat("alice"), ErrUnknownPeer)
	assert.Empty(t, r.ListLive())

	require.NoError(t, r.Register("alice", peer.Address{IP: "127.0.0.1", Port: 9001}))
	require.NoError(t, r.Heartbeat("alice"))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.metrics.Heartbeats.WithLabelValues("unknown")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.metrics.Heartbeats.WithLabelValues("ok")))
}

func TestBlockIsAdvisory(t *testing.T) {
	r, _ := newTestRegistry()
	require.NoError(t, r.Register("bob", peer.Address{IP: "127.0.0.1", Port: 9002}))
	require.NoError(t, r.Block("alice", "bob"))
	require.NoError(t, r.Block("alice", "nobody"))
	assert.ErrorIs(t, r.Block("", "bob"), ErrInvalidRequest)

	assert.Equal(t, []string{"alice"}, r.BlockedBy("bob"))
	assert.Contains(t, r.ListLive(), "bob")
}

func TestSweep(t *testing.T) {
	r, clk := newTestRegistry()
	require.NoError(t, r.Register("alice", peer.Address{IP: "127.0.0.1", Port: 9001}))
	require.NoError(t, r.Register("bob", peer.Address{IP: "127.0.0.1", Port: 9002}))
	clk.Add(15 * time.Second)
	require.NoError(t, r.Heartbeat("bob"))
	clk.Add(20 * time.Second)

	assert.Equal(t, 1, r.Sweep())
	assert.Equal(t, 0, r.Sweep())
	assert.Equal(t, []string{"bob"}, r.ListLive().IDs())
}
