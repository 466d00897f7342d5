package commands

import (
	"bytes"
	"context"
	"net"
	"net/http/httptest"
	"path/filepath"
	"peerchat/config"
	"peerchat/swarm/node"
	"peerchat/swarm/registry"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

func newTestConfig(t *testing.T, id string) *config.Config {
	dir := t.TempDir()
	cfg := config.NewEmptyConfig(filepath.Join(dir, "config.json"))
	cfg.Node.PeerID = id
	cfg.DataStore.HistoryPath = filepath.Join(dir, "history.db")
	cfg.DataStore.PendingPath = filepath.Join(dir, "pending")
	return cfg
}

func newTestConsole(t *testing.T) (*console, *bytes.Buffer, *config.Config) {
	hs := httptest.NewServer(registry.NewServer(registry.New(0, nil, nil), nil).Handler())
	t.Cleanup(hs.Close)

	cfg := newTestConfig(t, "alice")
	cfg.Registry.URL = hs.URL

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	n, err := node.New(cfg, l, clock.New())
	require.NoError(t, err)
	t.Cleanup(func() { n.Close() })

	out := &bytes.Buffer{}
	return &console{node: n, out: out}, out, cfg
}

func TestConsoleCommands(t *testing.T) {
	ctx := context.Background()
	c, out, _ := newTestConsole(t)

	require.False(t, c.handle(ctx, "hello"))
	require.Contains(t, out.String(), "no active chat")

	out.Reset()
	require.False(t, c.handle(ctx, "/chat bob"))
	require.Contains(t, out.String(), "bob is offline")
	require.Equal(t, "bob", c.node.Session())

	require.False(t, c.handle(ctx, "are you there?"))
	require.Len(t, c.node.Queue.Pending("bob"), 1)

	require.False(t, c.handle(ctx, "/block bob"))
	require.True(t, c.node.Access.IsBlocked("bob"))
	require.Equal(t, "", c.node.Session())

	out.Reset()
	require.False(t, c.handle(ctx, "/blocked"))
	require.Equal(t, "bob\n", out.String())

	out.Reset()
	require.False(t, c.handle(ctx, "/queued"))
	require.Equal(t, "bob\t1 queued (offline)\n", out.String())

	out.Reset()
	c.send(ctx, "bob", "still there?")
	require.Contains(t, out.String(), "bob is blocked")
	require.Len(t, c.node.Queue.Pending("bob"), 1)

	require.False(t, c.handle(ctx, "/unblock bob"))
	require.False(t, c.node.Access.IsBlocked("bob"))

	out.Reset()
	require.False(t, c.handle(ctx, "/blocked"))
	require.Contains(t, out.String(), "nobody is blocked")

	require.False(t, c.handle(ctx, "/mute carol 60"))
	require.True(t, c.node.Access.IsMuted("carol"))
	require.False(t, c.handle(ctx, "/unmute carol"))
	require.False(t, c.node.Access.IsMuted("carol"))

	out.Reset()
	require.False(t, c.handle(ctx, "/mute carol soon"))
	require.Contains(t, out.String(), "invalid duration")

	out.Reset()
	require.False(t, c.handle(ctx, "/list"))
	require.Contains(t, out.String(), "nobody is online")

	require.True(t, c.handle(ctx, "/exit"))
}

func TestRunPendingAndHistory(t *testing.T) {
	ctx := context.Background()
	c, _, cfg := newTestConsole(t)

	require.False(t, c.handle(ctx, "/chat bob"))
	require.False(t, c.handle(ctx, "first"))
	require.False(t, c.handle(ctx, "second"))

	// The stores are single-owner, release them before the subcommands reopen them
	require.NoError(t, c.node.Close())

	out := &bytes.Buffer{}
	RunPending(ctx, cfg, out)
	require.Contains(t, out.String(), "last sequence: 2")
	require.Contains(t, out.String(), "bob: 2 pending")

	out.Reset()
	RunHistory(ctx, cfg, "bob", out)
	require.Empty(t, out.String())
}
