package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConfigSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peer.json")

	cfg := NewEmptyConfig(path)
	cfg.Node.PeerID = "alice"
	cfg.Presence.PollInterval = Duration(2 * time.Second)
	require.NoError(t, cfg.Save())

	loaded, err := NewConfigFromFile(path)
	require.NoError(t, err)
	require.Equal(t, "alice", loaded.Node.PeerID)
	require.Equal(t, 2*time.Second, loaded.Presence.PollInterval.Std())
	require.Equal(t, 30*time.Second, loaded.Registry.TTL.Std())
}

func TestValidatePeerScopesStores(t *testing.T) {
	cfg := NewEmptyConfig("")
	require.Error(t, cfg.ValidatePeer())

	cfg.Node.PeerID = "bob"
	require.NoError(t, cfg.ValidatePeer())
	require.Contains(t, cfg.DataStore.HistoryPath, "bob")
	require.Contains(t, cfg.DataStore.PendingPath, "bob")

	cfg.Presence.PollCeiling = Duration(time.Second)
	require.Error(t, cfg.ValidatePeer())
}

func TestDurationAcceptsNumbers(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalJSON([]byte(`1000000000`)))
	require.Equal(t, time.Second, d.Std())
	require.Error(t, d.UnmarshalJSON([]byte(`"soon"`)))
}
