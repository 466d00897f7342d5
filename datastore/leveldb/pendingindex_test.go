package leveldb

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPendingIndexOrderAndDelete(t *testing.T) {
	idx, err := NewPendingIndex(filepath.Join(t.TempDir(), "pending"))
	require.NoError(t, err)
	defer idx.Close()

	var ids []string
	for i := 0; i < 3; i++ {
		msg, err := idx.Put("bob", []byte(fmt.Sprintf("m%d", i)), time.Now())
		require.NoError(t, err)
		ids = append(ids, msg.ID)
	}
	_, err = idx.Put("bo", []byte("other"), time.Now())
	require.NoError(t, err)

	list, err := idx.ListByPeer("bob")
	require.NoError(t, err)
	require.Len(t, list, 3)
	for i, msg := range list {
		require.Equal(t, ids[i], msg.ID)
		require.Equal(t, fmt.Sprintf("m%d", i), string(msg.Payload))
	}

	require.NoError(t, idx.Delete(list[0]))
	list, err = idx.ListByPeer("bob")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, ids[1], list[0].ID)

	all, err := idx.LoadAll()
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Len(t, all["bo"], 1)
}

func TestPendingIndexSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pending")

	idx, err := NewPendingIndex(path)
	require.NoError(t, err)
	for _, p := range []string{"one", "two", "three"} {
		_, err := idx.Put("P", []byte(p), time.Now())
		require.NoError(t, err)
	}
	before, err := idx.LoadAll()
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	idx, err = NewPendingIndex(path)
	require.NoError(t, err)
	defer idx.Close()
	require.Equal(t, uint64(3), idx.GetSeq())

	after, err := idx.LoadAll()
	require.NoError(t, err)
	require.Len(t, after["P"], 3)
	for i := range before["P"] {
		require.Equal(t, before["P"][i].ID, after["P"][i].ID)
		require.Equal(t, before["P"][i].Payload, after["P"][i].Payload)
	}

	// New entries continue the sequence instead of overwriting old ones
	msg, err := idx.Put("P", []byte("four"), time.Now())
	require.NoError(t, err)
	require.Equal(t, uint64(4), msg.Sequence)
}

func TestPendingIndexRejectsBadPeer(t *testing.T) {
	idx, err := NewPendingIndex(filepath.Join(t.TempDir(), "pending"))
	require.NoError(t, err)
	defer idx.Close()

	_, err = idx.Put("", []byte("x"), time.Now())
	require.Error(t, err)
	_, err = idx.Put("a\x00b", []byte("x"), time.Now())
	require.Error(t, err)
}
