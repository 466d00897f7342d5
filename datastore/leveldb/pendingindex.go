package leveldb

import (
	"bytes"
	"fmt"
	"peerchat/datamodel/pending"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	log "github.com/sirupsen/logrus"
)

const (
	keyPrefixPending = "PND" // Pending message. Followed by peer ID, a NUL separator and a 16-digit hex sequence number
)

var _ pending.Store = (*PendingIndex)(nil)

type PendingIndex struct {
	LevelDB
	seq uint64
}

func keyFromPeer(peer string) []byte {
	key := append([]byte(keyPrefixPending), []byte(peer)...)
	return append(key, 0)
}

func keyFromMessage(peer string, seq uint64) []byte {
	return append(keyFromPeer(peer), seqSuffix(seq)...)
}

func NewPendingIndex(path string) (*PendingIndex, error) {
	// Init the underlying LevelDB object
	ldb, err := initLevelDb(path)
	if err != nil {
		return nil, err
	}

	// Scan the database to recover the highest sequence number. Keys are ordered by peer first,
	// so every entry has to be looked at.
	iter := ldb.NewIterator(util.BytesPrefix([]byte(keyPrefixPending)), nil)
	defer iter.Release()

	var maxSeq uint64 = 0
	for iter.Next() {
		seq, err := seqFromSuffix(iter.Key())
		if err != nil {
			ldb.Close()
			return nil, err
		}
		maxSeq = max(maxSeq, seq)
	}
	if err := iter.Error(); err != nil {
		ldb.Close()
		return nil, err
	}

	return &PendingIndex{
		LevelDB: LevelDB{
			path: path,
			db:   ldb,
		},
		seq: maxSeq,
	}, nil
}

func (l *PendingIndex) Put(peer string, payload []byte, enqueuedAt time.Time) (*pending.Message, error) {
	if peer == "" || strings.IndexByte(peer, 0) >= 0 {
		return nil, fmt.Errorf("Put: invalid peer ID %q", peer)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	newSeq := l.seq + 1
	msg := &pending.Message{
		ID:         uuid.NewString(),
		Peer:       peer,
		Payload:    payload,
		EnqueuedAt: enqueuedAt,
		Sequence:   newSeq,
	}

	raw, err := cbor.Marshal(msg)
	if err != nil {
		return nil, err
	}

	// Sync the write, the entry must survive a crash once Put returns
	err = l.db.Put(keyFromMessage(peer, newSeq), raw, &opt.WriteOptions{Sync: true})
	if err != nil {
		return nil, err
	}

	// Keep the last sequence number
	l.seq = newSeq

	return msg, nil
}

func (l *PendingIndex) Delete(msg *pending.Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	batch := new(leveldb.Batch)
	batch.Delete(keyFromMessage(msg.Peer, msg.Sequence))
	return l.db.Write(batch, &opt.WriteOptions{Sync: true})
}

func (l *PendingIndex) ListByPeer(peer string) ([]*pending.Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.scan(keyFromPeer(peer))
}

func (l *PendingIndex) LoadAll() (map[string][]*pending.Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	all, err := l.scan([]byte(keyPrefixPending))
	if err != nil {
		return nil, err
	}

	results := make(map[string][]*pending.Message)
	for _, msg := range all {
		results[msg.Peer] = append(results[msg.Peer], msg)
	}
	return results, nil
}

// No lock here, lock is assumed to be acquired by caller
func (l *PendingIndex) scan(prefix []byte) ([]*pending.Message, error) {
	var results []*pending.Message

	iter := l.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	for iter.Next() {
		msg := &pending.Message{}
		if err := cbor.Unmarshal(iter.Value(), msg); err != nil {
			return nil, err
		}

		// Compare the key with the content just in case
		if !bytes.Equal(iter.Key(), keyFromMessage(msg.Peer, msg.Sequence)) {
			log.Errorf("scan: key mismatch for pending message %s (peer %s, seq %d)", msg.ID, msg.Peer, msg.Sequence)
			return nil, ErrCorrupted
		}

		results = append(results, msg)
	}

	if err := iter.Error(); err != nil {
		return nil, err
	}

	return results, nil
}

func (l *PendingIndex) GetSeq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}
