// Package sqlite implements the message.HistoryStore interface on top of SQLite
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"peerchat/datamodel/message"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

var _ message.HistoryStore = (*HistoryStore)(nil)

type HistoryStore struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// NewHistoryStore opens or creates the history database at path
func NewHistoryStore(path string) (*HistoryStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}

	// A single writer keeps AUTOINCREMENT ids in append order
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("configure history: %w", err)
		}
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			peer      TEXT NOT NULL,
			direction TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			payload   BLOB
		);
		CREATE INDEX IF NOT EXISTS messages_peer ON messages (peer, id);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create messages table: %w", err)
	}

	log.Infof("Opened history at %s", path)

	return &HistoryStore{db: db, path: path, now: time.Now}, nil
}

func (h *HistoryStore) Append(peer string, dir message.Direction, payload []byte) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	res, err := h.db.Exec(`INSERT INTO messages (peer, direction, timestamp, payload) VALUES (?, ?, ?, ?)`,
		peer, string(dir), h.now().UnixNano(), payload)
	if err != nil {
		return 0, fmt.Errorf("append message: %w", err)
	}
	return res.LastInsertId()
}

func (h *HistoryStore) ListByPeer(peer string) ([]*message.Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rows, err := h.db.Query(`SELECT id, peer, direction, timestamp, payload FROM messages WHERE peer = ? ORDER BY id`, peer)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*message.Message
	for rows.Next() {
		var (
			m   message.Message
			dir string
			ts  int64
		)
		if err := rows.Scan(&m.ID, &m.Peer, &dir, &ts, &m.Payload); err != nil {
			return nil, err
		}
		m.Direction = message.Direction(dir)
		m.Timestamp = time.Unix(0, ts)
		results = append(results, &m)
	}
	return results, rows.Err()
}

func (h *HistoryStore) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.db.Close()
}
