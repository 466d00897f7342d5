package commands

import (
	"context"
	"fmt"
	"io"
	"peerchat/config"
	"peerchat/datastore/sqlite"
	"peerchat/swarm/messenger"
	"time"
)

// RunHistory prints the recorded conversation with peer.
func RunHistory(ctx context.Context, cfg *config.Config, peer string, out io.Writer) {
	if err := cfg.ValidatePeer(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	if peer == "" {
		log.Fatal("No peer specified")
	}

	store, err := sqlite.NewHistoryStore(cfg.DataStore.HistoryPath)
	if err != nil {
		log.Fatalf("Failed to open history store: %v", err)
	}
	defer store.Close()

	msgs, err := store.ListByPeer(peer)
	if err != nil {
		log.Fatalf("Failed to read history: %v", err)
	}

	transform := messenger.NewTransform(cfg.Transform.Passphrase)
	for _, m := range msgs {
		text := "<undecodable>"
		if payload, err := transform.Decode(m.Payload); err == nil {
			text = string(payload)
		}
		fmt.Fprintf(out, "%d\t%s\t%s\t%s\n", m.ID, m.Timestamp.Format(time.RFC3339), m.Direction, text)
	}
}
