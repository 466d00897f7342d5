package commands

import (
	"context"
	"fmt"
	"io"
	"peerchat/config"
	"peerchat/datastore/leveldb"
	"sort"
	"time"
)

// RunPending prints the messages waiting for delivery, grouped by peer.
func RunPending(ctx context.Context, cfg *config.Config, out io.Writer) {
	if err := cfg.ValidatePeer(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	idx, err := leveldb.NewPendingIndex(cfg.DataStore.PendingPath)
	if err != nil {
		log.Fatalf("Failed to open pending store: %v", err)
	}
	defer idx.Close()

	all, err := idx.LoadAll()
	if err != nil {
		log.Fatalf("Failed to read pending messages: %v", err)
	}

	fmt.Fprintf(out, "last sequence: %d\n", idx.GetSeq())

	peers := make([]string, 0, len(all))
	for p := range all {
		peers = append(peers, p)
	}
	sort.Strings(peers)

	for _, p := range peers {
		fmt.Fprintf(out, "%s: %d pending\n", p, len(all[p]))
		for _, m := range all[p] {
			fmt.Fprintf(out, "\t%s\t%s\t%d bytes\n", m.ID, m.EnqueuedAt.Format(time.RFC3339), len(m.Payload))
		}
	}
}
