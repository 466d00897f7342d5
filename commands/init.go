package commands

import (
	"context"
	"peerchat/config"

	"github.com/sirupsen/logrus"
)

var log = logrus.New()

// RunInit writes a default configuration, optionally bound to a peer identity.
func RunInit(ctx context.Context, cfg *config.Config, peerID string) {
	if peerID != "" {
		cfg.Node.PeerID = peerID
	}
	if err := cfg.Save(); err != nil {
		log.Fatalf("Failed to save config: %v", err)
	}
}
