package commands

import (
	"context"

	log "github.com/sirupsen/logrus"

	"peerchat/config"
)

// RunInit writes a default configuration file.
func RunInit(ctx context.Context, cfg *config.Config) {
	if err := cfg.Save(); err != nil {
		log.Fatalf("Failed to write config: %v", err)
	}
	log.Info("Wrote default config; set chat.username before starting a node")
}
