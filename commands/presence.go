package commands

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"peerchat/config"
	"peerchat/presence/server"
	"peerchat/presence/store"
)

// RunPresence runs the rendezvous service until the context is cancelled.
func RunPresence(ctx context.Context, cfg *config.Config) {
	var users store.Store
	if cfg.Presence.StorePath != "" {
		ldb, err := store.OpenLevelDB(cfg.Presence.StorePath)
		if err != nil {
			log.Fatalf("Failed to open presence store: %v", err)
		}
		users = ldb
	} else {
		users = store.NewMemory()
	}
	defer users.Close()

	srv, err := server.New(cfg.Presence.Host, cfg.Presence.Port, users)
	if err != nil {
		log.Fatalf("Failed to start presence server: %v", err)
	}

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Errorf("Presence server stopped: %v", err)
	}
}
