package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/scythe504/gameswap-backend/internal/config"
	"github.com/scythe504/gameswap-backend/internal/database"
	"github.com/scythe504/gameswap-backend/internal/feed"
	"github.com/scythe504/gameswap-backend/internal/room"
	"github.com/scythe504/gameswap-backend/internal/server"
	"github.com/scythe504/gameswap-backend/internal/webhooks"
	"github.com/scythe504/gameswap-backend/internal/websockets"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[Main] Configuration error: %v", err)
	}

	ctx := context.Background()
	store, err := database.New(ctx, cfg.DatabaseUrl)
	if err != nil {
		log.Fatalf("[Main] Database error: %v", err)
	}
	defer store.Close()

	donations := feed.NewDonationFeed()
	hub := websockets.NewHub()
	manager := room.NewRoomManager(
		database.NewRoomRepository(store),
		database.NewRoomArchive(store),
		hub,
		donations,
	)
	hub.BindStatusListener(manager)

	// Every persisted room must be live before the first request comes in.
	if err := manager.Rehydrate(ctx); err != nil {
		log.Fatalf("[Main] Could not restore rooms: %v", err)
	}

	var webhook *webhooks.DonationWebhook
	if cfg.WebhookEnabled() {
		webhook = webhooks.NewDonationWebhook(cfg.DonationWebhookId, cfg.DonationWebhookSecret, donations)
		log.Printf("[Main] Donation webhook endpoint enabled")
	} else {
		log.Printf("[Main] Donation webhook credentials not set, endpoint disabled")
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: server.NewServer(manager, hub, webhook).RegisterRoutes(),
	}

	go func() {
		log.Printf("[Main] Listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[Main] Server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Printf("[Main] Shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Main] Server shutdown error: %v", err)
	}
	manager.Shutdown()
}
