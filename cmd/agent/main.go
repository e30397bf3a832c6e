// The agent is the client-side companion process: it owns the durable
// offline cache and keeps the background reconciler sweeping it
// against the server.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"clausesync/client/cache"
	"clausesync/client/sync"
	"clausesync/pkg/logger"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables from OS")
	}

	logger.Init()
	defer logger.Log.Sync()

	path := os.Getenv("CACHE_PATH")
	if path == "" {
		path = "clausesync.db"
	}
	store, err := cache.Open(path)
	if err != nil {
		logger.Sugar.Fatalf("Failed to open offline cache at %s: %v", path, err)
	}
	defer store.Close()

	serverURL := os.Getenv("SERVER_URL")
	if serverURL == "" {
		serverURL = "http://localhost:8080"
	}
	remote := sync.NewRemote(serverURL, os.Getenv("AUTH_TOKEN"))

	reconciler := sync.NewReconciler(store, remote)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Sugar.Infof("Agent sweeping %s against %s every %s", path, serverURL, reconciler.Interval)
	reconciler.NotifyOnline() // drain whatever accumulated while we were down
	reconciler.Run(ctx)
}
