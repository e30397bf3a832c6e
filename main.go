package main

import (
	"log"
	"net/http"
	"os"

	"clausesync/config/database"
	"clausesync/pkg/logger"
	"clausesync/router"
	"clausesync/socket"

	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables from a .env file when present.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables from OS")
	}

	logger.Init()
	defer logger.Log.Sync()

	db := database.Connect()
	defer db.Close()

	// Presence lives in-process by default. Pointing REDIS_URL at a
	// shared instance moves it into Redis so multiple server instances
	// see the same viewer sets.
	var registry socket.Registry
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		redisRegistry, err := socket.NewRedisRegistry(redisURL)
		if err != nil {
			logger.Sugar.Fatalf("Failed to connect presence registry to Redis: %v", err)
		}
		defer redisRegistry.Close()
		registry = redisRegistry
		logger.Sugar.Info("Presence registry: redis")
	} else {
		registry = socket.NewMemoryRegistry()
		logger.Sugar.Info("Presence registry: in-memory")
	}

	hub := socket.NewHub(registry)
	go hub.Run()

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	logger.Sugar.Infof("Annotation engine listening on %s", addr)
	if err := http.ListenAndServe(addr, router.Setup(db, hub)); err != nil {
		logger.Sugar.Fatalf("Server exited: %v", err)
	}
}
