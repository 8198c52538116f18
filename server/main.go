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

	"collabtext/internal/relay"
	"collabtext/internal/store"
)

func main() {
	cfg, err := relay.LoadConfig(relay.Config{Addr: ":8081"})
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Connect to Redis ---
	broker, err := relay.NewRedisBroker(ctx, cfg.RedisAddr)
	if err != nil {
		log.Fatalf("Could not connect to Redis: %v", err)
	}
	defer broker.Close()
	log.Println("Connected to Redis successfully.")

	// --- Connect to PostgreSQL ---
	db, err := store.OpenPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Connected to PostgreSQL successfully.")

	srv := relay.NewServer(relay.Options{Broker: broker, Store: db, SaveDebounce: cfg.SaveDebounce})
	httpSrv := &http.Server{Addr: cfg.Addr, Handler: srv.Handler()}
	go func() {
		log.Printf("CollabText sync server starting on %s...", cfg.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}
	if err := srv.Close(); err != nil {
		log.Printf("Saving rooms: %v", err)
	}
}
