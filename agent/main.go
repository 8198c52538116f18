package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"collabtext/internal/discovery"
	"collabtext/internal/relay"
	"collabtext/internal/store"
)

// startDiscovery advertises this agent and logs the other agents on the LAN.
func startDiscovery(ctx context.Context, service string, port int) {
	self := discovery.InstanceName()
	go func() {
		if err := discovery.Advertise(ctx, self, service, port); err != nil {
			log.Printf("Failed to register mDNS service: %v", err)
		}
	}()
	log.Printf("mDNS Service registered: %s on port %d", service, port)

	err := discovery.Browse(ctx, service, self, func(p discovery.Peer) {
		log.Printf("mDNS Discovered peer: %s at %s", p.Instance, p.RelayURL())
	})
	if err != nil {
		log.Printf("Failed to browse for mDNS services: %v", err)
		return
	}
	log.Println("mDNS browsing finished.")
}

func main() {
	cfg, err := relay.LoadConfig(relay.Config{Addr: ":8080"})
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.OpenBolt(cfg.BoltPath)
	if err != nil {
		log.Fatalf("Unable to open %s: %v", cfg.BoltPath, err)
	}
	defer db.Close()

	srv := relay.NewServer(relay.Options{Store: db, SaveDebounce: cfg.SaveDebounce})
	relayHandler := srv.Handler()
	mux := http.NewServeMux()
	mux.Handle("/ws/", relayHandler)
	mux.Handle("/healthz", relayHandler)
	if cfg.UIDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(cfg.UIDir)))
	}

	if _, portStr, err := net.SplitHostPort(cfg.Addr); err == nil {
		if port, err := strconv.Atoi(portStr); err == nil {
			go startDiscovery(ctx, cfg.MDNSService, port)
		}
	}

	httpSrv := &http.Server{Addr: cfg.Addr, Handler: mux}
	go func() {
		log.Printf("CollabText agent is running on %s...", cfg.Addr)
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
