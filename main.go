package main

import (
	"context"
	"log"
	stdhttp "net/http"
	"os"
	"os/signal"
	"registrar/config"
	httpserver "registrar/http"
	"registrar/school"
	"registrar/store"
	"registrar/ws"
	"syscall"
	"time"
)

func main() {
	log.Println("Starting registrar...")

	cfg := config.Load()
	log.Printf("Configuration loaded - Server port: %s, DB path: %s", cfg.ServerPort, cfg.DBPath)

	// Creates the tables on first run; a failure here is fatal.
	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()
	log.Println("Database initialized successfully")

	registry := school.NewRegistry(db)
	resolver := school.NewResolver(db)
	hub := ws.NewHub(func(ctx context.Context) (interface{}, error) {
		return registry.Roster(ctx)
	})

	server := httpserver.NewServer(registry, resolver, hub, cfg)
	defer server.Close()
	srv := server.GetHTTPServer(cfg.ServerPort)

	go func() {
		log.Printf("Server listening on http://localhost%s", cfg.ServerPort)
		if err := srv.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down gracefully...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
