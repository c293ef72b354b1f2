/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the schedule sync server. Handles configuration,
  dependency wiring, the tiered startup load, live subscriptions, and
  graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags (and optional YAML config)
  2. Open the SQLite store (document store + local durable cache)
  3. Build the session (client, loader, reconciler, queue)
  4. Tiered load: remote -> snapshot -> "no data available"
  5. Subscribe every collection; deliveries update the entity store
  6. Start HTTP server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: 8080)
  -db      SQLite database path (default: schedule.db, ":memory:" works)
  -tenant  Tenant/organization id scoping all collections
  -config  Optional YAML config file; flags win over file values

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections (30s drain)
  2. Tear down the session (unsubscribe all listeners)
  3. Close the database

SEE ALSO:
  - api/server.go: Router configuration
  - sync/session.go: Session lifecycle
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	"github.com/warp/schedule-sync/api"
	"github.com/warp/schedule-sync/schedule"
	"github.com/warp/schedule-sync/store/sqlite"
	syncpkg "github.com/warp/schedule-sync/sync"
	"github.com/warp/schedule-sync/validate"
)

// Config mirrors the flags for file-based deployment. Durations are
// written in time.ParseDuration form ("24h", "15s").
type Config struct {
	Port           int    `yaml:"port"`
	DBPath         string `yaml:"db"`
	Tenant         string `yaml:"tenant"`
	ChunkSize      int    `yaml:"chunkSize"`
	CacheTTL       string `yaml:"cacheTTL"`
	RequestTimeout string `yaml:"requestTimeout"`
}

func loadConfig(path string) (Config, error) {
	cfg := Config{Port: 8080, DBPath: "schedule.db", Tenant: "default", RequestTimeout: "15s"}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

func main() {
	// Flags
	configPath := flag.String("config", "", "optional YAML config file")
	port := flag.Int("port", 0, "HTTP server port")
	dbPath := flag.String("db", "", "SQLite database path")
	tenant := flag.String("tenant", "", "tenant/organization id")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *tenant != "" {
		cfg.Tenant = *tenant
	}

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	cacheTTL, err := parseDuration(cfg.CacheTTL)
	if err != nil {
		log.Fatalf("Invalid cacheTTL: %v", err)
	}
	requestTimeout, err := parseDuration(cfg.RequestTimeout)
	if err != nil {
		log.Fatalf("Invalid requestTimeout: %v", err)
	}

	// Build the sync stack
	metrics := syncpkg.NewMetrics(prometheus.DefaultRegisterer)
	session := syncpkg.NewSession(store, store.KV(), syncpkg.SessionConfig{
		Tenant:         cfg.Tenant,
		ChunkSize:      cfg.ChunkSize,
		CacheTTL:       cacheTTL,
		RequestTimeout: requestTimeout,
	}, metrics)
	defer session.Close()

	entities := schedule.NewEntityStore()

	// Tiered startup load
	ctx := context.Background()
	ds, err := session.LoadAll(ctx)
	switch {
	case errors.Is(err, syncpkg.ErrNoDataAvailable):
		log.Printf("No data available yet; starting with empty collections")
		ds = &syncpkg.Dataset{Collections: map[string][]syncpkg.Record{}}
	case err != nil:
		log.Fatalf("Failed to load data: %v", err)
	}
	for _, collection := range syncpkg.Collections() {
		if err := schedule.ApplyRecords(entities, collection, ds.Records(collection)); err != nil {
			log.Fatalf("Failed to apply %s: %v", collection, err)
		}
	}
	if ds.NeedsReconcile {
		// Local snapshot won over a suspicious empty remote read; push it
		// back so the remote store converges.
		log.Printf("Reconciling local snapshot back to the remote store")
		for _, collection := range syncpkg.Collections() {
			if records := ds.Records(collection); len(records) > 0 {
				if _, err := session.ReplaceOrQueue(ctx, collection, records); err != nil {
					log.Printf("Warning: reconcile %s failed: %v", collection, err)
				}
			}
		}
	}

	// Live subscriptions keep the entity store current
	for _, collection := range syncpkg.Collections() {
		if err := session.OnChange(ctx, collection, func(collection string, records []syncpkg.Record) {
			if err := schedule.ApplyRecords(entities, collection, records); err != nil {
				log.Printf("Warning: change delivery for %s failed: %v", collection, err)
			}
		}); err != nil {
			log.Fatalf("Failed to subscribe %s: %v", collection, err)
		}
	}

	// HTTP surface
	handler := &api.Handler{
		Session:   session,
		Entities:  entities,
		Validator: validate.New().WithMetrics(metrics),
		Metrics:   metrics,
	}
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on http://localhost:%d (tenant %s)", cfg.Port, cfg.Tenant)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
