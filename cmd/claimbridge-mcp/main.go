// cmd/claimbridge-mcp is the entry point for the ClaimBridge MCP (Model
// Context Protocol) server.  It wires the record store through the draft
// mediation layer so that every tool call flows through key resolution,
// sanitization, and result normalization.
//
// Startup sequence:
//  1. Load configuration from environment variables.
//  2. Open the record store (SQLite or Postgres) and ensure the schema.
//  3. Create the draft mediator on top of the store and the key cache.
//  4. Create the MCP server with the configured identity and rate limit.
//  5. Serve JSON-RPC 2.0 requests over stdio or WebSocket.
//
// CRITICAL: ALL logging MUST go to stderr.  Any bytes written to stdout that
// are not valid JSON-RPC 2.0 response frames will corrupt the protocol.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/scrypster/claimbridge/internal/api/mcp"
	"github.com/scrypster/claimbridge/internal/config"
	"github.com/scrypster/claimbridge/internal/draft"
	"github.com/scrypster/claimbridge/internal/meta"
	"github.com/scrypster/claimbridge/internal/reqctx"
	"github.com/scrypster/claimbridge/internal/storage"
	"github.com/scrypster/claimbridge/internal/storage/postgres"
	"github.com/scrypster/claimbridge/internal/storage/sqlite"
)

// openStore builds the record store for the configured engine.
func openStore(cfg *config.Config, model *meta.Model) (storage.RecordStore, error) {
	switch cfg.Storage.Engine {
	case "sqlite":
		if err := os.MkdirAll(cfg.Storage.DataPath, 0o700); err != nil {
			return nil, fmt.Errorf("create data directory %q: %w", cfg.Storage.DataPath, err)
		}
		dbPath := fmt.Sprintf("%s/claimbridge.db", cfg.Storage.DataPath)
		return sqlite.NewRecordStore(dbPath, model)
	case "postgres":
		return postgres.NewRecordStore(cfg.Storage.PostgresDSN, model)
	default:
		return nil, fmt.Errorf("unknown storage engine %q", cfg.Storage.Engine)
	}
}

func main() {
	// Redirect the default logger to stderr so that any incidental log calls
	// (e.g. from imported packages) never pollute the stdout JSON-RPC stream.
	log.SetOutput(os.Stderr)
	log.SetPrefix("claimbridge-mcp: ")
	log.SetFlags(log.LstdFlags)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	model := meta.Default()

	store, err := openStore(cfg, model)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	// The circuit breaker shields the tool surface from a flapping backend:
	// after repeated infrastructure failures, calls fail fast instead of
	// stacking up timeouts.
	if cfg.Limits.BreakerEnabled {
		store = storage.NewBreakerStore(store)
		log.Printf("circuit breaker enabled for %s store", cfg.Storage.Engine)
	}

	// Set up a root context that is cancelled on SIGINT / SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("received shutdown signal")
		cancel()
	}()

	cache := draft.NewCache(cfg.Limits.CacheCapacity)
	mediator := draft.NewMediator(model, store, cache)

	identity := reqctx.Identity{
		User:   cfg.Identity.User,
		Tenant: cfg.Identity.Tenant,
		Locale: cfg.Identity.Locale,
	}

	srv := mcp.NewServer(mediator,
		mcp.WithIdentity(identity),
		mcp.WithRateLimit(cfg.Limits.RatePerSecond, cfg.Limits.RateBurst),
	)

	log.Printf("starting (engine=%s transport=%s entities=%v)",
		cfg.Storage.Engine, cfg.Transport.Mode, model.Names())

	switch cfg.Transport.Mode {
	case "websocket":
		if err := mcp.NewWSTransport(srv).ListenAndServe(ctx, cfg.Transport.WSAddr); err != nil && !errors.Is(err, context.Canceled) {
			log.Fatalf("websocket transport: %v", err)
		}
	default:
		if err := mcp.NewStdioTransport(srv, os.Stdin, os.Stdout).Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Fatalf("stdio transport: %v", err)
		}
	}

	log.Println("shutdown complete")
}
