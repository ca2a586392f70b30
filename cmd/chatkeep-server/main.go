// Command chatkeep-server runs the chatkeep MCP service: a session-scoped
// JSON-RPC endpoint for saving, searching, and rendering conversation
// transcripts.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/scrypster/chatkeep/internal/api/mcp"
	"github.com/scrypster/chatkeep/internal/config"
	"github.com/scrypster/chatkeep/internal/embedding"
	"github.com/scrypster/chatkeep/internal/engine"
	"github.com/scrypster/chatkeep/internal/jobs"
	"github.com/scrypster/chatkeep/internal/notify"
	"github.com/scrypster/chatkeep/internal/server"
	"github.com/scrypster/chatkeep/internal/storage"
	"github.com/scrypster/chatkeep/internal/storage/postgres"
	"github.com/scrypster/chatkeep/internal/storage/sqlite"
	"github.com/scrypster/chatkeep/pkg/types"
)

func main() {
	catalogPath := flag.String("catalog", "", "Path to the widget catalog file (overrides CHATKEEP_WIDGET_CATALOG)")
	stdioMode := flag.Bool("stdio", false, "Serve MCP over stdin/stdout instead of HTTP")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *catalogPath != "" {
		cfg.Widgets.CatalogPath = *catalogPath
	}

	// Storage
	var store storage.ChatStore
	switch cfg.Storage.Driver {
	case "postgres":
		pg, err := postgres.NewChatStore(cfg.Storage.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to initialize storage: %v", err)
		}
		defer pg.Close()
		store = pg
	case "sqlite":
		lite, err := sqlite.NewChatStore(cfg.Storage.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to initialize storage: %v", err)
		}
		defer lite.Close()
		store = lite
	default:
		log.Fatalf("Unknown storage driver %q (expected postgres or sqlite)", cfg.Storage.Driver)
	}

	// Embedding provider
	embedder, err := embedding.NewGenerator(embedding.FactoryConfig{
		Provider: cfg.Embedding.Provider,
		APIKey:   cfg.Embedding.APIKey,
		Model:    cfg.Embedding.Model,
		BaseURL:  cfg.Embedding.BaseURL,
		Timeout:  cfg.Embedding.Timeout,
	})
	if err != nil {
		log.Fatalf("Failed to initialize embedding provider: %v", err)
	}

	// Event hub for open widget views
	hub := notify.NewHub()
	go hub.Run()

	// Deferred-save queue
	var queue *jobs.SQLiteQueue
	if cfg.Jobs.Enabled {
		queue, err = jobs.NewSQLiteQueue(cfg.Jobs.QueuePath)
		if err != nil {
			log.Fatalf("Failed to initialize job queue: %v", err)
		}
		defer queue.Close()
	}

	// Save/retrieval engine
	opts := []engine.Option{
		engine.WithQuota(cfg.Limits.MaxRecordsPerOwner),
		engine.WithPageSizes(cfg.Limits.DefaultPageSize, cfg.Limits.MaxPageSize),
		engine.WithSaveCallback(func(record *types.ChatRecord) {
			hub.Broadcast(notify.Event{
				Type:     "record.saved",
				OwnerID:  record.OwnerID,
				RecordID: record.ID,
			})
		}),
	}
	if queue != nil {
		opts = append(opts, engine.WithJobQueue(queue))
	}
	chatEngine, err := engine.NewChatEngine(store, embedder, opts...)
	if err != nil {
		log.Fatalf("Failed to initialize engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Queue worker drains deferred saves through the same pipeline.
	var worker *jobs.Worker
	if queue != nil {
		worker = jobs.NewWorker(queue, chatEngine, jobs.WorkerConfig{
			PollInterval: cfg.Jobs.PollInterval,
			MaxAttempts:  cfg.Jobs.MaxAttempts,
		})
		worker.OnTerminal(func(jobID, ownerID, recordID, status string) {
			hub.Broadcast(notify.Event{
				Type:     "job." + status,
				OwnerID:  ownerID,
				RecordID: recordID,
				JobID:    jobID,
				Status:   status,
			})
		})
		worker.Start()
	}

	// Widget catalog and registry
	catalog, err := mcp.LoadCatalog(cfg.Widgets.CatalogPath)
	if err != nil {
		log.Fatalf("Failed to load widget catalog: %v", err)
	}
	registry, err := mcp.NewRegistry(catalog, cfg.Widgets.Versions, cfg.Widgets.ActiveVersion)
	if err != nil {
		log.Fatalf("Failed to build widget registry: %v", err)
	}

	// Stdio mode serves a single local client and skips the HTTP stack.
	if *stdioMode {
		go func() {
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			<-sigChan
			cancel()
		}()

		transport := mcp.NewStdioTransport(mcp.NewServer(chatEngine, registry), os.Stdin, os.Stdout)
		if err := transport.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Fatalf("Stdio transport failed: %v", err)
		}
		if worker != nil {
			worker.Stop()
		}
		return
	}

	// MCP transport: one protocol handler per session.
	sessions := storage.NewInMemorySessionStore(cfg.Server.SessionIdleTTL)
	transport := mcp.NewHTTPTransport(cfg.Server.AuthToken, sessions, func() *mcp.Server {
		return mcp.NewServer(chatEngine, registry)
	})

	addr, err := server.Start(ctx, cfg, transport, hub)
	if err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
	log.Printf("chatkeep listening at http://%s/mcp", addr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down gracefully...")

	if worker != nil {
		worker.Stop()
	}

	cancel()
	time.Sleep(1 * time.Second) // Give in-flight connections time to close
}
