package main

import (
	"context"
	"fmt"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/scrypster/cogwire/internal/bridge"
	"github.com/scrypster/cogwire/internal/config"
	"github.com/scrypster/cogwire/internal/embeddings"
	"github.com/scrypster/cogwire/internal/server"
	"github.com/scrypster/cogwire/internal/storage"
	"github.com/scrypster/cogwire/internal/storage/postgres"
	"github.com/scrypster/cogwire/internal/storage/sqlite"
	"github.com/scrypster/cogwire/internal/tools"
	"github.com/scrypster/cogwire/internal/web"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the capture MCP server on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.EnsureDirs(); err != nil {
				return err
			}
			return runServer(cmd.Context(), cfg)
		},
	}
}

func runServer(parent context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pipeline := newPipeline(cfg)

	// The store appears here once background init completes; the tools
	// layer reads it through the holder and degrades gracefully before.
	var storeHolder atomic.Pointer[storage.EventStore]
	provider := func() storage.EventStore {
		if p := storeHolder.Load(); p != nil {
			return *p
		}
		return nil
	}

	sinkFactory := func(ctx context.Context) (server.Sink, error) {
		store, err := openStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		storeHolder.Store(&store)
		return storage.NewRecorder(store, pipeline), nil
	}

	srv := server.New(cfg,
		server.WithEnricher(bridge.New()),
		server.WithSinkFactory(sinkFactory),
	)

	mod := tools.New(provider, srv.Engine(), pipeline)
	srv.RegisterTools(mod.Definitions(), mod.Handle)
	srv.RegisterResources(mod.Resources(), mod.ReadResource)

	if cfg.Monitor.Addr != "" {
		monitor := web.NewMonitor(cfg.Monitor.Addr)
		monitor.Start()
		srv.Engine().OnEvent(monitor.Observer())
		defer monitor.Stop(context.Background())
	}

	return srv.Run(ctx)
}

func newPipeline(cfg *config.Config) *embeddings.Pipeline {
	var gen embeddings.Generator
	if cfg.Embeddings.OllamaURL != "" {
		gen = embeddings.NewOllamaClient(embeddings.OllamaConfig{
			BaseURL: cfg.Embeddings.OllamaURL,
			Model:   cfg.Embeddings.Model,
		})
	}
	return embeddings.NewPipeline(embeddings.PipelineConfig{
		Generator:  gen,
		Model:      cfg.Embeddings.Model,
		Dimensions: cfg.Embeddings.Dimensions,
		RatePerSec: cfg.Embeddings.RatePerSec,
	})
}

func openStore(ctx context.Context, cfg *config.Config) (storage.EventStore, error) {
	switch cfg.Storage.Engine {
	case "postgres":
		return postgres.Open(ctx, cfg.Storage.PostgresDSN, cfg.Server.Platform)
	case "sqlite":
		return sqlite.Open(ctx, cfg.DBPath(), cfg.Server.Platform)
	default:
		return nil, fmt.Errorf("unknown storage engine %q", cfg.Storage.Engine)
	}
}
