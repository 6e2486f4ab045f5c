package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/spf13/cobra"

	"github.com/xpert-ai/xpert-sub004/api"
	"github.com/xpert-ai/xpert-sub004/internal/config"
	"github.com/xpert-ai/xpert-sub004/internal/database"
	"github.com/xpert-ai/xpert-sub004/internal/graph"
	"github.com/xpert-ai/xpert-sub004/internal/log"
	"github.com/xpert-ai/xpert-sub004/internal/memory"
	"github.com/xpert-ai/xpert-sub004/internal/observability"
	"github.com/xpert-ai/xpert-sub004/internal/orchestrator"
	"github.com/xpert-ai/xpert-sub004/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chat API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// runServe builds the full service: config, logger, database, memory,
// engine, orchestrator and HTTP server, then blocks until SIGINT/SIGTERM.
func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := log.New(log.Config{Level: slog.LevelInfo, JSON: true})
	logger.Info("starting xpert", "version", AppVersion)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.Observability.Enabled {
		shutdown, err := observability.Setup(ctx, observability.Config{
			Endpoint:    cfg.Observability.Endpoint,
			Environment: cfg.Observability.Environment,
			ServiceName: cfg.Observability.ServiceName,
			SampleRate:  cfg.Observability.SampleRate,
		})
		if err != nil {
			return fmt.Errorf("setting up tracing: %w", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Warn("trace shutdown error", "error", err)
			}
		}()
	}

	if err := database.Migrate(cfg.PostgresDSN); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	pool, err := database.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer pool.Close()

	st, err := store.NewPostgres(pool, logger.With("component", "store"))
	if err != nil {
		return fmt.Errorf("creating store: %w", err)
	}

	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	engine := graph.NewGenkitEngine(g, "", logger.With("component", "engine"))

	orchCfg := orchestrator.Config{ReplyThreshold: cfg.Memory.ReplyThreshold}
	var scheduler *memory.Scheduler
	if cfg.Memory.Enabled {
		embedder := googlegenai.GoogleAIEmbedder(g, cfg.Memory.EmbedderModel)
		memStore, err := memory.NewStore(pool, embedder, cfg.Memory.DedupThreshold,
			logger.With("component", "memory"))
		if err != nil {
			return fmt.Errorf("creating memory store: %w", err)
		}
		scheduler = memory.NewScheduler(cfg.Memory.Debounce, logger.With("component", "scheduler"))
		defer scheduler.Close()

		orchCfg.Memory = memStore
		orchCfg.Scheduler = scheduler
		orchCfg.Summarizer = memory.NewSummarizer(memStore, logger.With("component", "summarizer"))
	}

	o, err := orchestrator.New(st, engine, orchCfg, logger.With("component", "orchestrator"))
	if err != nil {
		return fmt.Errorf("creating orchestrator: %w", err)
	}

	srv := api.NewServer(o, pool, cfg.Server.Heartbeat, logger.With("component", "api"))
	if err := srv.Run(ctx, cfg.Server.ListenAddr); err != nil {
		return fmt.Errorf("running server: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}
