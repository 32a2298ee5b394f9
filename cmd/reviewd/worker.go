package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kalambet/reviewd/internal/blob"
	"github.com/kalambet/reviewd/internal/config"
	"github.com/kalambet/reviewd/internal/index"
	"github.com/kalambet/reviewd/internal/ollama"
	"github.com/kalambet/reviewd/internal/queue"
	"github.com/kalambet/reviewd/internal/review"
	"github.com/kalambet/reviewd/internal/storage"
	"github.com/kalambet/reviewd/internal/worker"
)

// The standalone worker runs in its own process and cannot see the server's
// enqueue notifications, so it always uses the polling consumer.
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a standalone review worker (polling consumer)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorker()
	},
}

func runWorker() error {
	fmt.Fprintf(os.Stderr, "reviewd worker version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	initLogging(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	ix, corpus, err := index.Load(cfg.Index.Dir, cfg.Index.Dimension)
	if err != nil {
		return fmt.Errorf("loading index snapshot: %w", err)
	}
	if ix.Len() == 0 {
		slog.Warn("index snapshot is empty, reviews will fail until build-index runs", "dir", cfg.Index.Dir)
	}

	client := ollama.New(cfg.Ollama.BaseURL)
	w := worker.New(worker.Config{
		Consumer:    queue.NewPolling(store, cfg.Worker.PollInterval),
		Store:       store,
		Embedder:    ollama.NewEmbedder(client, cfg.Ollama.EmbedModel),
		Index:       ix,
		Corpus:      corpus,
		Generator:   review.NewGenerator(client, cfg.Ollama.ReviewModel),
		Blobs:       blob.NewFS(cfg.Storage.DataDir),
		TopK:        cfg.Retrieval.TopK,
		CallTimeout: cfg.Worker.CallTimeout,
	})

	slog.Info("worker started", "poll_interval", cfg.Worker.PollInterval)
	w.Run(ctx)
	return nil
}
