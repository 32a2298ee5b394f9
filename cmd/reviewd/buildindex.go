package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kalambet/reviewd/internal/builder"
	"github.com/kalambet/reviewd/internal/config"
	"github.com/kalambet/reviewd/internal/ollama"
)

var (
	buildDataDir    string
	buildBatchSize  int
	buildMaxBatches int
)

var buildIndexCmd = &cobra.Command{
	Use:   "build-index",
	Short: "Build or extend the retrieval index from a corpus directory",
	Long: `Build or extend the retrieval index from a corpus directory.

Reads every file under --data-dir (PDFs are reduced to plain text), splits
them into fixed-size chunks, embeds each chunk, and persists the index and
corpus snapshot after every batch. Interrupted runs resume where they left
off; --max-batches bounds the work done in one invocation.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBuildIndex()
	},
}

func init() {
	buildIndexCmd.Flags().StringVar(&buildDataDir, "data-dir", "data", "directory of corpus documents")
	buildIndexCmd.Flags().IntVar(&buildBatchSize, "batch-size", 64, "chunks embedded and persisted per batch")
	buildIndexCmd.Flags().IntVar(&buildMaxBatches, "max-batches", 0, "maximum batches this run (0 = unlimited)")
}

func runBuildIndex() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	initLogging(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	documents, err := builder.LoadDocuments(buildDataDir)
	if err != nil {
		return err
	}
	if len(documents) == 0 {
		printWarning("no documents found in %s", buildDataDir)
		return nil
	}
	fmt.Fprintf(os.Stderr, "loaded %d documents from %s\n", len(documents), buildDataDir)

	client := ollama.New(cfg.Ollama.BaseURL)
	embedder := ollama.NewEmbedder(client, cfg.Ollama.EmbedModel)

	b := builder.New(embedder, cfg.Index.Dir, cfg.Index.Dimension, cfg.Index.ChunkSize)
	appended, err := b.Build(ctx, documents, buildBatchSize, buildMaxBatches)
	if err != nil {
		return fmt.Errorf("building index: %w", err)
	}

	printSuccess("indexed %d chunks into %s", appended, cfg.Index.Dir)
	return nil
}
