package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/reviewd/internal/api"
	"github.com/kalambet/reviewd/internal/blob"
	"github.com/kalambet/reviewd/internal/config"
	"github.com/kalambet/reviewd/internal/gateway"
	"github.com/kalambet/reviewd/internal/index"
	"github.com/kalambet/reviewd/internal/ollama"
	"github.com/kalambet/reviewd/internal/queue"
	"github.com/kalambet/reviewd/internal/review"
	"github.com/kalambet/reviewd/internal/storage"
	"github.com/kalambet/reviewd/internal/worker"
)

var servePoll bool
var serveMCP bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the reviewd server with an in-process worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	serveCmd.Flags().BoolVar(&servePoll, "poll", false, "use the polling queue consumer instead of the blocking one")
	serveCmd.Flags().BoolVar(&serveMCP, "mcp", false, "also serve MCP tools over stdio")
}

func initLogging(level string) {
	logLevel := slog.LevelInfo
	if strings.EqualFold(level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

func runServe() error {
	fmt.Fprintf(os.Stderr, "reviewd version %s\n", version)

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
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// The snapshot pair is read-only on the serving path. A missing snapshot
	// loads empty; searches then fail until build-index has run.
	ix, corpus, err := index.Load(cfg.Index.Dir, cfg.Index.Dimension)
	if err != nil {
		return fmt.Errorf("loading index snapshot: %w", err)
	}
	if ix.Len() == 0 {
		slog.Warn("index snapshot is empty, reviews will fail until build-index runs", "dir", cfg.Index.Dir)
	} else {
		slog.Info("index snapshot loaded", "vectors", ix.Len(), "dimension", ix.Dimension())
	}

	client := ollama.New(cfg.Ollama.BaseURL)
	embedder := ollama.NewEmbedder(client, cfg.Ollama.EmbedModel)
	generator := review.NewGenerator(client, cfg.Ollama.ReviewModel)
	blobs := blob.NewFS(cfg.Storage.DataDir)

	notifier := queue.NewNotifier()
	gw := gateway.New(store, blobs, notifier)

	var consumer queue.Consumer
	if servePoll {
		consumer = queue.NewPolling(store, cfg.Worker.PollInterval)
	} else {
		consumer = queue.NewBlocking(store, notifier, 5*time.Second)
	}

	w := worker.New(worker.Config{
		Consumer:    consumer,
		Store:       store,
		Embedder:    embedder,
		Index:       ix,
		Corpus:      corpus,
		Generator:   generator,
		Blobs:       blobs,
		TopK:        cfg.Retrieval.TopK,
		CallTimeout: cfg.Worker.CallTimeout,
	})
	go w.Run(ctx)

	handler := api.NewHandler(api.Deps{Gateway: gw})
	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	if serveMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{Gateway: gw})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "reviewd listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
