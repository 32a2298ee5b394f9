package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/reviewd/internal/config"
	"github.com/kalambet/reviewd/internal/index"
	"github.com/kalambet/reviewd/internal/ollama"
	"github.com/kalambet/reviewd/internal/storage"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show reviewd system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	// Check server health.
	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	// Check Ollama.
	ollamaClient := ollama.New(cfg.Ollama.BaseURL)
	if ollamaClient.IsRunning(context.Background()) {
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
	} else {
		printStatus("Ollama", "not running")
	}
	printStatus("Embed model", "%s", cfg.Ollama.EmbedModel)
	printStatus("Review model", "%s", cfg.Ollama.ReviewModel)

	// Index snapshot.
	ix, _, err := index.Load(cfg.Index.Dir, cfg.Index.Dimension)
	if err != nil {
		printError("index snapshot: %v", err)
	} else {
		printStatus("Index", "%d vectors (dimension %d)", ix.Len(), ix.Dimension())
	}

	// Submission and feedback counts.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		printError("storage: %v", err)
		return nil
	}
	defer store.Close()

	if subs, err := store.CountSubmissions(); err == nil {
		printStatus("Submissions", "%d", subs)
	}
	if done, err := store.CountFeedback(); err == nil {
		printStatus("Reviews done", "%d", done)
	}
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
