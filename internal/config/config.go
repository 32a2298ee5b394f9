// Package config loads reviewd configuration from defaults and REVIEWD_*
// environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

type Config struct {
	Server    ServerConfig
	Ollama    OllamaConfig
	Storage   StorageConfig
	Index     IndexConfig
	Retrieval RetrievalConfig
	Worker    WorkerConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port int
}

type OllamaConfig struct {
	BaseURL     string
	EmbedModel  string
	ReviewModel string
}

type StorageConfig struct {
	DataDir string
}

type IndexConfig struct {
	Dir       string
	Dimension int
	ChunkSize int
}

type RetrievalConfig struct {
	TopK int
}

type WorkerConfig struct {
	PollInterval time.Duration
	CallTimeout  time.Duration
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port: 4200,
		},
		Ollama: OllamaConfig{
			BaseURL:     "http://localhost:11434",
			EmbedModel:  "nomic-embed-text",
			ReviewModel: "qwen2.5-coder",
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Index: IndexConfig{
			Dir:       filepath.Join(dataDir, "index"),
			Dimension: 768,
			ChunkSize: 400,
		},
		Retrieval: RetrievalConfig{
			TopK: 5,
		},
		Worker: WorkerConfig{
			PollInterval: time.Second,
			CallTimeout:  60 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".reviewd"
	}
	return filepath.Join(home, ".reviewd")
}

// Load builds the configuration from defaults, then applies REVIEWD_*
// environment overrides. Malformed numeric or duration values are an error
// rather than silently ignored.
func Load() (Config, error) {
	cfg := defaults()
	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("REVIEWD_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid REVIEWD_PORT %q: %w", v, err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("REVIEWD_OLLAMA_URL"); v != "" {
		cfg.Ollama.BaseURL = v
	}
	if v := os.Getenv("REVIEWD_EMBED_MODEL"); v != "" {
		cfg.Ollama.EmbedModel = v
	}
	if v := os.Getenv("REVIEWD_REVIEW_MODEL"); v != "" {
		cfg.Ollama.ReviewModel = v
	}
	if v := os.Getenv("REVIEWD_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
		cfg.Index.Dir = filepath.Join(v, "index")
	}
	if v := os.Getenv("REVIEWD_INDEX_DIR"); v != "" {
		cfg.Index.Dir = v
	}
	if v := os.Getenv("REVIEWD_EMBED_DIMENSION"); v != "" {
		dim, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid REVIEWD_EMBED_DIMENSION %q: %w", v, err)
		}
		cfg.Index.Dimension = dim
	}
	if v := os.Getenv("REVIEWD_CHUNK_SIZE"); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid REVIEWD_CHUNK_SIZE %q: %w", v, err)
		}
		cfg.Index.ChunkSize = size
	}
	if v := os.Getenv("REVIEWD_TOP_K"); v != "" {
		k, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid REVIEWD_TOP_K %q: %w", v, err)
		}
		cfg.Retrieval.TopK = k
	}
	if v := os.Getenv("REVIEWD_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid REVIEWD_POLL_INTERVAL %q: %w", v, err)
		}
		cfg.Worker.PollInterval = d
	}
	if v := os.Getenv("REVIEWD_CALL_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid REVIEWD_CALL_TIMEOUT %q: %w", v, err)
		}
		cfg.Worker.CallTimeout = d
	}
	if v := os.Getenv("REVIEWD_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	return nil
}
