package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 4200 {
		t.Errorf("port = %d, want 4200", cfg.Server.Port)
	}
	if cfg.Ollama.BaseURL != "http://localhost:11434" {
		t.Errorf("ollama url = %q", cfg.Ollama.BaseURL)
	}
	if cfg.Index.Dimension != 768 {
		t.Errorf("dimension = %d, want 768", cfg.Index.Dimension)
	}
	if cfg.Index.ChunkSize != 400 {
		t.Errorf("chunk size = %d, want 400", cfg.Index.ChunkSize)
	}
	if cfg.Retrieval.TopK != 5 {
		t.Errorf("top k = %d, want 5", cfg.Retrieval.TopK)
	}
	if cfg.Worker.PollInterval != time.Second {
		t.Errorf("poll interval = %v, want 1s", cfg.Worker.PollInterval)
	}
	if cfg.Worker.CallTimeout != 60*time.Second {
		t.Errorf("call timeout = %v, want 60s", cfg.Worker.CallTimeout)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("REVIEWD_PORT", "8080")
	t.Setenv("REVIEWD_OLLAMA_URL", "http://ollama:11434")
	t.Setenv("REVIEWD_DATA_DIR", "/var/lib/reviewd")
	t.Setenv("REVIEWD_TOP_K", "3")
	t.Setenv("REVIEWD_POLL_INTERVAL", "250ms")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Ollama.BaseURL != "http://ollama:11434" {
		t.Errorf("ollama url = %q", cfg.Ollama.BaseURL)
	}
	if cfg.Storage.DataDir != "/var/lib/reviewd" {
		t.Errorf("data dir = %q", cfg.Storage.DataDir)
	}
	if want := filepath.Join("/var/lib/reviewd", "index"); cfg.Index.Dir != want {
		t.Errorf("index dir = %q, want %q (follows data dir)", cfg.Index.Dir, want)
	}
	if cfg.Retrieval.TopK != 3 {
		t.Errorf("top k = %d, want 3", cfg.Retrieval.TopK)
	}
	if cfg.Worker.PollInterval != 250*time.Millisecond {
		t.Errorf("poll interval = %v, want 250ms", cfg.Worker.PollInterval)
	}
}

func TestLoad_IndexDirOverridesDataDir(t *testing.T) {
	t.Setenv("REVIEWD_DATA_DIR", "/var/lib/reviewd")
	t.Setenv("REVIEWD_INDEX_DIR", "/mnt/fast/index")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Index.Dir != "/mnt/fast/index" {
		t.Errorf("index dir = %q, want the explicit override", cfg.Index.Dir)
	}
}

func TestLoad_MalformedValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"REVIEWD_PORT", "not-a-port"},
		{"REVIEWD_EMBED_DIMENSION", "seven"},
		{"REVIEWD_TOP_K", "3.5"},
		{"REVIEWD_POLL_INTERVAL", "soon"},
		{"REVIEWD_CALL_TIMEOUT", "forever"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load with %s=%q should fail", tt.key, tt.value)
			}
		})
	}
}
