package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearKeys(t *testing.T) {
	t.Helper()
	for _, k := range []string{"OPENAI_API_KEY", "EMBEDDING_API_KEY", "LLM_API_KEY", "EMBEDDER", "CONFIG_FILE"} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearKeys(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "5000" {
		t.Errorf("Expected port 5000, got %s", cfg.Port)
	}
	if cfg.Chunker.Size != 500 || cfg.Chunker.Overlap != 100 || cfg.Chunker.RetrievalK != 5 {
		t.Errorf("Unexpected chunker defaults: %+v", cfg.Chunker)
	}
	if cfg.Embedder.Type != "hash" || cfg.Embedder.Dimensions != 512 {
		t.Errorf("Expected hash embedder with 512 dims without a key, got %s/%d", cfg.Embedder.Type, cfg.Embedder.Dimensions)
	}
	if cfg.LLMEnabled() {
		t.Error("Expected LLM disabled without a key")
	}
	if cfg.Session.TTL != 24*time.Hour {
		t.Errorf("Expected 24h session TTL, got %v", cfg.Session.TTL)
	}
}

func TestLoadOpenAIKeyEnablesOpenAI(t *testing.T) {
	clearKeys(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Embedder.Type != "openai" || cfg.Embedder.Dimensions != 1536 {
		t.Errorf("Expected openai embedder with 1536 dims, got %s/%d", cfg.Embedder.Type, cfg.Embedder.Dimensions)
	}
	if cfg.LLM.APIKey != "sk-test" || !cfg.LLMEnabled() {
		t.Errorf("Expected LLM key to fall back to OPENAI_API_KEY")
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	clearKeys(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := `
port: "7000"
chunker:
  size: 800
  overlap: 50
vector_store:
  type: sqlite
  sqlite_path: /tmp/v.db
session:
  ttl: 2h
`
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "9000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "9000" {
		t.Errorf("Expected env to override file port, got %s", cfg.Port)
	}
	if cfg.Chunker.Size != 800 || cfg.Chunker.Overlap != 50 {
		t.Errorf("Expected chunker from file, got %+v", cfg.Chunker)
	}
	if cfg.VectorStore.Type != "sqlite" || cfg.VectorStore.SQLitePath != "/tmp/v.db" {
		t.Errorf("Expected sqlite store from file, got %+v", cfg.VectorStore)
	}
	if cfg.Session.TTL != 2*time.Hour {
		t.Errorf("Expected 2h TTL from file, got %v", cfg.Session.TTL)
	}
	if cfg.Chunker.RetrievalK != 5 {
		t.Errorf("Expected default retrieval k to survive overlay, got %d", cfg.Chunker.RetrievalK)
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearKeys(t)
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	if _, err := Load(); err == nil {
		t.Fatal("Expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty port", func(c *Config) { c.Port = "" }, "PORT"},
		{"overlap too big", func(c *Config) { c.Chunker.Overlap = 500 }, "CHUNK_OVERLAP"},
		{"redis without url", func(c *Config) { c.Session.Backend = "redis" }, "REDIS_URL"},
		{"unknown store", func(c *Config) { c.VectorStore.Type = "faiss" }, "VECTOR_STORE"},
		{"pgvector without url", func(c *Config) { c.VectorStore.Type = "pgvector" }, "DATABASE_URL"},
		{"openai without key", func(c *Config) { c.Embedder.Type = "openai" }, "OPENAI_API_KEY"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "LOG_LEVEL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			cfg.resolve()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error mentioning %s, got %v", tt.want, err)
			}
		})
	}
}

func TestSlogLevel(t *testing.T) {
	cfg := Defaults()
	cfg.LogLevel = "debug"
	if cfg.SlogLevel() != slog.LevelDebug {
		t.Errorf("Expected debug level, got %v", cfg.SlogLevel())
	}
	cfg.LogLevel = "bogus"
	if cfg.SlogLevel() != slog.LevelInfo {
		t.Errorf("Expected info fallback, got %v", cfg.SlogLevel())
	}
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("PAGE_FETCH_FALLBACK", "off")
	if getEnvBool("PAGE_FETCH_FALLBACK", true) {
		t.Error("Expected off to parse as false")
	}
	t.Setenv("PAGE_FETCH_FALLBACK", "maybe")
	if !getEnvBool("PAGE_FETCH_FALLBACK", true) {
		t.Error("Expected fallback for unparseable value")
	}
}
