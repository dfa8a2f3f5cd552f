// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/anatolykoptev/go-kit/env"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Port           string   `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	LogLevel       string   `yaml:"log_level"`
	MaxBodyBytes   int      `yaml:"max_body_bytes"`
	GRPCHealthPort string   `yaml:"grpc_health_port"` // empty disables the gRPC health server

	Chunker     ChunkerConfig     `yaml:"chunker"`
	Session     SessionConfig     `yaml:"session"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	LLM         LLMConfig         `yaml:"llm"`
	Extract     ExtractConfig     `yaml:"extract"`
}

// ChunkerConfig controls chunking and retrieval depth.
type ChunkerConfig struct {
	Size       int `yaml:"size"`
	Overlap    int `yaml:"overlap"`
	RetrievalK int `yaml:"retrieval_k"`
}

// SessionConfig selects the session registry.
type SessionConfig struct {
	Backend    string        `yaml:"backend"` // memory or redis
	MaxEntries int           `yaml:"max_entries"`
	TTL        time.Duration `yaml:"ttl"`
	RedisURL   string        `yaml:"redis_url"`
}

// VectorStoreConfig selects the chunk store.
type VectorStoreConfig struct {
	Type             string `yaml:"type"` // memory, sqlite, qdrant or pgvector
	SQLitePath       string `yaml:"sqlite_path"`
	QdrantURL        string `yaml:"qdrant_url"`
	QdrantAPIKey     string `yaml:"qdrant_api_key"`
	QdrantCollection string `yaml:"qdrant_collection"`
	DatabaseURL      string `yaml:"database_url"`
}

// EmbedderConfig selects the text embedder.
type EmbedderConfig struct {
	Type       string  `yaml:"type"` // openai or hash
	APIBase    string  `yaml:"api_base"`
	APIKey     string  `yaml:"-"`
	Model      string  `yaml:"model"`
	Dimensions int     `yaml:"dimensions"`
	RPS        float64 `yaml:"rps"`
}

// LLMConfig configures the chat completion model.
type LLMConfig struct {
	APIBase      string        `yaml:"api_base"`
	APIKey       string        `yaml:"-"`
	FallbackKeys []string      `yaml:"-"`
	Model        string        `yaml:"model"`
	Temperature  float64       `yaml:"temperature"`
	MaxTokens    int           `yaml:"max_tokens"`
	Timeout      time.Duration `yaml:"timeout"`
}

// ExtractConfig controls transcript and page retrieval.
type ExtractConfig struct {
	TranscriptLangs   []string      `yaml:"transcript_langs"`
	FetchTimeout      time.Duration `yaml:"fetch_timeout"`
	PageFetchFallback bool          `yaml:"page_fetch_fallback"`
	MaxContentChars   int           `yaml:"max_content_chars"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Port:           "5000",
		AllowedOrigins: []string{"*"},
		LogLevel:       "info",
		MaxBodyBytes:   5 << 20,
		Chunker:        ChunkerConfig{Size: 500, Overlap: 100, RetrievalK: 5},
		Session: SessionConfig{
			Backend:    "memory",
			MaxEntries: 10000,
			TTL:        24 * time.Hour,
		},
		VectorStore: VectorStoreConfig{
			Type:             "memory",
			SQLitePath:       "./data/vectors.db",
			QdrantURL:        "http://localhost:6333",
			QdrantCollection: "sessions",
		},
		Embedder: EmbedderConfig{
			APIBase: "https://api.openai.com/v1",
			Model:   "text-embedding-3-small",
		},
		LLM: LLMConfig{
			APIBase:   "https://api.openai.com/v1",
			Model:     "gpt-4o-mini",
			MaxTokens: 512,
			Timeout:   60 * time.Second,
		},
		Extract: ExtractConfig{
			TranscriptLangs:   []string{"en"},
			FetchTimeout:      15 * time.Second,
			PageFetchFallback: true,
			MaxContentChars:   200000,
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file named
// by CONFIG_FILE, and environment variables, in that order of precedence.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	cfg.resolve()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = env.Str("PORT", c.Port)
	if origins := env.List("ALLOWED_ORIGINS", ""); len(origins) > 0 {
		c.AllowedOrigins = origins
	}
	c.LogLevel = env.Str("LOG_LEVEL", c.LogLevel)
	c.MaxBodyBytes = env.Int("MAX_BODY_BYTES", c.MaxBodyBytes)
	c.GRPCHealthPort = env.Str("GRPC_HEALTH_PORT", c.GRPCHealthPort)

	c.Chunker.Size = env.Int("CHUNK_SIZE", c.Chunker.Size)
	c.Chunker.Overlap = env.Int("CHUNK_OVERLAP", c.Chunker.Overlap)
	c.Chunker.RetrievalK = env.Int("RETRIEVAL_K", c.Chunker.RetrievalK)

	c.Session.Backend = env.Str("SESSION_BACKEND", c.Session.Backend)
	c.Session.MaxEntries = env.Int("SESSION_MAX_ENTRIES", c.Session.MaxEntries)
	c.Session.TTL = env.Duration("SESSION_TTL", c.Session.TTL)
	c.Session.RedisURL = env.Str("REDIS_URL", c.Session.RedisURL)

	c.VectorStore.Type = env.Str("VECTOR_STORE", c.VectorStore.Type)
	c.VectorStore.SQLitePath = env.Str("SQLITE_PATH", c.VectorStore.SQLitePath)
	c.VectorStore.QdrantURL = env.Str("QDRANT_URL", c.VectorStore.QdrantURL)
	c.VectorStore.QdrantAPIKey = env.Str("QDRANT_API_KEY", c.VectorStore.QdrantAPIKey)
	c.VectorStore.QdrantCollection = env.Str("QDRANT_COLLECTION", c.VectorStore.QdrantCollection)
	c.VectorStore.DatabaseURL = env.Str("DATABASE_URL", c.VectorStore.DatabaseURL)

	openAIKey := env.Str("OPENAI_API_KEY", "")
	c.Embedder.Type = env.Str("EMBEDDER", c.Embedder.Type)
	c.Embedder.APIBase = env.Str("EMBEDDING_API_BASE", c.Embedder.APIBase)
	c.Embedder.APIKey = env.Str("EMBEDDING_API_KEY", openAIKey)
	c.Embedder.Model = env.Str("EMBEDDING_MODEL", c.Embedder.Model)
	c.Embedder.Dimensions = env.Int("EMBEDDING_DIMENSIONS", c.Embedder.Dimensions)
	c.Embedder.RPS = env.Float("EMBEDDING_RPS", c.Embedder.RPS)

	c.LLM.APIBase = env.Str("LLM_API_BASE", c.LLM.APIBase)
	c.LLM.APIKey = env.Str("LLM_API_KEY", openAIKey)
	c.LLM.FallbackKeys = env.List("LLM_API_KEY_FALLBACKS", "")
	c.LLM.Model = env.Str("LLM_MODEL", c.LLM.Model)
	c.LLM.Temperature = env.Float("LLM_TEMPERATURE", c.LLM.Temperature)
	c.LLM.MaxTokens = env.Int("LLM_MAX_TOKENS", c.LLM.MaxTokens)
	c.LLM.Timeout = env.Duration("LLM_TIMEOUT", c.LLM.Timeout)

	if langs := env.List("TRANSCRIPT_LANGS", ""); len(langs) > 0 {
		c.Extract.TranscriptLangs = langs
	}
	c.Extract.FetchTimeout = env.Duration("FETCH_TIMEOUT", c.Extract.FetchTimeout)
	c.Extract.PageFetchFallback = getEnvBool("PAGE_FETCH_FALLBACK", c.Extract.PageFetchFallback)
	c.Extract.MaxContentChars = env.Int("MAX_CONTENT_CHARS", c.Extract.MaxContentChars)
}

// resolve fills settings that depend on other settings.
func (c *Config) resolve() {
	c.Session.Backend = strings.ToLower(strings.TrimSpace(c.Session.Backend))
	c.VectorStore.Type = strings.ToLower(strings.TrimSpace(c.VectorStore.Type))
	c.Embedder.Type = strings.ToLower(strings.TrimSpace(c.Embedder.Type))

	if c.Embedder.Type == "" {
		c.Embedder.Type = "hash"
		if c.Embedder.APIKey != "" {
			c.Embedder.Type = "openai"
		}
	}
	if c.Embedder.Dimensions == 0 {
		c.Embedder.Dimensions = 1536
		if c.Embedder.Type == "hash" {
			c.Embedder.Dimensions = 512
		}
	}
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("PORT cannot be empty"))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("MAX_BODY_BYTES must be > 0"))
	}
	if c.Chunker.Size <= 0 {
		errs = append(errs, errors.New("CHUNK_SIZE must be > 0"))
	}
	if c.Chunker.Overlap < 0 || c.Chunker.Overlap >= c.Chunker.Size {
		errs = append(errs, errors.New("CHUNK_OVERLAP must be >= 0 and smaller than CHUNK_SIZE"))
	}
	if c.Chunker.RetrievalK <= 0 {
		errs = append(errs, errors.New("RETRIEVAL_K must be > 0"))
	}

	switch c.Session.Backend {
	case "memory":
	case "redis":
		if c.Session.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required when SESSION_BACKEND=redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown SESSION_BACKEND %q", c.Session.Backend))
	}

	switch c.VectorStore.Type {
	case "memory":
	case "sqlite":
		if c.VectorStore.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH cannot be empty"))
		}
	case "qdrant":
		if c.VectorStore.QdrantURL == "" || c.VectorStore.QdrantCollection == "" {
			errs = append(errs, errors.New("QDRANT_URL and QDRANT_COLLECTION are required when VECTOR_STORE=qdrant"))
		}
	case "pgvector":
		if c.VectorStore.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required when VECTOR_STORE=pgvector"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown VECTOR_STORE %q", c.VectorStore.Type))
	}

	switch c.Embedder.Type {
	case "hash":
	case "openai":
		if c.Embedder.APIKey == "" {
			errs = append(errs, errors.New("EMBEDDING_API_KEY or OPENAI_API_KEY is required when EMBEDDER=openai"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown EMBEDDER %q", c.Embedder.Type))
	}
	if c.Embedder.Dimensions <= 0 {
		errs = append(errs, errors.New("EMBEDDING_DIMENSIONS must be > 0"))
	}

	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// SlogLevel returns the configured log level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

// LLMEnabled reports whether a chat model key is configured.
func (c *Config) LLMEnabled() bool {
	return c.LLM.APIKey != ""
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL %q", s)
	}
	return level, nil
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
