// ContextQA - question answering over YouTube transcripts and web pages
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/ashureev/contextqa/internal/answer"
	"github.com/ashureev/contextqa/internal/api"
	"github.com/ashureev/contextqa/internal/chunker"
	"github.com/ashureev/contextqa/internal/config"
	"github.com/ashureev/contextqa/internal/embedding"
	"github.com/ashureev/contextqa/internal/extractor"
	"github.com/ashureev/contextqa/internal/grpchealth"
	"github.com/ashureev/contextqa/internal/metrics"
	"github.com/ashureev/contextqa/internal/middleware"
	"github.com/ashureev/contextqa/internal/rag"
	"github.com/ashureev/contextqa/internal/session"
	"github.com/ashureev/contextqa/internal/vectorstore"
	"github.com/ashureev/contextqa/internal/vectorstore/memory"
	"github.com/ashureev/contextqa/internal/vectorstore/pgvector"
	"github.com/ashureev/contextqa/internal/vectorstore/qdrant"
	"github.com/ashureev/contextqa/internal/vectorstore/sqlite"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server",
		"port", cfg.Port,
		"vector_store", cfg.VectorStore.Type,
		"embedder", cfg.Embedder.Type,
		"session_backend", cfg.Session.Backend,
		"llm_enabled", cfg.LLMEnabled())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	embedder, err := newEmbedder(cfg)
	if err != nil {
		slog.Error("Failed to initialize embedder", "error", err)
		os.Exit(1)
	}

	backend, err := newBackend(ctx, cfg, embedder.Dimension())
	if err != nil {
		slog.Error("Failed to initialize vector store", "type", cfg.VectorStore.Type, "error", err)
		os.Exit(1)
	}
	gateway := vectorstore.NewGateway(embedder, backend, cfg.Chunker.RetrievalK)
	defer func() {
		if closeErr := gateway.Close(); closeErr != nil {
			slog.Error("Failed to close vector store", "error", closeErr)
		}
	}()
	slog.Info("Vector store ready", "backend", gateway.Backend(), "dimension", embedder.Dimension())

	// The registry eviction hook needs the service, which needs the registry.
	var svcRef atomic.Pointer[rag.Service]
	onEvict := func(id string) {
		if svc := svcRef.Load(); svc != nil {
			slog.Info("Session evicted", "session_id", id)
			svc.PurgeVectors(id)
		}
	}
	registry, err := newRegistry(ctx, cfg, onEvict)
	if err != nil {
		slog.Error("Failed to initialize session registry", "backend", cfg.Session.Backend, "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := registry.Close(); closeErr != nil {
			slog.Error("Failed to close session registry", "error", closeErr)
		}
	}()

	var model answer.Model
	if cfg.LLMEnabled() {
		model = answer.NewLLM(answer.LLMConfig{
			BaseURL:      cfg.LLM.APIBase,
			APIKey:       cfg.LLM.APIKey,
			FallbackKeys: cfg.LLM.FallbackKeys,
			Model:        cfg.LLM.Model,
			Temperature:  cfg.LLM.Temperature,
			MaxTokens:    cfg.LLM.MaxTokens,
			Timeout:      cfg.LLM.Timeout,
		})
	} else {
		slog.Warn("LLM_API_KEY not set, every answer will be the fallback message")
	}

	deps := rag.Deps{
		Transcripts: extractor.NewYouTube(extractor.YouTubeConfig{
			Languages: cfg.Extract.TranscriptLangs,
			Timeout:   cfg.Extract.FetchTimeout,
		}),
		Chunker:     chunker.New(cfg.Chunker.Size, cfg.Chunker.Overlap),
		Gateway:     gateway,
		Synthesizer: answer.NewSynthesizer(model),
		Registry:    registry,
		Metrics:     &metrics.Counters{},
	}
	if cfg.Extract.PageFetchFallback {
		deps.Pages = extractor.NewPage(extractor.PageConfig{
			Timeout:         cfg.Extract.FetchTimeout,
			MaxContentChars: cfg.Extract.MaxContentChars,
		})
	}
	svc := rag.NewService(deps, rag.Config{K: cfg.Chunker.RetrievalK})
	svcRef.Store(svc)

	handler := api.NewHandler(svc, api.Options{
		VectorStore:  gateway.Backend(),
		MaxBodyBytes: int64(cfg.MaxBodyBytes),
		Metrics:      svc.Metrics(),

		AllowedOrigins: cfg.AllowedOrigins,
	})

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	handler.RegisterRoutes(r)

	// No WriteTimeout: /ws/ask connections are long lived and model calls
	// carry their own timeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	var health *grpchealth.Server
	if cfg.GRPCHealthPort != "" {
		health, err = grpchealth.New(net.JoinHostPort("", cfg.GRPCHealthPort), logger)
		if err != nil {
			slog.Error("Failed to start gRPC health server", "error", err)
			os.Exit(1)
		}
		go func() {
			if err := health.Serve(); err != nil {
				slog.Error("gRPC health server failed", "error", err)
			}
		}()
	}

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")
	if health != nil {
		health.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	svc.Close()

	slog.Info("Server stopped successfully")
}

func newEmbedder(cfg *config.Config) (embedding.Embedder, error) {
	switch cfg.Embedder.Type {
	case "openai":
		return embedding.NewOpenAIClient(embedding.OpenAIConfig{
			BaseURL:           cfg.Embedder.APIBase,
			APIKey:            cfg.Embedder.APIKey,
			Model:             cfg.Embedder.Model,
			Dimensions:        cfg.Embedder.Dimensions,
			Timeout:           cfg.Extract.FetchTimeout,
			RequestsPerSecond: cfg.Embedder.RPS,
		})
	case "hash":
		return embedding.NewHashEmbedder(cfg.Embedder.Dimensions), nil
	default:
		return nil, fmt.Errorf("unknown embedder %q", cfg.Embedder.Type)
	}
}

func newBackend(ctx context.Context, cfg *config.Config, dim int) (vectorstore.Backend, error) {
	switch cfg.VectorStore.Type {
	case "memory":
		return memory.New(), nil
	case "sqlite":
		store, err := sqlite.New(cfg.VectorStore.SQLitePath)
		if err != nil {
			return nil, err
		}
		if err := store.Ping(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("sqlite health check: %w", err)
		}
		return store, nil
	case "qdrant":
		return qdrant.New(ctx, qdrant.Config{
			URL:        cfg.VectorStore.QdrantURL,
			APIKey:     cfg.VectorStore.QdrantAPIKey,
			Collection: cfg.VectorStore.QdrantCollection,
			Dimension:  dim,
			Timeout:    cfg.Extract.FetchTimeout,
		})
	case "pgvector":
		return pgvector.New(ctx, pgvector.Config{
			DatabaseURL: cfg.VectorStore.DatabaseURL,
			Dimension:   dim,
		})
	default:
		return nil, fmt.Errorf("unknown vector store %q", cfg.VectorStore.Type)
	}
}

func newRegistry(ctx context.Context, cfg *config.Config, onEvict session.EvictFunc) (session.Registry, error) {
	switch cfg.Session.Backend {
	case "redis":
		return session.NewRedis(ctx, cfg.Session.RedisURL, cfg.Session.TTL)
	default:
		return session.NewMemory(cfg.Session.MaxEntries, cfg.Session.TTL, onEvict), nil
	}
}
