// Package vectorstore stores embedded chunks and retrieves them per session.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ashureev/contextqa/internal/domain"
	"github.com/ashureev/contextqa/internal/embedding"
)

// DefaultK is the number of documents returned when a query does not ask for a count.
const DefaultK = 5

// embedBatchSize bounds the number of texts sent in one embedding call.
const embedBatchSize = 64

// Record is one embedded chunk as handed to a backend.
type Record struct {
	ID        string
	SessionID string
	Text      string
	Metadata  map[string]string
	Vector    []float32
}

// Backend persists records and runs session-filtered similarity search.
// Search must only return records whose SessionID equals sessionID, closest first.
type Backend interface {
	Name() string
	Add(ctx context.Context, records []Record) error
	Search(ctx context.Context, sessionID string, vector []float32, k int) ([]domain.Document, error)
	DeleteSession(ctx context.Context, sessionID string) error
	Close() error
}

// Gateway embeds text and delegates storage to a Backend.
type Gateway struct {
	embedder embedding.Embedder
	backend  Backend
	k        int
}

// NewGateway creates a gateway. k <= 0 falls back to DefaultK.
func NewGateway(embedder embedding.Embedder, backend Backend, k int) *Gateway {
	if k <= 0 {
		k = DefaultK
	}
	return &Gateway{embedder: embedder, backend: backend, k: k}
}

// Backend returns the name of the storage backend.
func (g *Gateway) Backend() string { return g.backend.Name() }

// Index embeds the chunks and stores them tagged with sessionID. Indexing a
// session twice appends a second copy of its chunks; callers that want a
// clean slate delete the session first.
//
// Chunks are stored in batches. When a later batch fails, the earlier ones
// stay stored and their count is returned with the error; deleting the
// session removes them.
func (g *Gateway) Index(ctx context.Context, sessionID string, chunks []domain.Chunk, metadata map[string]string) (int, error) {
	if sessionID == "" {
		return 0, errors.New("session id is required")
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	for start := 0; start < len(chunks); start += embedBatchSize {
		end := min(start+embedBatchSize, len(chunks))
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}
		vectors, err := g.embedder.Embed(ctx, texts)
		if err != nil {
			return g.partial(sessionID, start, fmt.Errorf("embed chunks: %w", err))
		}
		if len(vectors) != len(batch) {
			return g.partial(sessionID, start, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(batch)))
		}

		records := make([]Record, len(batch))
		for i, c := range batch {
			records[i] = Record{
				ID:        uuid.NewString(),
				SessionID: sessionID,
				Text:      c.Text,
				Metadata:  chunkMetadata(metadata, sessionID, c),
				Vector:    vectors[i],
			}
		}
		if err := g.backend.Add(ctx, records); err != nil {
			return g.partial(sessionID, start, fmt.Errorf("store chunks: %w", err))
		}
	}
	return len(chunks), nil
}

// partial reports a failed Index, logging chunks already stored.
func (g *Gateway) partial(sessionID string, stored int, err error) (int, error) {
	if stored > 0 {
		slog.Warn("Chunks stored before indexing failed",
			"session_id", sessionID, "stored", stored, "backend", g.backend.Name(), "error", err)
	}
	return stored, err
}

// Query returns up to k documents of sessionID closest to question.
func (g *Gateway) Query(ctx context.Context, sessionID, question string, k int) ([]domain.Document, error) {
	if k <= 0 {
		k = g.k
	}
	vectors, err := g.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for 1 question", len(vectors))
	}
	docs, err := g.backend.Search(ctx, sessionID, vectors[0], k)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", g.backend.Name(), err)
	}
	return docs, nil
}

// DeleteSession removes every stored chunk of sessionID.
func (g *Gateway) DeleteSession(ctx context.Context, sessionID string) error {
	if err := g.backend.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("delete session from %s: %w", g.backend.Name(), err)
	}
	return nil
}

// Close releases the backend.
func (g *Gateway) Close() error {
	return g.backend.Close()
}

func chunkMetadata(base map[string]string, sessionID string, c domain.Chunk) map[string]string {
	md := make(map[string]string, len(base)+2)
	for k, v := range base {
		md[k] = v
	}
	md["session_id"] = sessionID
	md["chunk_index"] = fmt.Sprint(c.Index)
	return md
}
