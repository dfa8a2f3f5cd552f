// Package memory is an in-process vector backend using brute-force cosine similarity.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/ashureev/contextqa/internal/domain"
	"github.com/ashureev/contextqa/internal/embedding"
	"github.com/ashureev/contextqa/internal/vectorstore"
)

// Store keeps records grouped by session.
type Store struct {
	mu       sync.RWMutex
	sessions map[string][]vectorstore.Record
}

// New creates an empty store.
func New() *Store {
	return &Store{sessions: make(map[string][]vectorstore.Record)}
}

func (s *Store) Name() string { return "memory" }

func (s *Store) Add(_ context.Context, records []vectorstore.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.sessions[r.SessionID] = append(s.sessions[r.SessionID], r)
	}
	return nil
}

func (s *Store) Search(_ context.Context, sessionID string, vector []float32, k int) ([]domain.Document, error) {
	s.mu.RLock()
	records := s.sessions[sessionID]
	docs := make([]domain.Document, len(records))
	for i, r := range records {
		docs[i] = domain.Document{
			ID:        r.ID,
			SessionID: r.SessionID,
			Text:      r.Text,
			Metadata:  r.Metadata,
			Score:     embedding.Cosine(vector, r.Vector),
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(docs, func(i, j int) bool { return docs[i].Score > docs[j].Score })
	if k > 0 && len(docs) > k {
		docs = docs[:k]
	}
	return docs, nil
}

func (s *Store) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// Count returns the number of records stored for sessionID.
func (s *Store) Count(sessionID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions[sessionID])
}

func (s *Store) Close() error { return nil }
