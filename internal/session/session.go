// Package session tracks the context metadata of active conversations.
package session

import (
	"context"

	"github.com/ashureev/contextqa/internal/domain"
)

// Registry maps session ids to their context metadata. Writes are per key
// and the last write wins.
type Registry interface {
	// Put stores s under s.ID, replacing any previous entry.
	Put(ctx context.Context, s *domain.Session) error

	// Get returns the session, or nil without error when it does not exist.
	Get(ctx context.Context, id string) (*domain.Session, error)

	// Delete removes the session and reports whether it existed.
	Delete(ctx context.Context, id string) (bool, error)

	// Len returns the number of live sessions.
	Len(ctx context.Context) (int, error)

	// Close releases backend resources.
	Close() error
}

// EvictFunc is called with the id of a session dropped by capacity or TTL.
type EvictFunc func(id string)
