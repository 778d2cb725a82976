// Package credstore provides the credential-store implementations behind
// the auth.Store boundary: in-memory, JSON file, Redis, and PostgreSQL.
package credstore

import (
	"context"
	"sync"

	"github.com/veylan/armory/internal/auth"
)

// MemoryStore keeps TokenState in memory. Used by tests and by throwaway
// sessions that should not persist.
type MemoryStore struct {
	mu    sync.Mutex
	state *auth.TokenState
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(ctx context.Context) (*auth.TokenState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return nil, nil
	}
	copied := *s.state
	return &copied, nil
}

func (s *MemoryStore) Save(ctx context.Context, state *auth.TokenState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *state
	s.state = &copied
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = nil
	return nil
}
