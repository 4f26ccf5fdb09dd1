package memory

import (
	"context"
	"sync"

	"github.com/truthmarkets/settled/internal/domain"
)

// ParamsStore implements domain.ParamsStore in memory.
type ParamsStore struct {
	mu     sync.Mutex
	params domain.Params
}

// NewParamsStore creates a ParamsStore seeded with the given parameters.
func NewParamsStore(initial domain.Params) *ParamsStore {
	return &ParamsStore{params: initial}
}

// Get returns the current parameters.
func (s *ParamsStore) Get(ctx context.Context) (domain.Params, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params, nil
}

// Update replaces the parameters record.
func (s *ParamsStore) Update(ctx context.Context, params domain.Params) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params = params
	return nil
}

// Compile-time interface check.
var _ domain.ParamsStore = (*ParamsStore)(nil)
