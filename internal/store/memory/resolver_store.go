package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/truthmarkets/settled/internal/domain"
)

// ResolverStore implements domain.ResolverStore in memory.
type ResolverStore struct {
	mu      sync.Mutex
	entries map[string]domain.ResolverEntry
}

// NewResolverStore creates an empty ResolverStore.
func NewResolverStore() *ResolverStore {
	return &ResolverStore{entries: make(map[string]domain.ResolverEntry)}
}

// Register inserts or replaces a whitelist entry.
func (s *ResolverStore) Register(ctx context.Context, entry domain.ResolverEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[entry.Fingerprint] = entry
	return nil
}

// Get retrieves one entry.
func (s *ResolverStore) Get(ctx context.Context, fingerprint string) (domain.ResolverEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[fingerprint]
	if !ok {
		return domain.ResolverEntry{}, domain.ErrNotFound
	}
	return entry, nil
}

// Deactivate clears the active flag.
func (s *ResolverStore) Deactivate(ctx context.Context, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[fingerprint]
	if !ok {
		return domain.ErrNotFound
	}
	entry.Active = false
	s.entries[fingerprint] = entry
	return nil
}

// List returns entries, newest registration first.
func (s *ResolverStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.ResolverEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.ResolverEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RegisteredAt.After(out[j].RegisteredAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.ResolverStore = (*ResolverStore)(nil)
