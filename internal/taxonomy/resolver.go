// Package taxonomy resolves opaque leaf identifiers to their category hierarchy.
package taxonomy

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Veraticus/spice-rules/internal/common"
	"github.com/Veraticus/spice-rules/internal/model"
	"github.com/Veraticus/spice-rules/internal/service"
)

// Resolver is a read-through cache in front of a taxonomy repository.
// Leaves change rarely, so hits are served from memory until Invalidate is called.
type Resolver struct {
	repo  service.TaxonomyRepository
	cache map[string]model.TaxonomyLeaf
	mu    sync.RWMutex
}

// NewResolver creates a resolver backed by repo.
func NewResolver(repo service.TaxonomyRepository) *Resolver {
	return &Resolver{
		repo:  repo,
		cache: make(map[string]model.TaxonomyLeaf),
	}
}

// Resolve returns the leaf for id or an error wrapping common.ErrUnknownLeaf.
func (r *Resolver) Resolve(ctx context.Context, id string) (*model.TaxonomyLeaf, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty leaf id", common.ErrUnknownLeaf)
	}

	r.mu.RLock()
	leaf, ok := r.cache[id]
	r.mu.RUnlock()
	if ok {
		return &leaf, nil
	}

	found, err := r.repo.GetLeaf(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrUnknownLeaf) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to resolve leaf %q: %w", id, err)
	}

	r.mu.Lock()
	r.cache[id] = *found
	r.mu.Unlock()

	return found, nil
}

// List returns every leaf in the taxonomy.
func (r *Resolver) List(ctx context.Context) ([]model.TaxonomyLeaf, error) {
	return r.repo.ListLeaves(ctx)
}

// Import validates and stores leaves, then drops the cache.
func (r *Resolver) Import(ctx context.Context, leaves []model.TaxonomyLeaf) error {
	if err := Validate(leaves); err != nil {
		return err
	}
	if err := r.repo.SaveLeaves(ctx, leaves); err != nil {
		return fmt.Errorf("failed to save taxonomy: %w", err)
	}
	r.Invalidate()
	return nil
}

// Invalidate clears cached leaves.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]model.TaxonomyLeaf)
}

// MemoryRepository is an in-process taxonomy repository.
type MemoryRepository struct {
	leaves map[string]model.TaxonomyLeaf
	mu     sync.RWMutex
}

// NewMemoryRepository creates a repository seeded with leaves.
func NewMemoryRepository(leaves ...model.TaxonomyLeaf) *MemoryRepository {
	repo := &MemoryRepository{leaves: make(map[string]model.TaxonomyLeaf)}
	for _, leaf := range leaves {
		repo.leaves[leaf.ID] = leaf
	}
	return repo
}

// GetLeaf implements service.TaxonomyRepository.
func (m *MemoryRepository) GetLeaf(_ context.Context, id string) (*model.TaxonomyLeaf, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	leaf, ok := m.leaves[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", common.ErrUnknownLeaf, id)
	}
	return &leaf, nil
}

// ListLeaves implements service.TaxonomyRepository.
func (m *MemoryRepository) ListLeaves(_ context.Context) ([]model.TaxonomyLeaf, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.TaxonomyLeaf, 0, len(m.leaves))
	for _, leaf := range m.leaves {
		out = append(out, leaf)
	}
	sortLeaves(out)
	return out, nil
}

// SaveLeaves implements service.TaxonomyRepository.
func (m *MemoryRepository) SaveLeaves(_ context.Context, leaves []model.TaxonomyLeaf) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, leaf := range leaves {
		m.leaves[leaf.ID] = leaf
	}
	return nil
}
