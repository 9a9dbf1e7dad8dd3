package registration

import (
	"context"
	"sort"
	"sync"
)

// InMemoryRepository is an in-memory implementation of Repository.
// This is intended for testing and local runs.
type InMemoryRepository struct {
	mu   sync.RWMutex
	regs map[string]*Registration
}

// NewInMemoryRepository creates a new in-memory registration repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{regs: make(map[string]*Registration)}
}

// Get retrieves a registration by device ID.
func (r *InMemoryRepository) Get(_ context.Context, id string) (*Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.regs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRegistration(reg), nil
}

// List retrieves registrations ordered by device ID.
func (r *InMemoryRepository) List(_ context.Context, opts ListOptions) (*ListResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	var items []*Registration
	for _, reg := range r.regs {
		if opts.ClientID != "" && reg.ClientID != opts.ClientID {
			continue
		}
		if opts.After != "" && reg.ID <= opts.After {
			continue
		}
		items = append(items, copyRegistration(reg))
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })

	result := &ListResult{Items: items}
	if len(items) > limit {
		result.Items = items[:limit]
		result.NextCursor = items[limit-1].ID
	}
	return result, nil
}

// Upsert creates or replaces a registration, keeping the original creation
// time and secret.
func (r *InMemoryRepository) Upsert(_ context.Context, reg *Registration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := copyRegistration(reg)
	existing, ok := r.regs[reg.ID]
	if ok {
		stored.CreatedAt = existing.CreatedAt
		if stored.SecretHash == "" {
			stored.SecretHash = existing.SecretHash
		}
	}
	r.regs[reg.ID] = stored
	return !ok, nil
}

// Delete removes a registration.
func (r *InMemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.regs[id]; !ok {
		return ErrNotFound
	}
	delete(r.regs, id)
	return nil
}

var _ Repository = (*InMemoryRepository)(nil)
