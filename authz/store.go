package authz

import (
	"context"
	"slices"
	"sync"
)

// UpdateFunc computes the next permission set from the current one. exists
// is false when the user has no record yet.
type UpdateFunc func(current []string, exists bool) ([]string, error)

// Store persists one permission list per user id. Get returns [ErrNotFound]
// for unknown users. Update must apply fn atomically with respect to other
// writers of the same user.
type Store interface {
	Get(ctx context.Context, userID string) ([]string, error)
	Put(ctx context.Context, userID string, permissions []string) error
	Update(ctx context.Context, userID string, fn UpdateFunc) ([]string, error)
}

// MemoryStore is an in-process [Store] for development and tests.
type MemoryStore struct {
	mu    sync.Mutex
	perms map[string][]string
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{perms: make(map[string][]string)}
}

func (m *MemoryStore) Get(_ context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	perms, ok := m.perms[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(perms), nil
}

func (m *MemoryStore) Put(_ context.Context, userID string, permissions []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.perms[userID] = slices.Clone(permissions)
	return nil
}

func (m *MemoryStore) Update(_ context.Context, userID string, fn UpdateFunc) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.perms[userID]
	next, err := fn(slices.Clone(current), ok)
	if err != nil {
		return nil, err
	}
	m.perms[userID] = slices.Clone(next)
	return slices.Clone(next), nil
}
