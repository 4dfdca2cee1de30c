package vault

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryBackend is an in-process [Backend] for development and tests.
type MemoryBackend struct {
	mu      sync.RWMutex
	order   []string
	names   map[string]string
	secrets map[string][]byte
}

// NewMemoryBackend returns an empty backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		names:   make(map[string]string),
		secrets: make(map[string][]byte),
	}
}

// Create implements [Backend].
func (m *MemoryBackend) Create(ctx context.Context, name string, payload []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ref := "memory://secrets/" + uuid.NewString()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.order = append(m.order, ref)
	m.names[ref] = name
	m.secrets[ref] = append([]byte(nil), payload...)
	return ref, nil
}

// List implements [Backend]. Results are in creation order.
func (m *MemoryBackend) List(ctx context.Context, name string) ([]SecretMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]SecretMeta, 0, len(m.order))
	for _, ref := range m.order {
		if name != "" && m.names[ref] != name {
			continue
		}
		out = append(out, SecretMeta{Name: m.names[ref], Ref: ref})
	}
	return out, nil
}

// Payload implements [Backend].
func (m *MemoryBackend) Payload(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	payload, ok := m.secrets[ref]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), payload...), nil
}

// Len reports how many secrets are stored.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order)
}
