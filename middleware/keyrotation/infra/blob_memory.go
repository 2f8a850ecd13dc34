package infra

import (
	"context"
	"sync"
)

// MemoryBlobStore é um domain.BlobStore em memória, para testes e instância única.
type MemoryBlobStore struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{data: make(map[string]string)}
}

func (s *MemoryBlobStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *MemoryBlobStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}
