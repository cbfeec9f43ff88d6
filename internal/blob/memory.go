package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

const memoryScheme = "mem"

// MemoryStore keeps blobs in process memory. Used by the memory backend and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (s *MemoryStore) Put(ctx context.Context, key string, r io.Reader, _ int64, _ string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read blob: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ref := memoryScheme + "://local/" + key
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[ref]; ok {
		return "", ErrExists
	}
	s.blobs[ref] = data
	return ref, nil
}

func (s *MemoryStore) Open(_ context.Context, ref string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[ref]
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *MemoryStore) Delete(_ context.Context, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, ref)
	return nil
}

// Len reports how many blobs are stored.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
