package cache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

const DefaultMemoryEntries = 10000

type memoryEntry struct {
	payload   []byte
	expiresAt time.Time
}

// MemoryStore is an in-process Store bounded by an LRU. It is meant for a
// single service instance or for local development without Redis.
type MemoryStore struct {
	mu    sync.Mutex
	items *lru.Cache
	now   func() time.Time
}

func NewMemoryStore(size int) (*MemoryStore, error) {
	if size <= 0 {
		size = DefaultMemoryEntries
	}
	items, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &MemoryStore{items: items, now: time.Now}, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok := s.items.Get(key)
	if !ok {
		return nil, false, nil
	}
	entry := raw.(memoryEntry)
	if !s.now().Before(entry.expiresAt) {
		s.items.Remove(key)
		return nil, false, nil
	}
	return append([]byte(nil), entry.payload...), true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	s.mu.Lock()
	s.items.Add(key, memoryEntry{
		payload:   append([]byte(nil), value...),
		expiresAt: s.now().Add(ttl),
	})
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok := s.items.Peek(key)
	if !ok {
		return false, nil
	}
	s.items.Remove(key)
	return s.now().Before(raw.(memoryEntry).expiresAt), nil
}
