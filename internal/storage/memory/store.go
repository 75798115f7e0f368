package memory

import (
	"context"
	"sync"
)

// Store keeps mirror entries in process memory. Nothing survives a restart.
type Store struct {
	mu      sync.RWMutex
	buckets map[string]map[string][]byte
}

func NewStore() *Store {
	return &Store{buckets: make(map[string]map[string][]byte)}
}

func (s *Store) Put(_ context.Context, bucket, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, ok := s.buckets[bucket]
	if !ok {
		entries = make(map[string][]byte)
		s.buckets[bucket] = entries
	}
	entries[key] = append([]byte(nil), value...)
	return nil
}

func (s *Store) Replace(_ context.Context, bucket string, entries map[string][]byte) error {
	next := make(map[string][]byte, len(entries))
	for key, value := range entries {
		next[key] = append([]byte(nil), value...)
	}
	s.mu.Lock()
	s.buckets[bucket] = next
	s.mu.Unlock()
	return nil
}

func (s *Store) List(_ context.Context, bucket string) (map[string][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]byte, len(s.buckets[bucket]))
	for key, value := range s.buckets[bucket] {
		out[key] = append([]byte(nil), value...)
	}
	return out, nil
}

func (s *Store) Close() error { return nil }
