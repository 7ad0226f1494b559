package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process StateStore + ActiveHubs used by tests
// and single-node development runs.
type MemoryStore struct {
	mu          sync.Mutex
	kv          map[string][]byte
	hubs        map[string]ActiveHubEntry
	connections int64
}

// NewMemory returns an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		kv:   make(map[string][]byte),
		hubs: make(map[string]ActiveHubEntry),
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.kv[key]
	if !ok {
		return nil, nil
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (s *MemoryStore) Put(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	s.kv[key] = cp
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.kv, key)
	return nil
}

func (s *MemoryStore) Upsert(_ context.Context, entry ActiveHubEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hubs[entry.HubID] = entry
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, hubID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.hubs, hubID)
	return nil
}

func (s *MemoryStore) Entries(_ context.Context) ([]ActiveHubEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-PruneHorizon)
	var out []ActiveHubEntry
	for id, entry := range s.hubs {
		if entry.UpdatedAt.Before(cutoff) {
			delete(s.hubs, id)
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func (s *MemoryStore) AddConnections(_ context.Context, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connections += delta
	if s.connections < 0 {
		s.connections = 0
	}
	return nil
}

// Connections reports the current counter value, for tests.
func (s *MemoryStore) Connections() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connections
}
