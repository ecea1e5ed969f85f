package cache

import (
	"context"
	"sort"
	"sync"
)

type MemoryStore struct {
	mu          sync.RWMutex
	generations map[string]map[string]Object
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{generations: map[string]map[string]Object{}}
}

func (s *MemoryStore) Open(ctx context.Context, generation string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.generations[generation]; !ok {
		s.generations[generation] = map[string]Object{}
	}
	return nil
}

func (s *MemoryStore) Generations(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.generations))
	for name := range s.generations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *MemoryStore) DropGeneration(ctx context.Context, generation string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.generations, generation)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, generation, key string) (Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries, ok := s.generations[generation]
	if !ok {
		return Object{}, ErrNotFound
	}
	obj, ok := entries[key]
	if !ok {
		return Object{}, ErrNotFound
	}
	return cloneObject(obj), nil
}

func (s *MemoryStore) Put(ctx context.Context, generation, key string, obj Object) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, ok := s.generations[generation]
	if !ok {
		return ErrGenerationNotFound
	}
	entries[key] = cloneObject(obj)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, generation, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entries, ok := s.generations[generation]; ok {
		delete(entries, key)
	}
	return nil
}

func cloneObject(obj Object) Object {
	if obj.Body != nil {
		obj.Body = append([]byte(nil), obj.Body...)
	}
	return obj
}
