// Package memory implements the db.Store facade with process-local maps.
// It is the default driver for embedded deployments and the test driver.
package memory

import (
	"context"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/stgy-dev/shardix/internal/db"
)

// Compile-time check: Store implements db.Store.
var _ db.Store = (*Store)(nil)

// Store is an in-memory db.Store. Safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	hashes map[string]map[string]string
	kv     map[string][]byte
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		hashes: make(map[string]map[string]string),
		kv:     make(map[string][]byte),
	}
}

// Ping always succeeds.
func (s *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() {}

// WaitForReady returns immediately; there is nothing to wait for.
func (s *Store) WaitForReady(_ context.Context, _ time.Duration) error { return nil }

// HSet sets hash fields, merging into any existing hash.
func (s *Store) HSet(_ context.Context, key string, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hsetLocked(key, fields)
	return nil
}

// HSetMulti stores multiple hashes.
func (s *Store) HSetMulti(_ context.Context, items []db.HashSetItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range items {
		s.hsetLocked(item.Key, item.Fields)
	}
	return nil
}

func (s *Store) hsetLocked(key string, fields map[string]string) {
	h, ok := s.hashes[key]
	if !ok {
		h = make(map[string]string, len(fields))
		s.hashes[key] = h
	}
	for k, v := range fields {
		h[k] = v
	}
}

// HGetAllMulti fetches all fields for multiple hashes. Missing keys yield an
// empty map, matching Redis HGETALL.
func (s *Store) HGetAllMulti(_ context.Context, keys []string) ([]map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]map[string]string, len(keys))
	for i, key := range keys {
		out[i] = copyFields(s.hashes[key])
	}
	return out, nil
}

// Del deletes a key from both the hash and kv spaces.
func (s *Store) Del(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.hashes, key)
	delete(s.kv, key)
	return nil
}

// DelMulti deletes multiple keys.
func (s *Store) DelMulti(_ context.Context, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.hashes, key)
		delete(s.kv, key)
	}
	return nil
}


// Scan returns all keys matching a glob pattern, sorted for determinism.
func (s *Store) Scan(_ context.Context, pattern string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for key := range s.hashes {
		if matched, _ := path.Match(pattern, key); matched {
			keys = append(keys, key)
		}
	}
	for key := range s.kv {
		if _, dup := s.hashes[key]; dup {
			continue
		}
		if matched, _ := path.Match(pattern, key); matched {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Get retrieves a value by key.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.kv[key]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Set stores a value at the given key.
func (s *Store) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	s.kv[key] = v
	return nil
}

func copyFields(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
