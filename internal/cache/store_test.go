package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/leonardcser/shmkv/internal/engine"
)

// memStore is an in-process Store for exercising the front ends.
type memStore struct {
	mu      sync.Mutex
	now     time.Time
	entries map[string]memEntry
}

type memEntry struct {
	value     []byte
	expiresAt time.Time
}

func newMemStore() *memStore {
	return &memStore{now: time.Unix(1_700_000_000, 0), entries: make(map[string]memEntry)}
}

func (s *memStore) advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = s.now.Add(d)
}

func (s *memStore) expired(e memEntry) bool {
	return !e.expiresAt.IsZero() && !s.now.Before(e.expiresAt)
}

func (s *memStore) Get(key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || s.expired(e) {
		delete(s.entries, key)
		return nil, engine.ErrNotFound
	}
	return append([]byte{}, e.value...), nil
}

func (s *memStore) InsertWithTTL(key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := memEntry{value: append([]byte{}, value...)}
	if ttl > 0 {
		e.expiresAt = s.now.Add(ttl)
	}
	s.entries[key] = e
	return nil
}

func (s *memStore) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *memStore) Keys() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k, e := range s.entries {
		if !s.expired(e) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *memStore) PurgeExpired() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, e := range s.entries {
		if s.expired(e) {
			delete(s.entries, k)
			n++
		}
	}
	return n, nil
}

// failingStore answers every call with err.
type failingStore struct{ err error }

func (f failingStore) Get(string) ([]byte, error) { return nil, f.err }
func (f failingStore) InsertWithTTL(string, []byte, time.Duration) error { return f.err }
func (f failingStore) Remove(string) error { return f.err }
func (f failingStore) Keys() ([]string, error) { return nil, f.err }
func (f failingStore) PurgeExpired() (int, error) { return 0, f.err }
