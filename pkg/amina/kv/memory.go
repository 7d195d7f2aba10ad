package kv

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"
)

// maxMemoryEntries bounds the fallback store so a degraded instance
// cannot grow without limit.
const maxMemoryEntries = 10000

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// MemoryStore is a single-instance, best-effort Store used when no shared
// store is configured or reachable. It is never globally consistent.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry

	// now is injectable for window-boundary tests.
	now func() time.Time
}

// NewMemoryStore returns an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// SetNow overrides the clock. Test hook only.
func (s *MemoryStore) SetNow(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) expired(e memoryEntry, now time.Time) bool {
	return !e.expiresAt.IsZero() && !e.expiresAt.After(now)
}

// evictLocked purges expired entries, then oldest-expiring entries until
// the store is under its cap. Callers hold the lock.
func (s *MemoryStore) evictLocked(now time.Time) {
	if len(s.entries) < maxMemoryEntries {
		return
	}
	for k, e := range s.entries {
		if s.expired(e, now) {
			delete(s.entries, k)
		}
	}
	for len(s.entries) >= maxMemoryEntries {
		var victim string
		var victimExp time.Time
		for k, e := range s.entries {
			// Permanent entries hold registrations; evict TTL'd ones first.
			if e.expiresAt.IsZero() {
				continue
			}
			if victim == "" || e.expiresAt.Before(victimExp) {
				victim = k
				victimExp = e.expiresAt
			}
		}
		if victim == "" {
			for k := range s.entries {
				victim = k
				break
			}
		}
		delete(s.entries, victim)
	}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return "", false, nil
	}
	if s.expired(e, s.now()) {
		delete(s.entries, key)
		return "", false, nil
	}
	return e.value, true, nil
}

func (s *MemoryStore) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.evictLocked(now)

	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}
	s.entries[key] = e
	return nil
}

func (s *MemoryStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.evictLocked(now)

	e, ok := s.entries[key]
	if ok && s.expired(e, now) {
		ok = false
	}

	var count int64 = 1
	expiresAt := e.expiresAt
	if ok {
		prev, err := strconv.ParseInt(e.value, 10, 64)
		if err == nil {
			count = prev + 1
		}
	} else if ttl > 0 {
		expiresAt = now.Add(ttl)
	}

	s.entries[key] = memoryEntry{
		value:     strconv.FormatInt(count, 10),
		expiresAt: expiresAt,
	}
	return count, nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *MemoryStore) List(ctx context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var keys []string
	for k, e := range s.entries {
		if s.expired(e, now) {
			continue
		}
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}
