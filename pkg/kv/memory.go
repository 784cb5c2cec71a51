package kv

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by tests and zero-config mode.
type MemoryStore struct {
	mu      sync.RWMutex
	values  map[string]memoryEntry
	lists   map[string][]string
	subs    map[string][]chan string
	subsMu  sync.Mutex
	closed  bool
	nowFunc func() time.Time
}

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values:  make(map[string]memoryEntry),
		lists:   make(map[string][]string),
		subs:    make(map[string][]chan string),
		nowFunc: time.Now,
	}
}

// SetNowFunc overrides the clock, for TTL tests.
func (s *MemoryStore) SetNowFunc(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFunc = now
}

func (s *MemoryStore) expired(e memoryEntry) bool {
	return !e.expiresAt.IsZero() && s.nowFunc().After(e.expiresAt)
}

func (s *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.values[key]
	if !ok || s.expired(entry) {
		return "", false, nil
	}
	return entry.value, true, nil
}

func (s *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = s.nowFunc().Add(ttl)
	}
	s.values[key] = entry
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.values, key)
	delete(s.lists, key)
	return nil
}

func (s *MemoryStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for key, entry := range s.values {
		if strings.HasPrefix(key, prefix) && !s.expired(entry) {
			keys = append(keys, key)
		}
	}
	for key := range s.lists {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (s *MemoryStore) ListAppend(ctx context.Context, key string, values ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lists[key] = append(s.lists[key], values...)
	return nil
}

func (s *MemoryStore) ListRange(ctx context.Context, key string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.lists[key]
	out := make([]string, len(list))
	copy(out, list)
	return out, nil
}

func (s *MemoryStore) ListReplace(ctx context.Context, key string, values []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	replacement := make([]string, len(values))
	copy(replacement, values)
	s.lists[key] = replacement
	return nil
}

func (s *MemoryStore) Publish(ctx context.Context, topic, payload string) error {
	// Sends are non-blocking, so holding the lock keeps delivery ordered
	// with respect to Subscribe/cancel without risking a stall.
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	for _, ch := range s.subs[topic] {
		select {
		case ch <- payload:
		default:
			// Slow subscriber; drop rather than block the publisher.
		}
	}
	return nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, topic string) (<-chan string, func(), error) {
	ch := make(chan string, 64)

	s.subsMu.Lock()
	s.subs[topic] = append(s.subs[topic], ch)
	s.subsMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.subsMu.Lock()
			defer s.subsMu.Unlock()
			subs := s.subs[topic]
			for i, sub := range subs {
				if sub == ch {
					s.subs[topic] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
			close(ch)
		})
	}

	return ch, cancel, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
