package kvstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore implements Store in process memory. It is the fallback when
// Redis is not available (dev mode) and the backend for tests. Expiry is
// enforced lazily on read, matching Redis semantics closely enough for both.
//
// A MemoryStore is scoped to one process, so multi-instance deployments lose
// the shared-window and shared-queue guarantees with it; it is never the
// default in production config.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memEntry
	windows map[string][]time.Time
	queues  map[string]*memQueue
}

type memEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (e memEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

type memQueue struct {
	mu     sync.Mutex
	items  [][]byte
	notify chan struct{}
}

// NewMemory returns an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memEntry),
		windows: make(map[string][]time.Time),
		queues:  make(map[string]*memQueue),
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || e.expired(time.Now()) {
		delete(s.entries, key)
		return nil, ErrNotFound
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set(key, value, ttl)
	return nil
}

func (s *MemoryStore) set(key string, value []byte, ttl time.Duration) {
	e := memEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	s.entries[key] = e
}

func (s *MemoryStore) Update(ctx context.Context, key string, ttl time.Duration, fn func(cur []byte) ([]byte, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || e.expired(time.Now()) {
		delete(s.entries, key)
		return ErrNotFound
	}
	next, err := fn(e.value)
	if err != nil {
		return err
	}
	s.set(key, next, ttl)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.entries, k)
	}
	return nil
}

func (s *MemoryStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var keys []string
	for k, e := range s.entries {
		if strings.HasPrefix(k, prefix) && !e.expired(now) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *MemoryStore) RecordAndCount(ctx context.Context, key string, now time.Time, window time.Duration) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-window)
	kept := s.windows[key][:0]
	for _, t := range s.windows[key] {
		if !t.Before(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	s.windows[key] = kept
	return int64(len(kept)), kept[0], nil
}

func (s *MemoryStore) queue(name string) *memQueue {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[name]
	if !ok {
		q = &memQueue{notify: make(chan struct{}, 1)}
		s.queues[name] = q
	}
	return q
}

func (s *MemoryStore) Push(ctx context.Context, queue string, value []byte) error {
	q := s.queue(queue)
	q.mu.Lock()
	q.items = append(q.items, append([]byte(nil), value...))
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

func (s *MemoryStore) Pop(ctx context.Context, queue string, timeout time.Duration) ([]byte, error) {
	q := s.queue(queue)
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			head := q.items[0]
			q.items = q.items[1:]
			if len(q.items) > 0 {
				// More waiting; wake the next popper.
				select {
				case q.notify <- struct{}{}:
				default:
				}
			}
			q.mu.Unlock()
			return head, nil
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-timer.C:
			return nil, ErrEmpty
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (s *MemoryStore) Len(ctx context.Context, queue string) (int64, error) {
	q := s.queue(queue)
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.items)), nil
}

func (s *MemoryStore) Close() error { return nil }
