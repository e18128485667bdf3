package store

import (
	"container/heap"
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/txguard/internal/domain/clock"
)

type entry struct {
	key       string
	value     string
	expiresAt time.Time
	index     int
}

// expiryHeap orders entries by expiry, soonest first.
type expiryHeap []*entry

func (h expiryHeap) Len() int           { return len(h) }
func (h expiryHeap) Less(i, j int) bool { return h[i].expiresAt.Before(h[j].expiresAt) }
func (h expiryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *expiryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// MemoryStore is a bounded, single-process Store with TTL expiry, meant for
// development and tests. It is not shared between instances.
//
// Live keys are never evicted: a counter or idempotency record stays intact
// until its TTL passes. When the bound is reached, expired keys are purged and
// a write that still does not fit fails with ErrFull.
type MemoryStore struct {
	mu       sync.Mutex
	entries  map[string]*entry
	expiry   expiryHeap
	maxKeys  int
	clock    clock.Clock
	closed   atomic.Bool
	rejected atomic.Int64
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]*entry),
		maxKeys: 100000,
		clock:   clock.Real{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IncrementWithTTL implements Store.
func (s *MemoryStore) IncrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if ttl <= 0 {
		return 0, ErrInvalidTTL
	}
	if err := s.usable(ctx); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	e := s.live(key, now)
	if e == nil {
		if err := s.insert(key, "1", now.Add(ttl), now); err != nil {
			return 0, err
		}
		return 1, nil
	}
	n, err := strconv.ParseInt(e.value, 10, 64)
	if err != nil {
		return 0, ErrNotInteger
	}
	n++
	e.value = strconv.FormatInt(n, 10)
	return n, nil
}

// SetIfAbsent implements Store.
func (s *MemoryStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, ErrInvalidTTL
	}
	if err := s.usable(ctx); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if s.live(key, now) != nil {
		return false, nil
	}
	if err := s.insert(key, value, now.Add(ttl), now); err != nil {
		return false, err
	}
	return true, nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	if err := s.usable(ctx); err != nil {
		return "", false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key, s.clock.Now())
	if e == nil {
		return "", false, nil
	}
	return e.value, true, nil
}

// Set implements Store.
func (s *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	if err := s.usable(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if e := s.live(key, now); e != nil {
		e.value = value
		e.expiresAt = now.Add(ttl)
		heap.Fix(&s.expiry, e.index)
		return nil
	}
	return s.insert(key, value, now.Add(ttl), now)
}

// CompareAndDelete implements Store.
func (s *MemoryStore) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	if err := s.usable(ctx); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key, s.clock.Now())
	if e == nil || e.value != expected {
		return false, nil
	}
	s.remove(e)
	return true, nil
}

// Ping implements Store.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return s.usable(ctx)
}

// Close implements Store. Further calls fail with ErrClosed.
func (s *MemoryStore) Close() error {
	s.closed.Store(true)
	return nil
}

// Size returns the number of stored keys, including ones not yet purged.
func (s *MemoryStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Rejected returns how many writes failed with ErrFull.
func (s *MemoryStore) Rejected() int64 {
	return s.rejected.Load()
}

func (s *MemoryStore) usable(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return ctx.Err()
}

// live returns the unexpired entry for key, purging it if expired.
// Must be called with s.mu held.
func (s *MemoryStore) live(key string, now time.Time) *entry {
	e, ok := s.entries[key]
	if !ok {
		return nil
	}
	if !now.Before(e.expiresAt) {
		s.remove(e)
		return nil
	}
	return e
}

// insert adds a new key. When the store is full it purges expired keys and
// fails with ErrFull if that did not free a slot.
// Must be called with s.mu held.
func (s *MemoryStore) insert(key, value string, expiresAt, now time.Time) error {
	if s.maxKeys > 0 && len(s.entries) >= s.maxKeys {
		s.purgeExpired(now)
		if len(s.entries) >= s.maxKeys {
			s.rejected.Add(1)
			return ErrFull
		}
	}
	e := &entry{key: key, value: value, expiresAt: expiresAt}
	heap.Push(&s.expiry, e)
	s.entries[key] = e
	return nil
}

// purgeExpired pops entries off the expiry heap while they are expired.
// Must be called with s.mu held.
func (s *MemoryStore) purgeExpired(now time.Time) {
	for len(s.expiry) > 0 && !now.Before(s.expiry[0].expiresAt) {
		s.remove(s.expiry[0])
	}
}

// Must be called with s.mu held.
func (s *MemoryStore) remove(e *entry) {
	heap.Remove(&s.expiry, e.index)
	delete(s.entries, e.key)
}
