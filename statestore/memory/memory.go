// Package memory implements the in-process reference StateStore: a
// sharded, RWMutex-guarded map with a background janitor sweeping expired
// entries.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/toolgateway/composition-core/statestore"
)

const shardCount = 16

type entry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// Store is an in-memory Store. The zero value is not usable; construct
// with New.
type Store struct {
	shards      [shardCount]*shard
	janitorStop chan struct{}
	janitorOnce sync.Once
	sweepEvery  time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithSweepInterval overrides the janitor's sweep cadence (default 30s).
func WithSweepInterval(d time.Duration) Option {
	return func(s *Store) { s.sweepEvery = d }
}

// New constructs a Store and starts its background janitor goroutine. Call
// Close to stop the janitor.
func New(opts ...Option) *Store {
	s := &Store{sweepEvery: 30 * time.Second, janitorStop: make(chan struct{})}
	for i := range s.shards {
		s.shards[i] = &shard{entries: make(map[string]*entry)}
	}
	for _, o := range opts {
		o(s)
	}
	go s.janitor()
	return s
}

// Close stops the background janitor. Safe to call once.
func (s *Store) Close() {
	s.janitorOnce.Do(func() { close(s.janitorStop) })
}

func (s *Store) shardFor(key string) *shard {
	var h uint32 = 2166136261
	for i := 0; i < len(key); i++ {
		h ^= uint32(key[i])
		h *= 16777619
	}
	return s.shards[h%shardCount]
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	sh := s.shardFor(key)
	sh.mu.RLock()
	e, ok := sh.entries[key]
	sh.mu.RUnlock()
	if !ok {
		return nil, statestore.ErrNotFound
	}
	if e.expired(time.Now()) {
		sh.mu.Lock()
		delete(sh.entries, key)
		sh.mu.Unlock()
		return nil, statestore.ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}

func (s *Store) Set(_ context.Context, key string, value []byte, ttl *time.Duration) error {
	sh := s.shardFor(key)
	e := &entry{value: append([]byte(nil), value...)}
	if ttl != nil {
		e.expiresAt = time.Now().Add(*ttl)
	}
	sh.mu.Lock()
	sh.entries[key] = e
	sh.mu.Unlock()
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	sh := s.shardFor(key)
	sh.mu.Lock()
	delete(sh.entries, key)
	sh.mu.Unlock()
	return nil
}

// TryClaim performs a check-then-set under the shard's write lock, giving
// single-instance atomicity.
func (s *Store) TryClaim(_ context.Context, key string, value []byte, ttl *time.Duration) (bool, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if e, ok := sh.entries[key]; ok && !e.expired(time.Now()) {
		return false, nil
	}
	e := &entry{value: append([]byte(nil), value...)}
	if ttl != nil {
		e.expiresAt = time.Now().Add(*ttl)
	}
	sh.entries[key] = e
	return true, nil
}

func (s *Store) janitor() {
	ticker := time.NewTicker(s.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-s.janitorStop:
			return
		case <-ticker.C:
			now := time.Now()
			for _, sh := range s.shards {
				sh.mu.Lock()
				for k, e := range sh.entries {
					if e.expired(now) {
						delete(sh.entries, k)
					}
				}
				sh.mu.Unlock()
			}
		}
	}
}
