// Package redisstore implements statestore.Store on top of Redis, giving
// the resilience patterns a distributed-capable backend: gateways sharing
// a Redis database share breaker, idempotency, and cache state.
package redisstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/toolgateway/composition-core/statestore"
)

// Store adapts a *redis.Client to statestore.Store.
type Store struct {
	client *redis.Client
	prefix string
}

// Option configures a Store.
type Option func(*Store)

// WithKeyPrefix namespaces every key this Store touches, so one Redis
// instance can back multiple gateways/environments without collision.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// New wraps client.
func New(client *redis.Client, opts ...Option) *Store {
	s := &Store{client: client}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, statestore.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl *time.Duration) error {
	var exp time.Duration
	if ttl != nil {
		exp = *ttl
	}
	return s.client.Set(ctx, s.key(key), value, exp).Err()
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}

// TryClaim uses SETNX (atomic in Redis) so multiple gateway instances
// sharing the same Redis database claim idempotency/breaker keys
// consistently.
func (s *Store) TryClaim(ctx context.Context, key string, value []byte, ttl *time.Duration) (bool, error) {
	var exp time.Duration
	if ttl != nil {
		exp = *ttl
	}
	ok, err := s.client.SetNX(ctx, s.key(key), value, exp).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}
