// Package statestore defines the StateStore abstraction resilience patterns
// use to persist breaker/idempotency/cache/throttle state, plus
// the helpers shared by every implementation (key-claim semantics for
// idempotency, fail-open error classification).
package statestore

import (
	"context"
	"errors"
	"time"
)

// Store is the TTL key/value abstraction resilience state lives in. Bytes
// are opaque to the store; a nil TTL means the entry never expires.
// Implementations must be safe for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl *time.Duration) error
	Delete(ctx context.Context, key string) error

	// TryClaim atomically creates key with value only if it does not already
	// exist (or has expired), returning true on success. It underlies the
	// Idempotent pattern's "atomically try-claim the key with TTL" contract.
	// Stores that cannot offer a true compare-and-swap MAY
	// implement this with a lock, provided the visible behavior is
	// equivalent for a single-instance store.
	TryClaim(ctx context.Context, key string, value []byte, ttl *time.Duration) (bool, error)
}

// ErrNotFound is returned by Get when the key is absent or expired. Callers
// implementing fail-open semantics should treat any non-nil
// error, including ErrNotFound, as a cache miss or permitted first request,
// never as a reason to block traffic.
var ErrNotFound = errors.New("statestore: key not found")

// IsNotFound reports whether err is or wraps ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
