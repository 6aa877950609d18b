// Package farstore defines the far-tier abstraction the cache coordinator
// consumes: a byte store with server-side TTLs, a small set of data-structure
// operations, pub/sub, and the atomic primitives the distributed mutex is
// built on.
//
// Implementations MUST be byte-for-byte transparent: Get must return exactly
// the same []byte previously passed to Set for a key. When sliding is in use
// they MUST keep the primary value and its sliding-metadata sibling on the
// same TTL.
package farstore

import (
	"context"
	"errors"
	"time"
)

// Store is the contract the coordinator requires from the shared far tier.
// Implementations must be safe for concurrent use; one multiplexed
// connection is shared by all cache operations and the invalidation
// transport built on Publish/Subscribe.
type Store interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value with the given TTL (0 = no expiry). When sliding > 0
	// it also writes the sliding-duration sibling with the same TTL.
	Set(ctx context.Context, key string, value []byte, ttl, sliding time.Duration) error

	// Remove deletes the keys and their sliding siblings in one command.
	// The count is the number of keys deleted, siblings included.
	Remove(ctx context.Context, keys ...string) (int64, error)

	// Expire resets the TTL of key (and its sibling, when present).
	// Returns false when the key does not exist.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Refresh re-arms the sliding TTL of key from its stored sliding
	// duration. Returns false when the entry or its sliding sibling is gone.
	Refresh(ctx context.Context, key string) (bool, error)

	// Hash
	HSet(ctx context.Context, key, field string, value []byte) error
	HGet(ctx context.Context, key, field string) ([]byte, bool, error)
	HGetAll(ctx context.Context, key string) (map[string][]byte, error)
	HDel(ctx context.Context, key string, fields ...string) (int64, error)

	// List. RPush appends to the tail, LPop removes from the head: the pair
	// is FIFO.
	RPush(ctx context.Context, key string, values ...[]byte) (int64, error)
	LPop(ctx context.Context, key string) ([]byte, bool, error)
	LLen(ctx context.Context, key string) (int64, error)

	// Set. SAdd is idempotent.
	SAdd(ctx context.Context, key string, members ...[]byte) (int64, error)
	SRem(ctx context.Context, key string, members ...[]byte) (int64, error)
	SMembers(ctx context.Context, key string) ([][]byte, error)

	// Sorted set. ZRangeByScore returns members in ascending score order.
	ZAdd(ctx context.Context, key, member string, score float64) error
	ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error)

	// Pub/sub. Subscribe delivers every message on channel to handler on a
	// transport-owned goroutine until the subscription is closed.
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string, handler func(channel string, payload []byte)) (Subscription, error)

	// Atomic primitives for the advisory lock.
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key, token string) (bool, error)
	CompareAndExpire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)

	Close(ctx context.Context) error
}

// Subscription owns the transport resources a Subscribe call opened.
type Subscription interface {
	Close() error
}

// transientError marks a failure as a backend-connection or timeout class
// failure: worth retrying, and grounds for near-tier degradation.
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// MarkTransient wraps err so IsTransient reports true. Adapters classify
// their transport's failures; the resilience pipeline and the coordinator
// only ever consult IsTransient.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err (or anything it wraps) was marked
// transient by a far-store adapter.
func IsTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}
