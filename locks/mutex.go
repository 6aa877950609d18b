// Package locks provides a named advisory lock on the far tier's atomic
// primitives: SET-if-absent to acquire, a scripted compare-and-delete to
// release, and a scripted compare-and-expire to extend. Each Mutex owns a
// freshly generated token; the token is the proof of ownership all three
// operations check server-side, so a lock that expired and was taken over
// can never be released or extended by the old holder.
package locks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	heytomcache "github.com/heytom-labs/heytom-cache"
	"github.com/heytom-labs/heytom-cache/internal/util"
)

// Backend is the slice of farstore.Store the mutex needs.
type Backend interface {
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key, token string) (bool, error)
	CompareAndExpire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
}

type Options struct {
	// TTL bounds how long an acquired lock survives without Extend.
	TTL time.Duration // 0 => 30s

	// RetryInterval paces Acquire's polling loop.
	RetryInterval time.Duration // 0 => 100ms

	Logger heytomcache.Logger
}

// Mutex is a named advisory lock. At most one holder exists per resource
// at any instant across all processes sharing the far tier. A Mutex handle
// is safe for concurrent use, but it represents a single ownership: use
// one handle per would-be holder.
type Mutex struct {
	backend Backend
	key     string
	token   string
	ttl     time.Duration
	retry   time.Duration
	log     heytomcache.Logger

	mu   sync.Mutex
	held bool
}

func New(backend Backend, resource string, opts Options) (*Mutex, error) {
	if backend == nil {
		return nil, errors.New("locks: backend is required")
	}
	if resource == "" {
		return nil, errors.New("locks: resource name is required")
	}
	m := &Mutex{
		backend: backend,
		key:     util.LockKey(resource),
		token:   uuid.NewString(),
		ttl:     opts.TTL,
		retry:   opts.RetryInterval,
		log:     opts.Logger,
	}
	if m.ttl == 0 {
		m.ttl = 30 * time.Second
	}
	if m.retry == 0 {
		m.retry = 100 * time.Millisecond
	}
	if m.log == nil {
		m.log = heytomcache.NopLogger{}
	}
	return m, nil
}

// TryAcquire attempts the lock once. Acquiring an already-held handle is a
// no-op returning true.
func (m *Mutex) TryAcquire(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held {
		return true, nil
	}
	ok, err := m.backend.SetIfAbsent(ctx, m.key, []byte(m.token), m.ttl)
	if err != nil {
		return false, err
	}
	m.held = ok
	return ok, nil
}

// Acquire retries the atomic set every RetryInterval until success, the
// wait deadline, or cancellation. wait <= 0 means a single attempt.
func (m *Mutex) Acquire(ctx context.Context, wait time.Duration) (bool, error) {
	deadline := time.Now().Add(wait)
	for {
		ok, err := m.TryAcquire(ctx)
		if err != nil || ok {
			return ok, err
		}
		if !time.Now().Add(m.retry).Before(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(m.retry):
		}
	}
}

// Release gives the lock up. Returns false without error when this handle
// does not hold the lock, or when it expired and was taken over.
func (m *Mutex) Release(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.held {
		return false, nil
	}
	ok, err := m.backend.CompareAndDelete(ctx, m.key, m.token)
	if err != nil {
		return false, err
	}
	m.held = false
	return ok, nil
}

// Extend re-arms the TTL. Returns false when the lock is not held locally
// or the server-side ownership check failed.
func (m *Mutex) Extend(ctx context.Context, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.held {
		return false, nil
	}
	if ttl == 0 {
		ttl = m.ttl
	}
	ok, err := m.backend.CompareAndExpire(ctx, m.key, m.token, ttl)
	if err != nil {
		return false, err
	}
	if !ok {
		// expired or taken over; stop claiming it
		m.held = false
	}
	return ok, nil
}

// Held reports whether this handle believes it holds the lock. The far
// tier remains authoritative; an expired lock may still report true until
// the next Release or Extend.
func (m *Mutex) Held() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.held
}

// Token exposes the ownership proof, mainly for diagnostics.
func (m *Mutex) Token() string { return m.token }

// Close releases the lock once, logging failures instead of returning them.
func (m *Mutex) Close(ctx context.Context) {
	if _, err := m.Release(ctx); err != nil {
		m.log.Warn("lock release on close failed", heytomcache.Fields{"key": m.key, "err": err})
	}
}
