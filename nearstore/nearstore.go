// Package nearstore implements the in-process near tier: a bounded
// key-to-bytes map with LRU eviction and per-entry absolute/sliding
// expiration.
package nearstore

import (
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/simplelru"
)

// EvictFunc observes entries leaving the store for any reason: capacity
// eviction, lazy expiration, explicit Remove, or Clear. It runs after the
// store's internal lock is released.
type EvictFunc func(key string, value []byte)

type Config struct {
	// MaxSize bounds the population in entries; each entry has unit weight.
	MaxSize int

	// DefaultExpiration applies (absolute, relative to now) when a Set
	// carries neither an absolute nor a sliding duration. 0 = no default;
	// such entries live until evicted or removed.
	DefaultExpiration time.Duration

	OnEvict EvictFunc

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Store is a bounded LRU byte cache, safe for concurrent use. Eviction is
// LRU by last access, ties broken by insertion order. Expired entries are
// dropped lazily on access; they never come back without a re-write.
type Store struct {
	mu      sync.Mutex
	lru     *simplelru.LRU
	def     time.Duration
	now     func() time.Time
	onEvict EvictFunc
	pending []evicted
}

type evicted struct {
	key   string
	value []byte
}

type entry struct {
	value    []byte
	absolute time.Time     // hard ceiling; zero = none
	sliding  time.Duration // 0 = none
	deadline time.Time     // effective; zero = never expires
}

func New(cfg Config) (*Store, error) {
	if cfg.MaxSize <= 0 {
		return nil, errors.New("nearstore: MaxSize must be positive")
	}
	s := &Store{
		def:     cfg.DefaultExpiration,
		now:     cfg.Now,
		onEvict: cfg.OnEvict,
	}
	if s.now == nil {
		s.now = time.Now
	}
	lru, err := simplelru.NewLRU(cfg.MaxSize, func(k, v interface{}) {
		e := v.(*entry)
		s.pending = append(s.pending, evicted{key: k.(string), value: e.value})
	})
	if err != nil {
		return nil, err
	}
	s.lru = lru
	return s, nil
}

// Get returns the entry's bytes and bumps its recency. A sliding entry's
// deadline is re-armed, capped at its absolute ceiling. Callers must not
// mutate the returned slice.
func (s *Store) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	e, ok := s.live(key)
	if !ok {
		s.unlockAndNotify()
		return nil, false
	}
	s.bump(e)
	v := e.value
	s.unlockAndNotify()
	return v, true
}

// Set stores value under key. absolute and sliding are durations from now;
// when both are zero the store's DefaultExpiration applies as absolute.
func (s *Store) Set(key string, value []byte, absolute, sliding time.Duration) {
	if absolute == 0 && sliding == 0 {
		absolute = s.def
	}
	now := s.now()
	e := &entry{value: value, sliding: sliding}
	if absolute > 0 {
		e.absolute = now.Add(absolute)
		e.deadline = e.absolute
	}
	if sliding > 0 {
		d := now.Add(sliding)
		if e.deadline.IsZero() || d.Before(e.deadline) {
			e.deadline = d
		}
	}
	s.mu.Lock()
	s.lru.Add(key, e)
	s.unlockAndNotify()
}

// Remove drops key. Returns whether it was present.
func (s *Store) Remove(key string) bool {
	s.mu.Lock()
	ok := s.lru.Remove(key)
	s.unlockAndNotify()
	return ok
}

// Refresh re-arms key's sliding window (and recency) without reading the
// value out. Returns false when the entry is absent or already expired.
func (s *Store) Refresh(key string) bool {
	s.mu.Lock()
	e, ok := s.live(key)
	if ok {
		s.bump(e)
	}
	s.unlockAndNotify()
	return ok
}

// Clear drops every entry.
func (s *Store) Clear() {
	s.mu.Lock()
	s.lru.Purge()
	s.unlockAndNotify()
}

// Len reports the current population.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Len()
}

// live fetches key through the LRU (bumping recency) and lazily drops it
// when expired. Callers hold s.mu.
func (s *Store) live(key string) (*entry, bool) {
	v, ok := s.lru.Get(key)
	if !ok {
		return nil, false
	}
	e := v.(*entry)
	if !e.deadline.IsZero() && !s.now().Before(e.deadline) {
		s.lru.Remove(key)
		return nil, false
	}
	return e, true
}

// bump re-arms a sliding deadline, never past the absolute ceiling.
func (s *Store) bump(e *entry) {
	if e.sliding <= 0 {
		return
	}
	d := s.now().Add(e.sliding)
	if !e.absolute.IsZero() && d.After(e.absolute) {
		d = e.absolute
	}
	e.deadline = d
}

// unlockAndNotify releases the lock, then delivers eviction callbacks
// collected during the critical section.
func (s *Store) unlockAndNotify() {
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()
	if s.onEvict != nil {
		for _, ev := range batch {
			s.onEvict(ev.key, ev.value)
		}
	}
}
