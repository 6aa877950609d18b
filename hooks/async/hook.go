// Package asynchook decouples slow hook sinks from the cache hot path: a
// bounded queue and a small worker pool deliver events; overflow is dropped
// rather than blocking cache operations.
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{EvictionEvery: 100})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
package asynchook

import (
	"sync"

	heytomcache "github.com/heytom-labs/heytom-cache"
)

type Hooks struct {
	inner heytomcache.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

var _ heytomcache.Hooks = (*Hooks)(nil)

func New(inner heytomcache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

func (h *Hooks) try(f func()) {
	select {
	case h.q <- f:
	default: // drop
	}
}

func (h *Hooks) NearEvicted(key string) {
	h.try(func() { h.inner.NearEvicted(key) })
}

func (h *Hooks) DegradedRead(key string) {
	h.try(func() { h.inner.DegradedRead(key) })
}

func (h *Hooks) DegradedWrite(key string) {
	h.try(func() { h.inner.DegradedWrite(key) })
}

func (h *Hooks) CircuitStateChange(name, from, to string) {
	h.try(func() { h.inner.CircuitStateChange(name, from, to) })
}

func (h *Hooks) InvalidationDropped(key string, err error) {
	h.try(func() { h.inner.InvalidationDropped(key, err) })
}

func (h *Hooks) HandlerPanic(recovered any) {
	h.try(func() { h.inner.HandlerPanic(recovered) })
}
