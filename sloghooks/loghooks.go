// Package sloghooks logs cache hook events through log/slog, with sampling
// for the noisy ones. Logged keys are always redacted: by a SHA-256 prefix
// unless Options.Redact supplies another function.
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	heytomcache "github.com/heytom-labs/heytom-cache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	EvictionEvery uint64
	DegradedEvery uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	evictCtr    atomic.Uint64
	degradedCtr atomic.Uint64
}

var _ heytomcache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) NearEvicted(key string) {
	if h.l == nil || !sample(h.opts.EvictionEvery, &h.evictCtr) {
		return
	}
	h.l.Debug("heytomcache.near_evicted",
		"key", h.redact(key))
}

func (h *Hooks) DegradedRead(key string) {
	if h.l == nil || !sample(h.opts.DegradedEvery, &h.degradedCtr) {
		return
	}
	h.l.Warn("heytomcache.degraded_read",
		"key", h.redact(key))
}

func (h *Hooks) DegradedWrite(key string) {
	if h.l == nil || !sample(h.opts.DegradedEvery, &h.degradedCtr) {
		return
	}
	h.l.Warn("heytomcache.degraded_write",
		"key", h.redact(key))
}

func (h *Hooks) CircuitStateChange(name, from, to string) {
	if h.l == nil {
		return
	}
	h.l.Warn("heytomcache.circuit_state_change",
		"breaker", name,
		"from", from,
		"to", to)
}

func (h *Hooks) InvalidationDropped(key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("heytomcache.invalidation_dropped",
		"key", h.redact(key),
		"err", err)
}

func (h *Hooks) HandlerPanic(recovered any) {
	if h.l == nil {
		return
	}
	h.l.Error("heytomcache.invalidation_handler_panic",
		"recovered", recovered)
}
