package heytomcache

import (
	"sync/atomic"
	"time"
)

// MetricsSnapshot is a consistent view of the cache counters.
//
// TotalRequests counts Get calls; Hits = NearHits + FarHits holds over the
// lifetime of the counters. AvgDurationMs averages over every timed
// operation (get, set, remove, refresh).
type MetricsSnapshot struct {
	TotalRequests uint64
	Hits          uint64
	Misses        uint64
	NearHits      uint64
	FarHits       uint64
	AvgDurationMs float64
	HitRate       float64
}

// metricsSink accumulates counters with atomics; no per-call allocation on
// the hot path. A disabled sink records nothing but still snapshots.
type metricsSink struct {
	enabled bool

	requests atomic.Uint64
	nearHits atomic.Uint64
	farHits  atomic.Uint64
	misses   atomic.Uint64

	durNanos atomic.Int64
	durCount atomic.Uint64
}

func newMetricsSink(enabled bool) *metricsSink { return &metricsSink{enabled: enabled} }

func (m *metricsSink) nearHit(start time.Time) {
	if !m.enabled {
		return
	}
	m.requests.Add(1)
	m.nearHits.Add(1)
	m.observe(start)
}

func (m *metricsSink) farHit(start time.Time) {
	if !m.enabled {
		return
	}
	m.requests.Add(1)
	m.farHits.Add(1)
	m.observe(start)
}

func (m *metricsSink) miss(start time.Time) {
	if !m.enabled {
		return
	}
	m.requests.Add(1)
	m.misses.Add(1)
	m.observe(start)
}

// op times a non-read operation without touching the request counters.
func (m *metricsSink) op(start time.Time) {
	if !m.enabled {
		return
	}
	m.observe(start)
}

func (m *metricsSink) observe(start time.Time) {
	m.durNanos.Add(int64(time.Since(start)))
	m.durCount.Add(1)
}

func (m *metricsSink) snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		TotalRequests: m.requests.Load(),
		NearHits:      m.nearHits.Load(),
		FarHits:       m.farHits.Load(),
		Misses:        m.misses.Load(),
	}
	s.Hits = s.NearHits + s.FarHits
	if s.TotalRequests > 0 {
		s.HitRate = float64(s.Hits) / float64(s.TotalRequests)
	}
	if n := m.durCount.Load(); n > 0 {
		s.AvgDurationMs = float64(m.durNanos.Load()) / float64(n) / float64(time.Millisecond)
	}
	return s
}

func (m *metricsSink) reset() {
	m.requests.Store(0)
	m.nearHits.Store(0)
	m.farHits.Store(0)
	m.misses.Store(0)
	m.durNanos.Store(0)
	m.durCount.Store(0)
}
