package heytomcache

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/heytom-labs/heytom-cache/farstore"
	"github.com/heytom-labs/heytom-cache/internal/util"
)

var errFarDown = errors.New("far tier down")

type memEntry struct {
	v   []byte
	exp time.Time // zero => no TTL
}

// memFar is an in-memory farstore.Store with TTLs, a synchronous pub/sub
// bus, call counters and failure injection. It mirrors the Redis adapter's
// sliding-sibling behavior so coordinator tests see faithful semantics.
type memFar struct {
	mu sync.Mutex

	kv     map[string]memEntry
	hashes map[string]map[string][]byte
	lists  map[string][][]byte
	sets   map[string]map[string]struct{}
	zsets  map[string]map[string]float64

	subs    map[string]map[int]func(string, []byte)
	nextSub int

	getCalls atomic.Int64
	setCalls atomic.Int64
	pubCalls atomic.Int64

	failAll atomic.Bool
	failPub atomic.Bool
}

var _ farstore.Store = (*memFar)(nil)

func newMemFar() *memFar {
	return &memFar{
		kv:     make(map[string]memEntry),
		hashes: make(map[string]map[string][]byte),
		lists:  make(map[string][][]byte),
		sets:   make(map[string]map[string]struct{}),
		zsets:  make(map[string]map[string]float64),
		subs:   make(map[string]map[int]func(string, []byte)),
	}
}

func (f *memFar) down() error {
	if f.failAll.Load() {
		return farstore.MarkTransient(errFarDown)
	}
	return nil
}

func (f *memFar) lookup(key string) ([]byte, bool) {
	e, ok := f.kv[key]
	if !ok {
		return nil, false
	}
	if !e.exp.IsZero() && time.Now().After(e.exp) {
		delete(f.kv, key)
		return nil, false
	}
	return e.v, true
}

func (f *memFar) store(key string, value []byte, ttl time.Duration) {
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	f.kv[key] = memEntry{v: value, exp: exp}
}

func (f *memFar) Get(_ context.Context, key string) ([]byte, bool, error) {
	f.getCalls.Add(1)
	if err := f.down(); err != nil {
		return nil, false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.lookup(key)
	return v, ok, nil
}

func (f *memFar) Set(_ context.Context, key string, value []byte, ttl, sliding time.Duration) error {
	f.setCalls.Add(1)
	if err := f.down(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.store(key, value, ttl)
	if sliding > 0 {
		secs := int64(sliding / time.Second)
		if sliding%time.Second != 0 {
			secs++
		}
		f.store(util.SlidingMetaKey(key), []byte(strconv.FormatInt(secs, 10)), ttl)
	}
	return nil
}

func (f *memFar) Remove(_ context.Context, keys ...string) (int64, error) {
	if err := f.down(); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		for _, kk := range []string{k, util.SlidingMetaKey(k)} {
			if _, ok := f.kv[kk]; ok {
				delete(f.kv, kk)
				n++
			}
		}
	}
	return n, nil
}

func (f *memFar) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if err := f.down(); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.kv[key]
	if !ok {
		return false, nil
	}
	e.exp = time.Now().Add(ttl)
	f.kv[key] = e
	if me, ok := f.kv[util.SlidingMetaKey(key)]; ok {
		me.exp = e.exp
		f.kv[util.SlidingMetaKey(key)] = me
	}
	return true, nil
}

func (f *memFar) Refresh(_ context.Context, key string) (bool, error) {
	if err := f.down(); err != nil {
		return false, err
	}
	f.mu.Lock()
	raw, ok := f.lookup(util.SlidingMetaKey(key))
	f.mu.Unlock()
	if !ok {
		return false, nil
	}
	secs, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil || secs <= 0 {
		return false, nil
	}
	return f.Expire(context.Background(), key, time.Duration(secs)*time.Second)
}

func (f *memFar) HSet(_ context.Context, key, field string, value []byte) error {
	if err := f.down(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	h := f.hashes[key]
	if h == nil {
		h = make(map[string][]byte)
		f.hashes[key] = h
	}
	h[field] = value
	return nil
}

func (f *memFar) HGet(_ context.Context, key, field string) ([]byte, bool, error) {
	if err := f.down(); err != nil {
		return nil, false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.hashes[key][field]
	return v, ok, nil
}

func (f *memFar) HGetAll(_ context.Context, key string) (map[string][]byte, error) {
	if err := f.down(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string][]byte, len(f.hashes[key]))
	for k, v := range f.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (f *memFar) HDel(_ context.Context, key string, fields ...string) (int64, error) {
	if err := f.down(); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, field := range fields {
		if _, ok := f.hashes[key][field]; ok {
			delete(f.hashes[key], field)
			n++
		}
	}
	return n, nil
}

func (f *memFar) RPush(_ context.Context, key string, values ...[]byte) (int64, error) {
	if err := f.down(); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists[key] = append(f.lists[key], values...)
	return int64(len(f.lists[key])), nil
}

func (f *memFar) LPop(_ context.Context, key string) ([]byte, bool, error) {
	if err := f.down(); err != nil {
		return nil, false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	l := f.lists[key]
	if len(l) == 0 {
		return nil, false, nil
	}
	v := l[0]
	f.lists[key] = l[1:]
	return v, true, nil
}

func (f *memFar) LLen(_ context.Context, key string) (int64, error) {
	if err := f.down(); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.lists[key])), nil
}

func (f *memFar) SAdd(_ context.Context, key string, members ...[]byte) (int64, error) {
	if err := f.down(); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.sets[key]
	if s == nil {
		s = make(map[string]struct{})
		f.sets[key] = s
	}
	var n int64
	for _, m := range members {
		if _, ok := s[string(m)]; !ok {
			s[string(m)] = struct{}{}
			n++
		}
	}
	return n, nil
}

func (f *memFar) SRem(_ context.Context, key string, members ...[]byte) (int64, error) {
	if err := f.down(); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, m := range members {
		if _, ok := f.sets[key][string(m)]; ok {
			delete(f.sets[key], string(m))
			n++
		}
	}
	return n, nil
}

func (f *memFar) SMembers(_ context.Context, key string) ([][]byte, error) {
	if err := f.down(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, 0, len(f.sets[key]))
	for m := range f.sets[key] {
		out = append(out, []byte(m))
	}
	return out, nil
}

func (f *memFar) ZAdd(_ context.Context, key, member string, score float64) error {
	if err := f.down(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	z := f.zsets[key]
	if z == nil {
		z = make(map[string]float64)
		f.zsets[key] = z
	}
	z[member] = score
	return nil
}

func (f *memFar) ZRangeByScore(_ context.Context, key string, min, max float64) ([]string, error) {
	if err := f.down(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	type pair struct {
		member string
		score  float64
	}
	var in []pair
	for m, sc := range f.zsets[key] {
		if sc >= min && sc <= max {
			in = append(in, pair{m, sc})
		}
	}
	sort.Slice(in, func(i, j int) bool {
		if in[i].score != in[j].score {
			return in[i].score < in[j].score
		}
		return in[i].member < in[j].member
	})
	out := make([]string, len(in))
	for i, p := range in {
		out[i] = p.member
	}
	return out, nil
}

func (f *memFar) Publish(_ context.Context, channel string, payload []byte) error {
	f.pubCalls.Add(1)
	if err := f.down(); err != nil {
		return err
	}
	if f.failPub.Load() {
		return farstore.MarkTransient(errFarDown)
	}
	f.mu.Lock()
	handlers := make([]func(string, []byte), 0, len(f.subs[channel]))
	for _, h := range f.subs[channel] {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()
	for _, h := range handlers {
		h(channel, payload)
	}
	return nil
}

func (f *memFar) Subscribe(_ context.Context, channel string, handler func(string, []byte)) (farstore.Subscription, error) {
	if err := f.down(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs[channel] == nil {
		f.subs[channel] = make(map[int]func(string, []byte))
	}
	id := f.nextSub
	f.nextSub++
	f.subs[channel][id] = handler
	return &memSub{f: f, channel: channel, id: id}, nil
}

func (f *memFar) subscriberCount(channel string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[channel])
}

func (f *memFar) SetIfAbsent(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if err := f.down(); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.lookup(key); ok {
		return false, nil
	}
	f.store(key, value, ttl)
	return true, nil
}

func (f *memFar) CompareAndDelete(_ context.Context, key, token string) (bool, error) {
	if err := f.down(); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.lookup(key)
	if !ok || string(v) != token {
		return false, nil
	}
	delete(f.kv, key)
	return true, nil
}

func (f *memFar) CompareAndExpire(_ context.Context, key, token string, ttl time.Duration) (bool, error) {
	if err := f.down(); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.lookup(key)
	if !ok || string(v) != token {
		return false, nil
	}
	f.store(key, v, ttl)
	return true, nil
}

func (f *memFar) Close(context.Context) error { return nil }

// seed plants a far-tier value directly, bypassing call counters.
func (f *memFar) seed(key string, value []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.store(key, value, 0)
}

// has reports raw presence, expiry honored, without counting a Get call.
func (f *memFar) has(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lookup(key)
}

type memSub struct {
	f       *memFar
	channel string
	id      int
}

func (s *memSub) Close() error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	delete(s.f.subs[s.channel], s.id)
	return nil
}
