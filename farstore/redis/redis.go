// Package redis adapts a Redis-compatible server to farstore.Store.
//
// One multiplexed client serves the whole cache: K/V with TTLs, the
// data-structure commands, pub/sub, and the SET NX + Lua primitives the
// advisory lock uses. Sliding entries keep a sibling key
// "<key>:metadata:sliding" (decimal seconds) on the same TTL as the
// primary, so Refresh works across processes.
package redis

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/heytom-labs/heytom-cache/farstore"
	"github.com/heytom-labs/heytom-cache/internal/util"
)

var ErrNoClient = errors.New("redis farstore: no client and no address")

// release: delete only when the caller still owns the lock.
var compareAndDelete = goredis.NewScript(
	`if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`)

// extend: re-arm the TTL only when the caller still owns the lock.
var compareAndExpire = goredis.NewScript(
	`if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("pexpire", KEYS[1], ARGV[2]) else return 0 end`)

type Store struct {
	rdb         goredis.UniversalClient
	closeClient bool
}

var _ farstore.Store = (*Store)(nil)

type Config struct {
	// Client is used as-is when set. Otherwise a client is built from URL
	// (redis:// / rediss://) or Addr.
	Client goredis.UniversalClient
	URL    string
	Addr   string

	Password string
	DB       int
	PoolSize int

	// CloseClient releases the client on Close. Set it only if this store
	// exclusively owns the client. Clients built here are always owned.
	CloseClient bool
}

func New(cfg Config) (*Store, error) {
	if cfg.Client != nil {
		return &Store{rdb: cfg.Client, closeClient: cfg.CloseClient}, nil
	}
	switch {
	case cfg.URL != "":
		opt, err := goredis.ParseURL(cfg.URL)
		if err != nil {
			return nil, err
		}
		if cfg.PoolSize > 0 {
			opt.PoolSize = cfg.PoolSize
		}
		return &Store{rdb: goredis.NewClient(opt), closeClient: true}, nil
	case cfg.Addr != "":
		return &Store{rdb: goredis.NewClient(&goredis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
			PoolSize: cfg.PoolSize,
		}), closeClient: true}, nil
	}
	return nil, ErrNoClient
}

// Open is a convenience for the common connection-string case.
func Open(connString string) (*Store, error) {
	if opt, err := goredis.ParseURL(connString); err == nil {
		return &Store{rdb: goredis.NewClient(opt), closeClient: true}, nil
	}
	return New(Config{Addr: connString})
}

// Client exposes the shared connection for collaborators that reuse it
// (e.g. an external invalidation transport).
func (s *Store) Client() goredis.UniversalClient { return s.rdb }

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.rdb.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, s.wrap(err)
	}
	return b, true, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl, sliding time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if sliding <= 0 {
		return s.wrap(s.rdb.Set(ctx, key, value, ttl).Err())
	}
	_, err := s.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.Set(ctx, key, value, ttl)
		p.Set(ctx, util.SlidingMetaKey(key), formatSeconds(sliding), ttl)
		return nil
	})
	return s.wrap(err)
}

func (s *Store) Remove(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	all := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		all = append(all, k, util.SlidingMetaKey(k))
	}
	n, err := s.rdb.Del(ctx, all...).Result()
	return n, s.wrap(err)
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	var primary *goredis.BoolCmd
	_, err := s.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		primary = p.Expire(ctx, key, ttl)
		p.Expire(ctx, util.SlidingMetaKey(key), ttl)
		return nil
	})
	if err != nil {
		return false, s.wrap(err)
	}
	return primary.Val(), nil
}

func (s *Store) Refresh(ctx context.Context, key string) (bool, error) {
	raw, err := s.rdb.Get(ctx, util.SlidingMetaKey(key)).Result()
	if err == goredis.Nil {
		return false, nil
	}
	if err != nil {
		return false, s.wrap(err)
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || secs <= 0 {
		// corrupt sibling; drop it so the entry falls back to absolute-only
		_ = s.rdb.Del(ctx, util.SlidingMetaKey(key)).Err()
		return false, nil
	}
	return s.Expire(ctx, key, time.Duration(secs)*time.Second)
}

func (s *Store) HSet(ctx context.Context, key, field string, value []byte) error {
	return s.wrap(s.rdb.HSet(ctx, key, field, value).Err())
}

func (s *Store) HGet(ctx context.Context, key, field string) ([]byte, bool, error) {
	b, err := s.rdb.HGet(ctx, key, field).Bytes()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, s.wrap(err)
	}
	return b, true, nil
}

func (s *Store) HGetAll(ctx context.Context, key string) (map[string][]byte, error) {
	m, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, s.wrap(err)
	}
	out := make(map[string][]byte, len(m))
	for f, v := range m {
		out[f] = []byte(v)
	}
	return out, nil
}

func (s *Store) HDel(ctx context.Context, key string, fields ...string) (int64, error) {
	n, err := s.rdb.HDel(ctx, key, fields...).Result()
	return n, s.wrap(err)
}

func (s *Store) RPush(ctx context.Context, key string, values ...[]byte) (int64, error) {
	n, err := s.rdb.RPush(ctx, key, toAny(values)...).Result()
	return n, s.wrap(err)
}

func (s *Store) LPop(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.rdb.LPop(ctx, key).Bytes()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, s.wrap(err)
	}
	return b, true, nil
}

func (s *Store) LLen(ctx context.Context, key string) (int64, error) {
	n, err := s.rdb.LLen(ctx, key).Result()
	return n, s.wrap(err)
}

func (s *Store) SAdd(ctx context.Context, key string, members ...[]byte) (int64, error) {
	n, err := s.rdb.SAdd(ctx, key, toAny(members)...).Result()
	return n, s.wrap(err)
}

func (s *Store) SRem(ctx context.Context, key string, members ...[]byte) (int64, error) {
	n, err := s.rdb.SRem(ctx, key, toAny(members)...).Result()
	return n, s.wrap(err)
}

func (s *Store) SMembers(ctx context.Context, key string) ([][]byte, error) {
	vals, err := s.rdb.SMembers(ctx, key).Result()
	if err != nil {
		return nil, s.wrap(err)
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}

func (s *Store) ZAdd(ctx context.Context, key, member string, score float64) error {
	return s.wrap(s.rdb.ZAdd(ctx, key, goredis.Z{Score: score, Member: member}).Err())
}

func (s *Store) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	vals, err := s.rdb.ZRangeByScore(ctx, key, &goredis.ZRangeBy{
		Min: strconv.FormatFloat(min, 'f', -1, 64),
		Max: strconv.FormatFloat(max, 'f', -1, 64),
	}).Result()
	return vals, s.wrap(err)
}

func (s *Store) Publish(ctx context.Context, channel string, payload []byte) error {
	return s.wrap(s.rdb.Publish(ctx, channel, payload).Err())
}

func (s *Store) Subscribe(ctx context.Context, channel string, handler func(channel string, payload []byte)) (farstore.Subscription, error) {
	ps := s.rdb.Subscribe(ctx, channel)
	// force the SUBSCRIBE round-trip so dial errors surface here
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, s.wrap(err)
	}
	go func() {
		for msg := range ps.Channel() {
			handler(msg.Channel, []byte(msg.Payload))
		}
	}()
	return &subscription{ps: ps}, nil
}

func (s *Store) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, key, value, ttl).Result()
	return ok, s.wrap(err)
}

func (s *Store) CompareAndDelete(ctx context.Context, key, token string) (bool, error) {
	n, err := compareAndDelete.Run(ctx, s.rdb, []string{key}, token).Int64()
	if err != nil {
		return false, s.wrap(err)
	}
	return n == 1, nil
}

func (s *Store) CompareAndExpire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	n, err := compareAndExpire.Run(ctx, s.rdb, []string{key}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, s.wrap(err)
	}
	return n == 1, nil
}

// Close releases the underlying client only when this store owns it.
// Safe to call multiple times; repeated calls become no-ops.
func (s *Store) Close(context.Context) error {
	if s.closeClient {
		if err := s.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}

type subscription struct{ ps *goredis.PubSub }

func (s *subscription) Close() error { return s.ps.Close() }

// wrap marks connection and timeout failures transient so the resilience
// pipeline retries them and the coordinator may degrade to the near tier.
func (s *Store) wrap(err error) error {
	if err == nil || err == goredis.Nil {
		return nil
	}
	if transient(err) {
		return farstore.MarkTransient(err)
	}
	return err
}

func transient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	switch {
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, goredis.ErrClosed):
		return true
	}
	return false
}

// formatSeconds renders a sliding duration as whole seconds, rounding up so
// sub-second windows never collapse to zero.
func formatSeconds(d time.Duration) string {
	secs := int64(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return strconv.FormatInt(secs, 10)
}

func toAny(in [][]byte) []interface{} {
	out := make([]interface{}, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
