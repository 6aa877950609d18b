package heytomcache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/heytom-labs/heytom-cache/farstore"
	"github.com/heytom-labs/heytom-cache/invalidation"
	"github.com/heytom-labs/heytom-cache/nearstore"
	"github.com/heytom-labs/heytom-cache/resilience"
)

type hybrid struct {
	far  farstore.Store
	near *nearstore.Store // nil when the near tier is disabled
	pipe *resilience.Pipeline

	pub invalidation.Publisher
	sub invalidation.Subscriber

	metrics *metricsSink
	log     Logger
	hooks   Hooks

	defaultTTL time.Duration
	farTimeout time.Duration
	source     string
	closeFar   bool

	closed atomic.Bool
}

func newHybrid(opts Options) (*hybrid, error) {
	if opts.Far == nil {
		return nil, fmt.Errorf("heytomcache: far store is required")
	}

	c := &hybrid{
		far:      opts.Far,
		metrics:  newMetricsSink(!opts.DisableMetrics),
		closeFar: opts.CloseFar,
	}
	c.log = coalesce[Logger](opts.Logger, NopLogger{})
	c.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	c.defaultTTL = coalesce[time.Duration](opts.DefaultExpiration, 5*time.Minute)
	c.farTimeout = coalesce[time.Duration](opts.FarOperationTimeout, 5*time.Second)
	c.source = opts.Source
	if c.source == "" {
		c.source, _ = os.Hostname()
	}

	if !opts.DisableNearCache {
		near, err := nearstore.New(nearstore.Config{
			MaxSize:           coalesce[int](opts.NearCacheMaxSize, 1000),
			DefaultExpiration: c.defaultTTL,
			OnEvict:           func(key string, _ []byte) { c.hooks.NearEvicted(key) },
		})
		if err != nil {
			return nil, err
		}
		c.near = near
	}

	if opts.Pipeline != nil {
		c.pipe = opts.Pipeline
	} else {
		pipe, err := resilience.New(resilience.Config{
			Name:     "heytomcache.far",
			Classify: classifyFarFailure,
			OnStateChange: func(name, from, to string) {
				c.log.Warn("far-tier circuit state change", Fields{"breaker": name, "from": from, "to": to})
				c.hooks.CircuitStateChange(name, from, to)
			},
		})
		if err != nil {
			return nil, err
		}
		c.pipe = pipe
	}

	if c.near != nil && !opts.DisableInvalidation {
		channel := coalesce[string](opts.InvalidationChannel, DefaultInvalidationChannel)
		c.pub = opts.Publisher
		if c.pub == nil {
			c.pub = invalidation.NewStorePublisher(c.far, channel)
		}
		c.sub = opts.Subscriber
		if c.sub == nil {
			c.sub = invalidation.NewStoreSubscriber(c.far, channel)
		}
		// Do not block construction on the subscription: a dead bus only
		// widens the staleness window, it does not break correctness.
		go func() {
			if err := c.sub.Subscribe(context.Background(), c.onInvalidation); err != nil {
				c.log.Warn("invalidation subscribe failed; near tiers rely on TTLs", Fields{"err": err})
			}
		}()
	}

	return c, nil
}

// onInvalidation drops the key from the local near tier only. It never
// republishes, and it swallows everything a handler could throw.
func (c *hybrid) onInvalidation(ev invalidation.Event) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("invalidation handler panic", Fields{"recovered": r})
			c.hooks.HandlerPanic(r)
		}
	}()
	if ev.Key == "" || c.near == nil {
		return
	}
	c.near.Remove(ev.Key)
	c.log.Debug("near entry invalidated by peer", Fields{"key": ev.Key, "type": ev.Type, "source": ev.Source})
}

func (c *hybrid) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := c.guard(key); err != nil {
		return nil, false, err
	}
	start := time.Now()

	if c.near != nil {
		if v, ok := c.near.Get(key); ok {
			c.metrics.nearHit(start)
			return v, true, nil
		}
	}

	var val []byte
	var found bool
	err := c.execFar(ctx, func(ctx context.Context) error {
		v, ok, err := c.far.Get(ctx, key)
		val, found = v, ok
		return err
	})
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		return nil, false, err
	case degradable(err):
		if c.near != nil {
			// a stale byte beats an error; peers' TTLs still bound it
			if v, ok := c.near.Get(key); ok {
				c.log.Warn("far tier unavailable; serving near value", Fields{"key": key, "err": err})
				c.hooks.DegradedRead(key)
				c.metrics.nearHit(start)
				return v, true, nil
			}
			c.log.Warn("far tier unavailable; treating as miss", Fields{"key": key, "err": err})
			c.metrics.miss(start)
			return nil, false, nil
		}
		return nil, false, backendErr("get", err)
	default:
		return nil, false, err
	}

	if !found {
		c.metrics.miss(start)
		return nil, false, nil
	}
	if c.near != nil {
		// populated with the process default, not the far remaining TTL
		c.near.Set(key, val, c.defaultTTL, 0)
	}
	c.metrics.farHit(start)
	return val, true, nil
}

func (c *hybrid) Set(ctx context.Context, key string, value []byte, exp Expiration) error {
	if err := c.guard(key); err != nil {
		return err
	}
	if value == nil {
		return invalidArg("nil value")
	}
	start := time.Now()

	absolute, sliding, err := exp.resolve(time.Now(), c.defaultTTL)
	if err != nil {
		return err
	}
	ttl := initialTTL(absolute, sliding)

	err = c.execFar(ctx, func(ctx context.Context) error {
		return c.far.Set(ctx, key, value, ttl, sliding)
	})
	switch {
	case err == nil:
		if c.near != nil {
			c.near.Set(key, value, absolute, sliding)
		}
		c.publishAsync(key, invalidation.KindUpdate)
	case errors.Is(err, context.Canceled):
		return err
	case degradable(err):
		if c.near == nil {
			return backendErr("set", err)
		}
		c.near.Set(key, value, absolute, sliding)
		c.log.Warn("far tier unavailable; write kept in near tier only", Fields{"key": key, "err": err})
		c.hooks.DegradedWrite(key)
	default:
		return err
	}
	c.metrics.op(start)
	return nil
}

func (c *hybrid) Remove(ctx context.Context, key string) error {
	if err := c.guard(key); err != nil {
		return err
	}
	start := time.Now()

	err := c.execFar(ctx, func(ctx context.Context) error {
		_, err := c.far.Remove(ctx, key)
		return err
	})
	switch {
	case err == nil:
		if c.near != nil {
			c.near.Remove(key)
		}
		c.publishAsync(key, invalidation.KindRemove)
	case errors.Is(err, context.Canceled):
		return err
	case degradable(err):
		if c.near == nil {
			return backendErr("remove", err)
		}
		c.near.Remove(key)
		c.log.Warn("far tier unavailable; removed from near tier only", Fields{"key": key, "err": err})
		c.hooks.DegradedWrite(key)
	default:
		return err
	}
	c.metrics.op(start)
	return nil
}

func (c *hybrid) Refresh(ctx context.Context, key string) error {
	if err := c.guard(key); err != nil {
		return err
	}
	start := time.Now()

	err := c.execFar(ctx, func(ctx context.Context) error {
		_, err := c.far.Refresh(ctx, key) // quiet when expired or not sliding
		return err
	})
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		return err
	case degradable(err):
		if c.near == nil {
			return backendErr("refresh", err)
		}
		c.log.Warn("far tier unavailable; refreshed near tier only", Fields{"key": key, "err": err})
	default:
		return err
	}
	if c.near != nil {
		c.near.Refresh(key)
	}
	c.metrics.op(start)
	return nil
}

func (c *hybrid) HSet(ctx context.Context, key, field string, value []byte) error {
	return c.farOnly(ctx, "hset", key, func(ctx context.Context) error {
		return c.far.HSet(ctx, key, field, value)
	})
}

func (c *hybrid) HGet(ctx context.Context, key, field string) ([]byte, bool, error) {
	var v []byte
	var ok bool
	err := c.farOnly(ctx, "hget", key, func(ctx context.Context) error {
		var err error
		v, ok, err = c.far.HGet(ctx, key, field)
		return err
	})
	return v, ok, err
}

func (c *hybrid) HGetAll(ctx context.Context, key string) (map[string][]byte, error) {
	var m map[string][]byte
	err := c.farOnly(ctx, "hgetall", key, func(ctx context.Context) error {
		var err error
		m, err = c.far.HGetAll(ctx, key)
		return err
	})
	return m, err
}

func (c *hybrid) HDel(ctx context.Context, key string, fields ...string) error {
	return c.farOnly(ctx, "hdel", key, func(ctx context.Context) error {
		_, err := c.far.HDel(ctx, key, fields...)
		return err
	})
}

func (c *hybrid) RPush(ctx context.Context, key string, values ...[]byte) error {
	return c.farOnly(ctx, "rpush", key, func(ctx context.Context) error {
		_, err := c.far.RPush(ctx, key, values...)
		return err
	})
}

func (c *hybrid) LPop(ctx context.Context, key string) ([]byte, bool, error) {
	var v []byte
	var ok bool
	err := c.farOnly(ctx, "lpop", key, func(ctx context.Context) error {
		var err error
		v, ok, err = c.far.LPop(ctx, key)
		return err
	})
	return v, ok, err
}

func (c *hybrid) LLen(ctx context.Context, key string) (int64, error) {
	var n int64
	err := c.farOnly(ctx, "llen", key, func(ctx context.Context) error {
		var err error
		n, err = c.far.LLen(ctx, key)
		return err
	})
	return n, err
}

func (c *hybrid) SAdd(ctx context.Context, key string, members ...[]byte) error {
	return c.farOnly(ctx, "sadd", key, func(ctx context.Context) error {
		_, err := c.far.SAdd(ctx, key, members...)
		return err
	})
}

func (c *hybrid) SRem(ctx context.Context, key string, members ...[]byte) error {
	return c.farOnly(ctx, "srem", key, func(ctx context.Context) error {
		_, err := c.far.SRem(ctx, key, members...)
		return err
	})
}

func (c *hybrid) SMembers(ctx context.Context, key string) ([][]byte, error) {
	var out [][]byte
	err := c.farOnly(ctx, "smembers", key, func(ctx context.Context) error {
		var err error
		out, err = c.far.SMembers(ctx, key)
		return err
	})
	return out, err
}

func (c *hybrid) ZAdd(ctx context.Context, key, member string, score float64) error {
	return c.farOnly(ctx, "zadd", key, func(ctx context.Context) error {
		return c.far.ZAdd(ctx, key, member, score)
	})
}

func (c *hybrid) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	var out []string
	err := c.farOnly(ctx, "zrangebyscore", key, func(ctx context.Context) error {
		var err error
		out, err = c.far.ZRangeByScore(ctx, key, min, max)
		return err
	})
	return out, err
}

func (c *hybrid) Publish(ctx context.Context, channel string, payload []byte) error {
	return c.farOnly(ctx, "publish", channel, func(ctx context.Context) error {
		return c.far.Publish(ctx, channel, payload)
	})
}

func (c *hybrid) Subscribe(ctx context.Context, channel string, handler func(channel string, payload []byte)) (farstore.Subscription, error) {
	if err := c.guard(channel); err != nil {
		return nil, err
	}
	sub, err := c.far.Subscribe(ctx, channel, handler)
	if err != nil {
		if farstore.IsTransient(err) {
			return nil, backendErr("subscribe", err)
		}
		return nil, err
	}
	return sub, nil
}

func (c *hybrid) Metrics() MetricsSnapshot { return c.metrics.snapshot() }

func (c *hybrid) ResetMetrics() { c.metrics.reset() }

func (c *hybrid) NearCacheEnabled() bool { return c.near != nil }

func (c *hybrid) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if c.sub != nil {
		if err := c.sub.Unsubscribe(); err != nil {
			c.log.Warn("invalidation unsubscribe failed", Fields{"err": err})
		}
	}
	if c.pub != nil {
		if err := c.pub.Close(); err != nil {
			c.log.Warn("invalidation publisher close failed", Fields{"err": err})
		}
	}
	if c.near != nil {
		c.near.Clear()
	}
	if c.closeFar {
		return c.far.Close(ctx)
	}
	return nil
}

// guard rejects post-close calls and unusable keys.
func (c *hybrid) guard(key string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if strings.TrimSpace(key) == "" {
		return invalidArg("empty key")
	}
	return nil
}

// execFar runs one far-tier call through the resilience pipeline with the
// per-attempt operation timeout.
func (c *hybrid) execFar(ctx context.Context, fn func(ctx context.Context) error) error {
	return c.pipe.Execute(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, c.farTimeout)
		defer cancel()
		return fn(ctx)
	})
}

// farOnly wraps operations that have no near tier to degrade to.
func (c *hybrid) farOnly(ctx context.Context, op, key string, fn func(ctx context.Context) error) error {
	if err := c.guard(key); err != nil {
		return err
	}
	err := c.execFar(ctx, fn)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		return err
	case degradable(err):
		return backendErr(op, err)
	default:
		return err
	}
}

// publishAsync emits an invalidation event without blocking the write path.
// Publisher failures are logged and swallowed; they never reach the caller.
func (c *hybrid) publishAsync(key string, kind invalidation.Kind) {
	if c.pub == nil {
		return
	}
	ev := invalidation.NewEvent(key, kind, c.source)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.farTimeout)
		defer cancel()
		if err := c.pub.Publish(ctx, ev); err != nil {
			c.log.Warn("invalidation publish failed", Fields{"key": key, "type": kind, "err": err})
			c.hooks.InvalidationDropped(key, err)
		}
	}()
}

// classifyFarFailure matches the backend-connection and timeout classes the
// pipeline retries; everything else fails fast.
func classifyFarFailure(err error) bool {
	return farstore.IsTransient(err) || errors.Is(err, context.DeadlineExceeded)
}

// degradable reports whether the near tier may absorb this failure.
func degradable(err error) bool {
	return resilience.IsCircuitOpen(err) || classifyFarFailure(err)
}
