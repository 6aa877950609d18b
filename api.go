package heytomcache

import (
	"context"
	"time"

	"github.com/heytom-labs/heytom-cache/farstore"
	"github.com/heytom-labs/heytom-cache/invalidation"
	"github.com/heytom-labs/heytom-cache/resilience"
)

// Cache is the two-tier hybrid cache. All operations are safe for
// concurrent use; every far-tier interaction honors the context and the
// configured per-operation timeout.
type Cache interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// Near-tier hits never touch the far tier. A far hit populates the
	// near tier with the default expiration. When the far tier fails and
	// the near tier is enabled, a resident (possibly stale) value is
	// served instead of the failure.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set writes far tier first, then near, then emits an Update
	// invalidation event without blocking. When the far tier fails and the
	// near tier is enabled, the write lands in the near tier only and Set
	// returns normally.
	Set(ctx context.Context, key string, value []byte, exp Expiration) error

	// Remove deletes from the far tier (primary key and sliding sibling),
	// then the near tier, then emits a Remove event.
	Remove(ctx context.Context, key string) error

	// Refresh re-arms the sliding TTL in both tiers. Best-effort: an
	// expired entry or one without sliding metadata returns quietly.
	Refresh(ctx context.Context, key string) error

	// Data-structure operations, delegated to the far tier through the
	// resilience pipeline. No near tier is involved; failures surface as
	// ErrBackendUnavailable.
	HSet(ctx context.Context, key, field string, value []byte) error
	HGet(ctx context.Context, key, field string) ([]byte, bool, error)
	HGetAll(ctx context.Context, key string) (map[string][]byte, error)
	HDel(ctx context.Context, key string, fields ...string) error

	RPush(ctx context.Context, key string, values ...[]byte) error
	LPop(ctx context.Context, key string) ([]byte, bool, error)
	LLen(ctx context.Context, key string) (int64, error)

	SAdd(ctx context.Context, key string, members ...[]byte) error
	SRem(ctx context.Context, key string, members ...[]byte) error
	SMembers(ctx context.Context, key string) ([][]byte, error)

	ZAdd(ctx context.Context, key, member string, score float64) error
	ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error)

	// Pub/sub on named channels, delegated to the far tier.
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string, handler func(channel string, payload []byte)) (farstore.Subscription, error)

	Metrics() MetricsSnapshot
	ResetMetrics()
	NearCacheEnabled() bool

	// Close unsubscribes from invalidations, releases the publisher,
	// clears the near tier and (when owned) closes the far client.
	// Idempotent; later operations fail with ErrClosed.
	Close(ctx context.Context) error
}

// Options tune the hybrid cache. Only Far is required.
type Options struct {
	// Required: the far tier (see farstore/redis).
	Far farstore.Store

	// CloseFar closes the far store on Close. Set it only if the cache
	// exclusively owns the store.
	CloseFar bool

	DisableNearCache    bool
	NearCacheMaxSize    int           // 0 => 1000 entries
	DefaultExpiration   time.Duration // 0 => 5m; applies when Set carries no expiration
	FarOperationTimeout time.Duration // 0 => 5s, per attempt

	DisableMetrics bool

	// Invalidation fan-out. Requires the near tier; disabled automatically
	// when DisableNearCache is set.
	DisableInvalidation bool
	InvalidationChannel string // "" => "heytom:cache:invalidation"

	// Publisher/Subscriber override the default on-store transport (e.g.
	// with invalidation/rabbitmq). On Close the cache calls Unsubscribe on
	// the Subscriber and Close on the Publisher.
	Publisher  invalidation.Publisher
	Subscriber invalidation.Subscriber

	// Source tags outgoing events; defaults to the hostname.
	Source string

	// Pipeline overrides the default retry + circuit-breaker policy.
	Pipeline *resilience.Pipeline

	Logger Logger // nil => no logging
	Hooks  Hooks  // nil => no hooks
}

// New builds the coordinator and, when invalidation is enabled, starts the
// background subscription. Construction never blocks on the subscription
// succeeding: the far tier is the source of truth, so a failed subscribe is
// logged and the cache runs with a wider staleness window.
func New(opts Options) (Cache, error) {
	return newHybrid(opts)
}

const DefaultInvalidationChannel = "heytom:cache:invalidation"
