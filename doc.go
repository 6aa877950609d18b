// Package heytomcache implements a two-tier (near/far) distributed cache.
// The far tier is a shared Redis-compatible store; the near tier is a
// bounded in-process LRU. Instances sharing the far tier keep their near
// tiers approximately coherent by broadcasting invalidation events.
//
// Components:
//   - farstore.Store: byte store with TTLs, data-structure ops, pub/sub and
//     the atomic primitives the distributed mutex needs. The Redis adapter
//     lives in farstore/redis.
//   - nearstore.Store: bounded LRU map with absolute and sliding expiration.
//   - resilience.Pipeline: retry + circuit breaker guarding every far call.
//   - invalidation: cross-instance invalidation events; on-store pub/sub by
//     default, a RabbitMQ fan-out transport in invalidation/rabbitmq.
//   - locks.Mutex: named advisory lock on the far tier's SET NX + scripts.
//
// Read path: near tier first; on miss, the far tier through the resilience
// pipeline; far hits populate the near tier. Write path: far first, then
// near, then a fire-and-forget invalidation event. When the far tier is
// down and the near tier is enabled, reads and writes degrade to the near
// tier alone; a stale value is preferable to a failure.
//
// Keys owned by the cache:
//
//	<key>:metadata:sliding - sliding duration sibling, same TTL as <key>
//	lock:<resource>        - mutex keys (value is the owner token)
//
// Minimal use:
//
//	far, _ := redisfar.New(redisfar.Config{Addr: "localhost:6379"})
//	cache, _ := heytomcache.New(heytomcache.Options{Far: far, CloseFar: true})
//	defer cache.Close(context.Background())
//
//	_ = cache.Set(ctx, "u:7", payload, heytomcache.SlidingExpiration(3*time.Minute))
//	v, ok, err := cache.Get(ctx, "u:7")
package heytomcache
