package heytomcache

import (
	"context"
	"fmt"

	"github.com/heytom-labs/heytom-cache/codec"
)

// Typed adapts the byte-oriented cache for one value type V through a
// pluggable codec. It lives beside the coordinator, not inside it: the
// core trades in bytes only.
type Typed[V any] struct {
	cache Cache
	codec codec.Codec[V]
}

func NewTyped[V any](c Cache, cd codec.Codec[V]) Typed[V] {
	return Typed[V]{cache: c, codec: cd}
}

func (t Typed[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	b, ok, err := t.cache.Get(ctx, key)
	if err != nil || !ok {
		return zero, false, err
	}
	v, err := t.codec.Decode(b)
	if err != nil {
		return zero, false, fmt.Errorf("%w: decode %q: %v", ErrSerialization, key, err)
	}
	return v, true, nil
}

func (t Typed[V]) Set(ctx context.Context, key string, v V, exp Expiration) error {
	b, err := t.codec.Encode(v)
	if err != nil {
		return fmt.Errorf("%w: encode %q: %v", ErrSerialization, key, err)
	}
	return t.cache.Set(ctx, key, b, exp)
}

func (t Typed[V]) Remove(ctx context.Context, key string) error {
	return t.cache.Remove(ctx, key)
}

// GetOrCompute returns the cached value or computes, stores and returns a
// fresh one. Plain composition: concurrent callers may compute more than
// once; the far tier's last writer wins.
func (t Typed[V]) GetOrCompute(ctx context.Context, key string, exp Expiration, compute func(ctx context.Context) (V, error)) (V, error) {
	if v, ok, err := t.Get(ctx, key); err != nil || ok {
		return v, err
	}
	v, err := compute(ctx)
	if err != nil {
		var zero V
		return zero, err
	}
	if err := t.Set(ctx, key, v, exp); err != nil {
		// the computed value is still good; cache population is best-effort
		return v, nil
	}
	return v, nil
}
