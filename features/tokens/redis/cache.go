// Package redis caches token counts in Redis so repeated retrievals over the
// same history do not recount unchanged parts.
package redis

import (
	"context"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zeebo/blake3"

	"goa.design/acontext/runtime/message"
	"goa.design/acontext/runtime/tokens"
)

type (
	// Options configures the cache.
	Options struct {
		// Namespace separates counts produced by different counters, for
		// example one per tokenizer model. Defaults to "default".
		Namespace string
		// TTL bounds the lifetime of cached counts. Zero keeps them forever.
		TTL time.Duration
	}

	// Cache wraps a tokens.Counter with a Redis-backed cache keyed by the
	// BLAKE3 digest of the parts' canonical JSON.
	Cache struct {
		rdb  redis.Cmdable
		next tokens.Counter
		ns   string
		ttl  time.Duration
	}
)

// KeyPrefix prefixes every cache key.
const KeyPrefix = "acontext:tokens:"

// New returns a Cache in front of next.
func New(rdb redis.Cmdable, next tokens.Counter, opts Options) (*Cache, error) {
	if rdb == nil {
		return nil, errors.New("redis client is required")
	}
	if next == nil {
		return nil, errors.New("token counter is required")
	}
	ns := opts.Namespace
	if ns == "" {
		ns = "default"
	}
	return &Cache{rdb: rdb, next: next, ns: ns, ttl: opts.TTL}, nil
}

// Count implements tokens.Counter. Cache failures fall through to the wrapped
// counter; only its errors are returned.
func (c *Cache) Count(ctx context.Context, parts ...message.Part) (int, error) {
	if len(parts) == 0 {
		return c.next.Count(ctx)
	}
	key, err := c.key(parts)
	if err != nil {
		return c.next.Count(ctx, parts...)
	}
	if n, err := c.rdb.Get(ctx, key).Int(); err == nil {
		return n, nil
	}
	n, err := c.next.Count(ctx, parts...)
	if err != nil {
		return 0, err
	}
	_ = c.rdb.Set(ctx, key, n, c.ttl).Err()
	return n, nil
}

func (c *Cache) key(parts []message.Part) (string, error) {
	h := blake3.New()
	for _, p := range parts {
		raw, err := message.MarshalPart(p)
		if err != nil {
			return "", err
		}
		_, _ = h.Write(raw)
		_, _ = h.Write([]byte{'\n'})
	}
	return KeyPrefix + c.ns + ":" + hex.EncodeToString(h.Sum(nil)), nil
}
