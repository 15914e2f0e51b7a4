package limitforge

import (
	"context"
	"time"

	"github.com/limitforge/limitforge/store"
)

// ConcurrencyParams configures in-flight slot limiting. TTLSeconds caps
// how long an acquired slot survives a client that never releases it.
type ConcurrencyParams struct {
	Limit      int64
	TTLSeconds int64
}

// Concurrency limits simultaneous in-flight work per key. Acquire and
// Release bracket the protected call; slots leak back via key TTL when
// a caller dies without releasing.
type Concurrency struct {
	Store store.Store
}

// Acquire takes cost slots. On block the increment is rolled back so
// rejected calls never occupy capacity.
func (c *Concurrency) Acquire(ctx context.Context, key string, p ConcurrencyParams, cost int64, now time.Time) (*Decision, error) {
	n, err := c.Store.IncrBy(ctx, key, cost)
	if err != nil {
		return nil, upstreamErr(err)
	}

	ttl, err := c.Store.TTL(ctx, key)
	if err != nil {
		return nil, upstreamErr(err)
	}
	// Round partial seconds up so a nearly-elapsed TTL still reports
	// a usable retry hint.
	ttlS := int64((ttl + time.Second - 1) / time.Second)
	if ttl < 0 {
		// Fresh key, or one that lost its TTL. Arm it.
		if err := c.Store.Expire(ctx, key, time.Duration(p.TTLSeconds)*time.Second); err != nil {
			return nil, upstreamErr(err)
		}
		ttlS = p.TTLSeconds
	}

	if n <= p.Limit {
		return &Decision{
			Allowed:   true,
			Remaining: clampRemaining(p.Limit-n, p.Limit),
			Limit:     p.Limit,
			ResetAt:   now.Unix() + ttlS,
			Algorithm: AlgConcurrency,
		}, nil
	}

	if _, err := c.Store.DecrBy(ctx, key, cost); err != nil {
		return nil, upstreamErr(err)
	}
	return &Decision{
		Allowed:      false,
		Remaining:    0,
		Limit:        p.Limit,
		ResetAt:      now.Unix() + ttlS,
		RetryAfterMS: ttlS * 1000,
		Algorithm:    AlgConcurrency,
	}, nil
}

// Release returns cost slots and reports the new in-flight count. A
// counter driven below zero by a stray release is reset to absent.
func (c *Concurrency) Release(ctx context.Context, key string, cost int64) (int64, error) {
	n, err := c.Store.DecrBy(ctx, key, cost)
	if err != nil {
		return 0, upstreamErr(err)
	}
	if n < 0 {
		if err := c.Store.Del(ctx, key); err != nil {
			return 0, upstreamErr(err)
		}
		return 0, nil
	}
	return n, nil
}
