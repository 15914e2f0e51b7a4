package limitforge

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/limitforge/limitforge/store"
)

// SlidingWindow keeps a sorted-set log of recent calls per key, scored
// by their millisecond timestamp. Unlike the counter algorithms it does
// not need a script: eviction and count are separate commands, and the
// memory store serializes them anyway. A racing pair of border calls
// can at worst both land inside the limit check, which the log then
// records honestly.
type SlidingWindow struct {
	Store store.Store
}

// Evaluate admits the call if the log holds fewer than limit entries
// inside the trailing window, then records cost entries for it.
func (sw *SlidingWindow) Evaluate(ctx context.Context, key string, p WindowParams, cost int64, now time.Time) (*Decision, error) {
	nowMS := now.UnixMilli()
	windowMS := p.WindowSeconds * 1000

	cutoff := strconv.FormatInt(nowMS-windowMS, 10)
	if err := sw.Store.ZRemRangeByScore(ctx, key, "0", cutoff); err != nil {
		return nil, upstreamErr(err)
	}

	count, err := sw.Store.ZCard(ctx, key)
	if err != nil {
		return nil, upstreamErr(err)
	}

	// Oldest surviving entry decides when a slot frees up.
	earliest := nowMS
	head, err := sw.Store.ZRangeWithScores(ctx, key, 0, 0)
	if err != nil {
		return nil, upstreamErr(err)
	}
	if len(head) > 0 {
		earliest = int64(head[0].Score)
	}

	allowed := count+cost <= p.Limit
	used := count
	if allowed && cost > 0 {
		nonce := rand.Int63()
		pipe := sw.Store.Pipeline()
		for i := int64(0); i < cost; i++ {
			score := nowMS + i
			pipe.ZAdd(ctx, key, float64(score), fmt.Sprintf("%d:%d", score, nonce))
		}
		pipe.Expire(ctx, key, time.Duration(windowMS+1000)*time.Millisecond)
		if err := pipe.Exec(ctx); err != nil {
			return nil, upstreamErr(err)
		}
		used += cost
	}

	var retryMS int64
	if !allowed {
		retryMS = earliest + windowMS - nowMS
		if retryMS < 0 {
			retryMS = 0
		}
	}

	return &Decision{
		Allowed:      allowed,
		Remaining:    clampRemaining(p.Limit-used, p.Limit),
		Limit:        p.Limit,
		ResetAt:      (earliest + windowMS + 999) / 1000,
		RetryAfterMS: retryMS,
		Algorithm:    AlgSlidingWindow,
	}, nil
}
