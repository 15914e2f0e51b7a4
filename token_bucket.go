package limitforge

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/limitforge/limitforge/store"
)

// noRefillRetryMS is the Retry-After sentinel for a blocked bucket with
// zero refill: waiting can never succeed, so it mirrors the 3600s idle
// TTL such buckets carry.
const noRefillRetryMS = 3600 * 1000

// TokenBucketParams configures one token bucket evaluation.
type TokenBucketParams struct {
	Capacity         int64
	RefillRatePerSec float64
}

// State per key is a hash {tokens, ts} with ts in unix milliseconds.
// The script replies [allowed, floor(tokens), retry_after_ms]; -1 as
// retry_after_ms means "no refill, effectively infinite".
var tokenBucketScript = `
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local now_ms = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])

local state = redis.call('HMGET', key, 'tokens', 'ts')
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil then tokens = capacity end
if ts == nil then ts = now_ms end

local elapsed = now_ms - ts
if elapsed < 0 then elapsed = 0 end
tokens = math.min(capacity, tokens + (elapsed / 1000) * refill_rate)

local allowed = 0
local retry_after_ms = 0
if tokens >= cost then
  allowed = 1
  tokens = tokens - cost
elseif refill_rate > 0 then
  retry_after_ms = math.ceil((cost - tokens) / refill_rate * 1000)
else
  retry_after_ms = -1
end

redis.call('HSET', key, 'tokens', tostring(tokens), 'ts', tostring(now_ms))
local ttl = 3600
if refill_rate > 0 then
  ttl = math.ceil(capacity / refill_rate) + 5
end
redis.call('EXPIRE', key, ttl)

return {allowed, math.floor(tokens), retry_after_ms}
`

// TokenBucket evaluates token bucket limits against the counter store.
// The whole read-refill-spend-write cycle runs inside one Lua script, so
// concurrent calls on the same key never observe intermediate state.
type TokenBucket struct {
	Store store.Store
}

// Evaluate spends cost tokens from the bucket at key, refilling for the
// time elapsed since the last call first.
func (tb *TokenBucket) Evaluate(ctx context.Context, key string, p TokenBucketParams, cost int64, now time.Time) (*Decision, error) {
	nowMS := now.UnixMilli()

	res, err := tb.Store.Eval(ctx, tokenBucketScript, []string{key},
		p.Capacity, p.RefillRatePerSec, nowMS, cost)
	if err != nil {
		var notSupported *store.ErrScriptNotSupported
		if errors.As(err, &notSupported) {
			return tb.evaluatePlain(ctx, key, p, cost, nowMS)
		}
		return nil, upstreamErr(err)
	}

	vals, err := store.Int64s(res)
	if err != nil {
		return nil, upstreamErr(err)
	}
	if len(vals) != 3 {
		return nil, upstreamErr(fmt.Errorf("token bucket script returned %d values", len(vals)))
	}

	retryMS := vals[2]
	if retryMS < 0 {
		retryMS = noRefillRetryMS
	}
	return tokenBucketDecision(p.Capacity, vals[0] == 1, vals[1], retryMS, nowMS), nil
}

// evaluatePlain is the non-scripting path. It is only atomic when the
// store serializes plain commands itself (store/memory does).
func (tb *TokenBucket) evaluatePlain(ctx context.Context, key string, p TokenBucketParams, cost, nowMS int64) (*Decision, error) {
	state, err := tb.Store.HGetAll(ctx, key)
	if err != nil {
		return nil, upstreamErr(err)
	}

	tokens := float64(p.Capacity)
	ts := nowMS
	if v, ok := state["tokens"]; ok {
		tokens, _ = strconv.ParseFloat(v, 64)
	}
	if v, ok := state["ts"]; ok {
		ts, _ = strconv.ParseInt(v, 10, 64)
	}

	elapsed := nowMS - ts
	if elapsed < 0 {
		elapsed = 0
	}
	tokens = math.Min(float64(p.Capacity), tokens+float64(elapsed)/1000*p.RefillRatePerSec)

	allowed := tokens >= float64(cost)
	var retryMS int64
	if allowed {
		tokens -= float64(cost)
	} else if p.RefillRatePerSec > 0 {
		retryMS = int64(math.Ceil((float64(cost) - tokens) / p.RefillRatePerSec * 1000))
	} else {
		retryMS = noRefillRetryMS
	}

	err = tb.Store.HSet(ctx, key,
		"tokens", strconv.FormatFloat(tokens, 'f', -1, 64),
		"ts", strconv.FormatInt(nowMS, 10),
	)
	if err != nil {
		return nil, upstreamErr(err)
	}

	ttl := time.Hour
	if p.RefillRatePerSec > 0 {
		ttl = time.Duration(math.Ceil(float64(p.Capacity)/p.RefillRatePerSec)+5) * time.Second
	}
	if err := tb.Store.Expire(ctx, key, ttl); err != nil {
		return nil, upstreamErr(err)
	}

	return tokenBucketDecision(p.Capacity, allowed, int64(math.Floor(tokens)), retryMS, nowMS), nil
}

func tokenBucketDecision(capacity int64, allowed bool, remaining, retryMS, nowMS int64) *Decision {
	if allowed {
		retryMS = 0
	}
	return &Decision{
		Allowed:      allowed,
		Remaining:    clampRemaining(remaining, capacity),
		Limit:        capacity,
		ResetAt:      (nowMS + retryMS + 999) / 1000,
		RetryAfterMS: retryMS,
		Algorithm:    AlgTokenBucket,
	}
}
