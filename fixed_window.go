package limitforge

import (
	"context"
	"errors"
	"time"

	"github.com/limitforge/limitforge/store"
)

// WindowParams configures fixed and sliding window evaluations.
type WindowParams struct {
	Limit         int64
	WindowSeconds int64
}

// The key already encodes its window epoch, so the script only has to
// bump the counter and arm the TTL on first increment.
var fixedWindowScript = `
local counter = redis.call('INCRBY', KEYS[1], tonumber(ARGV[2]))
if counter == tonumber(ARGV[2]) then
  redis.call('EXPIRE', KEYS[1], tonumber(ARGV[1]))
end
return counter
`

// FixedWindow counts calls per aligned window. The increment is not
// rolled back on block: the counter records attempted load for the
// window, matching the upstream behavior this service replaces.
type FixedWindow struct {
	Store store.Store
}

// Evaluate charges cost against the window counter at key. The caller
// derives key with KeyFixedWindow so it carries the window epoch.
func (fw *FixedWindow) Evaluate(ctx context.Context, key string, p WindowParams, cost int64, now time.Time) (*Decision, error) {
	nowMS := now.UnixMilli()

	var counter int64
	res, err := fw.Store.Eval(ctx, fixedWindowScript, []string{key}, p.WindowSeconds, cost)
	if err != nil {
		var notSupported *store.ErrScriptNotSupported
		if !errors.As(err, &notSupported) {
			return nil, upstreamErr(err)
		}
		counter, err = fw.Store.IncrBy(ctx, key, cost)
		if err != nil {
			return nil, upstreamErr(err)
		}
		if counter == cost {
			if err := fw.Store.Expire(ctx, key, time.Duration(p.WindowSeconds)*time.Second); err != nil {
				return nil, upstreamErr(err)
			}
		}
	} else {
		if counter, err = store.Int64(res); err != nil {
			return nil, upstreamErr(err)
		}
	}

	windowStart := WindowEpoch(nowMS, p.WindowSeconds)
	resetAt := windowStart + p.WindowSeconds
	allowed := counter <= p.Limit

	var retryMS int64
	if !allowed {
		retryMS = resetAt*1000 - nowMS
		if retryMS < 0 {
			retryMS = 0
		}
	}

	return &Decision{
		Allowed:      allowed,
		Remaining:    clampRemaining(p.Limit-counter, p.Limit),
		Limit:        p.Limit,
		ResetAt:      resetAt,
		RetryAfterMS: retryMS,
		Algorithm:    AlgFixedWindow,
	}, nil
}
