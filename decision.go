package limitforge

import "strconv"

// Algorithm names, as stored in plans and reported in decisions.
const (
	AlgTokenBucket   = "token_bucket"
	AlgFixedWindow   = "fixed_window"
	AlgSlidingWindow = "sliding_window"
	AlgConcurrency   = "concurrency"
)

// Decision is the per-call verdict plus the quota metadata a caller
// needs to propagate an HTTP 429. It is computed per request and never
// persisted.
type Decision struct {
	Allowed      bool              `json:"allowed"`
	Remaining    int64             `json:"remaining"`
	Limit        int64             `json:"limit"`
	ResetAt      int64             `json:"reset_at"`
	RetryAfterMS int64             `json:"retry_after_ms"`
	Algorithm    string            `json:"algorithm"`
	Headers      map[string]string `json:"headers"`
}

// QuotaHeaders returns the standard rate limit header set for this
// decision. Retry-After is whole seconds, rounded up.
func (d *Decision) QuotaHeaders() map[string]string {
	return map[string]string{
		"X-RateLimit-Limit":     strconv.FormatInt(d.Limit, 10),
		"X-RateLimit-Remaining": strconv.FormatInt(d.Remaining, 10),
		"X-RateLimit-Reset":     strconv.FormatInt(d.ResetAt, 10),
		"Retry-After":           strconv.FormatInt((d.RetryAfterMS+999)/1000, 10),
	}
}

// clampRemaining enforces 0 <= remaining <= limit.
func clampRemaining(remaining, limit int64) int64 {
	if remaining < 0 {
		return 0
	}
	if remaining > limit {
		return limit
	}
	return remaining
}
