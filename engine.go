package limitforge

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/limitforge/limitforge/metrics"
	"github.com/limitforge/limitforge/policy"
	"github.com/limitforge/limitforge/store"
)

// EngineOption configures the Engine.
type EngineOption func(*Engine)

// WithMetrics attaches a Prometheus collector. nil is fine.
func WithMetrics(c *metrics.Collector) EngineOption {
	return func(e *Engine) { e.metrics = c }
}

// WithLogger sets the engine logger.
func WithLogger(log zerolog.Logger) EngineOption {
	return func(e *Engine) { e.log = log }
}

// WithClock overrides the engine clock, for tests.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// Engine dispatches checks to the algorithm named by the plan. It is
// stateless apart from the shared counter store, so any number of
// instances can serve the same tenants.
type Engine struct {
	store   store.Store
	tb      TokenBucket
	fw      FixedWindow
	sw      SlidingWindow
	cc      Concurrency
	metrics *metrics.Collector
	log     zerolog.Logger
	now     func() time.Time
}

// NewEngine builds an Engine over the given counter store.
func NewEngine(s store.Store, opts ...EngineOption) *Engine {
	e := &Engine{
		store: s,
		tb:    TokenBucket{Store: s},
		fw:    FixedWindow{Store: s},
		sw:    SlidingWindow{Store: s},
		cc:    Concurrency{Store: s},
		log:   zerolog.Nop(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Check evaluates one call against the plan and returns the decision
// with quota headers attached. Store failures surface as
// ErrUpstreamUnavailable: the engine never guesses an allow or a block
// it cannot back with counter state.
func (e *Engine) Check(ctx context.Context, tenantID, subject, resource string, cost int64, plan *policy.Plan) (*Decision, error) {
	alg := normalizeAlgorithm(string(plan.Algorithm))
	now := e.now()
	start := time.Now()

	var (
		d   *Decision
		err error
	)
	switch alg {
	case AlgFixedWindow:
		p := e.windowParams(plan)
		key := KeyFixedWindow(tenantID, subject, resource, WindowEpoch(now.UnixMilli(), p.WindowSeconds))
		d, err = e.fw.Evaluate(ctx, key, p, cost, now)
	case AlgSlidingWindow:
		d, err = e.sw.Evaluate(ctx, KeySlidingWindow(tenantID, subject, resource), e.windowParams(plan), cost, now)
	case AlgConcurrency:
		d, err = e.cc.Acquire(ctx, KeyConcurrency(tenantID, subject, resource), e.concurrencyParams(plan), cost, now)
	default:
		d, err = e.tb.Evaluate(ctx, KeyTokenBucket(tenantID, subject, resource), e.tokenBucketParams(plan), cost, now)
	}

	if err != nil {
		e.metrics.IncStoreError(alg)
		e.log.Error().Err(err).
			Str("tenant_id", tenantID).
			Str("algorithm", alg).
			Str("resource", resource).
			Msg("decision failed")
		return nil, err
	}

	e.metrics.ObserveDecision(alg, d.Allowed, time.Since(start))
	e.log.Debug().
		Str("tenant_id", tenantID).
		Str("subject", subject).
		Str("resource", resource).
		Str("algorithm", alg).
		Bool("allowed", d.Allowed).
		Int64("remaining", d.Remaining).
		Msg("decision")

	d.Headers = d.QuotaHeaders()
	return d, nil
}

// Release returns cost concurrency slots for the subject/resource. It
// only makes sense for plans using the concurrency algorithm; calls
// for other algorithms just decrement a key nothing reads.
func (e *Engine) Release(ctx context.Context, tenantID, subject, resource string, cost int64) (int64, error) {
	return e.cc.Release(ctx, KeyConcurrency(tenantID, subject, resource), cost)
}

// normalizeAlgorithm lowercases the plan's algorithm name and maps
// anything unknown to token_bucket, the most forgiving default.
func normalizeAlgorithm(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case AlgFixedWindow:
		return AlgFixedWindow
	case AlgSlidingWindow:
		return AlgSlidingWindow
	case AlgConcurrency:
		return AlgConcurrency
	default:
		return AlgTokenBucket
	}
}

// Plans are sparse; each algorithm borrows sibling fields before
// giving up, so a window plan repointed at token_bucket still limits
// something rather than nothing.

func (e *Engine) tokenBucketParams(plan *policy.Plan) TokenBucketParams {
	p := TokenBucketParams{}
	switch {
	case plan.BucketCapacity != nil:
		p.Capacity = *plan.BucketCapacity
	case plan.LimitPerWindow != nil:
		p.Capacity = *plan.LimitPerWindow
	}
	if plan.RefillRatePerSec != nil {
		p.RefillRatePerSec = *plan.RefillRatePerSec
	}
	return p
}

func (e *Engine) windowParams(plan *policy.Plan) WindowParams {
	p := WindowParams{WindowSeconds: 60}
	switch {
	case plan.LimitPerWindow != nil:
		p.Limit = *plan.LimitPerWindow
	case plan.BucketCapacity != nil:
		p.Limit = *plan.BucketCapacity
	}
	if plan.WindowSeconds != nil && *plan.WindowSeconds > 0 {
		p.WindowSeconds = *plan.WindowSeconds
	}
	return p
}

func (e *Engine) concurrencyParams(plan *policy.Plan) ConcurrencyParams {
	p := ConcurrencyParams{Limit: 1, TTLSeconds: 60}
	if plan.ConcurrencyLimit != nil {
		p.Limit = *plan.ConcurrencyLimit
	}
	if plan.WindowSeconds != nil && *plan.WindowSeconds > 0 {
		p.TTLSeconds = *plan.WindowSeconds
	}
	return p
}
