package policy

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ResolverOption configures the Resolver.
type ResolverOption func(*resolverConfig)

type resolverConfig struct {
	ttl     time.Duration
	maxKeys int
	now     func() time.Time
}

// WithCacheTTL sets how long a resolved tenant/resource plan is served
// from memory before the next lookup hits Postgres. Default: 5s.
func WithCacheTTL(ttl time.Duration) ResolverOption {
	return func(c *resolverConfig) { c.ttl = ttl }
}

// WithCacheMaxKeys caps the number of cached tenant/resource pairs.
// Default: 10000.
func WithCacheMaxKeys(maxKeys int) ResolverOption {
	return func(c *resolverConfig) { c.maxKeys = maxKeys }
}

// WithClock overrides the cache clock, for tests.
func WithClock(now func() time.Time) ResolverOption {
	return func(c *resolverConfig) { c.now = now }
}

// Resolver maps an incoming check to its governing plan. Resolution by
// tenant/resource goes through a small TTL cache; resolution by an
// explicit plan id always hits the store and deliberately skips any
// tenant ownership check, so a tenant may point at a shared plan.
type Resolver struct {
	store  Store
	config resolverConfig

	mu      sync.Mutex
	entries map[string]*planEntry
}

type planEntry struct {
	plan      *Plan
	fetchedAt time.Time
}

// NewResolver wraps a Store with plan resolution and caching.
func NewResolver(store Store, opts ...ResolverOption) *Resolver {
	cfg := resolverConfig{
		ttl:     5 * time.Second,
		maxKeys: 10000,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Resolver{
		store:   store,
		config:  cfg,
		entries: make(map[string]*planEntry),
	}
}

// Resolve returns the plan for one check. explicitPlanID, when set,
// wins over any resource policy.
func (r *Resolver) Resolve(ctx context.Context, tenantID uuid.UUID, resource string, subjectType SubjectType, explicitPlanID *uuid.UUID) (*Plan, error) {
	if explicitPlanID != nil {
		return r.store.PlanByID(ctx, *explicitPlanID)
	}

	key := cacheKey(tenantID, resource, subjectType)

	r.mu.Lock()
	if e, ok := r.entries[key]; ok && r.config.now().Sub(e.fetchedAt) < r.config.ttl {
		p := e.plan
		r.mu.Unlock()
		return p, nil
	}
	r.mu.Unlock()

	plan, err := r.store.PlanFor(ctx, tenantID, resource, subjectType)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.entries[key] = &planEntry{plan: plan, fetchedAt: r.config.now()}
	r.evictIfOverCapacity()
	r.mu.Unlock()

	return plan, nil
}

// Invalidate drops any cached plan for the tenant/resource/subject
// triple. Admin writes call this so changes show up before the TTL
// lapses.
func (r *Resolver) Invalidate(tenantID uuid.UUID, resource string, subjectType SubjectType) {
	r.mu.Lock()
	delete(r.entries, cacheKey(tenantID, resource, subjectType))
	r.mu.Unlock()
}

func cacheKey(tenantID uuid.UUID, resource string, subjectType SubjectType) string {
	return tenantID.String() + "|" + resource + "|" + string(subjectType)
}

func (r *Resolver) evictIfOverCapacity() {
	if len(r.entries) <= r.config.maxKeys {
		return
	}
	var oldestKey string
	var oldestTime time.Time
	for k, e := range r.entries {
		if oldestKey == "" || e.fetchedAt.Before(oldestTime) {
			oldestKey = k
			oldestTime = e.fetchedAt
		}
	}
	if oldestKey != "" {
		delete(r.entries, oldestKey)
	}
}
