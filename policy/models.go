// Package policy holds the control-plane model: tenants, plans, API
// keys and resource policies, persisted in Postgres, plus the resolver
// that maps an incoming check to the plan governing it.
package policy

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Algorithm is a plan's rate limiting algorithm.
type Algorithm string

const (
	AlgorithmTokenBucket   Algorithm = "token_bucket"
	AlgorithmFixedWindow   Algorithm = "fixed_window"
	AlgorithmSlidingWindow Algorithm = "sliding_window"
	AlgorithmConcurrency   Algorithm = "concurrency"
)

// ParseAlgorithm normalizes s and reports whether it names a known
// algorithm.
func ParseAlgorithm(s string) (Algorithm, bool) {
	a := Algorithm(strings.ToLower(strings.TrimSpace(s)))
	switch a {
	case AlgorithmTokenBucket, AlgorithmFixedWindow, AlgorithmSlidingWindow, AlgorithmConcurrency:
		return a, true
	}
	return "", false
}

// SubjectType discriminates what kind of identity a policy applies to.
type SubjectType string

const (
	SubjectTypeAPIKey SubjectType = "api_key"
	SubjectTypeIP     SubjectType = "ip"
	SubjectTypeUserID SubjectType = "user_id"
)

// ParseSubjectType normalizes s and reports whether it names a known
// subject type.
func ParseSubjectType(s string) (SubjectType, bool) {
	st := SubjectType(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case SubjectTypeAPIKey, SubjectTypeIP, SubjectTypeUserID:
		return st, true
	}
	return "", false
}

// Tenant is a billing/isolation boundary. All plans, keys and policies
// hang off one tenant.
type Tenant struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Plan is a named limit configuration. Parameter columns are nullable
// so one row shape serves all four algorithms; the engine applies
// fallbacks for fields the plan leaves unset.
type Plan struct {
	ID               uuid.UUID `json:"id"`
	TenantID         uuid.UUID `json:"tenant_id"`
	Name             string    `json:"name"`
	Algorithm        Algorithm `json:"algorithm"`
	LimitPerWindow   *int64    `json:"limit_per_window"`
	WindowSeconds    *int64    `json:"window_seconds"`
	BucketCapacity   *int64    `json:"bucket_capacity"`
	RefillRatePerSec *float64  `json:"refill_rate_per_sec"`
	ConcurrencyLimit *int64    `json:"concurrency_limit"`
	CostPerCall      int64     `json:"cost_per_call"`
	BurstFactor      float64   `json:"burst_factor"`
	CreatedAt        time.Time `json:"created_at"`
}

// APIKey is a stored credential. Only the HMAC of the raw key is kept;
// the raw key is shown once at creation and never again.
type APIKey struct {
	ID        uuid.UUID  `json:"id"`
	TenantID  uuid.UUID  `json:"tenant_id"`
	Name      string     `json:"name"`
	KeyHash   string     `json:"-"`
	Active    bool       `json:"active"`
	RevokedAt *time.Time `json:"revoked_at"`
	CreatedAt time.Time  `json:"created_at"`
}

// ResourcePolicy binds a (resource, subject type) pair to the plan
// that governs it for one tenant.
type ResourcePolicy struct {
	ID          uuid.UUID   `json:"id"`
	TenantID    uuid.UUID   `json:"tenant_id"`
	Resource    string      `json:"resource"`
	SubjectType SubjectType `json:"subject_type"`
	PlanID      uuid.UUID   `json:"plan_id"`
	CreatedAt   time.Time   `json:"created_at"`
}

// TenantSummary is the admin overview of one tenant's configuration.
type TenantSummary struct {
	Tenant   Tenant           `json:"tenant"`
	Plans    []Plan           `json:"plans"`
	Keys     []APIKey         `json:"api_keys"`
	Policies []ResourcePolicy `json:"policies"`
}
