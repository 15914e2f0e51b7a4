package policy

import "errors"

var (
	// ErrPlanNotFound means no plan matched the lookup: an unknown
	// explicit plan id, or a tenant/resource pair with no policy and
	// no fallback plan.
	ErrPlanNotFound = errors.New("plan not found")

	// ErrAPIKeyNotFound means no active key matched the presented
	// hash.
	ErrAPIKeyNotFound = errors.New("api key not found")

	// ErrTenantNotFound means the referenced tenant does not exist.
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrUnavailable marks a policy-store failure (connection, query,
	// timeout). Callers map it to HTTP 503, never to an allow or a
	// block.
	ErrUnavailable = errors.New("policy store unavailable")
)
