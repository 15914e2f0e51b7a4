// Package limitforge implements the decision core of the LimitForge
// rate-limit service: four algorithm primitives (token bucket, fixed
// window, sliding window log, concurrency) executed as atomic mutations
// against a shared counter store, and the engine that maps a tenant plan
// onto one of them.
//
// # Checking a request
//
//	engine := limitforge.NewEngine(counterStore)
//	decision, err := engine.Check(ctx, tenantID, "user:1", "GET:/orders", 1, plan)
//	if decision.Allowed {
//	    // serve request
//	}
//
// Decisions carry the quota header set (X-RateLimit-Limit, -Remaining,
// -Reset, Retry-After) ready for HTTP 429 propagation. A blocked request
// is a valid decision, not an error; errors mean the counter store could
// not be reached and the caller must fail closed.
//
// Counter state lives under stable `lf:`-prefixed keys (see keys.go), so
// multiple service instances sharing one Redis observe one consistent
// counter per (tenant, subject, resource).
package limitforge
