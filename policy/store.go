package policy

import (
	"context"

	"github.com/google/uuid"
)

// Store is the control-plane persistence surface. The Postgres
// implementation is the production one; tests substitute fakes.
type Store interface {
	CreateTenant(ctx context.Context, name string) (*Tenant, error)
	CreatePlan(ctx context.Context, p *Plan) (*Plan, error)
	CreateAPIKey(ctx context.Context, tenantID uuid.UUID, name, keyHash string) (*APIKey, error)
	CreateResourcePolicy(ctx context.Context, tenantID uuid.UUID, resource string, subjectType SubjectType, planID uuid.UUID) (*ResourcePolicy, error)

	PlanByID(ctx context.Context, id uuid.UUID) (*Plan, error)
	// PlanFor returns the plan bound to (resource, subjectType) for
	// the tenant. When several policies match, the most recently
	// created plan wins. ErrPlanNotFound when nothing matches.
	PlanFor(ctx context.Context, tenantID uuid.UUID, resource string, subjectType SubjectType) (*Plan, error)
	APIKeyByHash(ctx context.Context, keyHash string) (*APIKey, error)
	TenantSummary(ctx context.Context, tenantID uuid.UUID) (*TenantSummary, error)

	Close()
}
