package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresConfig configures the control-plane pool.
type PostgresConfig struct {
	ConnString string
	MaxConns   int32
	MinConns   int32
}

// Postgres is the pgx-backed Store implementation.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres opens a pool, pings it, and ensures the schema exists.
func NewPostgres(ctx context.Context, config PostgresConfig) (*Postgres, error) {
	if config.MaxConns == 0 {
		config.MaxConns = 10
	}
	if config.MinConns == 0 {
		config.MinConns = 2
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	poolConfig.MaxConns = config.MaxConns
	poolConfig.MinConns = config.MinConns

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, storeErr("failed to create connection pool", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, storeErr("failed to ping database", err)
	}
	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, storeErr("failed to migrate schema", err)
	}

	return &Postgres{pool: pool}, nil
}

func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS tenants (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS plans (
			id UUID PRIMARY KEY,
			tenant_id UUID NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			algorithm TEXT NOT NULL,
			limit_per_window BIGINT,
			window_seconds BIGINT,
			bucket_capacity BIGINT,
			refill_rate_per_sec DOUBLE PRECISION,
			concurrency_limit BIGINT,
			cost_per_call BIGINT NOT NULL DEFAULT 1,
			burst_factor DOUBLE PRECISION NOT NULL DEFAULT 1.0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS api_keys (
			id UUID PRIMARY KEY,
			tenant_id UUID NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			key_hash TEXT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			revoked_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE UNIQUE INDEX IF NOT EXISTS api_keys_key_hash_idx ON api_keys (key_hash);
		CREATE TABLE IF NOT EXISTS resource_policies (
			id UUID PRIMARY KEY,
			tenant_id UUID NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
			resource TEXT NOT NULL,
			subject_type TEXT NOT NULL,
			plan_id UUID NOT NULL REFERENCES plans(id) ON DELETE CASCADE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (tenant_id, resource, subject_type)
		);
	`)
	return err
}


// storeErr tags a query failure as ErrUnavailable.
func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

const planColumns = `id, tenant_id, name, algorithm, limit_per_window,
	window_seconds, bucket_capacity, refill_rate_per_sec,
	concurrency_limit, cost_per_call, burst_factor, created_at`

func scanPlan(row pgx.Row) (*Plan, error) {
	var p Plan
	err := row.Scan(&p.ID, &p.TenantID, &p.Name, &p.Algorithm,
		&p.LimitPerWindow, &p.WindowSeconds, &p.BucketCapacity,
		&p.RefillRatePerSec, &p.ConcurrencyLimit, &p.CostPerCall,
		&p.BurstFactor, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Postgres) CreateTenant(ctx context.Context, name string) (*Tenant, error) {
	t := Tenant{ID: uuid.New(), Name: name}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO tenants (id, name) VALUES ($1, $2)
		RETURNING created_at
	`, t.ID, t.Name).Scan(&t.CreatedAt)
	if err != nil {
		return nil, storeErr("create tenant", err)
	}
	return &t, nil
}

func (s *Postgres) CreatePlan(ctx context.Context, p *Plan) (*Plan, error) {
	p.ID = uuid.New()
	if p.CostPerCall <= 0 {
		p.CostPerCall = 1
	}
	if p.BurstFactor <= 0 {
		p.BurstFactor = 1.0
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO plans (id, tenant_id, name, algorithm,
			limit_per_window, window_seconds, bucket_capacity,
			refill_rate_per_sec, concurrency_limit, cost_per_call,
			burst_factor)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at
	`, p.ID, p.TenantID, p.Name, p.Algorithm, p.LimitPerWindow,
		p.WindowSeconds, p.BucketCapacity, p.RefillRatePerSec,
		p.ConcurrencyLimit, p.CostPerCall, p.BurstFactor).Scan(&p.CreatedAt)
	if err != nil {
		return nil, storeErr("create plan", err)
	}
	return p, nil
}

func (s *Postgres) CreateAPIKey(ctx context.Context, tenantID uuid.UUID, name, keyHash string) (*APIKey, error) {
	k := APIKey{ID: uuid.New(), TenantID: tenantID, Name: name, KeyHash: keyHash, Active: true}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO api_keys (id, tenant_id, name, key_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, k.ID, k.TenantID, k.Name, k.KeyHash).Scan(&k.CreatedAt)
	if err != nil {
		return nil, storeErr("create api key", err)
	}
	return &k, nil
}

func (s *Postgres) CreateResourcePolicy(ctx context.Context, tenantID uuid.UUID, resource string, subjectType SubjectType, planID uuid.UUID) (*ResourcePolicy, error) {
	rp := ResourcePolicy{ID: uuid.New(), TenantID: tenantID, Resource: resource, SubjectType: subjectType, PlanID: planID}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO resource_policies (id, tenant_id, resource, subject_type, plan_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, resource, subject_type) DO UPDATE SET plan_id = EXCLUDED.plan_id
		RETURNING created_at
	`, rp.ID, rp.TenantID, rp.Resource, rp.SubjectType, rp.PlanID).Scan(&rp.CreatedAt)
	if err != nil {
		return nil, storeErr("create resource policy", err)
	}
	return &rp, nil
}

func (s *Postgres) PlanByID(ctx context.Context, id uuid.UUID) (*Plan, error) {
	p, err := scanPlan(s.pool.QueryRow(ctx,
		`SELECT `+planColumns+` FROM plans WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, storeErr("plan by id", err)
	}
	return p, nil
}

func (s *Postgres) PlanFor(ctx context.Context, tenantID uuid.UUID, resource string, subjectType SubjectType) (*Plan, error) {
	// Several policies can point the same (resource, subject type) at
	// different plans over time; the newest plan wins.
	p, err := scanPlan(s.pool.QueryRow(ctx, `
		SELECT p.id, p.tenant_id, p.name, p.algorithm, p.limit_per_window,
			p.window_seconds, p.bucket_capacity, p.refill_rate_per_sec,
			p.concurrency_limit, p.cost_per_call, p.burst_factor, p.created_at
		FROM plans p
		JOIN resource_policies rp ON rp.plan_id = p.id
		WHERE p.tenant_id = $1 AND rp.tenant_id = $1
			AND rp.resource = $2 AND rp.subject_type = $3
		ORDER BY p.created_at DESC
		LIMIT 1
	`, tenantID, resource, subjectType))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, storeErr("plan for resource", err)
	}
	return p, nil
}

func (s *Postgres) APIKeyByHash(ctx context.Context, keyHash string) (*APIKey, error) {
	var k APIKey
	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, name, key_hash, active, revoked_at, created_at
		FROM api_keys
		WHERE key_hash = $1 AND active AND revoked_at IS NULL
	`, keyHash).Scan(&k.ID, &k.TenantID, &k.Name, &k.KeyHash, &k.Active, &k.RevokedAt, &k.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAPIKeyNotFound
	}
	if err != nil {
		return nil, storeErr("api key by hash", err)
	}
	return &k, nil
}

func (s *Postgres) TenantSummary(ctx context.Context, tenantID uuid.UUID) (*TenantSummary, error) {
	var sum TenantSummary
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, created_at FROM tenants WHERE id = $1
	`, tenantID).Scan(&sum.Tenant.ID, &sum.Tenant.Name, &sum.Tenant.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, storeErr("tenant summary", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+planColumns+` FROM plans
		WHERE tenant_id = $1 ORDER BY created_at
	`, tenantID)
	if err != nil {
		return nil, storeErr("tenant summary plans", err)
	}
	defer rows.Close()
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, storeErr("tenant summary plans", err)
		}
		sum.Plans = append(sum.Plans, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("tenant summary plans", err)
	}

	keyRows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, name, key_hash, active, revoked_at, created_at
		FROM api_keys WHERE tenant_id = $1 ORDER BY created_at
	`, tenantID)
	if err != nil {
		return nil, storeErr("tenant summary keys", err)
	}
	defer keyRows.Close()
	for keyRows.Next() {
		var k APIKey
		if err := keyRows.Scan(&k.ID, &k.TenantID, &k.Name, &k.KeyHash, &k.Active, &k.RevokedAt, &k.CreatedAt); err != nil {
			return nil, storeErr("tenant summary keys", err)
		}
		sum.Keys = append(sum.Keys, k)
	}
	if err := keyRows.Err(); err != nil {
		return nil, storeErr("tenant summary keys", err)
	}

	polRows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, resource, subject_type, plan_id, created_at
		FROM resource_policies WHERE tenant_id = $1 ORDER BY created_at
	`, tenantID)
	if err != nil {
		return nil, storeErr("tenant summary policies", err)
	}
	defer polRows.Close()
	for polRows.Next() {
		var rp ResourcePolicy
		if err := polRows.Scan(&rp.ID, &rp.TenantID, &rp.Resource, &rp.SubjectType, &rp.PlanID, &rp.CreatedAt); err != nil {
			return nil, storeErr("tenant summary policies", err)
		}
		sum.Policies = append(sum.Policies, rp)
	}
	if err := polRows.Err(); err != nil {
		return nil, storeErr("tenant summary policies", err)
	}

	return &sum, nil
}

func (s *Postgres) Close() {
	s.pool.Close()
}
