package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	limitforge "github.com/limitforge/limitforge"
	"github.com/limitforge/limitforge/auth"
	"github.com/limitforge/limitforge/config"
	"github.com/limitforge/limitforge/policy"
	"github.com/limitforge/limitforge/store/memory"
)

const (
	testSalt       = "pepper"
	testAdminToken = "admin-token"
	testAPIKey     = "lf_test_key"
)

type fakePolicyStore struct {
	policy.Store

	keys       map[string]*policy.APIKey
	plans      map[uuid.UUID]*policy.Plan
	byResource map[string]*policy.Plan
	tenants    map[uuid.UUID]*policy.Tenant
}

func newFakePolicyStore() *fakePolicyStore {
	return &fakePolicyStore{
		keys:       make(map[string]*policy.APIKey),
		plans:      make(map[uuid.UUID]*policy.Plan),
		byResource: make(map[string]*policy.Plan),
		tenants:    make(map[uuid.UUID]*policy.Tenant),
	}
}

func (f *fakePolicyStore) APIKeyByHash(_ context.Context, keyHash string) (*policy.APIKey, error) {
	k, ok := f.keys[keyHash]
	if !ok {
		return nil, policy.ErrAPIKeyNotFound
	}
	return k, nil
}

func (f *fakePolicyStore) PlanByID(_ context.Context, id uuid.UUID) (*policy.Plan, error) {
	p, ok := f.plans[id]
	if !ok {
		return nil, policy.ErrPlanNotFound
	}
	return p, nil
}

func (f *fakePolicyStore) PlanFor(_ context.Context, tenantID uuid.UUID, resource string, subjectType policy.SubjectType) (*policy.Plan, error) {
	p, ok := f.byResource[tenantID.String()+"|"+resource+"|"+string(subjectType)]
	if !ok {
		return nil, policy.ErrPlanNotFound
	}
	return p, nil
}

func (f *fakePolicyStore) CreateTenant(_ context.Context, name string) (*policy.Tenant, error) {
	t := &policy.Tenant{ID: uuid.New(), Name: name}
	f.tenants[t.ID] = t
	return t, nil
}

func (f *fakePolicyStore) TenantSummary(_ context.Context, tenantID uuid.UUID) (*policy.TenantSummary, error) {
	t, ok := f.tenants[tenantID]
	if !ok {
		return nil, policy.ErrTenantNotFound
	}
	return &policy.TenantSummary{Tenant: *t}, nil
}

type testEnv struct {
	srv      *Server
	policies *fakePolicyStore
	tenantID uuid.UUID
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	counters := memory.New()
	t.Cleanup(func() { counters.Close() })

	policies := newFakePolicyStore()
	tenantID := uuid.New()
	policies.tenants[tenantID] = &policy.Tenant{ID: tenantID, Name: "TestCo"}
	policies.keys[auth.HashAPIKey(testSalt, testAPIKey)] = &policy.APIKey{
		ID:       uuid.New(),
		TenantID: tenantID,
		Active:   true,
	}

	cfg := &config.Config{
		AppName:          "limitforge",
		AppEnv:           "test",
		AppVersion:       "0.1.0-test",
		AdminBearerToken: testAdminToken,
		APIKeyHashSalt:   testSalt,
	}

	engine := limitforge.NewEngine(counters)
	resolver := policy.NewResolver(policies)
	verifier := auth.NewVerifier(policies, counters, testSalt)
	srv := New(cfg, engine, resolver, policies, verifier, nil, zerolog.Nop())

	return &testEnv{srv: srv, policies: policies, tenantID: tenantID}
}

func (env *testEnv) addPlan(resource string, plan *policy.Plan) *policy.Plan {
	plan.ID = uuid.New()
	plan.TenantID = env.tenantID
	env.policies.plans[plan.ID] = plan
	if resource != "" {
		env.policies.byResource[env.tenantID.String()+"|"+resource+"|api_key"] = plan
	}
	return plan
}

func postCheck(t *testing.T, srv *Server, apiKey, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/check", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "0.1.0-test", body.Version)
}

func TestCheck_FixedWindowBlocksThirdCall(t *testing.T) {
	env := newTestEnv(t)
	limit, window := int64(2), int64(60)
	env.addPlan("GET:/demo", &policy.Plan{
		Algorithm:      policy.AlgorithmFixedWindow,
		LimitPerWindow: &limit,
		WindowSeconds:  &window,
	})

	const body = `{"resource":"GET:/demo","subject":"user:1","cost":1}`

	rec := postCheck(t, env.srv, testAPIKey, body)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = postCheck(t, env.srv, testAPIKey, body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = postCheck(t, env.srv, testAPIKey, body)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	var d limitforge.Decision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	assert.False(t, d.Allowed)
	assert.Equal(t, limitforge.AlgFixedWindow, d.Algorithm)
}

func TestCheck_MissingAPIKey(t *testing.T) {
	env := newTestEnv(t)

	rec := postCheck(t, env.srv, "", `{"resource":"r","subject":"s"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "missing_api_key", body.Error)
	assert.Contains(t, body.Detail, "X-API-Key")
}

func TestCheck_InvalidAPIKey(t *testing.T) {
	env := newTestEnv(t)

	rec := postCheck(t, env.srv, "lf_wrong", `{"resource":"r","subject":"s"}`)
	require.Equal(t, http.StatusForbidden, rec.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "invalid_api_key", body.Error)
}

func TestCheck_PlanNotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := postCheck(t, env.srv, testAPIKey, `{"resource":"unmapped","subject":"user:1"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "plan_not_found", body.Error)
}

func TestCheck_ExplicitPlanID(t *testing.T) {
	env := newTestEnv(t)
	capacity := int64(1)
	refill := 1.0
	plan := env.addPlan("", &policy.Plan{
		Algorithm:        policy.AlgorithmTokenBucket,
		BucketCapacity:   &capacity,
		RefillRatePerSec: &refill,
	})

	body := `{"resource":"anything","subject":"user:1","plan_id":"` + plan.ID.String() + `"}`
	rec := postCheck(t, env.srv, testAPIKey, body)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = postCheck(t, env.srv, testAPIKey, body)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestCheck_NonPositiveCostCoercedToOne(t *testing.T) {
	env := newTestEnv(t)
	limit, window := int64(1), int64(60)
	env.addPlan("orders", &policy.Plan{
		Algorithm:      policy.AlgorithmFixedWindow,
		LimitPerWindow: &limit,
		WindowSeconds:  &window,
	})

	rec := postCheck(t, env.srv, testAPIKey, `{"resource":"orders","subject":"user:1","cost":-5}`)
	require.Equal(t, http.StatusOK, rec.Code)

	// The coerced cost of 1 used up the whole window.
	rec = postCheck(t, env.srv, testAPIKey, `{"resource":"orders","subject":"user:1"}`)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestCheck_MissingFields(t *testing.T) {
	env := newTestEnv(t)

	rec := postCheck(t, env.srv, testAPIKey, `{"subject":"user:1"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "invalid_request", body.Error)
}

func TestAdmin_RequiresBearerToken(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/admin/tenants", strings.NewReader(`{"name":"A"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/v1/admin/tenants", strings.NewReader(`{"name":"A"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdmin_CreateTenantAndSummary(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/admin/tenants", strings.NewReader(`{"name":"AcmeCo"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var tenant policy.Tenant
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tenant))
	assert.Equal(t, "AcmeCo", tenant.Name)

	req = httptest.NewRequest(http.MethodGet, "/v1/admin/tenants/"+tenant.ID.String()+"/summary", nil)
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	rec = httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var sum policy.TenantSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	assert.Equal(t, tenant.ID, sum.Tenant.ID)
}

func TestAdmin_SummaryUnknownTenant(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/admin/tenants/"+uuid.NewString()+"/summary", nil)
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
