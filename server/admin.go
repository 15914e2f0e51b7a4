package server

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/limitforge/limitforge/auth"
	"github.com/limitforge/limitforge/policy"
)

type createTenantRequest struct {
	Name string `json:"name" validate:"required"`
}

func (s *Server) handleCreateTenant(c echo.Context) error {
	var req createTenantRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	t, err := s.policies.CreateTenant(c.Request().Context(), req.Name)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, t)
}

type createPlanRequest struct {
	TenantID         uuid.UUID `json:"tenant_id" validate:"required"`
	Name             string    `json:"name" validate:"required"`
	Algorithm        string    `json:"algorithm" validate:"required"`
	LimitPerWindow   *int64    `json:"limit_per_window" validate:"omitempty,gt=0"`
	WindowSeconds    *int64    `json:"window_seconds" validate:"omitempty,gt=0"`
	BucketCapacity   *int64    `json:"bucket_capacity" validate:"omitempty,gt=0"`
	RefillRatePerSec *float64  `json:"refill_rate_per_sec" validate:"omitempty,gte=0"`
	ConcurrencyLimit *int64    `json:"concurrency_limit" validate:"omitempty,gt=0"`
	CostPerCall      int64     `json:"cost_per_call" validate:"omitempty,gt=0"`
	BurstFactor      float64   `json:"burst_factor" validate:"omitempty,gt=0"`
}

func (s *Server) handleCreatePlan(c echo.Context) error {
	var req createPlanRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	alg, ok := policy.ParseAlgorithm(req.Algorithm)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown algorithm")
	}

	p, err := s.policies.CreatePlan(c.Request().Context(), &policy.Plan{
		TenantID:         req.TenantID,
		Name:             req.Name,
		Algorithm:        alg,
		LimitPerWindow:   req.LimitPerWindow,
		WindowSeconds:    req.WindowSeconds,
		BucketCapacity:   req.BucketCapacity,
		RefillRatePerSec: req.RefillRatePerSec,
		ConcurrencyLimit: req.ConcurrencyLimit,
		CostPerCall:      req.CostPerCall,
		BurstFactor:      req.BurstFactor,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, p)
}

type createAPIKeyRequest struct {
	TenantID uuid.UUID `json:"tenant_id" validate:"required"`
	Name     string    `json:"name" validate:"required"`
}

type createAPIKeyResponse struct {
	policy.APIKey
	// Key is the raw credential, shown here and never again.
	Key string `json:"key"`
}

func (s *Server) handleCreateAPIKey(c echo.Context) error {
	var req createAPIKeyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	raw, err := auth.GenerateAPIKey()
	if err != nil {
		return err
	}
	k, err := s.policies.CreateAPIKey(c.Request().Context(), req.TenantID, req.Name,
		auth.HashAPIKey(s.cfg.APIKeyHashSalt, raw))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, createAPIKeyResponse{APIKey: *k, Key: raw})
}

type createPolicyRequest struct {
	TenantID    uuid.UUID `json:"tenant_id" validate:"required"`
	Resource    string    `json:"resource" validate:"required"`
	SubjectType string    `json:"subject_type"`
	PlanID      uuid.UUID `json:"plan_id" validate:"required"`
}

func (s *Server) handleCreatePolicy(c echo.Context) error {
	var req createPolicyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	st := policy.SubjectTypeAPIKey
	if req.SubjectType != "" {
		var ok bool
		if st, ok = policy.ParseSubjectType(req.SubjectType); !ok {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown subject_type")
		}
	}

	rp, err := s.policies.CreateResourcePolicy(c.Request().Context(), req.TenantID, req.Resource, st, req.PlanID)
	if err != nil {
		return err
	}
	s.resolver.Invalidate(req.TenantID, req.Resource, st)
	return c.JSON(http.StatusCreated, rp)
}

func (s *Server) handleTenantSummary(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid tenant id")
	}
	sum, err := s.policies.TenantSummary(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sum)
}
