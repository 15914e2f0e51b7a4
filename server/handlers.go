package server

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/limitforge/limitforge/policy"
)

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{Status: "ok", Version: s.cfg.AppVersion})
}

type checkRequest struct {
	Subject  string     `json:"subject" validate:"required"`
	Resource string     `json:"resource" validate:"required"`
	Cost     int64      `json:"cost"`
	PlanID   *uuid.UUID `json:"plan_id"`
}

// handleCheck is the data plane: authenticate the key, resolve the
// plan, evaluate, and answer 200 or 429 with the same decision body.
func (s *Server) handleCheck(c echo.Context) error {
	ctx := c.Request().Context()

	identity, err := s.verifier.Verify(ctx, c.Request().Header.Get("X-API-Key"))
	if err != nil {
		return err
	}

	var req checkRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	if req.Cost <= 0 {
		req.Cost = 1
	}

	plan, err := s.resolver.Resolve(ctx, identity.TenantID, req.Resource, policy.SubjectTypeAPIKey, req.PlanID)
	if err != nil {
		return err
	}

	d, err := s.engine.Check(ctx, identity.TenantID.String(), req.Subject, req.Resource, req.Cost, plan)
	if err != nil {
		return err
	}

	for k, v := range d.Headers {
		c.Response().Header().Set(k, v)
	}
	status := http.StatusOK
	if !d.Allowed {
		status = http.StatusTooManyRequests
	}
	return c.JSON(status, d)
}
