// Package server is the HTTP surface: the data-plane check endpoint,
// the admin control plane, health and metrics.
package server

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	limitforge "github.com/limitforge/limitforge"
	"github.com/limitforge/limitforge/auth"
	"github.com/limitforge/limitforge/config"
	"github.com/limitforge/limitforge/metrics"
	"github.com/limitforge/limitforge/policy"
)

// Server bundles the echo instance with everything the handlers need.
type Server struct {
	cfg      *config.Config
	engine   *limitforge.Engine
	resolver *policy.Resolver
	policies policy.Store
	verifier *auth.Verifier
	metrics  *metrics.Collector
	log      zerolog.Logger
	echo     *echo.Echo
}

type requestValidator struct {
	validate *validator.Validate
}

func (v *requestValidator) Validate(i interface{}) error {
	if err := v.validate.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

// New builds the server and mounts all routes.
func New(cfg *config.Config, engine *limitforge.Engine, resolver *policy.Resolver, policies policy.Store, verifier *auth.Verifier, collector *metrics.Collector, log zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = &requestValidator{validate: validator.New()}

	s := &Server{
		cfg:      cfg,
		engine:   engine,
		resolver: resolver,
		policies: policies,
		verifier: verifier,
		metrics:  collector,
		log:      log,
		echo:     e,
	}

	e.HTTPErrorHandler = s.errorHandler

	e.Use(middleware.Recover())
	e.Use(s.requestLogger)
	if cfg.OTLPEndpoint != "" {
		e.Use(otelecho.Middleware(cfg.AppName))
	}
	if cfg.IsDev() {
		e.Use(middleware.CORS())
	}

	e.GET("/v1/health", s.handleHealth)
	e.POST("/v1/check", s.handleCheck)

	admin := e.Group("/v1/admin", s.requireAdmin)
	admin.POST("/tenants", s.handleCreateTenant)
	admin.POST("/plans", s.handleCreatePlan)
	admin.POST("/keys", s.handleCreateAPIKey)
	admin.POST("/policies", s.handleCreatePolicy)
	admin.GET("/tenants/:id/summary", s.handleTenantSummary)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		status := c.Response().Status
		s.log.Info().
			Str("method", c.Request().Method).
			Str("path", c.Path()).
			Int("status", status).
			Msg("request")
		s.metrics.IncRequest(c.Path(), outcomeFor(status))
		return nil
	}
}

func outcomeFor(status int) string {
	switch {
	case status == http.StatusTooManyRequests:
		return "blocked"
	case status >= 500:
		return "error"
	case status >= 400:
		return "rejected"
	default:
		return "ok"
	}
}

func (s *Server) requireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := auth.VerifyAdminToken(c.Request().Header.Get(echo.HeaderAuthorization), s.cfg.AdminBearerToken); err != nil {
			return err
		}
		return next(c)
	}
}
