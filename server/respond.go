package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	limitforge "github.com/limitforge/limitforge"
	"github.com/limitforge/limitforge/auth"
	"github.com/limitforge/limitforge/policy"
)

// errorBody is the uniform error envelope.
type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// errorHandler maps domain errors onto HTTP statuses. Installed as the
// echo HTTPErrorHandler so handlers just return errors.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	body := errorBody{Error: "internal_error"}

	var httpErr *echo.HTTPError
	switch {
	case errors.Is(err, auth.ErrMissingAPIKey):
		status = http.StatusUnauthorized
		body = errorBody{Error: "missing_api_key", Detail: "missing X-API-Key header"}
	case errors.Is(err, auth.ErrInvalidAPIKey):
		status = http.StatusForbidden
		body = errorBody{Error: "invalid_api_key"}
	case errors.Is(err, auth.ErrMissingAdminToken):
		status = http.StatusUnauthorized
		body = errorBody{Error: "missing_admin_token"}
	case errors.Is(err, auth.ErrInvalidAdminToken):
		status = http.StatusForbidden
		body = errorBody{Error: "invalid_admin_token"}
	case errors.Is(err, policy.ErrPlanNotFound):
		status = http.StatusNotFound
		body = errorBody{Error: "plan_not_found"}
	case errors.Is(err, policy.ErrTenantNotFound):
		status = http.StatusNotFound
		body = errorBody{Error: "tenant_not_found"}
	case errors.Is(err, limitforge.ErrUpstreamUnavailable):
		status = http.StatusServiceUnavailable
		body = errorBody{Error: "upstream_unavailable", Detail: "counter store unreachable"}
	case errors.Is(err, policy.ErrUnavailable):
		status = http.StatusServiceUnavailable
		body = errorBody{Error: "upstream_unavailable", Detail: "policy store unreachable"}
	case errors.As(err, &httpErr):
		status = httpErr.Code
		body = errorBody{Error: "invalid_request", Detail: detailOf(httpErr.Message)}
	default:
		s.log.Error().Err(err).Msg("unhandled error")
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = c.JSON(status, body)
}

func detailOf(msg interface{}) string {
	if s, ok := msg.(string); ok {
		return s
	}
	return http.StatusText(http.StatusBadRequest)
}
