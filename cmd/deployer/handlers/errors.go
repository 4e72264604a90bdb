package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/lyzr/flowdeploy/cmd/deployer/models"
	"github.com/lyzr/flowdeploy/cmd/deployer/service"
	"github.com/lyzr/flowdeploy/common/environment"
)

// StatusFor maps an engine error to an HTTP status code
func StatusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidTarget):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrIdentityMismatch), errors.Is(err, service.ErrUniqueViolation):
		return http.StatusConflict
	case errors.Is(err, service.ErrMissingDependency):
		return http.StatusFailedDependency
	case errors.Is(err, service.ErrRemoteService):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as {"error": ...}; a partial result is attached when present
func respondError(c echo.Context, err error, partial interface{}) error {
	body := map[string]interface{}{
		"error": err.Error(),
	}
	if partial != nil {
		body["result"] = partial
	}
	return c.JSON(StatusFor(err), body)
}

func envParam(c echo.Context, name string) (environment.Environment, error) {
	env, err := environment.Parse(c.Param(name))
	if err != nil {
		return "", fmt.Errorf("%w: %v", service.ErrInvalidTarget, err)
	}
	return env, nil
}

func versionParam(c echo.Context) (models.Version, error) {
	v, err := models.ParseVersion(c.Param("version"))
	if err != nil {
		return models.Version{}, fmt.Errorf("%w: %v", service.ErrInvalidTarget, err)
	}
	return v, nil
}

func intQuery(c echo.Context, name string, def int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", service.ErrInvalidTarget, name)
	}
	return n, nil
}
