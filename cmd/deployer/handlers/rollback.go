package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/lyzr/flowdeploy/cmd/deployer/container"
	"github.com/lyzr/flowdeploy/cmd/deployer/middleware"
)

// RollbackHandler plans and executes rollbacks
type RollbackHandler struct {
	container *container.Container
}

// NewRollbackHandler creates a new rollback handler
func NewRollbackHandler(c *container.Container) *RollbackHandler {
	return &RollbackHandler{container: c}
}

// Plan shows what rolling back to a version would do, without writing
// GET /api/v1/environments/:env/rollbacks/:version
func (h *RollbackHandler) Plan(c echo.Context) error {
	env, err := envParam(c, "env")
	if err != nil {
		return respondError(c, err, nil)
	}
	target, err := versionParam(c)
	if err != nil {
		return respondError(c, err, nil)
	}

	sess := h.container.Session(middleware.GetOperator(c))
	plan, err := h.container.Rollback.Plan(c.Request().Context(), sess, env, target)
	if err != nil {
		return respondError(c, err, nil)
	}
	return c.JSON(http.StatusOK, plan)
}

// Execute rolls an environment back to a version
// POST /api/v1/environments/:env/rollbacks/:version
func (h *RollbackHandler) Execute(c echo.Context) error {
	env, err := envParam(c, "env")
	if err != nil {
		return respondError(c, err, nil)
	}
	target, err := versionParam(c)
	if err != nil {
		return respondError(c, err, nil)
	}

	operator := middleware.GetOperator(c)
	h.container.Components.Logger.WithContext(c.Request().Context()).WithEnv(env.String()).
		Info("rollback requested", "operator", operator, "target", target.String())

	report, err := h.container.Rollback.Rollback(c.Request().Context(), h.container.Session(operator), env, target)
	if err != nil {
		// the live store may already be restored; the report says how far it got
		if report != nil {
			return respondError(c, err, report)
		}
		return respondError(c, err, nil)
	}
	return c.JSON(http.StatusOK, report)
}
