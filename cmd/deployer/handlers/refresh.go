package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/lyzr/flowdeploy/cmd/deployer/container"
	"github.com/lyzr/flowdeploy/cmd/deployer/middleware"
)

// RefreshHandler regenerates sub-flow reference nodes
type RefreshHandler struct {
	container *container.Container
}

// NewRefreshHandler creates a new refresh handler
func NewRefreshHandler(c *container.Container) *RefreshHandler {
	return &RefreshHandler{container: c}
}

// Preview lists the flows whose sub-flow references are stale
// GET /api/v1/environments/:env/refresh
func (h *RefreshHandler) Preview(c echo.Context) error {
	env, err := envParam(c, "env")
	if err != nil {
		return respondError(c, err, nil)
	}

	sess := h.container.Session(middleware.GetOperator(c))
	result, err := h.container.Refresher.Generate(c.Request().Context(), sess, env)
	if err != nil {
		return respondError(c, err, nil)
	}
	return c.JSON(http.StatusOK, result)
}

// Apply rewrites every stale flow
// POST /api/v1/environments/:env/refresh
func (h *RefreshHandler) Apply(c echo.Context) error {
	env, err := envParam(c, "env")
	if err != nil {
		return respondError(c, err, nil)
	}

	ctx := c.Request().Context()
	sess := h.container.Session(middleware.GetOperator(c))
	result, err := h.container.Refresher.Generate(ctx, sess, env)
	if err != nil {
		return respondError(c, err, nil)
	}

	updated, err := h.container.Refresher.Apply(ctx, sess, env, result.Updates)
	if err != nil {
		return respondError(c, err, result)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"result":  result,
		"updated": updated,
	})
}
