package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/lyzr/flowdeploy/cmd/deployer/container"
	"github.com/lyzr/flowdeploy/cmd/deployer/middleware"
)

// LabelHandler rewrites the prompt label referenced by published flows
type LabelHandler struct {
	container *container.Container
}

// NewLabelHandler creates a new label handler
func NewLabelHandler(c *container.Container) *LabelHandler {
	return &LabelHandler{container: c}
}

// Scan lists prompt nodes whose label differs from :label
// GET /api/v1/environments/:env/labels/:label
func (h *LabelHandler) Scan(c echo.Context) error {
	env, err := envParam(c, "env")
	if err != nil {
		return respondError(c, err, nil)
	}

	sess := h.container.Session(middleware.GetOperator(c))
	scan, err := h.container.Labels.Scan(c.Request().Context(), sess, env, c.Param("label"))
	if err != nil {
		return respondError(c, err, nil)
	}
	return c.JSON(http.StatusOK, scan)
}

// Apply sets :label on every prompt node that differs
// POST /api/v1/environments/:env/labels/:label
func (h *LabelHandler) Apply(c echo.Context) error {
	env, err := envParam(c, "env")
	if err != nil {
		return respondError(c, err, nil)
	}

	ctx := c.Request().Context()
	sess := h.container.Session(middleware.GetOperator(c))
	scan, err := h.container.Labels.Scan(ctx, sess, env, c.Param("label"))
	if err != nil {
		return respondError(c, err, nil)
	}

	updated, err := h.container.Labels.Apply(ctx, sess, env, scan.Updates)
	if err != nil {
		return respondError(c, err, scan)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"scan":    scan,
		"updated": updated,
	})
}
