package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/lyzr/flowdeploy/cmd/deployer/container"
	"github.com/lyzr/flowdeploy/cmd/deployer/middleware"
)

// ConfigSyncHandler compares and aligns langflow_config between environments
type ConfigSyncHandler struct {
	container *container.Container
}

// NewConfigSyncHandler creates a new config sync handler
func NewConfigSyncHandler(c *container.Container) *ConfigSyncHandler {
	return &ConfigSyncHandler{container: c}
}

// Compare diffs langflow_config of :src against :dst
// GET /api/v1/config-sync/:src/:dst
func (h *ConfigSyncHandler) Compare(c echo.Context) error {
	src, err := envParam(c, "src")
	if err != nil {
		return respondError(c, err, nil)
	}
	dst, err := envParam(c, "dst")
	if err != nil {
		return respondError(c, err, nil)
	}

	sess := h.container.Session(middleware.GetOperator(c))
	diff, err := h.container.ConfigSync.Compare(c.Request().Context(), sess, src, dst)
	if err != nil {
		return respondError(c, err, nil)
	}
	return c.JSON(http.StatusOK, diff)
}

// Sync makes :dst's langflow_config match :src
// POST /api/v1/config-sync/:src/:dst
func (h *ConfigSyncHandler) Sync(c echo.Context) error {
	src, err := envParam(c, "src")
	if err != nil {
		return respondError(c, err, nil)
	}
	dst, err := envParam(c, "dst")
	if err != nil {
		return respondError(c, err, nil)
	}

	sess := h.container.Session(middleware.GetOperator(c))
	diff, err := h.container.ConfigSync.Sync(c.Request().Context(), sess, src, dst)
	if err != nil {
		return respondError(c, err, nil)
	}
	return c.JSON(http.StatusOK, diff)
}
