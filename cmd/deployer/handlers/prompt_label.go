package handlers

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/lyzr/flowdeploy/cmd/deployer/container"
	"github.com/lyzr/flowdeploy/cmd/deployer/service"
)

// PromptLabelHandler aligns prompt labels in the prompt service
type PromptLabelHandler struct {
	container *container.Container
}

// NewPromptLabelHandler creates a new prompt label handler
func NewPromptLabelHandler(c *container.Container) *PromptLabelHandler {
	return &PromptLabelHandler{container: c}
}

// Sync gives prompts labelled source the dest label too
// POST /api/v1/prompt-labels/sync
func (h *PromptLabelHandler) Sync(c echo.Context) error {
	var req service.PromptLabelSyncRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, fmt.Errorf("%w: invalid request body", service.ErrInvalidTarget), nil)
	}

	updates, err := h.container.PromptLabel.Sync(c.Request().Context(), req)
	if err != nil {
		if len(updates) > 0 {
			return respondError(c, err, updates)
		}
		return respondError(c, err, nil)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"source":  req.Source,
		"dest":    req.Dest,
		"dry_run": req.DryRun,
		"updates": updates,
	})
}
