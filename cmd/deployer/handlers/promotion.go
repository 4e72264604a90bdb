package handlers

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/lyzr/flowdeploy/cmd/deployer/container"
	"github.com/lyzr/flowdeploy/cmd/deployer/middleware"
	"github.com/lyzr/flowdeploy/cmd/deployer/service"
	"github.com/lyzr/flowdeploy/common/environment"
)

// PromotionHandler handles promotion requests
type PromotionHandler struct {
	container *container.Container
}

// NewPromotionHandler creates a new promotion handler
func NewPromotionHandler(c *container.Container) *PromotionHandler {
	return &PromotionHandler{container: c}
}

// PromoteRequest is the body of POST /api/v1/promotions
type PromoteRequest struct {
	Source               string   `json:"source"`
	Target               string   `json:"target"`
	Names                []string `json:"names"`
	CreateMissingFolders bool     `json:"create_missing_folders"`
}

// Promote copies flows from one environment to another
// POST /api/v1/promotions
func (h *PromotionHandler) Promote(c echo.Context) error {
	var req PromoteRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, fmt.Errorf("%w: invalid request body", service.ErrInvalidTarget), nil)
	}

	source, err := environment.Parse(req.Source)
	if err != nil {
		return respondError(c, fmt.Errorf("%w: source: %v", service.ErrInvalidTarget, err), nil)
	}
	target, err := environment.Parse(req.Target)
	if err != nil {
		return respondError(c, fmt.Errorf("%w: target: %v", service.ErrInvalidTarget, err), nil)
	}

	operator := middleware.GetOperator(c)
	log := h.container.Components.Logger.WithContext(c.Request().Context())
	log.Info("promotion requested",
		"operator", operator,
		"source", source,
		"target", target,
		"flows", len(req.Names),
	)

	report, err := h.container.Promotion.Promote(c.Request().Context(), h.container.Session(operator), service.PromoteRequest{
		Source:               source,
		Target:               target,
		Names:                req.Names,
		CreateMissingFolders: req.CreateMissingFolders,
		Progress: func(done, total int, name string) {
			log.Debug("promotion progress", "done", done, "total", total, "flow", name)
		},
	})
	if err != nil {
		return respondError(c, err, nil)
	}

	status := http.StatusOK
	if len(report.Failures) > 0 {
		status = http.StatusMultiStatus
	}
	return c.JSON(status, report)
}
