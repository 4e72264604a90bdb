package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/lyzr/flowdeploy/cmd/deployer/container"
	"github.com/lyzr/flowdeploy/cmd/deployer/middleware"
	"github.com/lyzr/flowdeploy/cmd/deployer/service"
)

// CatalogHandler lists promotable flows and rollback targets
type CatalogHandler struct {
	container *container.Container
}

// NewCatalogHandler creates a new catalog handler
func NewCatalogHandler(c *container.Container) *CatalogHandler {
	return &CatalogHandler{container: c}
}

// ListFlows lists promotion candidates of one environment
// GET /api/v1/environments/:env/flows?folder_id=&since=&search=&page=&size=
func (h *CatalogHandler) ListFlows(c echo.Context) error {
	env, err := envParam(c, "env")
	if err != nil {
		return respondError(c, err, nil)
	}

	q := service.CandidateQuery{
		FolderID: c.QueryParam("folder_id"),
		Search:   c.QueryParam("search"),
	}
	if raw := c.QueryParam("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return respondError(c, fmt.Errorf("%w: since must be RFC3339", service.ErrInvalidTarget), nil)
		}
		q.Since = &since
	}
	if q.Page, err = intQuery(c, "page", 1); err != nil {
		return respondError(c, err, nil)
	}
	if q.Size, err = intQuery(c, "size", 0); err != nil {
		return respondError(c, err, nil)
	}

	sess := h.container.Session(middleware.GetOperator(c))
	page, err := h.container.Catalog.ListCandidates(c.Request().Context(), sess, env, q)
	if err != nil {
		return respondError(c, err, nil)
	}
	return c.JSON(http.StatusOK, page)
}

// ListVersions lists the newest backup versions of one environment
// GET /api/v1/environments/:env/versions?limit=
func (h *CatalogHandler) ListVersions(c echo.Context) error {
	env, err := envParam(c, "env")
	if err != nil {
		return respondError(c, err, nil)
	}
	limit, err := intQuery(c, "limit", 0)
	if err != nil {
		return respondError(c, err, nil)
	}

	sess := h.container.Session(middleware.GetOperator(c))
	versions, err := h.container.Catalog.ListVersions(c.Request().Context(), sess, env, limit)
	if err != nil {
		return respondError(c, err, nil)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"environment": env,
		"versions":    versions,
	})
}
