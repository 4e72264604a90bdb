package routes

import (
	"github.com/labstack/echo/v4"
	"github.com/lyzr/flowdeploy/cmd/deployer/container"
	"github.com/lyzr/flowdeploy/cmd/deployer/handlers"
	"github.com/lyzr/flowdeploy/cmd/deployer/middleware"
)

// Register registers every deployer route under /api/v1
func Register(e *echo.Echo, c *container.Container) {
	svc := c.Components.Config.Service
	api := e.Group("/api/v1",
		middleware.ExtractOperator(),
		middleware.WriteRateLimit(c.Limiter, int64(svc.WriteLimit), svc.WriteWindow),
	)

	RegisterEnvironmentRoutes(api, c)
	RegisterPromotionRoutes(api, c)
	RegisterPromptLabelRoutes(api, c)
	RegisterConfigSyncRoutes(api, c)
}

// RegisterEnvironmentRoutes registers the per-environment read and repair routes
func RegisterEnvironmentRoutes(api *echo.Group, c *container.Container) {
	catalog := handlers.NewCatalogHandler(c)
	rollback := handlers.NewRollbackHandler(c)
	refresh := handlers.NewRefreshHandler(c)
	labels := handlers.NewLabelHandler(c)

	envs := api.Group("/environments/:env")
	{
		envs.GET("/flows", catalog.ListFlows)              // GET /api/v1/environments/dev/flows
		envs.GET("/versions", catalog.ListVersions)        // GET /api/v1/environments/pro/versions
		envs.GET("/rollbacks/:version", rollback.Plan)     // GET /api/v1/environments/pro/rollbacks/20250314.1
		envs.POST("/rollbacks/:version", rollback.Execute) // POST /api/v1/environments/pro/rollbacks/20250314.1
		envs.GET("/refresh", refresh.Preview)              // GET /api/v1/environments/pro/refresh
		envs.POST("/refresh", refresh.Apply)               // POST /api/v1/environments/pro/refresh
		envs.GET("/labels/:label", labels.Scan)            // GET /api/v1/environments/pro/labels/production
		envs.POST("/labels/:label", labels.Apply)          // POST /api/v1/environments/pro/labels/production
	}
}

// RegisterPromotionRoutes registers promotion routes
func RegisterPromotionRoutes(api *echo.Group, c *container.Container) {
	h := handlers.NewPromotionHandler(c)

	api.POST("/promotions", h.Promote) // POST /api/v1/promotions
}

// RegisterPromptLabelRoutes registers prompt label routes
func RegisterPromptLabelRoutes(api *echo.Group, c *container.Container) {
	h := handlers.NewPromptLabelHandler(c)

	api.POST("/prompt-labels/sync", h.Sync) // POST /api/v1/prompt-labels/sync
}

// RegisterConfigSyncRoutes registers langflow_config sync routes
func RegisterConfigSyncRoutes(api *echo.Group, c *container.Container) {
	h := handlers.NewConfigSyncHandler(c)

	sync := api.Group("/config-sync/:src/:dst")
	{
		sync.GET("", h.Compare) // GET /api/v1/config-sync/test/pro
		sync.POST("", h.Sync)   // POST /api/v1/config-sync/test/pro
	}
}
