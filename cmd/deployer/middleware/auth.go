package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/lyzr/flowdeploy/common/clients"
	"github.com/lyzr/flowdeploy/common/logger"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// OperatorKey is the context key for storing the acting operator
	OperatorKey ContextKey = "operator"
)

// ExtractOperator is a middleware that requires the X-User-ID header and
// stores it in the echo context and the request context. The request id set
// by echo's RequestID middleware becomes the log trace id.
//
// Usage:
//
//	api := e.Group("/api/v1", middleware.ExtractOperator())
//
// Accessing in handlers:
//
//	operator := middleware.GetOperator(c)
func ExtractOperator() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			operator := c.Request().Header.Get("X-User-ID")
			if operator == "" {
				return c.JSON(http.StatusUnauthorized, map[string]interface{}{
					"error": "X-User-ID header is required",
				})
			}

			c.Set(string(OperatorKey), operator)

			ctx := clients.WithOperator(c.Request().Context(), operator)
			if id := c.Response().Header().Get(echo.HeaderXRequestID); id != "" {
				ctx = logger.ContextWithTraceID(ctx, id)
			}
			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}

// GetOperator retrieves the operator from the request context
// Returns empty string if not set
func GetOperator(c echo.Context) string {
	operator, _ := c.Get(string(OperatorKey)).(string)
	return operator
}
