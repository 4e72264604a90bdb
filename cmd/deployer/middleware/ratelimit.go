package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/lyzr/flowdeploy/common/ratelimit"
)

// WriteRateLimit limits the mutating requests (anything but GET/HEAD) each
// operator can send per window. Requires ExtractOperator to run first.
// Limiter errors let the request through.
func WriteRateLimit(limiter ratelimit.Limiter, limit int64, window time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			method := c.Request().Method
			if limit <= 0 || method == http.MethodGet || method == http.MethodHead {
				return next(c)
			}

			operator := GetOperator(c)
			if operator == "" {
				return next(c)
			}

			key := fmt.Sprintf("rate_limit:operator:%s", operator)
			result, err := limiter.Check(c.Request().Context(), key, limit, window)
			if err != nil {
				return next(c)
			}

			if !result.Allowed {
				c.Response().Header().Set("Retry-After", fmt.Sprint(result.RetryAfterSeconds))
				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"error": "operator_rate_limit_exceeded",
					"details": map[string]interface{}{
						"limit":               result.Limit,
						"window":              window.String(),
						"retry_after_seconds": result.RetryAfterSeconds,
					},
				})
			}

			return next(c)
		}
	}
}
