package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/presencepro/platform/internal/gateway"
	"github.com/presencepro/platform/internal/service"
	appErrors "github.com/presencepro/platform/pkg/errors"
	"github.com/presencepro/platform/pkg/response"
)

// RateLimit enforces the per-client request budget. Redis outages fail open
// so the gateway keeps serving traffic without limits.
func RateLimit(limiter *gateway.RateLimiter, metrics *service.MetricsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		fp := gateway.Fingerprint(c.ClientIP(), c.GetHeader("User-Agent"))
		decision := limiter.Check(c.Request.Context(), fp)

		if metrics != nil {
			switch {
			case decision.FailedOpen:
				metrics.RecordRateLimit("failopen")
			case decision.Allowed:
				metrics.RecordRateLimit("allowed")
			default:
				metrics.RecordRateLimit("blocked")
			}
		}

		if !decision.Allowed {
			c.Header("Retry-After", strconv.Itoa(decision.RetryAfter))
			response.Error(c, appErrors.ErrRateLimited)
			c.Abort()
			return
		}
		c.Next()
	}
}
