package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/presencepro/platform/internal/gateway"
	appErrors "github.com/presencepro/platform/pkg/errors"
	"github.com/presencepro/platform/pkg/response"
)

// Identity resolves the caller's identity from the Authorization header and
// stores it on the context for tier checks downstream. In permissive mode an
// invalid token degrades the caller to anonymous; in strict mode it is
// rejected outright.
func Identity(verifier *gateway.TokenVerifier, strict bool, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			if strict {
				response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header"))
				c.Abort()
				return
			}
			c.Next()
			return
		}

		identity, err := verifier.Verify(parts[1])
		if err != nil {
			if strict {
				response.Error(c, err)
				c.Abort()
				return
			}
			logger.Debug("treating caller as anonymous", zap.Error(err))
			c.Next()
			return
		}

		c.Set(gateway.ContextIdentityKey, identity)
		c.Next()
	}
}
