package gateway

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/presencepro/platform/internal/models"
	"github.com/presencepro/platform/pkg/config"
	appErrors "github.com/presencepro/platform/pkg/errors"
)

// ContextIdentityKey is the gin context key storing the authenticated caller.
const ContextIdentityKey = "gatewayIdentity"

// TokenVerifier decodes and verifies bearer tokens issued by the auth service.
type TokenVerifier struct {
	secret string
}

// NewTokenVerifier constructs a verifier for the configured signing key.
func NewTokenVerifier(cfg config.JWTConfig) *TokenVerifier {
	return &TokenVerifier{secret: cfg.Secret}
}

// Verify parses the token, checks signature and expiry, and returns the
// caller identity.
func (v *TokenVerifier) Verify(tokenString string) (*models.Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(v.secret), nil
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}

	claims, ok := token.Claims.(*models.JWTClaims)
	if !ok || !token.Valid {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}

	return &models.Identity{
		UserID:      claims.UserID,
		Email:       claims.Email,
		Role:        claims.Role,
		Permissions: claims.Permissions,
	}, nil
}

// IdentityFromContext returns the identity stored by the auth middleware, or
// nil for anonymous callers.
func IdentityFromContext(c *gin.Context) *models.Identity {
	value, exists := c.Get(ContextIdentityKey)
	if !exists {
		return nil
	}
	identity, ok := value.(*models.Identity)
	if !ok {
		return nil
	}
	return identity
}
