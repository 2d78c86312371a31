package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/presencepro/platform/internal/gateway"
	"github.com/presencepro/platform/internal/models"
	"github.com/presencepro/platform/pkg/config"
)

func identityRouter(t *testing.T, strict bool) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	verifier := gateway.NewTokenVerifier(config.JWTConfig{Secret: "test-secret"})

	r := gin.New()
	r.Use(Identity(verifier, strict, zap.NewNop()))
	r.GET("/whoami", func(c *gin.Context) {
		identity := gateway.IdentityFromContext(c)
		if identity == nil {
			c.JSON(http.StatusOK, gin.H{"anonymous": true})
			return
		}
		c.JSON(http.StatusOK, gin.H{"user_id": identity.UserID})
	})
	return r
}

func validToken(t *testing.T) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &models.JWTClaims{
		UserID: "u1",
		Role:   models.RoleParent,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

func TestIdentityAttachesVerifiedCaller(t *testing.T) {
	r := identityRouter(t, false)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+validToken(t))
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"user_id":"u1"`)
}

func TestIdentityPermissiveModeDegradesBadTokenToAnonymous(t *testing.T) {
	r := identityRouter(t, false)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "anonymous")
}

func TestIdentityStrictModeRejectsBadToken(t *testing.T) {
	r := identityRouter(t, true)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestIdentityMissingHeaderIsAnonymousInBothModes(t *testing.T) {
	for _, strict := range []bool{false, true} {
		r := identityRouter(t, strict)

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/whoami", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "anonymous")
	}
}
