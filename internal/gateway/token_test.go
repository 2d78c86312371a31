package gateway

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/presencepro/platform/internal/models"
	"github.com/presencepro/platform/pkg/config"
)

func signToken(t *testing.T, secret string, claims *models.JWTClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestVerifyReturnsIdentity(t *testing.T) {
	verifier := NewTokenVerifier(config.JWTConfig{Secret: "test-secret"})

	signed := signToken(t, "test-secret", &models.JWTClaims{
		UserID:      "u1",
		Email:       "teacher@example.com",
		Role:        models.RoleTeacher,
		Permissions: []string{"attendance:write"},
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	identity, err := verifier.Verify(signed)
	require.NoError(t, err)
	assert.Equal(t, "u1", identity.UserID)
	assert.Equal(t, models.RoleTeacher, identity.Role)
	assert.Equal(t, []string{"attendance:write"}, identity.Permissions)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	verifier := NewTokenVerifier(config.JWTConfig{Secret: "test-secret"})

	signed := signToken(t, "other-secret", &models.JWTClaims{
		UserID: "u1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	_, err := verifier.Verify(signed)
	assert.Error(t, err)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	verifier := NewTokenVerifier(config.JWTConfig{Secret: "test-secret"})

	signed := signToken(t, "test-secret", &models.JWTClaims{
		UserID: "u1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})

	_, err := verifier.Verify(signed)
	assert.Error(t, err)
}
