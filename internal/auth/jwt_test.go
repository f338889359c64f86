package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-signing-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestJWTAuthenticator_Resolve(t *testing.T) {
	ctx := context.Background()
	a := NewJWTAuthenticator(testSecret)

	t.Run("resolves a valid token", func(t *testing.T) {
		credential := signToken(t, testSecret, jwt.MapClaims{
			"sub":        "42",
			"email":      "ada@example.com",
			"first_name": "Ada",
			"last_name":  "Lovelace",
			"superuser":  true,
			"exp":        time.Now().Add(time.Hour).Unix(),
		})

		user, err := a.Resolve(ctx, credential)
		require.NoError(t, err)
		assert.Equal(t, int64(42), user.ID)
		assert.Equal(t, "ada@example.com", user.Email)
		assert.Equal(t, "Ada", user.FirstName)
		assert.True(t, user.Superuser)
	})

	t.Run("missing optional claims default to zero values", func(t *testing.T) {
		credential := signToken(t, testSecret, jwt.MapClaims{
			"sub": "7",
			"exp": time.Now().Add(time.Hour).Unix(),
		})

		user, err := a.Resolve(ctx, credential)
		require.NoError(t, err)
		assert.Equal(t, int64(7), user.ID)
		assert.Empty(t, user.Email)
		assert.False(t, user.Superuser)
	})

	t.Run("empty credential is forbidden", func(t *testing.T) {
		_, err := a.Resolve(ctx, "")
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("wrong signature is forbidden", func(t *testing.T) {
		credential := signToken(t, "other-secret", jwt.MapClaims{
			"sub": "42",
			"exp": time.Now().Add(time.Hour).Unix(),
		})

		_, err := a.Resolve(ctx, credential)
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("expired token is forbidden", func(t *testing.T) {
		credential := signToken(t, testSecret, jwt.MapClaims{
			"sub": "42",
			"exp": time.Now().Add(-time.Hour).Unix(),
		})

		_, err := a.Resolve(ctx, credential)
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("non-numeric subject is forbidden", func(t *testing.T) {
		credential := signToken(t, testSecret, jwt.MapClaims{
			"sub": "not-a-number",
			"exp": time.Now().Add(time.Hour).Unix(),
		})

		_, err := a.Resolve(ctx, credential)
		assert.ErrorIs(t, err, ErrForbidden)
	})
}
