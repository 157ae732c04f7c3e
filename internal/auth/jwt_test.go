package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fitpass/internal/config"
	"fitpass/internal/types"
)

func testAuthenticator() *JWTAuthenticator {
	return NewJWTAuthenticator(config.AuthConfig{
		JWTSecret: types.SecretString("test-secret"),
		TokenTTL:  time.Hour,
	})
}

func TestResolveToken_RoundTrip(t *testing.T) {
	a := testAuthenticator()

	token, err := a.IssueToken("user-1", "user1@example.com")
	require.NoError(t, err)

	actor, err := a.ResolveToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", actor.ID)
	assert.Equal(t, "user1@example.com", actor.Email)
}

func TestResolveToken_Expired(t *testing.T) {
	a := testAuthenticator()

	claims := jwt.MapClaims{
		"user_id": "user-1",
		"exp":     time.Now().Add(-time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = a.ResolveToken(context.Background(), token)
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeAuthTokenExpired, appErr.Code)
}

func TestResolveToken_WrongSecret(t *testing.T) {
	a := testAuthenticator()

	other := NewJWTAuthenticator(config.AuthConfig{
		JWTSecret: types.SecretString("other-secret"),
		TokenTTL:  time.Hour,
	})
	token, err := other.IssueToken("user-1", "")
	require.NoError(t, err)

	_, err = a.ResolveToken(context.Background(), token)
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeAuthTokenInvalid, appErr.Code)
}

func TestResolveToken_MissingUserID(t *testing.T) {
	a := testAuthenticator()

	claims := jwt.MapClaims{
		"email": "user1@example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = a.ResolveToken(context.Background(), token)
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeAuthTokenInvalid, appErr.Code)
}

func TestResolveToken_Garbage(t *testing.T) {
	a := testAuthenticator()

	_, err := a.ResolveToken(context.Background(), "not.a.token")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeAuthTokenInvalid, appErr.Code)
}

func TestResolveToken_RejectsUnsignedAlg(t *testing.T) {
	a := testAuthenticator()

	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"user_id": "user-1",
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = a.ResolveToken(context.Background(), token)
	require.Error(t, err)
}
