// Package auth resolves bearer JWTs into request actors. Token issuance is
// owned by the auth subsystem; this package only verifies and decodes.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"fitpass/internal/config"
	"fitpass/internal/types"
)

// JWTAuthenticator verifies HS256 bearer tokens and extracts the acting user.
// Implements core.Authenticator.
type JWTAuthenticator struct {
	secret []byte
	ttl    time.Duration
}

func NewJWTAuthenticator(cfg config.AuthConfig) *JWTAuthenticator {
	return &JWTAuthenticator{
		secret: []byte(cfg.JWTSecret.Unmask()),
		ttl:    cfg.TokenTTL,
	}
}

// ResolveToken validates the token signature and expiry and returns the
// Actor it encodes. The user_id claim is required; email is optional.
func (a *JWTAuthenticator) ResolveToken(_ context.Context, tokenString string) (*types.Actor, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, types.NewAppError(types.ErrCodeAuthTokenExpired, "token has expired", err)
		}
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid token", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid token claims", nil)
	}

	userID, _ := claims["user_id"].(string)
	if userID == "" {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "token missing user_id claim", nil)
	}
	email, _ := claims["email"].(string)

	return &types.Actor{ID: userID, Email: email}, nil
}

// IssueToken signs a token for the given user. Used by operational tooling
// and tests; the production login flow lives in the auth subsystem.
func (a *JWTAuthenticator) IssueToken(userID, email string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"user_id": userID,
		"email":   email,
		"iat":     now.Unix(),
		"exp":     now.Add(a.ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}
