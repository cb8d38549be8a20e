package models

import (
	"github.com/golang-jwt/jwt/v5"

	"github.com/turtacn/credcore/pkg/constants"
)

// AccessClaims is the claim set carried by access tokens.
type AccessClaims struct {
	Username  string              `json:"username"`
	UserID    string              `json:"user_id"`
	SessionID string              `json:"session_id"`
	TokenType constants.TokenType `json:"type"`
	jwt.RegisteredClaims
}

// RefreshClaims is the claim set carried by refresh tokens. TokenID binds
// the signed token to its durable one-time-use record.
type RefreshClaims struct {
	Username  string              `json:"username"`
	UserID    string              `json:"user_id"`
	SessionID string              `json:"session_id"`
	TokenID   string              `json:"token_id"`
	TokenType constants.TokenType `json:"type"`
	jwt.RegisteredClaims
}

// TokenPair is the result of session creation and refresh exchange.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	SessionID    string `json:"session_id"`
}
