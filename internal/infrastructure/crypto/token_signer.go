package crypto

import (
	stderrors "errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/turtacn/credcore/internal/config"
	"github.com/turtacn/credcore/internal/domain/models"
	"github.com/turtacn/credcore/pkg/constants"
	"github.com/turtacn/credcore/pkg/errors"
)

// TokenSigner issues and verifies the two token families. Access and
// refresh tokens are signed with separate HMAC secrets, so a token of one
// family can never verify as the other even before the type claim check.
type TokenSigner struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	issuer        string

	now func() time.Time
}

// NewTokenSigner builds a signer from config.
func NewTokenSigner(cfg config.TokenConfig) *TokenSigner {
	return &TokenSigner{
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
		issuer:        cfg.Issuer,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// AccessTTL returns the configured access token lifetime.
func (s *TokenSigner) AccessTTL() time.Duration { return s.accessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (s *TokenSigner) RefreshTTL() time.Duration { return s.refreshTTL }

// SignAccessToken issues a signed access token for the session.
func (s *TokenSigner) SignAccessToken(username, userID, sessionID string) (string, error) {
	now := s.now()
	claims := models.AccessClaims{
		Username:  username,
		UserID:    userID,
		SessionID: sessionID,
		TokenType: constants.TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.accessSecret)
	if err != nil {
		return "", errors.Wrap(err, errors.KindInternal, "failed to sign access token")
	}
	return signed, nil
}

// SignRefreshToken issues a signed refresh token bound to tokenID, the id of
// its one-time-use durable record.
func (s *TokenSigner) SignRefreshToken(username, userID, sessionID, tokenID string) (string, error) {
	now := s.now()
	claims := models.RefreshClaims{
		Username:  username,
		UserID:    userID,
		SessionID: sessionID,
		TokenID:   tokenID,
		TokenType: constants.TokenTypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.refreshTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.refreshSecret)
	if err != nil {
		return "", errors.Wrap(err, errors.KindInternal, "failed to sign refresh token")
	}
	return signed, nil
}

// VerifyAccessToken validates signature, expiry, and token type.
func (s *TokenSigner) VerifyAccessToken(tokenString string) (*models.AccessClaims, error) {
	claims := &models.AccessClaims{}
	if err := s.parse(tokenString, claims, s.accessSecret, string(constants.TokenTypeAccess)); err != nil {
		return nil, err
	}
	if claims.TokenType != constants.TokenTypeAccess {
		return nil, errors.ErrTokenInvalid("wrong token type")
	}
	return claims, nil
}

// VerifyRefreshToken validates signature, expiry, and token type.
func (s *TokenSigner) VerifyRefreshToken(tokenString string) (*models.RefreshClaims, error) {
	claims := &models.RefreshClaims{}
	if err := s.parse(tokenString, claims, s.refreshSecret, string(constants.TokenTypeRefresh)); err != nil {
		return nil, err
	}
	if claims.TokenType != constants.TokenTypeRefresh {
		return nil, errors.ErrTokenInvalid("wrong token type")
	}
	if claims.TokenID == "" {
		return nil, errors.ErrTokenInvalid("missing token id")
	}
	return claims, nil
}

// DecodeAccessToken verifies the signature but tolerates an expired token.
// Logout needs this: an expired access token still identifies the session to
// clean up, and blacklisting it is harmless.
func (s *TokenSigner) DecodeAccessToken(tokenString string) (*models.AccessClaims, error) {
	claims := &models.AccessClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.ErrTokenInvalid("unexpected signing method")
			}
			return s.accessSecret, nil
		},
		jwt.WithTimeFunc(s.now),
	)
	if err != nil && !stderrors.Is(err, jwt.ErrTokenExpired) {
		return nil, errors.ErrTokenInvalid(err.Error())
	}
	if claims.TokenType != constants.TokenTypeAccess {
		return nil, errors.ErrTokenInvalid("wrong token type")
	}
	return claims, nil
}

func (s *TokenSigner) parse(tokenString string, claims jwt.Claims, secret []byte, tokenType string) error {
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.ErrTokenInvalid("unexpected signing method")
			}
			return secret, nil
		},
		jwt.WithTimeFunc(s.now),
		jwt.WithIssuer(s.issuer),
	)
	if err != nil {
		if stderrors.Is(err, jwt.ErrTokenExpired) {
			return errors.ErrTokenExpired(tokenType)
		}
		return errors.ErrTokenInvalid(err.Error())
	}
	if !token.Valid {
		return errors.ErrTokenInvalid("token validation failed")
	}
	return nil
}
