package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kefhub/kef-hub-go/internal/config"
)

const (
	tokenIssuer   = "kef-hub"
	tokenAudience = "kef-hub-client"
)

// TokenType describes access vs refresh tokens.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")
	ErrTokenType    = errors.New("token has invalid type")
)

// tokenParser is shared by every verification: HS256 only, and this hub's
// issuer and audience are mandatory, as is an expiry claim.
var tokenParser = jwt.NewParser(
	jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
	jwt.WithIssuer(tokenIssuer),
	jwt.WithAudience(tokenAudience),
	jwt.WithExpirationRequired(),
)

// TokenPayload is the validated identity carried by a hub token.
type TokenPayload struct {
	Sub        string
	ClientName string
	Type       TokenType
}

// TokenPair is returned for link and refresh flows.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresInSec int
}

type tokenClaims struct {
	ClientName string    `json:"client_name"`
	Type       TokenType `json:"type"`
	jwt.RegisteredClaims
}

// payload extracts the hub identity, rejecting claim sets the link flow
// would never have issued.
func (c *tokenClaims) payload() (TokenPayload, error) {
	if c.Subject == "" || c.ClientName == "" {
		return TokenPayload{}, ErrTokenInvalid
	}
	if c.Type != TokenTypeAccess && c.Type != TokenTypeRefresh {
		return TokenPayload{}, ErrTokenInvalid
	}
	return TokenPayload{Sub: c.Subject, ClientName: c.ClientName, Type: c.Type}, nil
}

// GenerateTokenPair creates a new access and refresh token.
func GenerateTokenPair(cfg config.Config, payload TokenPayload) (TokenPair, error) {
	accessToken, err := generateToken(cfg, payload, TokenTypeAccess, cfg.JWTAccessTokenExpirySec)
	if err != nil {
		return TokenPair{}, err
	}
	refreshToken, err := generateToken(cfg, payload, TokenTypeRefresh, cfg.JWTRefreshTokenExpirySec)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresInSec: cfg.JWTAccessTokenExpirySec,
	}, nil
}

// RefreshAccessToken validates a refresh token and returns a new access token.
func RefreshAccessToken(cfg config.Config, refreshToken string) (string, int, error) {
	payload, err := VerifyToken(cfg, refreshToken)
	if err != nil {
		return "", 0, err
	}
	if payload.Type != TokenTypeRefresh {
		return "", 0, ErrTokenType
	}
	accessToken, err := generateToken(cfg, payload, TokenTypeAccess, cfg.JWTAccessTokenExpirySec)
	if err != nil {
		return "", 0, err
	}
	return accessToken, cfg.JWTAccessTokenExpirySec, nil
}

// VerifyToken parses and validates a hub JWT.
func VerifyToken(cfg config.Config, token string) (TokenPayload, error) {
	claims := &tokenClaims{}
	parsed, err := tokenParser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(cfg.JWTSecret), nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return TokenPayload{}, ErrTokenExpired
	case err != nil, parsed == nil, !parsed.Valid:
		return TokenPayload{}, ErrTokenInvalid
	}
	return claims.payload()
}

func generateToken(cfg config.Config, payload TokenPayload, tokenType TokenType, expirySec int) (string, error) {
	now := time.Now()
	claims := tokenClaims{
		ClientName: payload.ClientName,
		Type:       tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   payload.Sub,
			Issuer:    tokenIssuer,
			Audience:  []string{tokenAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(expirySec) * time.Second)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.JWTSecret))
}
