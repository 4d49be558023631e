package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/kefhub/kef-hub-go/internal/config"
)

func testConfig() config.Config {
	return config.Config{
		JWTSecret:                "this-is-a-development-secret-string-32chars",
		JWTAccessTokenExpirySec:  3600,
		JWTRefreshTokenExpirySec: 7200,
	}
}

func TestGenerateAndVerifyTokenPair(t *testing.T) {
	cfg := testConfig()

	pair, err := GenerateTokenPair(cfg, TokenPayload{Sub: "client-1", ClientName: "Wall Panel"})
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	require.Equal(t, 3600, pair.ExpiresInSec)

	payload, err := VerifyToken(cfg, pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "client-1", payload.Sub)
	require.Equal(t, "Wall Panel", payload.ClientName)
	require.Equal(t, TokenTypeAccess, payload.Type)

	refreshPayload, err := VerifyToken(cfg, pair.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, TokenTypeRefresh, refreshPayload.Type)
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	cfg := testConfig()

	pair, err := GenerateTokenPair(cfg, TokenPayload{Sub: "client-1", ClientName: "Wall Panel"})
	require.NoError(t, err)

	_, _, err = RefreshAccessToken(cfg, pair.AccessToken)
	require.ErrorIs(t, err, ErrTokenType)

	accessToken, expiresIn, err := RefreshAccessToken(cfg, pair.RefreshToken)
	require.NoError(t, err)
	require.NotEmpty(t, accessToken)
	require.Equal(t, 3600, expiresIn)
}

func TestVerifyTokenRejectsExpired(t *testing.T) {
	cfg := testConfig()
	cfg.JWTAccessTokenExpirySec = -60

	pair, err := GenerateTokenPair(cfg, TokenPayload{Sub: "client-1", ClientName: "Wall Panel"})
	require.NoError(t, err)

	_, err = VerifyToken(cfg, pair.AccessToken)
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestVerifyTokenRejectsWrongIssuer(t *testing.T) {
	cfg := testConfig()

	claims := tokenClaims{
		ClientName: "Wall Panel",
		Type:       TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "client-1",
			Issuer:    "someone-else",
			Audience:  []string{tokenAudience},
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.JWTSecret))
	require.NoError(t, err)

	_, err = VerifyToken(cfg, token)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerifyTokenRejectsTamperedSignature(t *testing.T) {
	cfg := testConfig()

	pair, err := GenerateTokenPair(cfg, TokenPayload{Sub: "client-1", ClientName: "Wall Panel"})
	require.NoError(t, err)

	otherCfg := cfg
	otherCfg.JWTSecret = "a-completely-different-secret-string-32chars"
	_, err = VerifyToken(otherCfg, pair.AccessToken)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestLinkStoreLifecycle(t *testing.T) {
	store := NewLinkStore(50 * time.Millisecond)

	code, err := store.Create("req-1")
	require.NoError(t, err)
	require.Len(t, code, 6)

	_, ok, expired := store.Lookup(code)
	require.True(t, ok)
	require.False(t, expired)

	store.Consume(code)
	_, ok, _ = store.Lookup(code)
	require.False(t, ok)

	code, err = store.Create("req-2")
	require.NoError(t, err)
	time.Sleep(80 * time.Millisecond)
	_, ok, expired = store.Lookup(code)
	require.True(t, ok)
	require.True(t, expired)

	store.CleanupExpired()
	_, ok, _ = store.Lookup(code)
	require.False(t, ok)
}
