package auth

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kefhub/kef-hub-go/internal/api"
	"github.com/kefhub/kef-hub-go/internal/apperrors"
	"github.com/kefhub/kef-hub-go/internal/config"
)

// RegisterRoutes wires auth routes to the router.
func RegisterRoutes(router chi.Router, store *LinkStore, cfg config.Config) {
	router.Method(http.MethodPost, "/v1/auth/link/start", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		requestID := api.GetRequestID(r)
		store.CleanupExpired()

		linkCode, err := store.Create(requestID)
		if err != nil {
			return apperrors.NewInternalError("Failed to generate link code")
		}

		log.Printf("Link code generated - enter this in your client: %s", linkCode)

		return api.WriteJSON(w, http.StatusOK, map[string]any{
			"object":    "link_start",
			"link_hint": "Enter the link code in your client. Code: " + linkCode,
		})
	}))

	router.Method(http.MethodPost, "/v1/auth/link/complete", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		var body struct {
			LinkCode   string `json:"link_code"`
			ClientName string `json:"client_name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return apperrors.NewValidationError("link_code is required", nil)
		}
		if body.LinkCode == "" {
			return apperrors.NewValidationError("link_code is required", nil)
		}
		if body.ClientName == "" {
			return apperrors.NewValidationError("client_name is required", nil)
		}

		_, ok, expired := store.Lookup(body.LinkCode)
		if !ok {
			return apperrors.NewUnauthorizedError("Invalid or expired link code")
		}
		if expired {
			store.Consume(body.LinkCode)
			return apperrors.NewUnauthorizedError("Link code has expired")
		}

		store.Consume(body.LinkCode)

		clientID := uuid.NewString()
		tokens, err := GenerateTokenPair(cfg, TokenPayload{
			Sub:        clientID,
			ClientName: body.ClientName,
		})
		if err != nil {
			return apperrors.NewInternalError("Failed to generate token pair")
		}

		return api.WriteResource(w, http.StatusOK, map[string]any{
			"object":         "token_pair",
			"access_token":   tokens.AccessToken,
			"refresh_token":  tokens.RefreshToken,
			"expires_in_sec": tokens.ExpiresInSec,
		})
	}))

	router.Method(http.MethodPost, "/v1/auth/refresh", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		var body struct {
			RefreshToken string `json:"refresh_token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return apperrors.NewValidationError("refresh_token is required", nil)
		}
		if body.RefreshToken == "" {
			return apperrors.NewValidationError("refresh_token is required", nil)
		}

		accessToken, expiresIn, err := RefreshAccessToken(cfg, body.RefreshToken)
		if err != nil {
			switch err {
			case ErrTokenExpired:
				return apperrors.NewUnauthorizedError("Refresh token has expired")
			case ErrTokenType:
				return apperrors.NewUnauthorizedError("Invalid token: expected refresh token")
			default:
				return apperrors.NewUnauthorizedError("Invalid refresh token")
			}
		}

		return api.WriteResource(w, http.StatusOK, map[string]any{
			"object":         "token_refresh",
			"access_token":   accessToken,
			"expires_in_sec": expiresIn,
		})
	}))
}
