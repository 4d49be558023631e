package auth

import (
	"net/http"
	"strings"

	"github.com/kefhub/kef-hub-go/internal/api"
	"github.com/kefhub/kef-hub-go/internal/apperrors"
	"github.com/kefhub/kef-hub-go/internal/config"
)

var publicRoutes = map[string]struct{}{
	"/v1/auth/link/start":    {},
	"/v1/auth/link/complete": {},
	"/v1/auth/refresh":       {},
	"/v1/health":             {},
	"/v1/health/live":        {},
	"/v1/health/ready":       {},
}

var publicPrefixes = []string{
	"/v1/health",
	"/v1/openapi",
}

// Middleware validates JWT tokens for protected routes.
func Middleware(cfg config.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicRoute(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			if isTestModeRequest(r, cfg) {
				client := Client{
					Sub:        "test-client",
					ClientName: "Test Client",
					Type:       TokenTypeAccess,
				}
				next.ServeHTTP(w, r.WithContext(WithClient(r.Context(), client)))
				return
			}

			token, err := bearerToken(r)
			if err != nil {
				api.WriteError(w, r, err)
				return
			}

			payload, verifyErr := VerifyToken(cfg, token)
			if verifyErr != nil {
				if verifyErr == ErrTokenExpired {
					api.WriteError(w, r, apperrors.NewUnauthorizedError("Token has expired", apperrors.ErrorCodeAuthTokenExpired))
					return
				}
				api.WriteError(w, r, apperrors.NewUnauthorizedError("Invalid token", apperrors.ErrorCodeAuthTokenInvalid))
				return
			}

			if payload.Type != TokenTypeAccess {
				api.WriteError(w, r, apperrors.NewUnauthorizedError("Invalid token type", apperrors.ErrorCodeAuthTokenInvalid))
				return
			}

			client := Client{
				Sub:        payload.Sub,
				ClientName: payload.ClientName,
				Type:       payload.Type,
			}
			next.ServeHTTP(w, r.WithContext(WithClient(r.Context(), client)))
		})
	}
}

// bearerToken extracts the token from the Authorization header. WebSocket
// clients cannot set headers from browsers, so a token query parameter is
// accepted as a fallback.
func bearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if token := r.URL.Query().Get("token"); token != "" {
			return token, nil
		}
		return "", apperrors.NewUnauthorizedError("Missing Authorization header")
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", apperrors.NewUnauthorizedError("Invalid Authorization header format")
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", apperrors.NewUnauthorizedError("Invalid Authorization header format")
	}
	return token, nil
}

func isPublicRoute(path string) bool {
	if _, ok := publicRoutes[path]; ok {
		return true
	}
	for _, prefix := range publicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func isTestModeRequest(r *http.Request, cfg config.Config) bool {
	if !cfg.AllowTestMode {
		return false
	}
	if cfg.NodeEnv != "development" {
		return false
	}
	return r.Header.Get("x-test-mode") == "true"
}
