// Package openapi serves the hub's API specification. The spec ships
// embedded in the binary so it never drifts from the deployed build.
package openapi

import (
	_ "embed"
	"net/http"

	"github.com/go-chi/chi/v5"
	"gopkg.in/yaml.v3"

	"github.com/kefhub/kef-hub-go/internal/api"
	"github.com/kefhub/kef-hub-go/internal/apperrors"
)

//go:embed kef-hub.v1.yaml
var specYAML []byte

// RegisterRoutes wires OpenAPI routes to the router.
func RegisterRoutes(router chi.Router) {
	router.Method(http.MethodGet, "/v1/openapi", api.Handler(serveYAML))
	router.Method(http.MethodGet, "/v1/openapi.json", api.Handler(serveJSON))
}

func serveYAML(w http.ResponseWriter, r *http.Request) error {
	w.Header().Set("Content-Type", "text/yaml; charset=utf-8")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(specYAML)
	return nil
}

func serveJSON(w http.ResponseWriter, r *http.Request) error {
	var parsed any
	if err := yaml.Unmarshal(specYAML, &parsed); err != nil {
		return apperrors.NewInternalError("Failed to parse OpenAPI specification")
	}
	w.Header().Set("Access-Control-Allow-Origin", "*")
	return api.WriteJSON(w, http.StatusOK, parsed)
}
