package system

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kefhub/kef-hub-go/internal/api"
)

// RegisterRoutes wires system routes to the router.
func RegisterRoutes(router chi.Router, service *Service) {
	router.Method(http.MethodGet, "/v1/system/status", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		status, err := service.GetStatus(r.Context())
		if err != nil {
			return err
		}
		return api.WriteResource(w, http.StatusOK, status)
	}))
}
