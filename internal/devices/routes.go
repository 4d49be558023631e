package devices

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kefhub/kef-hub-go/internal/api"
	"github.com/kefhub/kef-hub-go/internal/apperrors"
	"github.com/kefhub/kef-hub-go/internal/models"
)

// RegisterRoutes mounts the device endpoints. The event hub and history
// handler are optional; without them those endpoints are not exposed.
func (m *Manager) RegisterRoutes(r chi.Router, hub *EventHub, historyHandler http.Handler) {
	r.Route("/v1/devices", func(r chi.Router) {
		r.Method(http.MethodGet, "/", api.Handler(m.handleList))
		r.Method(http.MethodPost, "/", api.Handler(m.handlePair))
		r.Route("/{deviceID}", func(r chi.Router) {
			r.Method(http.MethodGet, "/", api.Handler(m.handleGet))
			r.Method(http.MethodDelete, "/", api.Handler(m.handleDelete))
			r.Method(http.MethodPatch, "/settings", api.Handler(m.handleUpdateSettings))
			r.Method(http.MethodGet, "/state", api.Handler(m.handleState))
			r.Method(http.MethodPost, "/commands/{capability}", api.Handler(m.handleCommand))
			if hub != nil {
				r.Method(http.MethodGet, "/events", api.Handler(hub.handleDeviceEvents))
			}
			if historyHandler != nil {
				r.Method(http.MethodGet, "/history", historyHandler)
			}
		})
	})
}

// RegisterModelRoutes exposes the static model registry.
func RegisterModelRoutes(r chi.Router) {
	r.Method(http.MethodGet, "/v1/models", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		return api.WriteList(w, r.URL.Path, models.All(), false)
	}))
}

func (m *Manager) handleList(w http.ResponseWriter, r *http.Request) error {
	views, err := m.List(r.Context())
	if err != nil {
		return err
	}
	return api.WriteList(w, r.URL.Path, views, false)
}

func (m *Manager) handlePair(w http.ResponseWriter, r *http.Request) error {
	var req PairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return apperrors.NewValidationError("invalid request body", nil)
	}
	view, err := m.Pair(r.Context(), req)
	if err != nil {
		return err
	}
	return api.WriteResource(w, http.StatusCreated, view)
}

func (m *Manager) handleGet(w http.ResponseWriter, r *http.Request) error {
	view, err := m.Get(r.Context(), chi.URLParam(r, "deviceID"))
	if err != nil {
		return err
	}
	return api.WriteResource(w, http.StatusOK, view)
}

func (m *Manager) handleDelete(w http.ResponseWriter, r *http.Request) error {
	deviceID := chi.URLParam(r, "deviceID")
	if err := m.Delete(r.Context(), deviceID); err != nil {
		return err
	}
	return api.WriteJSON(w, http.StatusOK, map[string]any{"device_id": deviceID, "deleted": true})
}

func (m *Manager) handleUpdateSettings(w http.ResponseWriter, r *http.Request) error {
	var update SettingsUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		return apperrors.NewValidationError("invalid request body", nil)
	}
	view, err := m.UpdateSettings(r.Context(), chi.URLParam(r, "deviceID"), update)
	if err != nil {
		return err
	}
	return api.WriteResource(w, http.StatusOK, view)
}

func (m *Manager) handleState(w http.ResponseWriter, r *http.Request) error {
	state, err := m.State(r.Context(), chi.URLParam(r, "deviceID"))
	if err != nil {
		return err
	}
	return api.WriteResource(w, http.StatusOK, state)
}

type commandBody struct {
	Value any `json:"value"`
}

func (m *Manager) handleCommand(w http.ResponseWriter, r *http.Request) error {
	deviceID := chi.URLParam(r, "deviceID")
	capability := chi.URLParam(r, "capability")

	// Trigger-style commands (next, prev) carry no body.
	var body commandBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		return apperrors.NewValidationError("invalid request body", nil)
	}

	if err := m.Command(r.Context(), deviceID, capability, body.Value); err != nil {
		return err
	}
	return api.WriteJSON(w, http.StatusOK, map[string]any{
		"device_id":  deviceID,
		"capability": capability,
		"accepted":   true,
	})
}
