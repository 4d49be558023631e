package api

import (
	"encoding/json"
	"net/http"

	"github.com/kefhub/kef-hub-go/internal/apperrors"
)

// ErrorResponse wraps errors for transport.
type ErrorResponse struct {
	Error apperrors.ErrorBody `json:"error"`
}

// ListResponse is the envelope for all collection endpoints.
type ListResponse struct {
	Object  string `json:"object"` // always "list"
	Data    any    `json:"data"`
	HasMore bool   `json:"has_more"`
	URL     string `json:"url"`
}

// WriteJSON sends a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(payload)
}

// WriteError serializes an AppError into the error response envelope.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := apperrors.EnsureAppError(err)
	_ = WriteJSON(w, appErr.StatusCode, ErrorResponse{Error: appErr.ErrorBody()})
}

// WriteList writes a collection response.
func WriteList(w http.ResponseWriter, url string, data any, hasMore bool) error {
	return WriteJSON(w, http.StatusOK, ListResponse{
		Object:  "list",
		Data:    data,
		HasMore: hasMore,
		URL:     url,
	})
}

// WriteResource writes a single resource directly.
func WriteResource(w http.ResponseWriter, status int, resource any) error {
	return WriteJSON(w, status, resource)
}
