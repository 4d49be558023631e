package api

import (
	"log"
	"net/http"
	"runtime/debug"

	"github.com/kefhub/kef-hub-go/internal/apperrors"
)

// Handler is an http.Handler whose errors come back as return values and are
// written as JSON error envelopes.
type Handler func(w http.ResponseWriter, r *http.Request) error

func (h Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := h(w, r); err != nil {
		WriteError(w, r, err)
	}
}

// RecovererMiddleware converts panics into 500 responses. The stack goes to
// the log, never to the client.
func RecovererMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			recovered := recover()
			if recovered == nil {
				return
			}
			log.Printf("panic recovered request=%s %s %s err=%v\n%s",
				GetRequestID(r), r.Method, r.URL.Path, recovered, debug.Stack())
			WriteError(w, r, apperrors.NewInternalError("Internal server error"))
		}()
		next.ServeHTTP(w, r)
	})
}
