package kef

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func transportFor(t *testing.T, server *httptest.Server, timeout time.Duration) *HTTPTransport {
	t.Helper()
	parsed, err := url.Parse(server.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(parsed.Port())
	require.NoError(t, err)
	return NewHTTPTransport(Endpoint{Host: parsed.Hostname(), Port: port, Timeout: timeout})
}

func TestTransportDecodesJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/getData", r.URL.Path)
		require.Equal(t, "player:volume", r.URL.Query().Get("path"))
		w.Write([]byte(`[{"type":"i32_","i32_":42}]`))
	}))
	defer server.Close()

	transport := transportFor(t, server, time.Second)
	payload, err := transport.Do(context.Background(), "GET", getDataPath(pathVolume))
	require.NoError(t, err)
	require.True(t, payload.IsJSON())

	list, ok := payload.JSON.([]any)
	require.True(t, ok)
	require.Len(t, list, 1)
}

func TestTransportReturnsRawTextForNonJSON(t *testing.T) {
	html := `<html><head><title>KEF | LSX II | Homepage</title></head></html>`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(html))
	}))
	defer server.Close()

	transport := transportFor(t, server, time.Second)
	payload, err := transport.Do(context.Background(), "GET", "/")
	require.NoError(t, err)
	require.False(t, payload.IsJSON())
	require.Equal(t, html, payload.Raw)
}

func TestTransportFollowsRedirect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/index.fcgi", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/index.fcgi", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Release status: LS60W_V2.0"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	transport := transportFor(t, server, time.Second)
	payload, err := transport.Do(context.Background(), "GET", "/")
	require.NoError(t, err)
	require.Contains(t, payload.Raw, "Release status")
}

func TestTransportTimeoutIsTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(250 * time.Millisecond)
	}))
	defer server.Close()

	transport := transportFor(t, server, 50*time.Millisecond)
	_, err := transport.Do(context.Background(), "GET", getDataPath(pathVolume))

	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
}

func TestTransportConnectionRefusedIsTransportError(t *testing.T) {
	// A port nothing is listening on.
	transport := NewHTTPTransport(Endpoint{Host: "127.0.0.1", Port: 1, Timeout: 200 * time.Millisecond})
	_, err := transport.Do(context.Background(), "GET", getDataPath(pathVolume))

	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	require.Error(t, errors.Unwrap(transportErr))
}

func TestDecodeBodyEmpty(t *testing.T) {
	payload := decodeBody(nil)
	require.False(t, payload.IsJSON())
	require.Empty(t, payload.Raw)
}
