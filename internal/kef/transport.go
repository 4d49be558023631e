package kef

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// Payload is a decoded response from the speaker. The control API is loose
// about content types: most endpoints return JSON, but a few return bare
// scalars or HTML. A body that fails to parse as JSON is not an error here;
// the raw text is handed to the caller instead.
type Payload struct {
	JSON any
	Raw  string
}

// IsJSON reports whether the body decoded as JSON.
func (p Payload) IsJSON() bool { return p.JSON != nil }

// TransportError indicates a socket-level or timeout failure talking to the
// speaker. It never represents a semantic rejection by the device.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("kef transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Transport issues one HTTP request against the speaker's control endpoint.
// No retries at this layer; retry policy belongs to the polling loop.
type Transport interface {
	Do(ctx context.Context, method, path string) (Payload, error)
}

// Endpoint identifies a speaker on the network. Instances are immutable;
// a settings change produces a whole new client rather than mutating one.
type Endpoint struct {
	Host    string
	Port    int
	Timeout time.Duration
}

// DefaultPort is the speaker's plaintext HTTP control port.
const DefaultPort = 80

// DefaultTimeout bounds every control-API request.
const DefaultTimeout = 5 * time.Second

func (e Endpoint) baseURL() string {
	port := e.Port
	if port == 0 {
		port = DefaultPort
	}
	return fmt.Sprintf("http://%s:%d", e.Host, port)
}

// HTTPTransport is the production Transport over a shared http.Client.
type HTTPTransport struct {
	endpoint Endpoint
	client   *http.Client
}

// NewHTTPTransport builds a transport for the given endpoint. Dial and
// request timeouts mirror the endpoint timeout so an unreachable speaker
// fails promptly instead of hanging a poll cycle.
func NewHTTPTransport(endpoint Endpoint) *HTTPTransport {
	timeout := endpoint.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPTransport{
		endpoint: endpoint,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext:     (&net.Dialer{Timeout: timeout}).DialContext,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}
}

// Do issues a single request. The path must already carry its query string.
func (t *HTTPTransport) Do(ctx context.Context, method, path string) (Payload, error) {
	url := t.endpoint.baseURL() + path

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return Payload{}, &TransportError{Op: method + " " + path, Err: err}
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return Payload{}, &TransportError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Payload{}, &TransportError{Op: method + " " + path, Err: err}
	}

	return decodeBody(body), nil
}

// decodeBody attempts JSON first and falls back to the raw UTF-8 text.
func decodeBody(body []byte) Payload {
	text := string(body)
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Payload{}
	}

	var decoded any
	if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
		return Payload{JSON: decoded, Raw: text}
	}
	return Payload{Raw: text}
}
