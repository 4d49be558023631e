package devices

import (
	"log"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

// EventHub fans events out to WebSocket subscribers. Sends to subscribers
// never block: a consumer that cannot keep up loses events rather than
// stalling a poller.
type EventHub struct {
	log      *log.Logger
	upgrader websocket.Upgrader

	mu          sync.Mutex
	subscribers map[string]map[*subscriber]struct{}
}

type subscriber struct {
	send chan Event
}

// NewEventHub creates an event hub.
func NewEventHub(logger *log.Logger) *EventHub {
	if logger == nil {
		logger = log.Default()
	}
	return &EventHub{
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The hub serves LAN automation clients, not browsers.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		subscribers: make(map[string]map[*subscriber]struct{}),
	}
}

// Publish implements EventSink.
func (h *EventHub) Publish(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subscribers[event.DeviceID] {
		select {
		case sub.send <- event:
		default:
		}
	}
}

func (h *EventHub) add(deviceID string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subscribers[deviceID] == nil {
		h.subscribers[deviceID] = make(map[*subscriber]struct{})
	}
	h.subscribers[deviceID][sub] = struct{}{}
}

func (h *EventHub) remove(deviceID string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subscribers[deviceID], sub)
	if len(h.subscribers[deviceID]) == 0 {
		delete(h.subscribers, deviceID)
	}
	close(sub.send)
}

func (h *EventHub) handleDeviceEvents(w http.ResponseWriter, r *http.Request) error {
	deviceID := chi.URLParam(r, "deviceID")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return nil
	}

	sub := &subscriber{send: make(chan Event, 32)}
	h.add(deviceID, sub)

	go func() {
		for event := range sub.send {
			if err := conn.WriteJSON(event); err != nil {
				break
			}
		}
		conn.Close()
		// Drain until remove closes the channel.
		for range sub.send {
		}
	}()

	// Consume control frames until the peer goes away.
	conn.SetReadLimit(512)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.remove(deviceID, sub)
	conn.Close()
	return nil
}
