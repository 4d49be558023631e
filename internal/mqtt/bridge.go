// Package mqtt bridges device capabilities onto an MQTT broker. Capability
// and availability changes are published retained; writes arrive on the
// matching /set topics and are relayed to the command path. The bridge is
// optional and only wired when a broker URL is configured.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kefhub/kef-hub-go/internal/config"
	"github.com/kefhub/kef-hub-go/internal/devices"
)

// CommandHandler relays an inbound set message to a device command.
type CommandHandler func(ctx context.Context, deviceID, capability string, value any) error

// Bridge connects the hub to one MQTT broker.
type Bridge struct {
	client  paho.Client
	prefix  string
	log     *log.Logger
	handler CommandHandler
}

// NewBridge connects to the broker and subscribes to the command topics.
func NewBridge(cfg config.Config, handler CommandHandler, logger *log.Logger) (*Bridge, error) {
	if logger == nil {
		logger = log.Default()
	}

	bridge := &Bridge{
		prefix:  strings.TrimSuffix(cfg.MQTTTopicPrefix, "/"),
		log:     logger,
		handler: handler,
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.MQTTBrokerURL).
		SetClientID(cfg.MQTTClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second).
		SetOnConnectHandler(func(client paho.Client) {
			bridge.subscribe(client)
		})
	if cfg.MQTTUsername != "" {
		opts.SetUsername(cfg.MQTTUsername)
		opts.SetPassword(cfg.MQTTPassword)
	}

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(15 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timed out for %s", cfg.MQTTBrokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	bridge.client = client
	logger.Printf("mqtt bridge connected broker=%s prefix=%s", cfg.MQTTBrokerURL, bridge.prefix)
	return bridge, nil
}

// subscribe runs on every (re)connect so the command topics survive broker
// restarts.
func (b *Bridge) subscribe(client paho.Client) {
	topic := b.prefix + "/+/+/set"
	token := client.Subscribe(topic, 0, b.handleSet)
	if token.Wait() && token.Error() != nil {
		b.log.Printf("mqtt subscribe failed topic=%s err=%v", topic, token.Error())
	}
}

func (b *Bridge) handleSet(_ paho.Client, msg paho.Message) {
	parts := strings.Split(msg.Topic(), "/")
	// <prefix>/<deviceID>/<capability>/set
	if len(parts) < 4 || parts[len(parts)-1] != "set" {
		return
	}
	deviceID := parts[len(parts)-3]
	capability := parts[len(parts)-2]

	var value any
	if err := json.Unmarshal(msg.Payload(), &value); err != nil {
		// Plain-text payloads pass through as strings.
		value = string(msg.Payload())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := b.handler(ctx, deviceID, capability, value); err != nil {
		b.log.Printf("mqtt command failed device=%s capability=%s err=%v", deviceID, capability, err)
	}
}

// Publish implements devices.EventSink. Values are published retained so
// late subscribers see the current state immediately.
func (b *Bridge) Publish(event devices.Event) {
	var topic string
	var payload []byte

	switch event.Type {
	case "availability":
		topic = fmt.Sprintf("%s/%s/availability", b.prefix, event.DeviceID)
		payload = []byte(event.State)
	case "capability":
		topic = fmt.Sprintf("%s/%s/%s", b.prefix, event.DeviceID, event.Capability)
		encoded, err := json.Marshal(event.Value)
		if err != nil {
			return
		}
		payload = encoded
	default:
		return
	}

	// Fire and forget; a slow broker must not stall a poller.
	b.client.Publish(topic, 0, true, payload)
}

// Close disconnects from the broker.
func (b *Bridge) Close() {
	if b.client != nil {
		b.client.Disconnect(250)
	}
}
