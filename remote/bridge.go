// Package remote exposes the motor cards over MQTT. Commands arrive on
// <prefix>/<card>/cmd, the resulting card state is published retained on
// <prefix>/<card>/state.
package remote

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

const connectTimeout = 10 * time.Second

// Bridge connects the cards to an MQTT broker.
type Bridge struct {
	client paho.Client
	prefix string
	qos    byte
	cards  map[string]Controller
	// publish sends a payload to a topic below the prefix.
	publish func(topic string, payload []byte)
}

// NewBridge prepares a bridge for the broker URL. Nothing is connected before
// Start.
func NewBridge(brokerURL string, qos byte, cards []Controller) (*Bridge, error) {
	opts, prefix, err := ClientOptionsFromURL(brokerURL)
	if err != nil {
		return nil, fmt.Errorf("bad broker url: %w", err)
	}
	b := newBridge(prefix, qos, cards)
	opts.SetOnConnectHandler(b.onConnect)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		slog.Warn("MQTT connection lost", "error", err)
	})
	b.client = paho.NewClient(opts)
	b.publish = func(topic string, payload []byte) {
		token := b.client.Publish(b.topic(topic), b.qos, true, payload)
		go func() {
			if token.WaitTimeout(connectTimeout) && token.Error() != nil {
				slog.Error("MQTT publish failed", "topic", topic, "error", token.Error())
			}
		}()
	}
	return b, nil
}

func newBridge(prefix string, qos byte, cards []Controller) *Bridge {
	b := &Bridge{
		prefix: prefix,
		qos:    qos,
		cards:  make(map[string]Controller, len(cards)),
	}
	for _, c := range cards {
		b.cards[c.Name()] = c
	}
	return b
}

// Start connects to the broker. Subscriptions are (re)made on every connect.
func (b *Bridge) Start() error {
	token := b.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("mqtt connect timed out after %s", connectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect failed: %w", err)
	}
	return nil
}

// Stop disconnects from the broker.
func (b *Bridge) Stop() {
	if b.client != nil && b.client.IsConnected() {
		b.client.Disconnect(250)
	}
}

func (b *Bridge) topic(rel string) string {
	if b.prefix == "" {
		return rel
	}
	return b.prefix + "/" + rel
}

func (b *Bridge) onConnect(c paho.Client) {
	slog.Info("MQTT connected", "prefix", b.prefix)
	c.Subscribe(b.topic("+/cmd"), b.qos, func(_ paho.Client, msg paho.Message) {
		b.Handle(strings.TrimPrefix(msg.Topic(), b.topic("")), msg.Payload())
	})
	b.PublishAll()
}

// Handle processes a payload received on topic, given relative to the prefix.
func (b *Bridge) Handle(topic string, payload []byte) {
	name, ok := strings.CutSuffix(topic, "/cmd")
	if !ok || strings.Contains(name, "/") {
		slog.Warn("Ignoring MQTT message", "topic", topic)
		return
	}
	c, ok := b.cards[name]
	if !ok {
		slog.Warn("MQTT command for unknown card", "card", name)
		return
	}

	cmd, err := ParseCommand(payload)
	if err == nil {
		slog.Debug("MQTT command", "card", name, "op", cmd.Op)
		err = cmd.Apply(c)
	}
	state := c.State()
	if err != nil {
		slog.Error("MQTT command failed", "card", name, "error", err)
		state.Error = err.Error()
	}
	b.publishState(name, state)
}

// PublishAll publishes the state of every card.
func (b *Bridge) PublishAll() {
	for name, c := range b.cards {
		b.publishState(name, c.State())
	}
}

func (b *Bridge) publishState(name string, state any) {
	payload, err := json.Marshal(state)
	if err != nil {
		slog.Error("Can't encode card state", "card", name, "error", err)
		return
	}
	b.publish(name+"/state", payload)
}
