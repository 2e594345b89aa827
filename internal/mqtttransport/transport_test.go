package mqtttransport

import (
	"log/slog"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// --- mock MQTT client, grounded on pkg/vehicle/agent_test.go's mockClient ---

type mockMessage struct {
	topic   string
	payload []byte
}

func (m *mockMessage) Duplicate() bool   { return false }
func (m *mockMessage) Qos() byte         { return 1 }
func (m *mockMessage) Retained() bool    { return false }
func (m *mockMessage) Topic() string     { return m.topic }
func (m *mockMessage) MessageID() uint16 { return 0 }
func (m *mockMessage) Payload() []byte   { return m.payload }
func (m *mockMessage) Ack()              {}

type mockToken struct{ err error }

func (t *mockToken) Wait() bool                     { return true }
func (t *mockToken) WaitTimeout(time.Duration) bool  { return true }
func (t *mockToken) Done() <-chan struct{}           { ch := make(chan struct{}); close(ch); return ch }
func (t *mockToken) Error() error                    { return t.err }

type mockClient struct {
	mu        sync.Mutex
	published []mockMessage
	handlers  map[string]mqtt.MessageHandler
}

func newMockClient() *mockClient {
	return &mockClient{handlers: make(map[string]mqtt.MessageHandler)}
}

func (c *mockClient) IsConnected() bool      { return true }
func (c *mockClient) IsConnectionOpen() bool { return true }
func (c *mockClient) Connect() mqtt.Token    { return &mockToken{} }
func (c *mockClient) Disconnect(uint)        {}
func (c *mockClient) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	var p []byte
	switch v := payload.(type) {
	case []byte:
		p = v
	case string:
		p = []byte(v)
	}
	c.published = append(c.published, mockMessage{topic: topic, payload: p})
	return &mockToken{}
}
func (c *mockClient) Subscribe(topic string, _ byte, h mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	c.handlers[topic] = h
	c.mu.Unlock()
	return &mockToken{}
}
func (c *mockClient) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	return &mockToken{}
}
func (c *mockClient) Unsubscribe(...string) mqtt.Token      { return &mockToken{} }
func (c *mockClient) AddRoute(string, mqtt.MessageHandler)  {}
func (c *mockClient) OptionsReader() mqtt.ClientOptionsReader {
	return mqtt.NewClient(mqtt.NewClientOptions()).OptionsReader()
}

func (c *mockClient) publishedTopics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.published))
	for i, m := range c.published {
		out[i] = m.topic
	}
	return out
}

// --- tests ---

func TestConnectWithClientPublishesOnlineAvailability(t *testing.T) {
	var reconnected int
	tr := New(Config{LWTTopic: "homeassistant/panel1/availability", OnlinePayload: "online", QoS: 1}, func() { reconnected++ }, slog.Default())
	mc := newMockClient()
	tr.ConnectWithClient(mc)

	topics := mc.publishedTopics()
	if len(topics) != 1 || topics[0] != "homeassistant/panel1/availability" {
		t.Errorf("published topics = %v, want one publish to the availability topic", topics)
	}
	if reconnected != 1 {
		t.Errorf("onReconnect called %d times, want 1", reconnected)
	}
}

func TestPublishSendsToTopic(t *testing.T) {
	tr := New(Config{QoS: 1, Retain: true}, nil, slog.Default())
	mc := newMockClient()
	tr.ConnectWithClient(mc)

	if err := tr.Publish("homeassistant/binary_sensor/panel1/sensor_1/state", []byte("ON")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	topics := mc.publishedTopics()
	if len(topics) != 2 || topics[1] != "homeassistant/binary_sensor/panel1/sensor_1/state" {
		t.Errorf("published topics = %v", topics)
	}
}

func TestSubscribeRegistersHandler(t *testing.T) {
	tr := New(Config{}, nil, slog.Default())
	mc := newMockClient()
	tr.ConnectWithClient(mc)

	var got string
	err := tr.Subscribe("homeassistant/status", func(_ mqtt.Client, m mqtt.Message) {
		got = string(m.Payload())
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	handler := mc.handlers["homeassistant/status"]
	if handler == nil {
		t.Fatal("no handler registered")
	}
	handler(mc, &mockMessage{topic: "homeassistant/status", payload: []byte("online")})
	if got != "online" {
		t.Errorf("handler payload = %q, want online", got)
	}
}
