package mqttsurface

import (
	"log/slog"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/qolsysgw/panelgw/internal/mqtttransport"
	"github.com/qolsysgw/panelgw/pkg/domain"
	"github.com/qolsysgw/panelgw/pkg/protocol"
)

func makeSnapshot() protocol.InfoSnapshot {
	return protocol.InfoSnapshot{
		DeviceName: "IQ Panel",
		Partitions: []protocol.PartitionSnapshot{
			{PartitionID: 0, Name: "Home", Status: "DISARM"},
		},
	}
}

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

type mockToken struct{}

func (t *mockToken) Wait() bool                    { return true }
func (t *mockToken) WaitTimeout(time.Duration) bool { return true }
func (t *mockToken) Done() <-chan struct{}          { ch := make(chan struct{}); close(ch); return ch }
func (t *mockToken) Error() error                   { return nil }

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
func (c *mockClient) Unsubscribe(...string) mqtt.Token     { return &mockToken{} }
func (c *mockClient) AddRoute(string, mqtt.MessageHandler) {}
func (c *mockClient) OptionsReader() mqtt.ClientOptionsReader {
	return mqtt.NewClient(mqtt.NewClientOptions()).OptionsReader()
}

func (c *mockClient) topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.published))
	for i, m := range c.published {
		out[i] = m.topic
	}
	return out
}

func (c *mockClient) topicPayload(topic string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.published) - 1; i >= 0; i-- {
		if c.published[i].topic == topic {
			return string(c.published[i].payload), true
		}
	}
	return "", false
}

func waitForCount(t *testing.T, mc *mockClient, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(mc.topics()) >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d publishes, got %d: %v", n, len(mc.topics()), mc.topics())
}

func newTestSurface(t *testing.T) (*Surface, *mockClient) {
	t.Helper()
	mc := newMockClient()
	transport := mqtttransport.New(mqtttransport.Config{QoS: 1, Retain: true}, nil, slog.Default())
	transport.ConnectWithClient(mc)
	// ConnectWithClient publishes the instance online payload; clear it
	// so the tests below see only the Surface's own publishes.
	mc.mu.Lock()
	mc.published = nil
	mc.mu.Unlock()

	model := domain.NewModel("panel1")
	cfg := Config{
		DiscoveryPrefix: "homeassistant",
		UniqueID:        "panel1",
		AwayEnabled:     true,
		StayEnabled:     true,
	}
	s := New(cfg, transport, model, func() string { return "tok" }, slog.Default())
	return s, mc
}

func TestHandlePartitionCreatedPublishesDiscoveryAvailabilityState(t *testing.T) {
	s, mc := newTestSurface(t)

	part := domain.Partition{PartitionID: 0, Name: "Home", Status: domain.StatusDisarm}
	s.HandleChange(domain.Change{Entity: domain.EntityPartition, Kind: domain.Created, PartitionID: 0, Partition: &part})

	waitForCount(t, mc, 3)
	topics := mc.topics()
	want := []string{
		"homeassistant/alarm_control_panel/panel1/partition_0/config",
		"homeassistant/alarm_control_panel/panel1/partition_0/availability",
		"homeassistant/alarm_control_panel/panel1/partition_0/state",
	}
	for i, w := range want {
		if topics[i] != w {
			t.Errorf("topic[%d] = %q, want %q", i, topics[i], w)
		}
	}

	payload, ok := mc.topicPayload(want[2])
	if !ok || payload != "disarmed" {
		t.Errorf("state payload = %q, want disarmed", payload)
	}
}

func TestHandleSensorOfflinePublishesAvailabilityOnly(t *testing.T) {
	s, mc := newTestSurface(t)

	sensor := domain.Sensor{SensorID: 1, Name: "Front Door", Class: domain.ClassDoorWindow, Offline: true}
	s.HandleChange(domain.Change{
		Entity: domain.EntitySensor, Kind: domain.AttributeChanged, SensorID: 1,
		Field: "offline", Old: false, New: true,
		Sensor: &sensor,
	})

	waitForCount(t, mc, 1)
	topics := mc.topics()
	if len(topics) != 1 {
		t.Fatalf("published %d topics, want exactly 1: %v", len(topics), topics)
	}
	if topics[0] != "homeassistant/binary_sensor/panel1/sensor_1/availability" {
		t.Errorf("topic = %q", topics[0])
	}
	payload, _ := mc.topicPayload(topics[0])
	if payload != "offline" {
		t.Errorf("payload = %q, want offline", payload)
	}
}

func TestHandleSensorStatusChangePublishesStateOnly(t *testing.T) {
	s, mc := newTestSurface(t)

	sensor := domain.Sensor{SensorID: 1, Name: "Front Door", Class: domain.ClassDoorWindow, Status: domain.SensorOpen}
	s.HandleChange(domain.Change{
		Entity: domain.EntitySensor, Kind: domain.AttributeChanged, SensorID: 1,
		Field: "status", Old: domain.SensorClosed, New: domain.SensorOpen,
		Sensor: &sensor,
	})

	waitForCount(t, mc, 1)
	topics := mc.topics()
	if len(topics) != 1 || topics[0] != "homeassistant/binary_sensor/panel1/sensor_1/state" {
		t.Fatalf("topics = %v", topics)
	}
	payload, _ := mc.topicPayload(topics[0])
	if payload != "ON" {
		t.Errorf("payload = %q, want ON", payload)
	}
}

func TestDeviceClassMapping(t *testing.T) {
	cases := []struct {
		class domain.SensorClass
		want  string
	}{
		{domain.ClassDoorWindow, "door"},
		{domain.ClassMotion, "motion"},
		{domain.ClassSmoke, "smoke"},
		{domain.ClassWater, "moisture"},
		{domain.ClassCO, "gas"},
		{domain.ClassGeneric, "safety"},
	}
	for _, c := range cases {
		if got := deviceClassForClass(c.class); got != c.want {
			t.Errorf("deviceClassForClass(%v) = %q, want %q", c.class, got, c.want)
		}
	}
}

func TestPublishDiagnosticPublishesDegradedFlagToInstanceTopic(t *testing.T) {
	s, mc := newTestSurface(t)

	s.PublishDiagnostic(true)

	waitForCount(t, mc, 1)
	const wantTopic = "homeassistant/panel1/diagnostic"
	payload, ok := mc.topicPayload(wantTopic)
	if !ok {
		t.Fatalf("no publish to %q, got topics %v", wantTopic, mc.topics())
	}
	if payload != `{"degraded":true}` {
		t.Errorf("payload = %q, want {\"degraded\":true}", payload)
	}
}

func TestHandleStatusDebouncesRediscovery(t *testing.T) {
	s, mc := newTestSurface(t)

	if err := s.model.Apply(makeSnapshot()); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	s.handleStatus(mc, &mockMessage{payload: []byte("online")})
	waitForCount(t, mc, 2) // discovery + state for the one partition

	countAfterFirst := len(mc.topics())
	s.handleStatus(mc, &mockMessage{payload: []byte("online")})
	time.Sleep(20 * time.Millisecond)
	if got := len(mc.topics()); got != countAfterFirst {
		t.Errorf("second status within debounce window published %d more topics, want 0 more", got-countAfterFirst)
	}
}
