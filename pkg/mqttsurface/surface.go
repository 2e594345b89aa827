// Package mqttsurface mirrors the domain model onto MQTT using Home
// Assistant's MQTT discovery conventions: retained discovery, state,
// and availability topics per entity, an instance-level LWT, and
// HA-restart-triggered rediscovery.
package mqttsurface

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/qolsysgw/panelgw/internal/mqtttransport"
	"github.com/qolsysgw/panelgw/pkg/domain"
	"github.com/qolsysgw/panelgw/pkg/protocol"
)

// Config holds the HA-facing naming and policy the Surface needs.
type Config struct {
	DiscoveryPrefix string
	UniqueID        string
	StatusTopic     string
	OnlinePayload   string

	CodeArmRequired     bool
	CodeDisarmRequired  bool
	CodeTriggerRequired bool
	AwayEnabled         bool
	StayEnabled         bool

	RediscoveryDebounce time.Duration
}

func (c *Config) applyDefaults() {
	if c.RediscoveryDebounce <= 0 {
		c.RediscoveryDebounce = 5 * time.Second
	}
	if c.StatusTopic == "" {
		c.StatusTopic = "homeassistant/status"
	}
	if c.OnlinePayload == "" {
		c.OnlinePayload = "online"
	}
}

// SessionToken returns the ControlPlane's current session token, used
// in the alarm_control_panel discovery command_template.
type SessionToken func() string

// Surface publishes the domain model onto MQTT and consumes HA-restart
// notifications.
type Surface struct {
	cfg       Config
	transport *mqtttransport.Transport
	model     *domain.Model
	token     SessionToken
	logger    *slog.Logger

	mu             sync.Mutex
	queues         map[string]chan func()
	lastRediscover time.Time
}

// New creates a Surface wired to transport and model. Callers must call
// Start to subscribe to the HA-restart topic and Observe to register
// for domain changes.
func New(cfg Config, transport *mqtttransport.Transport, model *domain.Model, token SessionToken, logger *slog.Logger) *Surface {
	cfg.applyDefaults()
	return &Surface{
		cfg:       cfg,
		transport: transport,
		model:     model,
		token:     token,
		logger:    logger,
		queues:    make(map[string]chan func()),
	}
}

// Start subscribes to the HA-restart status topic. Call once after the
// MQTT transport is connected.
func (s *Surface) Start() error {
	return s.transport.Subscribe(s.cfg.StatusTopic, s.handleStatus)
}

// HandleChange is the domain.Observer callback: it decides which MQTT
// publishes a Change implies and enqueues them on the entity's
// publish queue so discovery→availability→state ordering is preserved
// even when multiple changes for the same entity race in.
func (s *Surface) HandleChange(c domain.Change) {
	switch c.Entity {
	case domain.EntityPartition:
		s.handlePartitionChange(c)
	case domain.EntitySensor:
		s.handleSensorChange(c)
	case domain.EntityPanel:
		// Panel-level attributes (device_name, software_version) feed
		// the device block of subsequent discovery publishes; they are
		// not independently observable over MQTT.
	}
}

func (s *Surface) handlePartitionChange(c domain.Change) {
	if c.Partition == nil {
		return
	}
	p := *c.Partition
	key := fmt.Sprintf("partition:%d", p.PartitionID)

	switch {
	case c.Kind == domain.Created:
		s.enqueue(key, func() { s.publishPartitionDiscovery(p) })
		s.enqueue(key, func() { s.publishPartitionAvailability(p, true) })
		s.enqueue(key, func() { s.publishPartitionState(p) })
	case c.Field == "offline" && c.New == true:
		s.enqueue(key, func() { s.publishPartitionAvailability(p, false) })
	case c.Field == "offline" && c.New == false:
		s.enqueue(key, func() { s.publishPartitionAvailability(p, true) })
	case c.Field == "name":
		s.enqueue(key, func() { s.publishPartitionDiscovery(p) })
		s.enqueue(key, func() { s.publishPartitionState(p) })
	default:
		s.enqueue(key, func() { s.publishPartitionState(p) })
	}
}

func (s *Surface) handleSensorChange(c domain.Change) {
	if c.Sensor == nil {
		return
	}
	sensor := *c.Sensor
	key := fmt.Sprintf("sensor:%d", sensor.SensorID)

	switch {
	case c.Kind == domain.Created:
		s.enqueue(key, func() { s.publishSensorDiscovery(sensor) })
		s.enqueue(key, func() { s.publishSensorAvailability(sensor, true) })
		s.enqueue(key, func() { s.publishSensorState(sensor) })
	case c.Field == "offline" && c.New == true:
		s.enqueue(key, func() { s.publishSensorAvailability(sensor, false) })
	case c.Field == "offline" && c.New == false:
		s.enqueue(key, func() { s.publishSensorAvailability(sensor, true) })
	case c.Field == "name" || c.Field == "zone_type":
		s.enqueue(key, func() { s.publishSensorDiscovery(sensor) })
		s.enqueue(key, func() { s.publishSensorState(sensor) })
	default:
		s.enqueue(key, func() { s.publishSensorState(sensor) })
	}
}

// enqueue serializes jobs for a given entity key through a dedicated
// worker so discovery→availability→state publishes for one entity are
// never reordered by concurrent observer deliveries.
func (s *Surface) enqueue(key string, job func()) {
	s.mu.Lock()
	ch, ok := s.queues[key]
	if !ok {
		ch = make(chan func(), 64)
		s.queues[key] = ch
		go s.drain(ch)
	}
	s.mu.Unlock()
	ch <- job
}

func (s *Surface) drain(ch chan func()) {
	for job := range ch {
		job()
	}
}

func (s *Surface) publish(topic string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("mqttsurface: marshal failed", "topic", topic, "error", err)
		return
	}
	if err := s.transport.Publish(topic, data); err != nil {
		s.logger.Warn("mqttsurface: publish failed", "topic", topic, "error", err)
	}
}

func (s *Surface) publishRaw(topic, payload string) {
	if err := s.transport.Publish(topic, []byte(payload)); err != nil {
		s.logger.Warn("mqttsurface: publish failed", "topic", topic, "error", err)
	}
}

func (s *Surface) deviceInfo() DeviceInfo {
	panel := s.model.Snapshot()
	return DeviceInfo{
		Identifiers:  []string{s.cfg.UniqueID},
		Name:         panel.DeviceName,
		Manufacturer: "Qolsys",
		Model:        "IQ Panel",
		SWVersion:    panel.SoftwareVersion,
	}
}

func (s *Surface) publishPartitionDiscovery(p domain.Partition) {
	entityID := protocol.PartitionEntityID(p.PartitionID)
	cfg := AlarmControlPanelConfig{
		Name:                p.Name,
		UniqueID:            fmt.Sprintf("%s_%s", s.cfg.UniqueID, entityID),
		StateTopic:          protocol.StateTopic(s.cfg.DiscoveryPrefix, protocol.ComponentAlarmControlPanel, s.cfg.UniqueID, entityID),
		AvailabilityTopic:   protocol.AvailabilityTopic(s.cfg.DiscoveryPrefix, protocol.ComponentAlarmControlPanel, s.cfg.UniqueID, entityID),
		CommandTopic:        protocol.SetTopic(s.cfg.DiscoveryPrefix, protocol.ComponentAlarmControlPanel, s.cfg.UniqueID, entityID),
		CommandTemplate:     fmt.Sprintf(`{"action":"{{ action }}","code":"{{ code }}","session_token":"%s"}`, s.token()),
		CodeArmRequired:     s.cfg.CodeArmRequired,
		CodeDisarmRequired:  s.cfg.CodeDisarmRequired,
		CodeTriggerRequired: s.cfg.CodeTriggerRequired,
		SupportedFeatures:   supportedFeatures(s.cfg.AwayEnabled, s.cfg.StayEnabled),
		Device:              s.deviceInfo(),
	}
	topic := protocol.DiscoveryTopic(s.cfg.DiscoveryPrefix, protocol.ComponentAlarmControlPanel, s.cfg.UniqueID, entityID)
	s.publish(topic, cfg)
}

func (s *Surface) publishPartitionState(p domain.Partition) {
	entityID := protocol.PartitionEntityID(p.PartitionID)
	topic := protocol.StateTopic(s.cfg.DiscoveryPrefix, protocol.ComponentAlarmControlPanel, s.cfg.UniqueID, entityID)
	s.publishRaw(topic, partitionState(p))
}

func (s *Surface) publishPartitionAvailability(p domain.Partition, online bool) {
	entityID := protocol.PartitionEntityID(p.PartitionID)
	topic := protocol.AvailabilityTopic(s.cfg.DiscoveryPrefix, protocol.ComponentAlarmControlPanel, s.cfg.UniqueID, entityID)
	s.publishRaw(topic, availabilityPayload(online))
}

func (s *Surface) publishSensorDiscovery(sensor domain.Sensor) {
	entityID := protocol.SensorEntityID(sensor.SensorID)
	cfg := BinarySensorConfig{
		Name:              sensor.Name,
		UniqueID:          fmt.Sprintf("%s_%s", s.cfg.UniqueID, entityID),
		StateTopic:        protocol.StateTopic(s.cfg.DiscoveryPrefix, protocol.ComponentBinarySensor, s.cfg.UniqueID, entityID),
		AvailabilityTopic: protocol.AvailabilityTopic(s.cfg.DiscoveryPrefix, protocol.ComponentBinarySensor, s.cfg.UniqueID, entityID),
		DeviceClass:       deviceClassForClass(sensor.Class),
		Device:            s.deviceInfo(),
	}
	topic := protocol.DiscoveryTopic(s.cfg.DiscoveryPrefix, protocol.ComponentBinarySensor, s.cfg.UniqueID, entityID)
	s.publish(topic, cfg)
}

func (s *Surface) publishSensorState(sensor domain.Sensor) {
	entityID := protocol.SensorEntityID(sensor.SensorID)
	topic := protocol.StateTopic(s.cfg.DiscoveryPrefix, protocol.ComponentBinarySensor, s.cfg.UniqueID, entityID)
	s.publishRaw(topic, sensorState(sensor))
}

func (s *Surface) publishSensorAvailability(sensor domain.Sensor, online bool) {
	entityID := protocol.SensorEntityID(sensor.SensorID)
	topic := protocol.AvailabilityTopic(s.cfg.DiscoveryPrefix, protocol.ComponentBinarySensor, s.cfg.UniqueID, entityID)
	s.publishRaw(topic, availabilityPayload(online))
}

func availabilityPayload(online bool) string {
	if online {
		return "online"
	}
	return "offline"
}

// handleStatus reacts to the HA birth message on s.cfg.StatusTopic,
// debounced to at most once per RediscoveryDebounce.
func (s *Surface) handleStatus(_ mqtt.Client, msg mqtt.Message) {
	if string(msg.Payload()) != s.cfg.OnlinePayload {
		return
	}

	s.mu.Lock()
	now := time.Now()
	if now.Sub(s.lastRediscover) < s.cfg.RediscoveryDebounce {
		s.mu.Unlock()
		return
	}
	s.lastRediscover = now
	s.mu.Unlock()

	s.Rediscover()
}

// DiagnosticPayload is published to the instance diagnostic topic
// alongside instance availability, carrying link health that doesn't
// fit the plain online/offline LWT payload.
type DiagnosticPayload struct {
	Degraded bool `json:"degraded"`
}

// PublishDiagnostic reports the link's degraded state on the instance
// diagnostic topic (retained, so a fresh HA session sees current health
// immediately).
func (s *Surface) PublishDiagnostic(degraded bool) {
	topic := protocol.InstanceDiagnosticTopic(s.cfg.DiscoveryPrefix, s.cfg.UniqueID)
	s.publish(topic, DiagnosticPayload{Degraded: degraded})
}

// Rediscover republishes discovery then state for every known entity,
// used both for HA-restart notifications and fresh MQTT sessions.
func (s *Surface) Rediscover() {
	panel := s.model.Snapshot()
	for _, p := range panel.Partitions {
		key := fmt.Sprintf("partition:%d", p.PartitionID)
		pp := p
		s.enqueue(key, func() { s.publishPartitionDiscovery(pp) })
		s.enqueue(key, func() { s.publishPartitionState(pp) })
		for _, sensor := range p.Sensors {
			sk := fmt.Sprintf("sensor:%d", sensor.SensorID)
			ss := sensor
			s.enqueue(sk, func() { s.publishSensorDiscovery(ss) })
			s.enqueue(sk, func() { s.publishSensorState(ss) })
		}
	}
}
