// Package mqtttransport wraps paho.mqtt.golang with the publish
// semantics the rest of the bridge needs: a reconnect-aware client,
// per-call publish timeout, and a single place to wire LWT and the
// reconnect hook that triggers rediscovery.
package mqtttransport

import (
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/qolsysgw/panelgw/internal/errs"
)

// Config holds the MQTT connection parameters.
type Config struct {
	Host     string
	Port     int
	ClientID string
	Username string
	Password string

	// LWTTopic/LWTPayload are published by the broker if this client
	// disconnects uncleanly; OnlinePayload is published by Connect once
	// the session is established.
	LWTTopic      string
	LWTPayload    string
	OnlinePayload string

	QoS    byte
	Retain bool

	PublishTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 10 * time.Second
	}
}

// OnReconnect is called every time the underlying client re-establishes
// a session (including the first connect), after the LWT/online
// handshake has been performed.
type OnReconnect func()

// Transport is a thin, reconnect-aware MQTT client.
type Transport struct {
	cfg    Config
	client mqtt.Client
	logger *slog.Logger

	onReconnect OnReconnect
}

// New creates a Transport. onReconnect fires on every successful
// (re)connect, including the first.
func New(cfg Config, onReconnect OnReconnect, logger *slog.Logger) *Transport {
	cfg.applyDefaults()
	return &Transport{cfg: cfg, logger: logger, onReconnect: onReconnect}
}

// Connect opens the MQTT session. The LWT is registered before connect
// so the broker holds it for the lifetime of the session.
func (t *Transport) Connect() error {
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", t.cfg.Host, t.cfg.Port)).
		SetClientID(t.cfg.ClientID).
		SetUsername(t.cfg.Username).
		SetPassword(t.cfg.Password).
		SetCleanSession(false).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(t.handleConnect).
		SetConnectionLostHandler(t.handleConnectionLost).
		SetWill(t.cfg.LWTTopic, t.cfg.LWTPayload, t.cfg.QoS, true)

	t.client = mqtt.NewClient(opts)

	token := t.client.Connect()
	if token.Wait() && token.Error() != nil {
		return errs.NewMqttTransientError("connect", token.Error())
	}
	return nil
}

// ConnectWithClient injects a pre-configured client, used by tests that
// supply a fake mqtt.Client.
func (t *Transport) ConnectWithClient(c mqtt.Client) {
	t.client = c
	t.handleConnect(c)
}

// Publish sends payload to topic, waiting up to PublishTimeout. On
// timeout the publish is abandoned and an MqttTransientError returned;
// callers log and drop rather than block the originating observer.
func (t *Transport) Publish(topic string, payload []byte) error {
	token := t.client.Publish(topic, t.cfg.QoS, t.cfg.Retain, payload)
	if !token.WaitTimeout(t.cfg.PublishTimeout) {
		return errs.NewMqttTransientError("publish", fmt.Errorf("timed out after %s on %s", t.cfg.PublishTimeout, topic))
	}
	if err := token.Error(); err != nil {
		return errs.NewMqttTransientError("publish", err)
	}
	return nil
}

// Subscribe registers handler for topic at the transport's configured
// QoS. handleConnect does not reissue subscriptions on reconnect;
// Connect opens a persistent (non-clean) session, under which the
// broker keeps them.
func (t *Transport) Subscribe(topic string, handler mqtt.MessageHandler) error {
	token := t.client.Subscribe(topic, t.cfg.QoS, handler)
	token.Wait()
	if err := token.Error(); err != nil {
		return errs.NewMqttTransientError("subscribe", err)
	}
	return nil
}

// Disconnect publishes the offline availability payload and closes the
// session cleanly, waiting up to quiesce milliseconds for in-flight
// publishes to flush.
func (t *Transport) Disconnect(quiesce uint) {
	if t.client == nil {
		return
	}
	if token := t.client.Publish(t.cfg.LWTTopic, t.cfg.QoS, true, t.cfg.LWTPayload); token.WaitTimeout(2 * time.Second) {
		_ = token.Error()
	}
	t.client.Disconnect(quiesce)
}

func (t *Transport) handleConnect(c mqtt.Client) {
	t.logger.Info("mqtt connected", "client_id", t.cfg.ClientID)
	if token := c.Publish(t.cfg.LWTTopic, t.cfg.QoS, true, t.cfg.OnlinePayload); token.Wait() && token.Error() != nil {
		t.logger.Warn("mqtt: failed to publish online availability", "error", token.Error())
	}
	if t.onReconnect != nil {
		t.onReconnect()
	}
}

func (t *Transport) handleConnectionLost(_ mqtt.Client, err error) {
	t.logger.Warn("mqtt connection lost", "client_id", t.cfg.ClientID, "error", err)
}
