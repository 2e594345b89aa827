package controlplane

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/qolsysgw/panelgw/internal/mqtttransport"
	"github.com/qolsysgw/panelgw/pkg/protocol"
)

// commandPayload mirrors the alarm_control_panel command_template
// MqttSurface publishes in discovery: {"action","code","session_token"}.
type commandPayload struct {
	Action       string `json:"action"`
	Code         string `json:"code"`
	SessionToken string `json:"session_token"`
}

// Subscribe registers the wildcard alarm_control_panel set-topic
// listener that turns inbound MQTT commands into Submit calls. Call
// once after transport.Connect succeeds. The subscription is not
// reissued on reconnect; it relies on the transport's persistent
// (non-clean) MQTT session.
func (cp *ControlPlane) Subscribe(transport *mqtttransport.Transport, discoveryPrefix string) error {
	topic := fmt.Sprintf("%s/%s/+/+/set", discoveryPrefix, protocol.ComponentAlarmControlPanel)
	return transport.Subscribe(topic, cp.handleCommand)
}

func (cp *ControlPlane) handleCommand(_ mqtt.Client, msg mqtt.Message) {
	partitionID, ok := partitionIDFromSetTopic(msg.Topic())
	if !ok {
		cp.logger.Warn("controlplane: set command on unrecognized topic", "topic", msg.Topic())
		return
	}

	var payload commandPayload
	if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
		cp.logger.Warn("controlplane: malformed command payload", "topic", msg.Topic(), "error", err)
		return
	}

	cp.Submit(Command{
		PartitionID:  partitionID,
		SessionToken: payload.SessionToken,
		Action:       payload.Action,
		UserCode:     payload.Code,
	})
}

// partitionIDFromSetTopic extracts the partition id from a topic of the
// shape P/alarm_control_panel/U/partition_{n}/set.
func partitionIDFromSetTopic(topic string) (int, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) < 2 {
		return 0, false
	}
	entityID := parts[len(parts)-2]
	idStr := strings.TrimPrefix(entityID, "partition_")
	if idStr == entityID {
		return 0, false
	}
	id, err := strconv.Atoi(idStr)
	if err != nil {
		return 0, false
	}
	return id, true
}
