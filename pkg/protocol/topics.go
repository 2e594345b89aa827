package protocol

import "fmt"

// Component names used in HA MQTT discovery topics.
const (
	ComponentAlarmControlPanel = "alarm_control_panel"
	ComponentBinarySensor      = "binary_sensor"
)

// DiscoveryTopic returns the retained discovery-config topic for an
// entity: P/{component}/{U}/{entityID}/config.
func DiscoveryTopic(prefix, component, uniqueID, entityID string) string {
	return fmt.Sprintf("%s/%s/%s/%s/config", prefix, component, uniqueID, entityID)
}

// StateTopic returns the retained state topic for an entity:
// P/{component}/{U}/{entityID}/state.
func StateTopic(prefix, component, uniqueID, entityID string) string {
	return fmt.Sprintf("%s/%s/%s/%s/state", prefix, component, uniqueID, entityID)
}

// AvailabilityTopic returns the retained per-entity availability topic:
// P/{component}/{U}/{entityID}/availability.
func AvailabilityTopic(prefix, component, uniqueID, entityID string) string {
	return fmt.Sprintf("%s/%s/%s/%s/availability", prefix, component, uniqueID, entityID)
}

// SetTopic returns the control-command topic for a partition entity:
// P/{component}/{U}/{entityID}/set.
func SetTopic(prefix, component, uniqueID, entityID string) string {
	return fmt.Sprintf("%s/%s/%s/%s/set", prefix, component, uniqueID, entityID)
}

// InstanceAvailabilityTopic returns the whole-instance LWT-backed
// availability topic: P/{U}/availability.
func InstanceAvailabilityTopic(prefix, uniqueID string) string {
	return fmt.Sprintf("%s/%s/availability", prefix, uniqueID)
}

// InstanceDiagnosticTopic returns the retained diagnostic topic
// carrying the degraded-health flag alongside instance availability.
func InstanceDiagnosticTopic(prefix, uniqueID string) string {
	return fmt.Sprintf("%s/%s/diagnostic", prefix, uniqueID)
}

// PartitionEntityID returns the stable entity_id for a partition.
func PartitionEntityID(partitionID int) string {
	return fmt.Sprintf("partition_%d", partitionID)
}

// SensorEntityID returns the stable entity_id for a sensor.
func SensorEntityID(sensorID int) string {
	return fmt.Sprintf("sensor_%d", sensorID)
}
