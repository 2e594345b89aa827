package mqttsurface

import "github.com/qolsysgw/panelgw/pkg/domain"

// DeviceInfo is the HA device registry block shared by every entity
// this instance publishes, grounded on nugget-thane-ai-agent's
// internal/mqtt/device.go DeviceInfo shape.
type DeviceInfo struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

// AlarmControlPanelConfig is the HA discovery payload for a partition.
type AlarmControlPanelConfig struct {
	Name                 string     `json:"name"`
	UniqueID             string     `json:"unique_id"`
	StateTopic           string     `json:"state_topic"`
	AvailabilityTopic    string     `json:"availability_topic"`
	CommandTopic         string     `json:"command_topic"`
	CommandTemplate      string     `json:"command_template"`
	CodeArmRequired       bool       `json:"code_arm_required"`
	CodeDisarmRequired    bool       `json:"code_disarm_required"`
	CodeTriggerRequired   bool       `json:"code_trigger_required"`
	SupportedFeatures    []string   `json:"supported_features"`
	Device               DeviceInfo `json:"device"`
}

// BinarySensorConfig is the HA discovery payload for a sensor.
type BinarySensorConfig struct {
	Name              string     `json:"name"`
	UniqueID          string     `json:"unique_id"`
	StateTopic        string     `json:"state_topic"`
	AvailabilityTopic string     `json:"availability_topic"`
	DeviceClass       string     `json:"device_class,omitempty"`
	Device            DeviceInfo `json:"device"`
}

// deviceClassForClass maps a domain.SensorClass to the closest HA
// binary_sensor device_class, per spec.md §6. Classes with no natural
// HA analogue map to "" (rendered as HA's generic/None class).
func deviceClassForClass(c domain.SensorClass) string {
	switch c {
	case domain.ClassDoorWindow:
		return "door"
	case domain.ClassMotion:
		return "motion"
	case domain.ClassGlassBreak:
		return "vibration"
	case domain.ClassSmoke:
		return "smoke"
	case domain.ClassCO:
		return "gas"
	case domain.ClassWater:
		return "moisture"
	case domain.ClassHeat:
		return "heat"
	case domain.ClassTilt:
		return "tamper"
	case domain.ClassFreeze:
		return "cold"
	case domain.ClassGeneric:
		return "safety"
	case domain.ClassPanel, domain.ClassKeypad, domain.ClassSiren, domain.ClassAuxiliary, domain.ClassTranslator, domain.ClassBluetoothSensor:
		return ""
	default:
		return ""
	}
}

// partitionState renders a Partition's arming status as one of HA's
// alarm_control_panel state strings.
func partitionState(p domain.Partition) string {
	switch p.Status {
	case domain.StatusDisarm:
		return "disarmed"
	case domain.StatusArmStay:
		return "armed_home"
	case domain.StatusArmAway:
		return "armed_away"
	case domain.StatusEntryDelay:
		return "pending"
	case domain.StatusExitDelay:
		return "arming"
	case domain.StatusAlarm:
		return "triggered"
	default:
		return "disarmed"
	}
}

// sensorState renders a Sensor's status as HA's binary_sensor ON/OFF.
func sensorState(s domain.Sensor) string {
	switch s.Status {
	case domain.SensorOpen, domain.SensorActive, domain.SensorTamper:
		return "ON"
	default:
		return "OFF"
	}
}

func supportedFeatures(awayEnabled, stayEnabled bool) []string {
	var f []string
	if awayEnabled {
		f = append(f, "arm_away")
	}
	if stayEnabled {
		f = append(f, "arm_home")
	}
	f = append(f, "trigger")
	return f
}
