// Package protocol defines the Control4 wire records exchanged with the
// panel and the pure codec that translates between wire JSON and these
// typed records. No I/O and no timing live here.
package protocol

import "encoding/json"

// Inbound is the sealed set of variants the panel can send. Kind
// identifies which concrete payload is populated; callers should type
// switch on the concrete type rather than branch on Kind directly.
type Inbound interface {
	Kind() string
}

// InfoSnapshot is a full panel replacement: INFO or SUMMARY.
type InfoSnapshot struct {
	DeviceName      string             `json:"device_name,omitempty"`
	SoftwareVersion string             `json:"software_version,omitempty"`
	Mac             string             `json:"mac,omitempty"`
	Partitions      []PartitionSnapshot `json:"partition_list"`
}

func (InfoSnapshot) Kind() string { return "INFO" }

// PartitionSnapshot is one partition within an InfoSnapshot.
type PartitionSnapshot struct {
	PartitionID int             `json:"partition_id"`
	Name        string          `json:"name"`
	Status      string          `json:"status"`
	SecureArm   bool            `json:"secure_arm"`
	Zones       []ZoneSnapshot `json:"zone_list"`
}

// ZoneSnapshot is one sensor within a PartitionSnapshot.
type ZoneSnapshot struct {
	ZoneID   int    `json:"zone_id"`
	Name     string `json:"name"`
	ZoneType string `json:"zone_type"`
	Status   string `json:"status"`
}

// ZoneEvent is a zone state change for one sensor (ZONE_EVENT).
type ZoneEvent struct {
	ZoneEventType string `json:"zone_event_type"`
	Zone          struct {
		ZoneID int    `json:"zone_id"`
		Status string `json:"status"`
	} `json:"zone"`
}

func (ZoneEvent) Kind() string { return "ZONE_EVENT" }

// ZoneAdd announces a new zone joining a partition (ZONE_ADD).
type ZoneAdd struct {
	PartitionID int          `json:"partition_id"`
	Zone        ZoneSnapshot `json:"zone"`
}

func (ZoneAdd) Kind() string { return "ZONE_ADD" }

// ZoneUpdate updates an existing zone's attributes (ZONE_UPDATE).
type ZoneUpdate struct {
	PartitionID int          `json:"partition_id"`
	Zone        ZoneSnapshot `json:"zone"`
}

func (ZoneUpdate) Kind() string { return "ZONE_UPDATE" }

// ZoneActive marks a zone active/idle (ZONE_ACTIVE).
type ZoneActive struct {
	ZoneID int  `json:"zone_id"`
	Active bool `json:"active"`
}

func (ZoneActive) Kind() string { return "ZONE_ACTIVE" }

// Arming is a partition status change (ARMING).
type Arming struct {
	ArmingType  string `json:"arming_type"`
	PartitionID int    `json:"partition_id"`
	AlarmType   string `json:"alarm_type,omitempty"`
	ExitDelay   *int   `json:"exit_delay,omitempty"`
	SecureArm   *bool  `json:"secure_arm,omitempty"`
}

func (Arming) Kind() string { return "ARMING" }

// Alarm is a partition entering alarm (ALARM).
type Alarm struct {
	AlarmType   string `json:"alarm_type"`
	PartitionID int    `json:"partition_id"`
}

func (Alarm) Kind() string { return "ALARM" }

// SecureArm is a standalone secure_arm toggle (SECURE_ARM).
type SecureArm struct {
	PartitionID int  `json:"partition_id"`
	SecureArm   bool `json:"secure_arm"`
}

func (SecureArm) Kind() string { return "SECURE_ARM" }

// PanelError is a panel-reported error (ERROR).
type PanelError struct {
	ErrorType   string `json:"error_type"`
	Description string `json:"description"`
	PartitionID *int   `json:"partition_id,omitempty"`
}

func (PanelError) Kind() string { return "ERROR" }

// Ack acknowledges a prior outbound action by nonce (ACK).
type Ack struct {
	Nonce string `json:"nonce"`
}

func (Ack) Kind() string { return "ACK" }

// Unrecognized is returned for any tag value the codec does not
// recognize. The DomainModel decides whether to ignore it; it is never
// treated as a decode error.
type Unrecognized struct {
	Tag string
	Raw json.RawMessage
}

func (Unrecognized) Kind() string { return "UNRECOGNIZED" }

// OutboundAction is the sealed set of actions the bridge can send to
// the panel.
type OutboundAction interface {
	action() string
}

// InfoRequest asks the panel for a full snapshot.
type InfoRequest struct{}

func (InfoRequest) action() string { return "INFO" }

// ArmType enumerates the two arming modes a bridge can request.
type ArmType string

const (
	ArmStay ArmType = "STAY"
	ArmAway ArmType = "AWAY"
)

// ArmingAction requests a partition be armed.
type ArmingAction struct {
	PartitionID int
	ArmType     ArmType
	UserCode    string
	ExitDelay   *int
	Bypass      *bool
}

func (ArmingAction) action() string { return "ARMING" }

// DisarmAction requests a partition be disarmed.
type DisarmAction struct {
	PartitionID int
	UserCode    string
}

func (DisarmAction) action() string { return "DISARM" }

// TriggerAlarmType enumerates the manual-trigger alarm types.
type TriggerAlarmType string

const (
	TriggerPolice    TriggerAlarmType = "POLICE"
	TriggerFire      TriggerAlarmType = "FIRE"
	TriggerAuxiliary TriggerAlarmType = "AUXILIARY"
)

// TriggerAction requests a manual panel alarm.
type TriggerAction struct {
	PartitionID int
	AlarmType   TriggerAlarmType
}

func (TriggerAction) action() string { return "TRIGGER" }

// Marshal serialises a value to JSON bytes.
func Marshal(v any) ([]byte, error) { return json.Marshal(v) }

// Unmarshal deserialises JSON bytes into the target.
func Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
