// Package domain holds the observable panel state: Panel containing
// Partitions containing Sensors, mutated exclusively by Apply and
// observed through immutable, copy-on-notify snapshots.
package domain

import (
	"sync"
	"time"

	"github.com/qolsysgw/panelgw/pkg/protocol"
)

// PartitionStatus is a partition's arming state.
type PartitionStatus string

const (
	StatusDisarm     PartitionStatus = "DISARM"
	StatusArmStay    PartitionStatus = "ARM_STAY"
	StatusArmAway    PartitionStatus = "ARM_AWAY"
	StatusEntryDelay PartitionStatus = "ENTRY_DELAY"
	StatusExitDelay  PartitionStatus = "EXIT_DELAY"
	StatusAlarm      PartitionStatus = "ALARM"
)

// AlarmType is set on a Partition only while Status is StatusAlarm.
type AlarmType string

const (
	AlarmPolice    AlarmType = "POLICE"
	AlarmFire      AlarmType = "FIRE"
	AlarmAuxiliary AlarmType = "AUXILIARY"
	AlarmAuto      AlarmType = "AUTO"
)

// SensorStatus is a sensor's current zone state.
type SensorStatus string

const (
	SensorOpen   SensorStatus = "OPEN"
	SensorClosed SensorStatus = "CLOSED"
	SensorActive SensorStatus = "ACTIVE"
	SensorIdle   SensorStatus = "IDLE"
	SensorTamper SensorStatus = "TAMPER"
)

// SensorClass is the sensor's derived device type.
type SensorClass string

const (
	ClassDoorWindow      SensorClass = "DoorWindow"
	ClassMotion          SensorClass = "Motion"
	ClassGlassBreak      SensorClass = "GlassBreak"
	ClassSmoke           SensorClass = "Smoke"
	ClassCO              SensorClass = "CO"
	ClassWater           SensorClass = "Water"
	ClassHeat            SensorClass = "Heat"
	ClassTilt            SensorClass = "Tilt"
	ClassFreeze          SensorClass = "Freeze"
	ClassPanel           SensorClass = "Panel"
	ClassKeypad          SensorClass = "Keypad"
	ClassSiren           SensorClass = "Siren"
	ClassAuxiliary       SensorClass = "Auxiliary"
	ClassTranslator      SensorClass = "Translator"
	ClassBluetoothSensor SensorClass = "BluetoothSensor"
	ClassGeneric         SensorClass = "Generic"
)

var knownClasses = map[string]SensorClass{
	string(ClassDoorWindow):      ClassDoorWindow,
	string(ClassMotion):          ClassMotion,
	string(ClassGlassBreak):      ClassGlassBreak,
	string(ClassSmoke):           ClassSmoke,
	string(ClassCO):              ClassCO,
	string(ClassWater):           ClassWater,
	string(ClassHeat):            ClassHeat,
	string(ClassTilt):            ClassTilt,
	string(ClassFreeze):          ClassFreeze,
	string(ClassPanel):           ClassPanel,
	string(ClassKeypad):          ClassKeypad,
	string(ClassSiren):           ClassSiren,
	string(ClassAuxiliary):       ClassAuxiliary,
	string(ClassTranslator):      ClassTranslator,
	string(ClassBluetoothSensor): ClassBluetoothSensor,
}

func deriveClass(zoneType string) SensorClass {
	if c, ok := knownClasses[zoneType]; ok {
		return c
	}
	return ClassGeneric
}

// normalizeSensorStatus upper-cases the panel's zone status string
// ("Open", "Closed", ...) to match the Sensor.Status enum.
func normalizeSensorStatus(raw string) SensorStatus {
	return SensorStatus(upper(raw))
}

func upper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - ('a' - 'A')
		}
	}
	return string(b)
}

// Sensor is one panel zone.
type Sensor struct {
	SensorID    int
	PartitionID int
	Name        string
	ZoneType    string
	Class       SensorClass
	Status      SensorStatus
	BatteryLow  bool
	Tampered    bool
	LastSeen    time.Time
	Offline     bool
}

func (s Sensor) clone() Sensor { return s }

// Partition is one panel arming zone.
type Partition struct {
	PartitionID int
	Name        string
	Status      PartitionStatus
	SecureArm   bool
	AlarmType   AlarmType
	Sensors     map[int]Sensor
	Offline     bool
}

func (p Partition) clone() Partition {
	cp := p
	cp.Sensors = make(map[int]Sensor, len(p.Sensors))
	for id, s := range p.Sensors {
		cp.Sensors[id] = s
	}
	return cp
}

// Panel is the whole panel state: the single instance per process.
type Panel struct {
	UniqueID        string
	DeviceName      string
	Mac             string
	SoftwareVersion string
	Partitions      map[int]Partition
	SessionToken    string
	LastError       *protocol.PanelError
}

func (p Panel) clone() Panel {
	cp := p
	cp.Partitions = make(map[int]Partition, len(p.Partitions))
	for id, part := range p.Partitions {
		cp.Partitions[id] = part.clone()
	}
	return cp
}

// Model owns the authoritative panel state. It is mutated exclusively
// by the single goroutine that consumes PanelLink's inbound stream
// (Apply is not safe to call concurrently with itself), and read
// through immutable snapshots delivered to observers.
type Model struct {
	mu        sync.Mutex
	panel     Panel
	observers []Observer

	bugs counter
}

// NewModel creates an empty Model for the given panel unique_id.
func NewModel(uniqueID string) *Model {
	return &Model{
		panel: Panel{
			UniqueID:   uniqueID,
			Partitions: make(map[int]Partition),
		},
	}
}

// BugCount returns the number of invariant violations Apply has
// encountered (and logged) so far.
func (m *Model) BugCount() int64 { return m.bugs.get() }

// Snapshot returns an immutable copy of the current panel state.
func (m *Model) Snapshot() Panel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.panel.clone()
}

type counter struct {
	mu sync.Mutex
	n  int64
}

func (c *counter) add(delta int64) {
	c.mu.Lock()
	c.n += delta
	c.mu.Unlock()
}

func (c *counter) get() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
