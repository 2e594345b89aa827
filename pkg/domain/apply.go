package domain

import (
	"time"

	"github.com/qolsysgw/panelgw/internal/errs"
	"github.com/qolsysgw/panelgw/pkg/protocol"
)

// Apply mutates the model for one inbound message and notifies
// observers of the resulting changes, in apply order: panel-level
// changes first, then per-partition, then per-sensor within that
// partition. Returns an error only for a Bug-class invariant
// violation; the model is left unmutated in that case and the caller
// should log and continue (never escalate).
func (m *Model) Apply(msg protocol.Inbound) error {
	switch v := msg.(type) {
	case protocol.InfoSnapshot:
		m.applyInfoSnapshot(v)
		return nil
	case protocol.ZoneEvent:
		return m.applyZoneStatus(v.Zone.ZoneID, v.Zone.Status)
	case protocol.ZoneActive:
		status := "Active"
		if !v.Active {
			status = "Idle"
		}
		return m.applyZoneStatus(v.ZoneID, status)
	case protocol.ZoneAdd:
		m.applyZoneAdd(v)
		return nil
	case protocol.ZoneUpdate:
		return m.applyZoneUpdate(v)
	case protocol.Arming:
		return m.applyArming(v)
	case protocol.Alarm:
		return m.applyAlarm(v)
	case protocol.SecureArm:
		return m.applySecureArm(v)
	case protocol.PanelError:
		m.applyError(v)
		return nil
	case protocol.Ack:
		// Accepted and dropped: nothing is stored and no Change is
		// emitted.
		return nil
	case protocol.Unrecognized:
		// Logged and dropped by the frame-decoding caller (pumpInbound
		// in cmd/panelgw); DomainModel takes no action.
		return nil
	default:
		return errs.NewBug("unknown inbound variant reached DomainModel.Apply")
	}
}

func (m *Model) applyInfoSnapshot(v protocol.InfoSnapshot) {
	m.mu.Lock()

	var changes []Change

	if m.panel.DeviceName != v.DeviceName && v.DeviceName != "" {
		changes = append(changes, Change{Entity: EntityPanel, Kind: AttributeChanged, Field: "device_name", Old: m.panel.DeviceName, New: v.DeviceName})
		m.panel.DeviceName = v.DeviceName
	}
	if m.panel.SoftwareVersion != v.SoftwareVersion && v.SoftwareVersion != "" {
		changes = append(changes, Change{Entity: EntityPanel, Kind: AttributeChanged, Field: "software_version", Old: m.panel.SoftwareVersion, New: v.SoftwareVersion})
		m.panel.SoftwareVersion = v.SoftwareVersion
	}
	if m.panel.Mac != v.Mac && v.Mac != "" {
		m.panel.Mac = v.Mac
	}

	seen := make(map[int]bool, len(v.Partitions))
	for _, ps := range v.Partitions {
		seen[ps.PartitionID] = true
		existing, had := m.panel.Partitions[ps.PartitionID]

		newPart := Partition{
			PartitionID: ps.PartitionID,
			Name:        ps.Name,
			Status:      PartitionStatus(ps.Status),
			SecureArm:   ps.SecureArm,
			Sensors:     make(map[int]Sensor, len(ps.Zones)),
		}
		if had {
			newPart.AlarmType = existing.AlarmType
		}
		if newPart.Status != StatusAlarm {
			newPart.AlarmType = ""
		}

		if !had {
			changes = append(changes, Change{Entity: EntityPartition, Kind: Created, PartitionID: ps.PartitionID})
		} else {
			diffPartitionAttrs(&changes, existing, newPart)
		}

		zoneSeen := make(map[int]bool, len(ps.Zones))
		for _, zs := range ps.Zones {
			zoneSeen[zs.ZoneID] = true
			existingSensor, hadSensor := existing.Sensors[zs.ZoneID]

			sensor := Sensor{
				SensorID:    zs.ZoneID,
				PartitionID: ps.PartitionID,
				Name:        zs.Name,
				ZoneType:    zs.ZoneType,
				Class:       deriveClass(zs.ZoneType),
				Status:      normalizeSensorStatus(zs.Status),
				LastSeen:    time.Now(),
			}

			if !hadSensor {
				newPart.Sensors[zs.ZoneID] = sensor
				changes = append(changes, Change{Entity: EntitySensor, Kind: Created, PartitionID: ps.PartitionID, SensorID: zs.ZoneID})
			} else {
				sensor.BatteryLow = existingSensor.BatteryLow
				sensor.Tampered = existingSensor.Tampered
				newPart.Sensors[zs.ZoneID] = sensor
				diffSensorAttrs(&changes, ps.PartitionID, existingSensor, sensor)
			}
		}
		// Sensors present before but absent from this snapshot go
		// offline; they are not removed from the map.
		for id, s := range existing.Sensors {
			if !zoneSeen[id] {
				if !s.Offline {
					s.Offline = true
					changes = append(changes, Change{Entity: EntitySensor, Kind: AttributeChanged, PartitionID: ps.PartitionID, SensorID: id, Field: "offline", Old: false, New: true})
				}
				newPart.Sensors[id] = s
			}
		}

		m.panel.Partitions[ps.PartitionID] = newPart
	}

	// Partitions present before but absent from this snapshot go
	// offline; they are not removed from the map.
	for id, p := range m.panel.Partitions {
		if !seen[id] && !p.Offline {
			p.Offline = true
			m.panel.Partitions[id] = p
			changes = append(changes, Change{Entity: EntityPartition, Kind: AttributeChanged, PartitionID: id, Field: "offline", Old: false, New: true})
		}
	}

	changes = m.attachSnapshots(changes)
	m.mu.Unlock()
	m.notify(changes)
}

// attachSnapshots fills each Change's Panel/Partition/Sensor pointer
// with a copy-on-notify snapshot of the entity's state as it stands
// after the mutation. Must be called while m.mu is still held.
func (m *Model) attachSnapshots(changes []Change) []Change {
	for i := range changes {
		c := &changes[i]
		switch c.Entity {
		case EntityPanel:
			p := m.panel.clone()
			c.Panel = &p
		case EntityPartition:
			if part, ok := m.panel.Partitions[c.PartitionID]; ok {
				pc := part.clone()
				c.Partition = &pc
			}
		case EntitySensor:
			if part, ok := m.panel.Partitions[c.PartitionID]; ok {
				pc := part.clone()
				c.Partition = &pc
				if s, ok := part.Sensors[c.SensorID]; ok {
					sc := s.clone()
					c.Sensor = &sc
				}
			}
		}
	}
	return changes
}

func diffPartitionAttrs(changes *[]Change, old, new_ Partition) {
	if old.Name != new_.Name {
		*changes = append(*changes, Change{Entity: EntityPartition, Kind: AttributeChanged, PartitionID: new_.PartitionID, Field: "name", Old: old.Name, New: new_.Name})
	}
	if old.Status != new_.Status {
		*changes = append(*changes, Change{Entity: EntityPartition, Kind: AttributeChanged, PartitionID: new_.PartitionID, Field: "status", Old: old.Status, New: new_.Status})
	}
	if old.SecureArm != new_.SecureArm {
		*changes = append(*changes, Change{Entity: EntityPartition, Kind: AttributeChanged, PartitionID: new_.PartitionID, Field: "secure_arm", Old: old.SecureArm, New: new_.SecureArm})
	}
	if old.AlarmType != new_.AlarmType {
		*changes = append(*changes, Change{Entity: EntityPartition, Kind: AttributeChanged, PartitionID: new_.PartitionID, Field: "alarm_type", Old: old.AlarmType, New: new_.AlarmType})
	}
	if old.Offline && !new_.Offline {
		*changes = append(*changes, Change{Entity: EntityPartition, Kind: AttributeChanged, PartitionID: new_.PartitionID, Field: "offline", Old: true, New: false})
	}
}

func diffSensorAttrs(changes *[]Change, partitionID int, old, new_ Sensor) {
	if old.Name != new_.Name {
		*changes = append(*changes, Change{Entity: EntitySensor, Kind: AttributeChanged, PartitionID: partitionID, SensorID: new_.SensorID, Field: "name", Old: old.Name, New: new_.Name})
	}
	if old.ZoneType != new_.ZoneType {
		*changes = append(*changes, Change{Entity: EntitySensor, Kind: AttributeChanged, PartitionID: partitionID, SensorID: new_.SensorID, Field: "zone_type", Old: old.ZoneType, New: new_.ZoneType})
	}
	if old.Status != new_.Status {
		*changes = append(*changes, Change{Entity: EntitySensor, Kind: AttributeChanged, PartitionID: partitionID, SensorID: new_.SensorID, Field: "status", Old: old.Status, New: new_.Status})
	}
	if old.Offline && !new_.Offline {
		*changes = append(*changes, Change{Entity: EntitySensor, Kind: AttributeChanged, PartitionID: partitionID, SensorID: new_.SensorID, Field: "offline", Old: true, New: false})
	}
}

// findSensorPartition returns the partition id owning sensorID, or
// (0, false) if no partition currently knows about it.
func (m *Model) findSensorPartition(sensorID int) (int, bool) {
	for pid, p := range m.panel.Partitions {
		if _, ok := p.Sensors[sensorID]; ok {
			return pid, true
		}
	}
	return 0, false
}

func (m *Model) applyZoneStatus(sensorID int, rawStatus string) error {
	m.mu.Lock()

	pid, ok := m.findSensorPartition(sensorID)
	if !ok {
		m.mu.Unlock()
		m.bugs.add(1)
		return errs.NewBug("ZONE_EVENT referring to unknown sensor id")
	}

	part := m.panel.Partitions[pid]
	sensor := part.Sensors[sensorID]
	newStatus := normalizeSensorStatus(rawStatus)

	var changes []Change
	if sensor.Status != newStatus {
		changes = append(changes, Change{Entity: EntitySensor, Kind: AttributeChanged, PartitionID: pid, SensorID: sensorID, Field: "status", Old: sensor.Status, New: newStatus})
		sensor.Status = newStatus
	}
	sensor.LastSeen = time.Now()
	part.Sensors[sensorID] = sensor
	m.panel.Partitions[pid] = part

	changes = m.attachSnapshots(changes)
	m.mu.Unlock()
	m.notify(changes)
	return nil
}

func (m *Model) applyZoneAdd(v protocol.ZoneAdd) {
	m.mu.Lock()

	part, ok := m.panel.Partitions[v.PartitionID]
	if !ok {
		part = Partition{PartitionID: v.PartitionID, Sensors: make(map[int]Sensor)}
	}

	var changes []Change
	_, existed := part.Sensors[v.Zone.ZoneID]
	part.Sensors[v.Zone.ZoneID] = Sensor{
		SensorID:    v.Zone.ZoneID,
		PartitionID: v.PartitionID,
		Name:        v.Zone.Name,
		ZoneType:    v.Zone.ZoneType,
		Class:       deriveClass(v.Zone.ZoneType),
		Status:      normalizeSensorStatus(v.Zone.Status),
		LastSeen:    time.Now(),
	}
	m.panel.Partitions[v.PartitionID] = part

	if !existed {
		changes = append(changes, Change{Entity: EntitySensor, Kind: Created, PartitionID: v.PartitionID, SensorID: v.Zone.ZoneID})
	}

	changes = m.attachSnapshots(changes)
	m.mu.Unlock()
	m.notify(changes)
}

func (m *Model) applyZoneUpdate(v protocol.ZoneUpdate) error {
	m.mu.Lock()

	part, ok := m.panel.Partitions[v.PartitionID]
	if !ok {
		m.mu.Unlock()
		m.bugs.add(1)
		return errs.NewBug("ZONE_UPDATE referring to unknown partition id")
	}
	old, hadSensor := part.Sensors[v.Zone.ZoneID]
	if !hadSensor {
		m.mu.Unlock()
		m.bugs.add(1)
		return errs.NewBug("ZONE_UPDATE referring to unknown sensor id")
	}

	new_ := old
	new_.Name = v.Zone.Name
	new_.ZoneType = v.Zone.ZoneType
	new_.Class = deriveClass(v.Zone.ZoneType)
	new_.Status = normalizeSensorStatus(v.Zone.Status)
	new_.LastSeen = time.Now()

	var changes []Change
	diffSensorAttrs(&changes, v.PartitionID, old, new_)
	part.Sensors[v.Zone.ZoneID] = new_
	m.panel.Partitions[v.PartitionID] = part

	changes = m.attachSnapshots(changes)
	m.mu.Unlock()
	m.notify(changes)
	return nil
}

func (m *Model) applyArming(v protocol.Arming) error {
	m.mu.Lock()

	part, ok := m.panel.Partitions[v.PartitionID]
	if !ok {
		m.mu.Unlock()
		m.bugs.add(1)
		return errs.NewBug("ARMING referring to unknown partition id")
	}

	old := part
	part.Status = PartitionStatus(v.ArmingType)
	if part.Status == StatusAlarm {
		part.AlarmType = AlarmType(v.AlarmType)
	} else {
		part.AlarmType = ""
	}
	if v.SecureArm != nil {
		part.SecureArm = *v.SecureArm
	}

	var changes []Change
	diffPartitionAttrs(&changes, old, part)
	m.panel.Partitions[v.PartitionID] = part

	changes = m.attachSnapshots(changes)
	m.mu.Unlock()
	m.notify(changes)
	return nil
}

func (m *Model) applyAlarm(v protocol.Alarm) error {
	m.mu.Lock()

	part, ok := m.panel.Partitions[v.PartitionID]
	if !ok {
		m.mu.Unlock()
		m.bugs.add(1)
		return errs.NewBug("ALARM referring to unknown partition id")
	}

	old := part
	part.Status = StatusAlarm
	part.AlarmType = AlarmType(v.AlarmType)

	var changes []Change
	diffPartitionAttrs(&changes, old, part)
	m.panel.Partitions[v.PartitionID] = part

	changes = m.attachSnapshots(changes)
	m.mu.Unlock()
	m.notify(changes)
	return nil
}

func (m *Model) applySecureArm(v protocol.SecureArm) error {
	m.mu.Lock()

	part, ok := m.panel.Partitions[v.PartitionID]
	if !ok {
		m.mu.Unlock()
		m.bugs.add(1)
		return errs.NewBug("SECURE_ARM referring to unknown partition id")
	}

	old := part
	part.SecureArm = v.SecureArm

	var changes []Change
	diffPartitionAttrs(&changes, old, part)
	m.panel.Partitions[v.PartitionID] = part

	changes = m.attachSnapshots(changes)
	m.mu.Unlock()
	m.notify(changes)
	return nil
}

func (m *Model) applyError(v protocol.PanelError) {
	m.mu.Lock()
	errCopy := v
	m.panel.LastError = &errCopy
	m.mu.Unlock()
	// ERROR does not mutate partitions and is not an observable Change
	// per spec: it is surfaced via Panel.LastError for readers that
	// poll Snapshot, not via the observer stream.
}
