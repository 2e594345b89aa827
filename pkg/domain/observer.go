package domain

// EntityKind identifies which level of the Panel→Partition→Sensor
// hierarchy a Change applies to.
type EntityKind int

const (
	EntityPanel EntityKind = iota
	EntityPartition
	EntitySensor
)

// ChangeKind enumerates the observable mutations a Change can carry.
type ChangeKind int

const (
	Created ChangeKind = iota
	Updated
	Removed
	AttributeChanged
)

// Change is an immutable notification delivered synchronously from
// Apply, in apply-order: panel-level changes first, then per-partition,
// then per-sensor within that partition. Partition and Sensor are
// copy-on-notify snapshots, safe to retain past the callback.
type Change struct {
	Entity      EntityKind
	Kind        ChangeKind
	PartitionID int
	SensorID    int
	Field       string
	Old, New    any

	Panel     *Panel
	Partition *Partition
	Sensor    *Sensor
}

// Observer is notified of every Change. Implementations MUST NOT call
// back into Model.Apply from within the callback; if they need to
// mutate, they should enqueue to their own task and return promptly.
type Observer func(Change)

// Observe registers o to be called for every subsequent Change.
func (m *Model) Observe(o Observer) {
	m.mu.Lock()
	m.observers = append(m.observers, o)
	m.mu.Unlock()
}

// notify copies the observer list under lock, then invokes every
// observer without holding the model's mutex.
func (m *Model) notify(changes []Change) {
	m.mu.Lock()
	obs := make([]Observer, len(m.observers))
	copy(obs, m.observers)
	m.mu.Unlock()

	for _, c := range changes {
		for _, o := range obs {
			o(c)
		}
	}
}
