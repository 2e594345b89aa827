// Package controlplane admits validated MQTT commands into PanelLink:
// session-token and user-code checks, exit-delay/bypass defaulting,
// and per-partition FIFO command ordering.
package controlplane

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/qolsysgw/panelgw/internal/errs"
	"github.com/qolsysgw/panelgw/pkg/protocol"
)

// CodePolicy is the user-code decision table input for one command kind.
type CodePolicy struct {
	Required bool
}

// Config holds the admission policy and arming defaults (spec.md §4.5,
// §6's configuration surface).
type Config struct {
	// PanelToken is the out-of-band auth token sent on every outbound
	// frame (the wire codec's "token" field), distinct from the
	// session_token HA echoes back and from any arm/disarm user code.
	PanelToken string

	HACheckUserCode bool
	HAUserCode      string
	PanelUserCode   string

	CodeArmRequired     bool
	CodeDisarmRequired  bool
	CodeTriggerRequired bool

	AwayExitDelaySeconds int
	StayExitDelaySeconds int
	AwayBypass           bool
	StayBypass           bool

	TriggerDefault protocol.TriggerAlarmType
}

// Command is one MQTT-originated request, already decoded from the
// alarm_control_panel command_template payload.
type Command struct {
	PartitionID  int
	SessionToken string
	Action       string // "ARM_AWAY", "ARM_STAY", "DISARM", "TRIGGER"
	UserCode     string
	ExitDelay    *int
	Bypass       *bool
	AlarmType    protocol.TriggerAlarmType
}

// Sender is the narrow PanelLink capability ControlPlane needs: enqueue
// an outbound frame, never blocking indefinitely.
type Sender interface {
	Send(frame []byte)
}

// ControlPlane validates and forwards commands to PanelLink.
type ControlPlane struct {
	cfg    Config
	sender Sender
	logger *slog.Logger

	mu           sync.Mutex
	sessionToken string

	dropped         counter
	rejectedSession counter
	rejectedCode    counter

	queuesMu sync.Mutex
	queues   map[int]chan Command
}

// New creates a ControlPlane with a freshly generated session token.
func New(cfg Config, sender Sender, logger *slog.Logger) *ControlPlane {
	cp := &ControlPlane{
		cfg:          cfg,
		sender:       sender,
		logger:       logger,
		sessionToken: generateToken(),
		queues:       make(map[int]chan Command),
	}
	return cp
}

func generateToken() string {
	id, err := uuid.NewRandom()
	if err == nil {
		return id.String()
	}
	// uuid.NewRandom only fails if the system RNG is broken; fall back
	// to a raw 128-bit hex token from crypto/rand rather than crash.
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// SessionToken returns the current session token, for MqttSurface's
// discovery command_template.
func (cp *ControlPlane) SessionToken() string {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return cp.sessionToken
}

// RotateToken generates a fresh session token, invalidating any
// in-flight command whose token was captured from the old discovery
// message.
func (cp *ControlPlane) RotateToken() {
	cp.mu.Lock()
	cp.sessionToken = generateToken()
	cp.mu.Unlock()
}

// DroppedCount, RejectedSessionCount, RejectedCodeCount are atomic
// snapshot getters over the write-owned rejection counters (spec.md §5).
func (cp *ControlPlane) DroppedCount() int64         { return cp.dropped.get() }
func (cp *ControlPlane) RejectedSessionCount() int64 { return cp.rejectedSession.get() }
func (cp *ControlPlane) RejectedCodeCount() int64    { return cp.rejectedCode.get() }

// Submit validates cmd and, if accepted, enqueues it onto the
// per-partition worker so commands for one partition are processed in
// arrival order while different partitions proceed concurrently.
func (cp *ControlPlane) Submit(cmd Command) {
	if cmd.SessionToken != cp.SessionToken() {
		cp.rejectedSession.add(1)
		cp.logger.Info("controlplane: rejected command with stale session token", "partition_id", cmd.PartitionID)
		return
	}

	ch := cp.queueFor(cmd.PartitionID)
	select {
	case ch <- cmd:
	default:
		cp.dropped.add(1)
		cp.logger.Warn("controlplane: command dropped, partition queue full", "partition_id", cmd.PartitionID)
	}
}

func (cp *ControlPlane) queueFor(partitionID int) chan Command {
	cp.queuesMu.Lock()
	defer cp.queuesMu.Unlock()

	ch, ok := cp.queues[partitionID]
	if !ok {
		ch = make(chan Command, 16)
		cp.queues[partitionID] = ch
		go cp.worker(ch)
	}
	return ch
}

func (cp *ControlPlane) worker(ch chan Command) {
	for cmd := range ch {
		cp.process(cmd)
	}
}

func (cp *ControlPlane) process(cmd Command) {
	action, err := cp.validate(cmd)
	if err != nil {
		cp.rejectedCode.add(1)
		cp.logger.Info("controlplane: rejected command", "partition_id", cmd.PartitionID, "error", err)
		return
	}

	frame, err := protocol.Encode(action, cp.cfg.PanelToken, generateToken())
	if err != nil {
		cp.logger.Error("controlplane: encode failed", "error", err)
		return
	}
	cp.sender.Send(frame)
}

// validate applies the user-code decision table and exit-delay/bypass
// and trigger-type defaulting of spec.md §4.5, returning the
// OutboundAction to forward.
func (cp *ControlPlane) validate(cmd Command) (protocol.OutboundAction, error) {
	switch cmd.Action {
	case "ARM_AWAY", "ARM_STAY":
		required := cp.cfg.CodeArmRequired
		code, err := cp.resolveCode(cmd.PartitionID, required, cmd.UserCode)
		if err != nil {
			return nil, err
		}
		armType := protocol.ArmAway
		exitDelay := cp.cfg.AwayExitDelaySeconds
		bypass := cp.cfg.AwayBypass
		if cmd.Action == "ARM_STAY" {
			armType = protocol.ArmStay
			exitDelay = cp.cfg.StayExitDelaySeconds
			bypass = cp.cfg.StayBypass
		}
		if cmd.ExitDelay != nil {
			exitDelay = *cmd.ExitDelay
		}
		if cmd.Bypass != nil {
			bypass = *cmd.Bypass
		}
		return protocol.ArmingAction{
			PartitionID: cmd.PartitionID,
			ArmType:     armType,
			UserCode:    code,
			ExitDelay:   &exitDelay,
			Bypass:      &bypass,
		}, nil

	case "DISARM":
		code, err := cp.resolveCode(cmd.PartitionID, cp.cfg.CodeDisarmRequired, cmd.UserCode)
		if err != nil {
			return nil, err
		}
		return protocol.DisarmAction{PartitionID: cmd.PartitionID, UserCode: code}, nil

	case "TRIGGER":
		if _, err := cp.resolveCode(cmd.PartitionID, cp.cfg.CodeTriggerRequired, cmd.UserCode); err != nil {
			return nil, err
		}
		alarmType := cp.cfg.TriggerDefault
		if cmd.AlarmType != "" {
			alarmType = cmd.AlarmType
		}
		return protocol.TriggerAction{PartitionID: cmd.PartitionID, AlarmType: alarmType}, nil

	default:
		return nil, errs.NewProtocolError("unknown control command action: "+cmd.Action, nil)
	}
}

// resolveCode implements spec.md §4.5's four-rule decision table for
// one command kind's code requirement.
func (cp *ControlPlane) resolveCode(partitionID int, required bool, supplied string) (string, error) {
	if supplied != "" && len(supplied) != 4 && len(supplied) != 6 {
		return "", errs.NewBadCodeFormat(len(supplied))
	}

	switch {
	case !required && !cp.cfg.HACheckUserCode:
		// Rule 1: forward the configured panel code, if any.
		return cp.cfg.PanelUserCode, nil

	case required && cp.cfg.HACheckUserCode:
		// Rule 2: compare against ha_user_code (falling back to
		// panel_user_code); reject on mismatch.
		expected := cp.cfg.HAUserCode
		if expected == "" {
			expected = cp.cfg.PanelUserCode
		}
		if supplied != expected {
			return "", errs.NewBadCode(partitionID)
		}
		return supplied, nil

	case required && !cp.cfg.HACheckUserCode:
		// Rule 3: forward verbatim; the panel itself validates.
		return supplied, nil

	default:
		// required is false and HACheckUserCode is true: not one of
		// spec.md's four enumerated cases; treat as "nothing to check,
		// forward whatever HA supplied" since no comparison was asked for.
		return supplied, nil
	}
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
