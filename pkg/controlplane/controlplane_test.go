package controlplane

import (
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/qolsysgw/panelgw/internal/config"
	"github.com/qolsysgw/panelgw/pkg/protocol"
)

type fakeSender struct {
	mu     sync.Mutex
	frames [][]byte
}

func (f *fakeSender) Send(frame []byte) {
	f.mu.Lock()
	f.frames = append(f.frames, frame)
	f.mu.Unlock()
}

func (f *fakeSender) waitForCount(t *testing.T, n int) [][]byte {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		got := len(f.frames)
		f.mu.Unlock()
		if got >= n {
			break
		}
		time.Sleep(time.Millisecond)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.frames))
	copy(out, f.frames)
	return out
}

func newTestControlPlane(cfg Config) (*ControlPlane, *fakeSender) {
	sender := &fakeSender{}
	cp := New(cfg, sender, slog.Default())
	return cp, sender
}

func TestSubmitRejectsStaleSessionToken(t *testing.T) {
	cp, sender := newTestControlPlane(Config{})
	cp.Submit(Command{PartitionID: 0, SessionToken: "not-the-token", Action: "DISARM"})

	time.Sleep(10 * time.Millisecond)
	if got := cp.RejectedSessionCount(); got != 1 {
		t.Errorf("RejectedSessionCount = %d, want 1", got)
	}
	if len(sender.frames) != 0 {
		t.Errorf("expected no frames sent, got %d", len(sender.frames))
	}
}

func TestSubmitAcceptsCurrentSessionToken(t *testing.T) {
	cp, sender := newTestControlPlane(Config{})
	cp.Submit(Command{PartitionID: 0, SessionToken: cp.SessionToken(), Action: "DISARM"})

	frames := sender.waitForCount(t, 1)
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}

	var decoded map[string]any
	if err := json.Unmarshal(frames[0], &decoded); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	if decoded["action"] != "DISARM" {
		t.Errorf("action = %v, want DISARM", decoded["action"])
	}
}

func TestResolveCodeRule1ForwardsPanelCodeWhenNeitherRequired(t *testing.T) {
	cp, _ := newTestControlPlane(Config{HACheckUserCode: false, PanelUserCode: "1234"})
	code, err := cp.resolveCode(0, false, "")
	if err != nil {
		t.Fatalf("resolveCode: %v", err)
	}
	if code != "1234" {
		t.Errorf("code = %q, want 1234", code)
	}
}

func TestResolveCodeRule2RejectsMismatch(t *testing.T) {
	cp, _ := newTestControlPlane(Config{HACheckUserCode: true, HAUserCode: "1234"})
	_, err := cp.resolveCode(0, true, "9999")
	if err == nil {
		t.Fatal("expected a BadCode rejection")
	}
}

func TestResolveCodeRule2AcceptsMatch(t *testing.T) {
	cp, _ := newTestControlPlane(Config{HACheckUserCode: true, HAUserCode: "1234"})
	code, err := cp.resolveCode(0, true, "1234")
	if err != nil {
		t.Fatalf("resolveCode: %v", err)
	}
	if code != "1234" {
		t.Errorf("code = %q, want 1234", code)
	}
}

func TestResolveCodeRule3ForwardsVerbatim(t *testing.T) {
	cp, _ := newTestControlPlane(Config{HACheckUserCode: false})
	code, err := cp.resolveCode(0, true, "567890")
	if err != nil {
		t.Fatalf("resolveCode: %v", err)
	}
	if code != "567890" {
		t.Errorf("code = %q, want 567890", code)
	}
}

func TestResolveCodeRejectsBadFormat(t *testing.T) {
	cp, _ := newTestControlPlane(Config{})
	_, err := cp.resolveCode(0, false, "12")
	if err == nil {
		t.Fatal("expected a BadCodeFormat rejection for a 2-digit code")
	}
}

func TestValidateArmingAppliesExitDelayAndBypassDefaults(t *testing.T) {
	cp, _ := newTestControlPlane(Config{AwayExitDelaySeconds: 30, AwayBypass: true})
	action, err := cp.validate(Command{PartitionID: 0, Action: "ARM_AWAY"})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	arming, ok := action.(protocol.ArmingAction)
	if !ok {
		t.Fatalf("action type = %T, want ArmingAction", action)
	}
	if arming.ExitDelay == nil || *arming.ExitDelay != 30 {
		t.Errorf("ExitDelay = %v, want 30", arming.ExitDelay)
	}
	if arming.Bypass == nil || !*arming.Bypass {
		t.Errorf("Bypass = %v, want true", arming.Bypass)
	}
}

func TestValidateArmingCommandOverridesDefaults(t *testing.T) {
	cp, _ := newTestControlPlane(Config{AwayExitDelaySeconds: 30, AwayBypass: true})
	override := 0
	noBypass := false
	action, err := cp.validate(Command{PartitionID: 0, Action: "ARM_AWAY", ExitDelay: &override, Bypass: &noBypass})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	arming := action.(protocol.ArmingAction)
	if *arming.ExitDelay != 0 {
		t.Errorf("ExitDelay = %d, want 0 (command override)", *arming.ExitDelay)
	}
	if *arming.Bypass {
		t.Errorf("Bypass = true, want false (command override)")
	}
}

func TestValidateTriggerUsesConfiguredDefault(t *testing.T) {
	cp, _ := newTestControlPlane(Config{TriggerDefault: protocol.TriggerPolice})
	action, err := cp.validate(Command{PartitionID: 0, Action: "TRIGGER"})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	trigger := action.(protocol.TriggerAction)
	if trigger.AlarmType != protocol.TriggerPolice {
		t.Errorf("AlarmType = %v, want POLICE", trigger.AlarmType)
	}
}

func TestValidateTriggerExplicitTypeOverridesDefault(t *testing.T) {
	cp, _ := newTestControlPlane(Config{TriggerDefault: protocol.TriggerPolice})
	action, err := cp.validate(Command{PartitionID: 0, Action: "TRIGGER", AlarmType: protocol.TriggerFire})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	trigger := action.(protocol.TriggerAction)
	if trigger.AlarmType != protocol.TriggerFire {
		t.Errorf("AlarmType = %v, want FIRE", trigger.AlarmType)
	}
}

func TestValidateTriggerDefaultFromRawConfigStringProducesWireAlarmType(t *testing.T) {
	arming := config.Arming{TriggerDefault: "TRIGGER"}
	cp, _ := newTestControlPlane(Config{TriggerDefault: protocol.TriggerAlarmType(arming.TriggerDefaultWireType())})

	action, err := cp.validate(Command{PartitionID: 0, Action: "TRIGGER"})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	trigger, ok := action.(protocol.TriggerAction)
	if !ok {
		t.Fatalf("action type = %T, want TriggerAction", action)
	}
	if trigger.AlarmType != protocol.TriggerPolice {
		t.Errorf("AlarmType = %v, want %v (the wire space has no bare TRIGGER member)", trigger.AlarmType, protocol.TriggerPolice)
	}
}

func TestRotateTokenChangesSessionToken(t *testing.T) {
	cp, _ := newTestControlPlane(Config{})
	first := cp.SessionToken()
	cp.RotateToken()
	if cp.SessionToken() == first {
		t.Error("RotateToken did not change the session token")
	}
}

func TestCommandsForSamePartitionProcessInArrivalOrder(t *testing.T) {
	cp, sender := newTestControlPlane(Config{})
	tok := cp.SessionToken()

	cp.Submit(Command{PartitionID: 0, SessionToken: tok, Action: "ARM_STAY"})
	cp.Submit(Command{PartitionID: 0, SessionToken: tok, Action: "DISARM"})

	frames := sender.waitForCount(t, 2)
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}

	var first, second map[string]any
	if err := json.Unmarshal(frames[0], &first); err != nil {
		t.Fatalf("unmarshal frame 0: %v", err)
	}
	if err := json.Unmarshal(frames[1], &second); err != nil {
		t.Fatalf("unmarshal frame 1: %v", err)
	}
	if first["action"] != "ARMING" || second["action"] != "DISARM" {
		t.Errorf("actions = %v, %v, want ARMING then DISARM", first["action"], second["action"])
	}
}
