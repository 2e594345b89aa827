package protocol

import (
	"encoding/json"
	"fmt"
)

// tagEnvelope is used only to discover which tag field is present and
// its value, before dispatching to a concrete variant type.
type tagEnvelope struct {
	Event     string `json:"event"`
	InfoType  string `json:"info_type"`
	ActionType string `json:"action_type"`
}

// Decode translates one wire frame into an Inbound variant. The variant
// is selected by the most specific tag present, in precedence order
// event > info_type > action_type. A tag value this codec does not
// recognize decodes to Unrecognized, never an error. A frame that is not
// a valid JSON object, or whose fields do not fit the types of the
// recognized variant (or of the tag fields), is a decode error.
func Decode(data []byte) (Inbound, error) {
	var env tagEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("protocol: decode envelope: %w", err)
	}

	tag := env.Event
	if tag == "" {
		tag = env.InfoType
	}
	if tag == "" {
		tag = env.ActionType
	}

	switch tag {
	case "INFO", "SUMMARY":
		var v InfoSnapshot
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("protocol: decode INFO: %w", err)
		}
		return v, nil
	case "ZONE_EVENT":
		var v ZoneEvent
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("protocol: decode ZONE_EVENT: %w", err)
		}
		return v, nil
	case "ZONE_ADD":
		var v ZoneAdd
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("protocol: decode ZONE_ADD: %w", err)
		}
		return v, nil
	case "ZONE_UPDATE":
		var v ZoneUpdate
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("protocol: decode ZONE_UPDATE: %w", err)
		}
		return v, nil
	case "ZONE_ACTIVE":
		var v ZoneActive
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("protocol: decode ZONE_ACTIVE: %w", err)
		}
		return v, nil
	case "ARMING":
		var v Arming
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("protocol: decode ARMING: %w", err)
		}
		return v, nil
	case "ALARM":
		var v Alarm
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("protocol: decode ALARM: %w", err)
		}
		return v, nil
	case "SECURE_ARM":
		var v SecureArm
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("protocol: decode SECURE_ARM: %w", err)
		}
		return v, nil
	case "ERROR":
		var v PanelError
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("protocol: decode ERROR: %w", err)
		}
		return v, nil
	case "ACK":
		var v Ack
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("protocol: decode ACK: %w", err)
		}
		return v, nil
	default:
		return Unrecognized{Tag: tag, Raw: append(json.RawMessage(nil), data...)}, nil
	}
}

// outboundWire is the canonical on-the-wire shape for every outbound
// action. Field order here IS the canonical field order the codec
// contract requires: nonce, action, token, version, source,
// partition_id, user_code, then action-specific fields.
type outboundWire struct {
	Nonce       string  `json:"nonce"`
	Action      string  `json:"action"`
	Token       string  `json:"token"`
	Version     string  `json:"version"`
	Source      string  `json:"source"`
	PartitionID *int    `json:"partition_id,omitempty"`
	UserCode    string  `json:"user_code,omitempty"`
	ArmingType  string  `json:"arming_type,omitempty"`
	ExitDelay   *int    `json:"exit_delay,omitempty"`
	Bypass      *bool   `json:"bypass,omitempty"`
	AlarmType   string  `json:"alarm_type,omitempty"`
}

// Encode renders action as the canonical wire frame, stamped with token
// and nonce.
func Encode(action OutboundAction, token, nonce string) ([]byte, error) {
	w := outboundWire{
		Nonce:   nonce,
		Action:  action.action(),
		Token:   token,
		Version: "0",
		Source:  "C4",
	}

	switch a := action.(type) {
	case InfoRequest:
		// no additional fields
	case ArmingAction:
		pid := a.PartitionID
		w.PartitionID = &pid
		w.UserCode = a.UserCode
		w.ArmingType = "ARM_" + string(a.ArmType)
		w.ExitDelay = a.ExitDelay
		w.Bypass = a.Bypass
	case DisarmAction:
		pid := a.PartitionID
		w.PartitionID = &pid
		w.UserCode = a.UserCode
	case TriggerAction:
		pid := a.PartitionID
		w.PartitionID = &pid
		w.AlarmType = string(a.AlarmType)
	default:
		return nil, fmt.Errorf("protocol: unknown outbound action type %T", action)
	}

	return json.Marshal(w)
}

// RedactUserCode returns data with any top-level "user_code" field value
// masked to a fixed-width placeholder, for debug logging of outbound
// frames. data is expected to already be valid JSON (e.g. the return
// value of Encode); malformed input is returned unchanged.
func RedactUserCode(data []byte) []byte {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return data
	}
	if _, ok := m["user_code"]; !ok {
		return data
	}
	m["user_code"] = json.RawMessage(`"******"`)
	redacted, err := json.Marshal(m)
	if err != nil {
		return data
	}
	return redacted
}
