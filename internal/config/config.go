// Package config loads the bridge daemon's configuration from the
// process environment into an immutable Config value.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/qolsysgw/panelgw/internal/errs"
)

// Panel groups the panel-connection settings.
type Panel struct {
	Host       string
	Port       int
	Token      string
	UserCode   string
	UniqueID   string
	VerifyCert bool
}

// MQTT groups the broker-connection settings.
type MQTT struct {
	Host     string
	Port     int
	Username string
	Password string
	QoS      byte
	Retain   bool
}

// Arming groups the per-mode arming defaults.
type Arming struct {
	AwayExitDelaySeconds int
	StayExitDelaySeconds int
	AwayBypass           bool
	StayBypass           bool
	TriggerDefault       string // TRIGGER, TRIGGER_FIRE, TRIGGER_POLICE, TRIGGER_AUXILIARY
}

// HA groups the Home Assistant discovery/control settings.
type HA struct {
	DiscoveryPrefix     string
	CheckUserCode       bool
	UserCode            string
	CodeArmRequired     bool
	CodeDisarmRequired  bool
	CodeTriggerRequired bool
	StatusTopic         string
	StatusOnlinePayload string
}

// Config is the immutable, validated configuration for one bridge
// daemon instance.
type Config struct {
	Panel    Panel
	MQTT     MQTT
	Arming   Arming
	HA       HA
	LogLevel string
}

// Load reads the configuration from the process environment. Any
// failure is returned as an *errs.ConfigError.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	cfg.Panel.Host = os.Getenv("QOLSYS_PANEL_HOST")
	cfg.Panel.Token = os.Getenv("QOLSYS_PANEL_TOKEN")
	cfg.Panel.UserCode = os.Getenv("QOLSYS_PANEL_USER_CODE")
	if v := os.Getenv("QOLSYS_PANEL_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, errs.NewConfigError("QOLSYS_PANEL_PORT", err)
		}
		cfg.Panel.Port = port
	}
	if v := os.Getenv("QOLSYS_PANEL_UNIQUE_ID"); v != "" {
		cfg.Panel.UniqueID = v
	}
	if v := os.Getenv("QOLSYS_PANEL_VERIFY_CERT"); v != "" {
		verify, err := strconv.ParseBool(v)
		if err != nil {
			return nil, errs.NewConfigError("QOLSYS_PANEL_VERIFY_CERT", err)
		}
		cfg.Panel.VerifyCert = verify
	}

	cfg.MQTT.Host = os.Getenv("MQTT_HOST")
	cfg.MQTT.Username = os.Getenv("MQTT_USERNAME")
	cfg.MQTT.Password = os.Getenv("MQTT_PASSWORD")
	if v := os.Getenv("MQTT_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, errs.NewConfigError("MQTT_PORT", err)
		}
		cfg.MQTT.Port = port
	}
	if v := os.Getenv("MQTT_QOS"); v != "" {
		qos, err := strconv.Atoi(v)
		if err != nil {
			return nil, errs.NewConfigError("MQTT_QOS", err)
		}
		cfg.MQTT.QoS = byte(qos)
	}
	if v := os.Getenv("MQTT_RETAIN"); v != "" {
		retain, err := strconv.ParseBool(v)
		if err != nil {
			return nil, errs.NewConfigError("MQTT_RETAIN", err)
		}
		cfg.MQTT.Retain = retain
	}

	if v := os.Getenv("QOLSYS_ARM_AWAY_EXIT_DELAY"); v != "" {
		d, err := strconv.Atoi(v)
		if err != nil {
			return nil, errs.NewConfigError("QOLSYS_ARM_AWAY_EXIT_DELAY", err)
		}
		cfg.Arming.AwayExitDelaySeconds = d
	}
	if v := os.Getenv("QOLSYS_ARM_STAY_EXIT_DELAY"); v != "" {
		d, err := strconv.Atoi(v)
		if err != nil {
			return nil, errs.NewConfigError("QOLSYS_ARM_STAY_EXIT_DELAY", err)
		}
		cfg.Arming.StayExitDelaySeconds = d
	}
	if v := os.Getenv("QOLSYS_ARM_AWAY_BYPASS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, errs.NewConfigError("QOLSYS_ARM_AWAY_BYPASS", err)
		}
		cfg.Arming.AwayBypass = b
	}
	if v := os.Getenv("QOLSYS_ARM_STAY_BYPASS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, errs.NewConfigError("QOLSYS_ARM_STAY_BYPASS", err)
		}
		cfg.Arming.StayBypass = b
	}
	if v := os.Getenv("QOLSYS_TRIGGER_DEFAULT_COMMAND"); v != "" {
		cfg.Arming.TriggerDefault = v
	}

	if v := os.Getenv("HA_DISCOVERY_PREFIX"); v != "" {
		cfg.HA.DiscoveryPrefix = v
	}
	if v := os.Getenv("HA_CHECK_USER_CODE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, errs.NewConfigError("HA_CHECK_USER_CODE", err)
		}
		cfg.HA.CheckUserCode = b
	}
	cfg.HA.UserCode = os.Getenv("HA_USER_CODE")
	if v := os.Getenv("HA_CODE_ARM_REQUIRED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, errs.NewConfigError("HA_CODE_ARM_REQUIRED", err)
		}
		cfg.HA.CodeArmRequired = b
	}
	if v := os.Getenv("HA_CODE_DISARM_REQUIRED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, errs.NewConfigError("HA_CODE_DISARM_REQUIRED", err)
		}
		cfg.HA.CodeDisarmRequired = b
	}
	if v := os.Getenv("HA_CODE_TRIGGER_REQUIRED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, errs.NewConfigError("HA_CODE_TRIGGER_REQUIRED", err)
		}
		cfg.HA.CodeTriggerRequired = b
	}
	if v := os.Getenv("HA_STATUS_TOPIC"); v != "" {
		cfg.HA.StatusTopic = v
	} else {
		cfg.HA.StatusTopic = cfg.HA.DiscoveryPrefix + "/status"
	}
	if v := os.Getenv("HA_STATUS_ONLINE_PAYLOAD"); v != "" {
		cfg.HA.StatusOnlinePayload = v
	}

	cfg.LogLevel = os.Getenv("LOG_LEVEL")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	c.Panel.Port = 12345
	c.Panel.UniqueID = "qolsys_panel"
	c.MQTT.Port = 1883
	c.MQTT.QoS = 1
	c.MQTT.Retain = true
	c.Arming.TriggerDefault = "TRIGGER"
	c.HA.DiscoveryPrefix = "homeassistant"
	c.HA.CheckUserCode = true
	c.HA.StatusTopic = "homeassistant/status"
	c.HA.StatusOnlinePayload = "online"
}

var validTriggerDefaults = map[string]bool{
	"TRIGGER":           true,
	"TRIGGER_FIRE":      true,
	"TRIGGER_POLICE":    true,
	"TRIGGER_AUXILIARY": true,
}

// wireTriggerTypes maps the env-var value space (validated above) to
// protocol.TriggerAlarmType's wire value space. The bare "TRIGGER"
// default (no type suffix) maps to POLICE, the panel's own default
// alarm type for an untyped trigger.
var wireTriggerTypes = map[string]string{
	"TRIGGER":           "POLICE",
	"TRIGGER_POLICE":    "POLICE",
	"TRIGGER_FIRE":      "FIRE",
	"TRIGGER_AUXILIARY": "AUXILIARY",
}

// TriggerDefaultWireType translates TriggerDefault from its env-var
// value space into protocol.TriggerAlarmType's wire value space. Only
// valid after Validate has accepted the config.
func (a Arming) TriggerDefaultWireType() string {
	return wireTriggerTypes[a.TriggerDefault]
}

// Validate checks required fields and value domains, returning an
// *errs.ConfigError describing the first problem found.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Panel.Host) == "" {
		return errs.NewConfigError("QOLSYS_PANEL_HOST", fmt.Errorf("must not be empty"))
	}
	if strings.TrimSpace(c.Panel.Token) == "" {
		return errs.NewConfigError("QOLSYS_PANEL_TOKEN", fmt.Errorf("must not be empty"))
	}
	if strings.TrimSpace(c.MQTT.Host) == "" {
		return errs.NewConfigError("MQTT_HOST", fmt.Errorf("must not be empty"))
	}
	if strings.TrimSpace(c.Panel.UniqueID) == "" {
		return errs.NewConfigError("QOLSYS_PANEL_UNIQUE_ID", fmt.Errorf("must not be empty"))
	}
	if !validTriggerDefaults[c.Arming.TriggerDefault] {
		return errs.NewConfigError("QOLSYS_TRIGGER_DEFAULT_COMMAND", fmt.Errorf("must be one of TRIGGER, TRIGGER_FIRE, TRIGGER_POLICE, TRIGGER_AUXILIARY, got %q", c.Arming.TriggerDefault))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return errs.NewConfigError("LOG_LEVEL", err)
	}
	return nil
}
