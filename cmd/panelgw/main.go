// Command panelgw bridges a Qolsys IQ panel's Control4 TLS protocol to
// an MQTT broker using Home Assistant's MQTT discovery conventions.
//
// Configuration is entirely environment-driven (see internal/config);
// there are no flags.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/qolsysgw/panelgw/internal/config"
	"github.com/qolsysgw/panelgw/internal/errs"
	"github.com/qolsysgw/panelgw/internal/mqtttransport"
	"github.com/qolsysgw/panelgw/internal/supervisor"
	"github.com/qolsysgw/panelgw/pkg/controlplane"
	"github.com/qolsysgw/panelgw/pkg/domain"
	"github.com/qolsysgw/panelgw/pkg/mqttsurface"
	"github.com/qolsysgw/panelgw/pkg/panel"
	"github.com/qolsysgw/panelgw/pkg/protocol"
	"github.com/qolsysgw/panelgw/pkg/security"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))

	if err := run(cfg, logger); err != nil {
		logger.Error("panelgw exiting", "error", err)
		var bug *errs.Bug
		if errors.As(err, &bug) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	model := domain.NewModel(cfg.Panel.UniqueID)

	link := panel.New(panel.Config{
		Host:      cfg.Panel.Host,
		Port:      cfg.Panel.Port,
		TLSConfig: security.PanelTLSConfig(cfg.Panel.VerifyCert),
	}, func() ([]byte, error) {
		return protocol.Encode(protocol.InfoRequest{}, cfg.Panel.Token, newNonce())
	}, logger.With("component", "panel_link"))

	// surface is assigned below, after transport is constructed, but the
	// transport needs a reconnect hook that reaches it; the closure reads
	// the variable at call time, not at New() time, so the forward
	// reference is safe as long as surface is set before any reconnect
	// can fire (it is: Connect() only runs once both exist).
	var surface *mqttsurface.Surface

	transport := mqtttransport.New(mqtttransport.Config{
		Host:          cfg.MQTT.Host,
		Port:          cfg.MQTT.Port,
		ClientID:      fmt.Sprintf("panelgw-%s", cfg.Panel.UniqueID),
		Username:      cfg.MQTT.Username,
		Password:      cfg.MQTT.Password,
		LWTTopic:      protocol.InstanceAvailabilityTopic(cfg.HA.DiscoveryPrefix, cfg.Panel.UniqueID),
		LWTPayload:    "offline",
		OnlinePayload: "online",
		QoS:           cfg.MQTT.QoS,
		Retain:        cfg.MQTT.Retain,
	}, func() {
		if surface != nil {
			surface.Rediscover()
		}
	}, logger.With("component", "mqtt_transport"))

	cp := controlplane.New(controlplane.Config{
		PanelToken:           cfg.Panel.Token,
		HACheckUserCode:      cfg.HA.CheckUserCode,
		HAUserCode:           cfg.HA.UserCode,
		PanelUserCode:        cfg.Panel.UserCode,
		CodeArmRequired:      cfg.HA.CodeArmRequired,
		CodeDisarmRequired:   cfg.HA.CodeDisarmRequired,
		CodeTriggerRequired:  cfg.HA.CodeTriggerRequired,
		AwayExitDelaySeconds: cfg.Arming.AwayExitDelaySeconds,
		StayExitDelaySeconds: cfg.Arming.StayExitDelaySeconds,
		AwayBypass:           cfg.Arming.AwayBypass,
		StayBypass:           cfg.Arming.StayBypass,
		TriggerDefault:       protocol.TriggerAlarmType(cfg.Arming.TriggerDefaultWireType()),
	}, link, logger.With("component", "control_plane"))

	surface = mqttsurface.New(mqttsurface.Config{
		DiscoveryPrefix:     cfg.HA.DiscoveryPrefix,
		UniqueID:            cfg.Panel.UniqueID,
		StatusTopic:         cfg.HA.StatusTopic,
		OnlinePayload:       cfg.HA.StatusOnlinePayload,
		CodeArmRequired:     cfg.HA.CodeArmRequired,
		CodeDisarmRequired:  cfg.HA.CodeDisarmRequired,
		CodeTriggerRequired: cfg.HA.CodeTriggerRequired,
		AwayEnabled:         true,
		StayEnabled:         true,
	}, transport, model, cp.SessionToken, logger.With("component", "mqtt_surface"))

	model.Observe(surface.HandleChange)

	go pumpInbound(link, model, logger)

	tasks := []supervisor.Task{
		{
			Name:    "panel_link",
			Run:     link.Run,
			Restart: true,
		},
		{
			Name: "mqtt_connect",
			Run: func(ctx context.Context) error {
				if err := transport.Connect(); err != nil {
					return err
				}
				if err := surface.Start(); err != nil {
					return err
				}
				if err := cp.Subscribe(transport, cfg.HA.DiscoveryPrefix); err != nil {
					return err
				}
				// transport's onReconnect hook calls surface.Rediscover on
				// every (re)connect, including this first one, so no
				// separate initial call is needed here.
				<-ctx.Done()
				return ctx.Err()
			},
			Restart: true,
		},
	}

	sup := supervisor.New(tasks, panel.DefaultBackoffSchedule(), logger.With("component", "supervisor"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go watchLinkHealth(ctx, link, surface, logger)

	logger.Info("panelgw starting", "panel_host", cfg.Panel.Host, "mqtt_host", cfg.MQTT.Host)
	err := sup.Run(ctx)
	transport.Disconnect(250)
	logger.Info("panelgw stopped")
	return err
}

// degradedThreshold is the consecutive panel-link failure count spec.md
// §7 ties to ERROR-severity health reporting.
const degradedThreshold = 5

// watchLinkHealth polls the panel link's consecutive-failure count and
// publishes the instance diagnostic topic whenever the degraded state
// actually changes, so HA sees one retained flip per transition rather
// than a flood of identical retained publishes.
func watchLinkHealth(ctx context.Context, link *panel.PanelLink, surface *mqttsurface.Surface, logger *slog.Logger) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	degraded := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := link.ConsecutiveFailureCount() >= degradedThreshold
			if now == degraded {
				continue
			}
			degraded = now
			if degraded {
				logger.Error("panelgw: link health changed", "degraded", degraded, "consecutive_failures", link.ConsecutiveFailureCount())
			} else {
				logger.Info("panelgw: link health changed", "degraded", degraded, "consecutive_failures", link.ConsecutiveFailureCount())
			}
			surface.PublishDiagnostic(degraded)
		}
	}
}

// pumpInbound decodes raw frames off the panel link and applies them to
// the domain model, one at a time, for the process lifetime.
func pumpInbound(link *panel.PanelLink, model *domain.Model, logger *slog.Logger) {
	for frame := range link.Inbound() {
		msg, err := protocol.Decode(frame)
		if err != nil {
			logger.Warn("panelgw: dropping unparseable frame", "error", err, "frame", string(protocol.RedactUserCode(frame)))
			continue
		}
		if u, ok := msg.(protocol.Unrecognized); ok {
			logger.Warn("panelgw: dropping frame with unrecognized tag", "tag", u.Tag)
			continue
		}
		if err := model.Apply(msg); err != nil {
			logger.Error("panelgw: domain model rejected inbound message", "error", err)
		}
	}
}

func newNonce() string {
	id, err := uuid.NewRandom()
	if err == nil {
		return id.String()
	}
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
