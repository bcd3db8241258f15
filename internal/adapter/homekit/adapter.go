package homekit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sauna2hap/internal/config"
	"sauna2hap/internal/core/domain"
	"sauna2hap/internal/core/service"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"
	"github.com/carlmjohnson/versioninfo"
	"go.uber.org/zap"
)

// submitTimeout bounds a remote write: the optimistic phase of a command
// (validation plus the synchronous mutation call).
const submitTimeout = 20 * time.Second

// reachabilityGrace is how long the link may be down before the accessory
// is flagged unreachable. Short blips stay invisible to HomeKit.
const reachabilityGrace = 60 * time.Second

// Adapter hosts the HomeKit bridge. Reads are served from the state store
// snapshot; writes become command submits against the master actor; push
// updates arrive over the eventstream and land in characteristics.
type Adapter struct {
	cfg    config.HomeKitConfig
	device domain.DeviceHandle
	store  *service.StateStore
	system *actor.ActorSystem
	master *actor.PID
	logger *zap.Logger

	eventStream *eventstream.EventStream
	sub         *eventstream.Subscription

	bridge *accessory.Bridge
	sauna  *SaunaAccessory
	server *hap.Server

	mu        sync.Mutex
	linkTimer *time.Timer
}

func NewAdapter(cfg config.HomeKitConfig, device domain.DeviceHandle, store *service.StateStore,
	eventStream *eventstream.EventStream, system *actor.ActorSystem, master *actor.PID,
	logger *zap.Logger) (*Adapter, error) {

	a := &Adapter{
		cfg:         cfg,
		device:      device,
		store:       store,
		system:      system,
		master:      master,
		eventStream: eventStream,
		logger:      logger.With(zap.String("component", "homekit")),
	}

	a.bridge = accessory.NewBridge(accessory.Info{
		Name:         cfg.BridgeName,
		Manufacturer: "Harvia",
		Firmware:     versioninfo.Short(),
	})
	a.sauna = NewSaunaAccessory(accessory.Info{
		Name:         device.Name,
		SerialNumber: device.ID,
		Manufacturer: "Harvia",
		Model:        "Xenio WiFi",
		Firmware:     versioninfo.Short(),
	})
	a.wireRemoteUpdates()

	server, err := hap.NewServer(hap.NewFsStore(cfg.StoragePath), a.bridge.A, a.sauna.A)
	if err != nil {
		return nil, fmt.Errorf("homekit server: %w", err)
	}
	server.Pin = cfg.Pin
	if cfg.Port > 0 {
		server.Addr = fmt.Sprintf(":%d", cfg.Port)
	}
	a.server = server
	return a, nil
}

// Start seeds the characteristics, subscribes for updates and serves the
// accessory protocol until ctx is cancelled.
func (a *Adapter) Start(ctx context.Context) error {
	a.sauna.Update(a.store.Read())

	a.sub = a.eventStream.Subscribe(func(evt any) {
		switch e := evt.(type) {
		case domain.StateUpdatedEvent:
			a.sauna.Update(e.Current)
		case domain.LinkStateEvent:
			a.onLinkState(e)
		}
	})
	defer a.eventStream.Unsubscribe(a.sub)

	a.logger.Info("homekit bridge serving",
		zap.String("bridge", a.cfg.BridgeName), zap.String("accessory", a.device.Name))
	return a.server.ListenAndServe(ctx)
}

// wireRemoteUpdates connects characteristic writes from controllers to
// command submits. A rejected submit rolls the characteristic back to the
// snapshot so the Home app does not show a value the device refused.
func (a *Adapter) wireRemoteUpdates() {
	a.sauna.Thermostat.TargetHeatingCoolingState.OnValueRemoteUpdate(func(v int) {
		value := 0.0
		if v != 0 {
			value = 1
		}
		if err := a.submit(domain.AttrPower, value); err != nil {
			a.sauna.Update(a.store.Read())
		}
	})
	a.sauna.Thermostat.TargetTemperature.OnValueRemoteUpdate(func(v float64) {
		if err := a.submit(domain.AttrTargetTemperature, v); err != nil {
			a.sauna.Thermostat.TargetTemperature.SetValue(a.store.Read().TargetTemperature)
		}
	})
	a.sauna.Fan.Active.OnValueRemoteUpdate(func(v int) {
		if err := a.submit(domain.AttrFanSpeed, float64(v)); err != nil {
			a.sauna.Update(a.store.Read())
		}
	})
	a.sauna.Light.On.OnValueRemoteUpdate(func(v bool) {
		if err := a.submit(domain.AttrLight, boolValue(v)); err != nil {
			a.sauna.Light.On.SetValue(a.store.Read().LightOn)
		}
	})
	a.sauna.Steamer.On.OnValueRemoteUpdate(func(v bool) {
		if err := a.submit(domain.AttrSteamer, boolValue(v)); err != nil {
			a.sauna.Steamer.On.SetValue(a.store.Read().SteamerOn)
		}
	})
}

// submit runs one write intent through the dispatcher and waits for the
// optimistic phase. Runs on the accessory protocol's request goroutine.
func (a *Adapter) submit(attr domain.Attribute, value float64) error {
	a.logger.Debug("homekit write", zap.String("attribute", string(attr)), zap.Float64("value", value))

	future := a.system.Root.RequestFuture(a.master, domain.SubmitCommandRequest{
		Attribute: attr,
		Value:     value,
	}, submitTimeout)
	res, err := future.Result()
	if err != nil {
		a.logger.Warn("homekit write got no answer", zap.String("attribute", string(attr)), zap.Error(err))
		return err
	}
	resp, ok := res.(domain.SubmitCommandResponse)
	if !ok {
		return fmt.Errorf("unexpected submit response %T", res)
	}
	if resp.HasResponseError() {
		a.logger.Warn("homekit write rejected",
			zap.String("attribute", string(attr)), zap.Error(resp.GetResponseError()))
		return resp.GetResponseError()
	}
	return nil
}

// onLinkState flags the accessory unreachable only after the outage
// outlives the grace period; the snapshot keeps being served either way.
func (a *Adapter) onLinkState(evt domain.LinkStateEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if evt.Connected {
		if a.linkTimer != nil {
			a.linkTimer.Stop()
			a.linkTimer = nil
		}
		a.sauna.Reachable.SetValue(true)
		return
	}
	if a.linkTimer != nil {
		return
	}
	a.linkTimer = time.AfterFunc(reachabilityGrace, func() {
		a.logger.Warn("cloud link down past grace period, flagging unreachable")
		a.sauna.Reachable.SetValue(false)
	})
}

func boolValue(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
