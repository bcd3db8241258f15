package homekit

import (
	"github.com/brutella/hap/accessory"
	"github.com/brutella/hap/characteristic"
	"github.com/brutella/hap/service"

	"sauna2hap/internal/core/domain"
)

// SaunaAccessory is the HomeKit face of the sauna: a thermostat for
// power and temperature, plus fan, light, steamer, door contact and
// humidity services on the same accessory.
type SaunaAccessory struct {
	A *accessory.A

	Thermostat *service.Thermostat
	Fan        *service.FanV2
	Light      *service.Lightbulb
	Steamer    *service.Switch
	Door       *service.ContactSensor
	Humidity   *service.HumiditySensor
	Reachable  *characteristic.Reachable
}

func NewSaunaAccessory(info accessory.Info) *SaunaAccessory {
	a := accessory.New(info, accessory.TypeThermostat)

	sauna := &SaunaAccessory{A: a}

	sauna.Thermostat = service.NewThermostat()
	// stoves heat only; the controller accepts setpoints of 40 to 110
	sauna.Thermostat.TargetTemperature.SetMinValue(domain.MinTargetTemperature)
	sauna.Thermostat.TargetTemperature.SetMaxValue(domain.MaxTargetTemperature)
	sauna.Thermostat.TargetTemperature.SetStepValue(1)
	sauna.Thermostat.TargetTemperature.SetValue(domain.MinTargetTemperature)
	sauna.Thermostat.CurrentTemperature.SetMinValue(0)
	sauna.Thermostat.CurrentTemperature.SetMaxValue(domain.MaxTargetTemperature + 10)
	a.AddS(sauna.Thermostat.S)

	sauna.Fan = service.NewFanV2()
	a.AddS(sauna.Fan.S)

	sauna.Light = service.NewLightbulb()
	a.AddS(sauna.Light.S)

	sauna.Steamer = service.NewSwitch()
	a.AddS(sauna.Steamer.S)

	sauna.Door = service.NewContactSensor()
	a.AddS(sauna.Door.S)

	sauna.Humidity = service.NewHumiditySensor()
	a.AddS(sauna.Humidity.S)

	sauna.Reachable = characteristic.NewReachable()
	sauna.Reachable.SetValue(true)
	sauna.Thermostat.S.AddC(sauna.Reachable.C)

	return sauna
}

// Update pushes a state snapshot into the accessory's characteristics.
func (s *SaunaAccessory) Update(state domain.DeviceState) {
	heating := characteristic.CurrentHeatingCoolingStateOff
	target := characteristic.TargetHeatingCoolingStateOff
	if state.Power {
		heating = characteristic.CurrentHeatingCoolingStateHeat
		target = characteristic.TargetHeatingCoolingStateHeat
	}
	s.Thermostat.CurrentHeatingCoolingState.SetValue(heating)
	s.Thermostat.TargetHeatingCoolingState.SetValue(target)
	s.Thermostat.CurrentTemperature.SetValue(state.CurrentTemperature)
	if state.TargetTemperature >= domain.MinTargetTemperature {
		s.Thermostat.TargetTemperature.SetValue(state.TargetTemperature)
	}

	active := characteristic.ActiveInactive
	if state.FanSpeed > 0 {
		active = characteristic.ActiveActive
	}
	s.Fan.Active.SetValue(active)

	s.Light.On.SetValue(state.LightOn)
	s.Steamer.On.SetValue(state.SteamerOn)

	contact := characteristic.ContactSensorStateContactDetected
	if state.DoorOpen {
		contact = characteristic.ContactSensorStateContactNotDetected
	}
	s.Door.ContactSensorState.SetValue(contact)

	s.Humidity.CurrentRelativeHumidity.SetValue(float64(state.CurrentHumidity))
}
