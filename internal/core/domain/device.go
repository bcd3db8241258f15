package domain

import (
	"math"
	"strconv"
	"time"
)

// DeviceHandle identifies the single bridged sauna. Resolved once at
// startup and immutable afterwards.
type DeviceHandle struct {
	ID   string
	Name string
}

// DeviceState is the canonical attribute snapshot of the sauna. Instances
// are immutable; a new snapshot with a bumped Version is produced on every
// merge.
type DeviceState struct {
	Power              bool
	TargetTemperature  float64
	CurrentTemperature float64
	TargetHumidity     int
	CurrentHumidity    int
	FanSpeed           int
	LightOn            bool
	SteamerOn          bool
	DoorOpen           bool
	RemainingTime      int
	StatusCodes        string
	DisplayName        string

	Version     uint64
	LastUpdated time.Time
}

// StateDelta is a partial device update. Only non-nil fields are merged
// into the snapshot. Unknown carries field names the decoder did not
// recognize, for logging only.
type StateDelta struct {
	Power              *bool
	TargetTemperature  *float64
	CurrentTemperature *float64
	TargetHumidity     *int
	CurrentHumidity    *int
	FanSpeed           *int
	LightOn            *bool
	SteamerOn          *bool
	RemainingTime      *int
	StatusCodes        *string
	DisplayName        *string

	Timestamp time.Time
	Unknown   []string
}

// IsZero reports whether the delta carries no recognized fields.
func (d StateDelta) IsZero() bool {
	return d.Power == nil && d.TargetTemperature == nil && d.CurrentTemperature == nil &&
		d.TargetHumidity == nil && d.CurrentHumidity == nil && d.FanSpeed == nil &&
		d.LightOn == nil && d.SteamerOn == nil && d.RemainingTime == nil &&
		d.StatusCodes == nil && d.DisplayName == nil
}

// Merge returns a copy of s with the delta's present fields applied.
// Version and LastUpdated are left untouched; the state store owns those.
func (s DeviceState) Merge(d StateDelta) DeviceState {
	if d.Power != nil {
		s.Power = *d.Power
	}
	if d.TargetTemperature != nil {
		s.TargetTemperature = *d.TargetTemperature
	}
	if d.CurrentTemperature != nil {
		s.CurrentTemperature = *d.CurrentTemperature
	}
	if d.TargetHumidity != nil {
		s.TargetHumidity = *d.TargetHumidity
	}
	if d.CurrentHumidity != nil {
		s.CurrentHumidity = *d.CurrentHumidity
	}
	if d.FanSpeed != nil {
		s.FanSpeed = *d.FanSpeed
	}
	if d.LightOn != nil {
		s.LightOn = *d.LightOn
	}
	if d.SteamerOn != nil {
		s.SteamerOn = *d.SteamerOn
	}
	if d.RemainingTime != nil {
		s.RemainingTime = *d.RemainingTime
	}
	if d.StatusCodes != nil {
		s.StatusCodes = *d.StatusCodes
		s.DoorOpen = DoorOpenFromStatusCodes(*d.StatusCodes)
	}
	if d.DisplayName != nil {
		s.DisplayName = *d.DisplayName
	}
	return s
}

// DoorOpenFromStatusCodes decodes the door contact from the device status
// code string. The second digit carries the safety status; 9 means the
// door is open.
func DoorOpenFromStatusCodes(codes string) bool {
	if len(codes) < 2 {
		return false
	}
	digit, err := strconv.Atoi(string(codes[1]))
	if err != nil {
		return false
	}
	return digit == 9
}

// Attribute names a writable or observable device attribute.
type Attribute string

const (
	AttrPower             Attribute = "power"
	AttrTargetTemperature Attribute = "target_temperature"
	AttrTargetHumidity    Attribute = "target_humidity"
	AttrFanSpeed          Attribute = "fan_speed"
	AttrLight             Attribute = "light"
	AttrSteamer           Attribute = "steamer"
)

// Device-advertised attribute bounds. The sauna controller rejects target
// temperatures outside 40-110 Celsius.
const (
	MinTargetTemperature = 40
	MaxTargetTemperature = 110
	MinTargetHumidity    = 0
	MaxTargetHumidity    = 100
	MaxFanSpeed          = 1
)

// ValueOf returns the snapshot's numeric value for attr. Booleans map to
// 0/1, matching the wire encoding of device mutations.
func (s DeviceState) ValueOf(attr Attribute) float64 {
	switch attr {
	case AttrPower:
		return boolValue(s.Power)
	case AttrTargetTemperature:
		return s.TargetTemperature
	case AttrTargetHumidity:
		return float64(s.TargetHumidity)
	case AttrFanSpeed:
		return float64(s.FanSpeed)
	case AttrLight:
		return boolValue(s.LightOn)
	case AttrSteamer:
		return boolValue(s.SteamerOn)
	}
	return 0
}

// ValueOf returns the delta's numeric value for attr and whether the delta
// carries that attribute at all.
func (d StateDelta) ValueOf(attr Attribute) (float64, bool) {
	switch attr {
	case AttrPower:
		if d.Power != nil {
			return boolValue(*d.Power), true
		}
	case AttrTargetTemperature:
		if d.TargetTemperature != nil {
			return *d.TargetTemperature, true
		}
	case AttrTargetHumidity:
		if d.TargetHumidity != nil {
			return float64(*d.TargetHumidity), true
		}
	case AttrFanSpeed:
		if d.FanSpeed != nil {
			return float64(*d.FanSpeed), true
		}
	case AttrLight:
		if d.LightOn != nil {
			return boolValue(*d.LightOn), true
		}
	case AttrSteamer:
		if d.SteamerOn != nil {
			return boolValue(*d.SteamerOn), true
		}
	}
	return 0, false
}

// SameValue reports whether two attribute values are equal on the wire.
// Setpoints compare with a small epsilon to absorb float decoding.
func SameValue(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func boolValue(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
