package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeAppliesOnlyPresentFields(t *testing.T) {
	base := DeviceState{Power: true, TargetTemperature: 80, LightOn: true}

	temp := 90.0
	merged := base.Merge(StateDelta{TargetTemperature: &temp})

	assert.True(t, merged.Power)
	assert.True(t, merged.LightOn)
	assert.Equal(t, 90.0, merged.TargetTemperature)
}

func TestMergeDecodesDoorFromStatusCodes(t *testing.T) {
	codes := "190000"
	merged := DeviceState{}.Merge(StateDelta{StatusCodes: &codes})
	assert.True(t, merged.DoorOpen)
	assert.Equal(t, "190000", merged.StatusCodes)

	codes = "100000"
	merged = merged.Merge(StateDelta{StatusCodes: &codes})
	assert.False(t, merged.DoorOpen)
}

func TestDoorOpenFromStatusCodes(t *testing.T) {
	assert.True(t, DoorOpenFromStatusCodes("090000"))
	assert.False(t, DoorOpenFromStatusCodes("000000"))
	assert.False(t, DoorOpenFromStatusCodes("9"))
	assert.False(t, DoorOpenFromStatusCodes(""))
	assert.False(t, DoorOpenFromStatusCodes("x?0000"))
}

func TestStateDeltaIsZero(t *testing.T) {
	assert.True(t, StateDelta{}.IsZero())
	assert.True(t, StateDelta{Unknown: []string{"huh"}}.IsZero())

	on := true
	assert.False(t, StateDelta{Power: &on}.IsZero())
}

func TestValueOfMapsBooleansToWireInts(t *testing.T) {
	s := DeviceState{Power: true, LightOn: false, TargetTemperature: 75}
	assert.Equal(t, 1.0, s.ValueOf(AttrPower))
	assert.Equal(t, 0.0, s.ValueOf(AttrLight))
	assert.Equal(t, 75.0, s.ValueOf(AttrTargetTemperature))

	on := true
	v, ok := StateDelta{SteamerOn: &on}.ValueOf(AttrSteamer)
	assert.True(t, ok)
	assert.Equal(t, 1.0, v)

	_, ok = StateDelta{SteamerOn: &on}.ValueOf(AttrPower)
	assert.False(t, ok)
}

func TestValidateCommand(t *testing.T) {
	assert.NoError(t, ValidateCommand(AttrPower, 1))
	assert.NoError(t, ValidateCommand(AttrTargetTemperature, 40))
	assert.NoError(t, ValidateCommand(AttrTargetTemperature, 110))
	assert.NoError(t, ValidateCommand(AttrTargetHumidity, 55))
	assert.NoError(t, ValidateCommand(AttrFanSpeed, 0))

	assert.ErrorIs(t, ValidateCommand(AttrPower, 2), ErrInvalidValue)
	assert.ErrorIs(t, ValidateCommand(AttrTargetTemperature, 39), ErrInvalidValue)
	assert.ErrorIs(t, ValidateCommand(AttrTargetTemperature, 111), ErrInvalidValue)
	assert.ErrorIs(t, ValidateCommand(AttrTargetHumidity, 101), ErrInvalidValue)
	assert.ErrorIs(t, ValidateCommand(AttrFanSpeed, 0.5), ErrInvalidValue)
	assert.ErrorIs(t, ValidateCommand(Attribute("current_temperature"), 1), ErrInvalidValue)
}
