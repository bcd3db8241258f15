package domain

import (
	"fmt"
	"time"
)

type CommandStatus int

const (
	CommandInFlight CommandStatus = iota
	CommandAcknowledged
	CommandTimedOut
	CommandFailed
)

func (s CommandStatus) String() string {
	switch s {
	case CommandInFlight:
		return "in-flight"
	case CommandAcknowledged:
		return "acknowledged"
	case CommandTimedOut:
		return "timed-out"
	case CommandFailed:
		return "failed"
	}
	return "unknown"
}

// PendingCommand tracks one write intent from submission to a terminal
// status. Owned by the dispatcher; at most one per attribute is in flight,
// newer submits supersede older ones.
type PendingCommand struct {
	Token     string
	Attribute Attribute
	Desired   float64
	// Baseline is the attribute's value when the command was issued; it
	// fixes the direction the write moves in.
	Baseline float64
	IssuedAt time.Time
	Status   CommandStatus
}

func (c PendingCommand) String() string {
	return fmt.Sprintf("%s=%g (%s, %s)", c.Attribute, c.Desired, c.Token, c.Status)
}

// ConfirmedBy reports whether a pushed value settles this command: the
// desired value itself always does, and so does a value at or past it in
// the direction of the write. A stove trimming a setpoint of 80 to 81
// must not time the command out.
func (c PendingCommand) ConfirmedBy(value float64) bool {
	if SameValue(value, c.Desired) {
		return true
	}
	if c.Desired > c.Baseline {
		return value > c.Desired
	}
	if c.Desired < c.Baseline {
		return value < c.Desired
	}
	return false
}

// ValidateCommand checks a desired value against the attribute's domain
// before anything is sent to the backend.
func ValidateCommand(attr Attribute, value float64) error {
	switch attr {
	case AttrPower, AttrLight, AttrSteamer:
		if value != 0 && value != 1 {
			return fmt.Errorf("%w: %s must be 0 or 1, got %g", ErrInvalidValue, attr, value)
		}
	case AttrTargetTemperature:
		if value < MinTargetTemperature || value > MaxTargetTemperature {
			return fmt.Errorf("%w: %s must be within [%d, %d], got %g",
				ErrInvalidValue, attr, MinTargetTemperature, MaxTargetTemperature, value)
		}
	case AttrTargetHumidity:
		if value < MinTargetHumidity || value > MaxTargetHumidity {
			return fmt.Errorf("%w: %s must be within [%d, %d], got %g",
				ErrInvalidValue, attr, MinTargetHumidity, MaxTargetHumidity, value)
		}
	case AttrFanSpeed:
		if value != float64(int(value)) || value < 0 || value > MaxFanSpeed {
			return fmt.Errorf("%w: %s must be an integer within [0, %d], got %g",
				ErrInvalidValue, attr, MaxFanSpeed, value)
		}
	default:
		return fmt.Errorf("%w: attribute %q is not writable", ErrInvalidValue, attr)
	}
	return nil
}
