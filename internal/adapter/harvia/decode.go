package harvia

import (
	"fmt"
	"sort"
	"time"

	"sauna2hap/internal/core/domain"
)

// decodeDelta maps one raw device data record onto a partial state update.
// Fields the decoder does not recognize end up in Unknown so the caller
// can log them instead of dropping them silently.
func decodeDelta(raw map[string]any) domain.StateDelta {
	var delta domain.StateDelta

	for key, value := range raw {
		if value == nil {
			continue
		}
		switch key {
		case "active":
			if b, ok := toBool(value); ok {
				delta.Power = &b
			}
		case "targetTemp":
			if f, ok := toFloat(value); ok {
				delta.TargetTemperature = &f
			}
		case "temperature":
			if f, ok := toFloat(value); ok {
				delta.CurrentTemperature = &f
			}
		case "targetRh":
			if n, ok := toInt(value); ok {
				delta.TargetHumidity = &n
			}
		case "humidity":
			if n, ok := toInt(value); ok {
				delta.CurrentHumidity = &n
			}
		case "fan":
			if n, ok := toInt(value); ok {
				delta.FanSpeed = &n
			}
		case "light":
			if b, ok := toBool(value); ok {
				delta.LightOn = &b
			}
		case "steamEn":
			if b, ok := toBool(value); ok {
				delta.SteamerOn = &b
			}
		case "remainingTime":
			if n, ok := toInt(value); ok {
				delta.RemainingTime = &n
			}
		case "statusCodes":
			// Arrives as a number or a string depending on firmware.
			s := fmt.Sprintf("%v", value)
			if f, ok := toFloat(value); ok {
				s = fmt.Sprintf("%.0f", f)
			}
			delta.StatusCodes = &s
		case "displayName":
			if s, ok := value.(string); ok && s != "" {
				delta.DisplayName = &s
			}
		case "timestamp":
			delta.Timestamp = parseTimestamp(value)
		case "deviceId", "type", "moisture", "steamOn", "remoteStartEn",
			"id", "connectionState", "hwVersion", "swVersion", "metadata":
			// Known but unmapped fields.
		default:
			delta.Unknown = append(delta.Unknown, key)
		}
	}
	sort.Strings(delta.Unknown)
	return delta
}

func toBool(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case float64:
		return x != 0, true
	case string:
		return x == "1" || x == "true", true
	}
	return false, false
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	}
	return 0, false
}

func toInt(v any) (int, bool) {
	if f, ok := toFloat(v); ok {
		return int(f), true
	}
	return 0, false
}

func parseTimestamp(v any) time.Time {
	switch x := v.(type) {
	case string:
		for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, x); err == nil {
				return t
			}
		}
	case float64:
		// Epoch seconds.
		if x > 0 {
			return time.Unix(int64(x), 0)
		}
	}
	return time.Time{}
}
