package config

import (
	"errors"
	"regexp"
	"time"

	"go.uber.org/zap/zapcore"
)

type Config struct {
	LogLevel zapcore.Level
	Harvia   HarviaConfig  `mapstructure:"harvia"`
	Device   DeviceConfig  `mapstructure:"device"`
	HomeKit  HomeKitConfig `mapstructure:"homekit"`
	Stream   StreamConfig  `mapstructure:"stream"`
	Command  CommandConfig `mapstructure:"command"`
	Session  SessionConfig `mapstructure:"session"`

	Port    uint `mapstructure:"port"`
	HttpLog bool `mapstructure:"http_log"`
}

type HarviaConfig struct {
	Username string
	Password string
	// BaseURL of the endpoint discovery service.
	BaseURL string `mapstructure:"base_url"`
}

type DeviceConfig struct {
	// Id pins the bridge to one device. Empty means auto-discover, which
	// fails at startup unless exactly one device is visible.
	Id   string
	Name string
}

type HomeKitConfig struct {
	// Pin is the 8-digit pairing code, digits only.
	Pin         string
	Port        uint
	StoragePath string `mapstructure:"storage_path"`
	BridgeName  string `mapstructure:"bridge_name"`
}

type StreamConfig struct {
	HeartbeatTimeoutSeconds   uint32  `mapstructure:"heartbeat_timeout_seconds"`
	StabilityThresholdSeconds uint32  `mapstructure:"stability_threshold_seconds"`
	BackoffBaseMillis         uint32  `mapstructure:"backoff_base_millis"`
	BackoffMaxMillis          uint32  `mapstructure:"backoff_max_millis"`
	BackoffFactor             float64 `mapstructure:"backoff_factor"`
}

type CommandConfig struct {
	TimeoutSeconds uint32 `mapstructure:"timeout_seconds"`
}

type SessionConfig struct {
	RefreshMarginSeconds     uint32 `mapstructure:"refresh_margin_seconds"`
	KeepAliveIntervalMinutes uint32 `mapstructure:"keepalive_interval_minutes"`
	MaxRetryAttempts         uint32 `mapstructure:"max_retry_attempts"`
}

func (c StreamConfig) HeartbeatTimeout() time.Duration {
	return time.Duration(c.HeartbeatTimeoutSeconds) * time.Second
}

func (c StreamConfig) StabilityThreshold() time.Duration {
	return time.Duration(c.StabilityThresholdSeconds) * time.Second
}

func (c StreamConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMillis) * time.Millisecond
}

func (c StreamConfig) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxMillis) * time.Millisecond
}

func (c CommandConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c SessionConfig) RefreshMargin() time.Duration {
	return time.Duration(c.RefreshMarginSeconds) * time.Second
}

func (c SessionConfig) KeepAliveInterval() time.Duration {
	return time.Duration(c.KeepAliveIntervalMinutes) * time.Minute
}

var pinRegexp = regexp.MustCompile(`^[0-9]{8}$`)

// CheckPin validates the HomeKit pairing code format.
func CheckPin(pin string) error {
	if !pinRegexp.MatchString(pin) {
		return errors.New("pairing pin must be exactly 8 digits")
	}
	return nil
}
