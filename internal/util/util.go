package util

import (
	"sauna2hap/internal/config"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		Harvia: config.HarviaConfig{
			Username: "someone@example.com",
			Password: "secret",
		},
		Device: config.DeviceConfig{
			Id: "sauna-1",
		},
		HomeKit: config.HomeKitConfig{
			Pin:         "00102003",
			StoragePath: "./db",
			BridgeName:  "Sauna Bridge",
		},
		Stream: config.StreamConfig{
			HeartbeatTimeoutSeconds:   120,
			StabilityThresholdSeconds: 60,
			BackoffBaseMillis:         1000,
			BackoffMaxMillis:          60000,
			BackoffFactor:             2,
		},
		Command: config.CommandConfig{
			TimeoutSeconds: 30,
		},
		Session: config.SessionConfig{
			RefreshMarginSeconds:     300,
			KeepAliveIntervalMinutes: 10,
			MaxRetryAttempts:         5,
		},
		Port: 8080,
	}
}
