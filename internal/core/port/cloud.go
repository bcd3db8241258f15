package port

import (
	"context"

	"sauna2hap/internal/core/domain"
)

// CloudControl is the request side of the cloud backend: device mutations
// and on-demand state reads. Implementations map backend failures onto the
// domain error taxonomy.
type CloudControl interface {
	// SetAttribute sends a device mutation. The returned delta holds the
	// fields the backend acknowledged synchronously; it may be empty.
	SetAttribute(ctx context.Context, deviceID string, attr domain.Attribute, value float64) (domain.StateDelta, error)
	// LatestData fetches the device's latest full data record.
	LatestData(ctx context.Context, deviceID string) (domain.StateDelta, error)
}

// SessionProvider owns credentials and token lifecycle.
type SessionProvider interface {
	// Token returns a valid id token, refreshing or re-authenticating as
	// needed. Concurrent callers share one in-flight refresh.
	Token(ctx context.Context) (string, error)
	// Invalidate drops cached tokens so the next Token call re-authenticates.
	Invalidate()
}

// DeviceFinder resolves the configured or discovered device at startup.
type DeviceFinder interface {
	Resolve(ctx context.Context, configuredID string) (domain.DeviceHandle, error)
}

// StreamHandler receives decoded traffic from an open stream connection.
// Callbacks run on the connection's read pump; implementations must hand
// work off quickly (the stream actor forwards into its mailbox).
type StreamHandler interface {
	OnDelta(delta domain.StateDelta)
	OnKeepAlive()
	OnClosed(err error)
}

// StreamConn is one ephemeral realtime connection. Replaced, never reused,
// on reconnect.
type StreamConn interface {
	Close()
}

// StreamDialer opens the realtime subscription stream for a device.
type StreamDialer interface {
	Dial(ctx context.Context, deviceID string, handler StreamHandler) (StreamConn, error)
}
