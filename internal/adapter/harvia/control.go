package harvia

import (
	"context"
	"fmt"
	"math"

	"sauna2hap/internal/core/domain"
	"sauna2hap/internal/core/port"

	"go.uber.org/zap"
)

// Control implements device mutations and reads over the GraphQL backend.
// On an unauthorized response it invalidates the session and retries once
// with a fresh token.
type Control struct {
	client  *Client
	session port.SessionProvider
	logger  *zap.Logger
}

var _ port.CloudControl = (*Control)(nil)

func NewControl(client *Client, session port.SessionProvider, logger *zap.Logger) *Control {
	return &Control{
		client:  client,
		session: session,
		logger:  logger.With(zap.String("component", "control")),
	}
}

// SetAttribute sends an UpdateDevice mutation for a single attribute. The
// backend echoes the fields it accepted; those come back as a delta.
func (c *Control) SetAttribute(ctx context.Context, deviceID string, attr domain.Attribute, value float64) (domain.StateDelta, error) {
	input, err := mutationInput(attr, value)
	if err != nil {
		return domain.StateDelta{}, err
	}

	var payload struct {
		UpdateDevice map[string]any `json:"updateDevice"`
	}
	err = c.authedQuery(ctx, "device", mutationUpdateDevice, map[string]any{
		"deviceId": deviceID,
		"input":    input,
	}, &payload)
	if err != nil {
		return domain.StateDelta{}, err
	}
	if payload.UpdateDevice == nil {
		return domain.StateDelta{}, nil
	}
	delta := decodeDelta(payload.UpdateDevice)
	c.logger.Debug("mutation acknowledged", zap.String("attribute", string(attr)), zap.Float64("value", value))
	return delta, nil
}

// LatestData fetches the device's most recent full data record.
func (c *Control) LatestData(ctx context.Context, deviceID string) (domain.StateDelta, error) {
	var payload struct {
		GetLatestDeviceData map[string]any `json:"getLatestDeviceData"`
	}
	err := c.authedQuery(ctx, "data", queryLatestDeviceData, map[string]any{
		"deviceId": deviceID,
	}, &payload)
	if err != nil {
		return domain.StateDelta{}, err
	}
	if payload.GetLatestDeviceData == nil {
		return domain.StateDelta{}, fmt.Errorf("%w: empty latest data record", domain.ErrMalformed)
	}
	return decodeDelta(payload.GetLatestDeviceData), nil
}

// ListDevices returns the account's visible devices.
func (c *Control) ListDevices(ctx context.Context) ([]deviceListItem, error) {
	var payload struct {
		ListDevices struct {
			Items []deviceListItem `json:"items"`
		} `json:"listDevices"`
	}
	if err := c.authedQuery(ctx, "device", queryListDevices, nil, &payload); err != nil {
		return nil, err
	}
	return payload.ListDevices.Items, nil
}

func (c *Control) authedQuery(ctx context.Context, endpoint, query string, vars map[string]any, out any) error {
	token, err := c.session.Token(ctx)
	if err != nil {
		return err
	}
	err = c.client.Query(ctx, endpoint, token, query, vars, out)
	if err != nil && domain.AuthSuspect(err) {
		c.logger.Debug("request unauthorized, refreshing session", zap.Error(err))
		c.session.Invalidate()
		token, err = c.session.Token(ctx)
		if err != nil {
			return err
		}
		err = c.client.Query(ctx, endpoint, token, query, vars, out)
	}
	return err
}

// mutationInput builds the UpdateDeviceInput for one attribute write.
// Booleans go on the wire as 0/1 integers.
func mutationInput(attr domain.Attribute, value float64) (map[string]any, error) {
	if err := domain.ValidateCommand(attr, value); err != nil {
		return nil, err
	}
	switch attr {
	case domain.AttrPower:
		return map[string]any{"active": boolWire(value)}, nil
	case domain.AttrTargetTemperature:
		return map[string]any{"targetTemp": int(math.Round(value))}, nil
	case domain.AttrTargetHumidity:
		return map[string]any{"targetRh": int(math.Round(value))}, nil
	case domain.AttrFanSpeed:
		return map[string]any{"fan": int(math.Round(value))}, nil
	case domain.AttrLight:
		return map[string]any{"light": boolWire(value)}, nil
	case domain.AttrSteamer:
		return map[string]any{"steamEn": boolWire(value)}, nil
	}
	return nil, fmt.Errorf("%w: unknown attribute %q", domain.ErrInvalidValue, attr)
}

func boolWire(value float64) int {
	if value != 0 {
		return 1
	}
	return 0
}
