package harvia

import (
	"context"
	"fmt"

	"sauna2hap/internal/core/domain"
	"sauna2hap/internal/core/port"

	"go.uber.org/zap"
)

// Registry resolves the bridged device at startup. With a configured id
// the device must exist; without one, exactly one device must be visible.
type Registry struct {
	control *Control
	logger  *zap.Logger
}

var _ port.DeviceFinder = (*Registry)(nil)

func NewRegistry(control *Control, logger *zap.Logger) *Registry {
	return &Registry{
		control: control,
		logger:  logger.With(zap.String("component", "registry")),
	}
}

func (r *Registry) Resolve(ctx context.Context, configuredID string) (domain.DeviceHandle, error) {
	items, err := r.control.ListDevices(ctx)
	if err != nil {
		return domain.DeviceHandle{}, err
	}
	for _, item := range items {
		r.logger.Info("device visible",
			zap.String("id", item.Id),
			zap.String("name", item.DisplayName),
			zap.String("type", item.Type),
			zap.String("connection", item.ConnectionState))
	}

	if configuredID != "" {
		for _, item := range items {
			if item.Id == configuredID {
				return handleFrom(item), nil
			}
		}
		return domain.DeviceHandle{}, fmt.Errorf("%w: configured id %q not in account", domain.ErrDeviceNotFound, configuredID)
	}

	switch len(items) {
	case 0:
		return domain.DeviceHandle{}, domain.ErrDeviceNotFound
	case 1:
		return handleFrom(items[0]), nil
	default:
		return domain.DeviceHandle{}, fmt.Errorf("%w: %d devices visible, set an explicit device id", domain.ErrDeviceAmbiguous, len(items))
	}
}

func handleFrom(item deviceListItem) domain.DeviceHandle {
	name := item.DisplayName
	if name == "" {
		name = item.Id
	}
	return domain.DeviceHandle{ID: item.Id, Name: name}
}
