package service

import (
	"testing"
	"time"

	"sauna2hap/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func boolPtr(v bool) *bool { return &v }

func floatPtr(v float64) *float64 { return &v }

func intPtr(v int) *int { return &v }

func stringPtr(v string) *string { return &v }

func TestStateStoreApplyMergesPartialDelta(t *testing.T) {
	store := NewStateStore(zap.NewNop())

	first, applied := store.Apply(domain.StateDelta{
		Power:             boolPtr(true),
		TargetTemperature: floatPtr(80),
	}, 0)
	assert.True(t, applied)
	assert.True(t, first.Power)
	assert.Equal(t, 80.0, first.TargetTemperature)
	assert.Equal(t, uint64(2), first.Version)

	// a later delta touching one field keeps the rest
	second, applied := store.Apply(domain.StateDelta{
		CurrentTemperature: floatPtr(45.5),
	}, 0)
	assert.True(t, applied)
	assert.True(t, second.Power)
	assert.Equal(t, 80.0, second.TargetTemperature)
	assert.Equal(t, 45.5, second.CurrentTemperature)
	assert.Equal(t, uint64(3), second.Version)
}

func TestStateStoreVersionMonotonicity(t *testing.T) {
	store := NewStateStore(zap.NewNop())

	last := store.Read().Version
	for i := 0; i < 10; i++ {
		snap, applied := store.Apply(domain.StateDelta{FanSpeed: intPtr(i % 2)}, 0)
		assert.True(t, applied)
		assert.Greater(t, snap.Version, last)
		last = snap.Version
	}
}

func TestStateStoreDiscardsSupersededEpoch(t *testing.T) {
	store := NewStateStore(zap.NewNop())
	store.AdvanceEpoch(2)

	before := store.Read()
	snap, applied := store.Apply(domain.StateDelta{Power: boolPtr(true)}, 1)
	assert.False(t, applied)
	assert.Equal(t, before.Version, snap.Version)
	assert.False(t, snap.Power)

	// current epoch still applies
	snap, applied = store.Apply(domain.StateDelta{Power: boolPtr(true)}, 2)
	assert.True(t, applied)
	assert.True(t, snap.Power)
}

func TestStateStoreEpochNeverRollsBack(t *testing.T) {
	store := NewStateStore(zap.NewNop())
	store.AdvanceEpoch(5)
	store.AdvanceEpoch(3)
	assert.Equal(t, uint64(5), store.Epoch())
}

func TestStateStoreIgnoresEmptyDelta(t *testing.T) {
	store := NewStateStore(zap.NewNop())

	before := store.Read()
	snap, applied := store.Apply(domain.StateDelta{Unknown: []string{"mystery"}}, 0)
	assert.False(t, applied)
	assert.Equal(t, before.Version, snap.Version)
}

func TestStateStoreUsesDeltaTimestamp(t *testing.T) {
	fixed := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store := NewStateStore(zap.NewNop()).WithClock(func() time.Time { return fixed })

	stamp := fixed.Add(-time.Minute)
	snap, _ := store.Apply(domain.StateDelta{Power: boolPtr(true), Timestamp: stamp}, 0)
	assert.Equal(t, stamp, snap.LastUpdated)

	snap, _ = store.Apply(domain.StateDelta{Power: boolPtr(false)}, 0)
	assert.Equal(t, fixed, snap.LastUpdated)
}

func TestStateStoreDoorDecodeOnStatusCodes(t *testing.T) {
	store := NewStateStore(zap.NewNop())

	snap, _ := store.Apply(domain.StateDelta{StatusCodes: stringPtr("290000")}, 0)
	assert.True(t, snap.DoorOpen)

	snap, _ = store.Apply(domain.StateDelta{StatusCodes: stringPtr("200000")}, 0)
	assert.False(t, snap.DoorOpen)
}
