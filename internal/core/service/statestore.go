package service

import (
	"sync"
	"sync/atomic"
	"time"

	"sauna2hap/internal/core/domain"

	"go.uber.org/zap"
)

// StateStore holds the canonical device snapshot. Readers are lock-free
// (atomic pointer swap of an immutable snapshot); writers serialize through
// a single mutex so one merge completes before the next begins.
type StateStore struct {
	mu    sync.Mutex
	snap  atomic.Pointer[domain.DeviceState]
	epoch atomic.Uint64

	now    func() time.Time
	logger *zap.Logger
}

func NewStateStore(logger *zap.Logger) *StateStore {
	s := &StateStore{
		now:    time.Now,
		logger: logger.With(zap.String("component", "statestore")),
	}
	initial := domain.DeviceState{Version: 1}
	s.snap.Store(&initial)
	return s
}

// WithClock replaces the timestamp source. Test hook.
func (s *StateStore) WithClock(now func() time.Time) *StateStore {
	s.now = now
	return s
}

// Read returns the latest fully-merged snapshot. Never blocks on writers.
func (s *StateStore) Read() domain.DeviceState {
	return *s.snap.Load()
}

// Epoch returns the current connection epoch.
func (s *StateStore) Epoch() uint64 {
	return s.epoch.Load()
}

// AdvanceEpoch raises the current connection epoch. Deltas tagged with an
// older epoch are discarded from then on. Lower values are ignored so a
// late call from a superseded connection cannot roll the epoch back.
func (s *StateStore) AdvanceEpoch(epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch > s.epoch.Load() {
		s.epoch.Store(epoch)
	}
}

// Apply merges the delta's present fields into the snapshot and bumps the
// version. Returns the resulting snapshot and whether the delta was
// applied; deltas from a superseded connection epoch or with no recognized
// fields are dropped without a version bump.
func (s *StateStore) Apply(delta domain.StateDelta, epoch uint64) (domain.DeviceState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if epoch < s.epoch.Load() {
		s.logger.Debug("discarding delta from superseded connection",
			zap.Uint64("delta_epoch", epoch), zap.Uint64("current_epoch", s.epoch.Load()))
		return *s.snap.Load(), false
	}
	if len(delta.Unknown) > 0 {
		s.logger.Debug("ignoring unknown fields in update", zap.Strings("fields", delta.Unknown))
	}
	if delta.IsZero() {
		return *s.snap.Load(), false
	}

	next := s.snap.Load().Merge(delta)
	next.Version++
	if !delta.Timestamp.IsZero() {
		next.LastUpdated = delta.Timestamp
	} else {
		next.LastUpdated = s.now()
	}
	s.snap.Store(&next)
	return next, true
}
