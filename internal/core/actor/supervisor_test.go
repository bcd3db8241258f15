package actor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"sauna2hap/internal/config"
	"sauna2hap/internal/core/domain"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type fakeSessionProvider struct {
	mu          sync.Mutex
	invalidated int
}

func (f *fakeSessionProvider) Token(ctx context.Context) (string, error) { return "tok", nil }

func (f *fakeSessionProvider) Invalidate() {
	f.mu.Lock()
	f.invalidated++
	f.mu.Unlock()
}

func (f *fakeSessionProvider) invalidations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.invalidated
}

// scriptedStreamActor stands in for the stream actor: it answers each
// OpenStreamRequest according to the scripted outcomes, then keeps
// answering with the last one.
type scriptedStreamActor struct {
	mu       sync.Mutex
	outcomes []any
	epochs   []uint64
}

func (f *scriptedStreamActor) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.OpenStreamRequest:
		f.mu.Lock()
		f.epochs = append(f.epochs, msg.Epoch)
		var outcome any
		if len(f.outcomes) > 1 {
			outcome, f.outcomes = f.outcomes[0], f.outcomes[1:]
		} else if len(f.outcomes) == 1 {
			outcome = f.outcomes[0]
		}
		f.mu.Unlock()
		switch o := outcome.(type) {
		case domain.StreamUp:
			ctx.Respond(domain.StreamUp{Epoch: msg.Epoch})
		case domain.StreamDown:
			o.Epoch = msg.Epoch
			ctx.Respond(o)
		}
	}
}

func (f *scriptedStreamActor) requestedEpochs() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint64(nil), f.epochs...)
}

type linkCollector struct {
	mu     sync.Mutex
	events []domain.LinkStateEvent
}

func (c *linkCollector) subscribe(es *eventstream.EventStream) {
	es.Subscribe(func(evt any) {
		if e, ok := evt.(domain.LinkStateEvent); ok {
			c.mu.Lock()
			c.events = append(c.events, e)
			c.mu.Unlock()
		}
	})
}

func (c *linkCollector) snapshot() []domain.LinkStateEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.LinkStateEvent(nil), c.events...)
}

func fastStreamConfig() config.StreamConfig {
	return config.StreamConfig{
		HeartbeatTimeoutSeconds:   120,
		StabilityThresholdSeconds: 1,
		BackoffBaseMillis:         100,
		BackoffMaxMillis:          500,
		BackoffFactor:             2,
	}
}

func spawnSupervisor(t *testing.T, stream *scriptedStreamActor, session *fakeSessionProvider,
	es *eventstream.EventStream) (*actor.ActorSystem, *actor.PID) {
	t.Helper()
	as := actor.NewActorSystem()

	streamPID, err := as.Root.SpawnNamed(actor.PropsFromProducer(func() actor.Actor {
		return stream
	}), "fake-stream")
	assert.NoError(t, err)

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewReconnectSupervisorActor(fastStreamConfig(), session, streamPID, es, zap.NewNop())
	})
	pid, err := as.Root.SpawnNamed(props, domain.ACTOR_ID_SUPERVISOR)
	assert.NoError(t, err)
	t.Cleanup(func() {
		as.Root.Stop(pid)
		as.Shutdown()
	})
	return as, pid
}

func supervisorState(t *testing.T, as *actor.ActorSystem, pid *actor.PID) string {
	t.Helper()
	res, err := as.Root.RequestFuture(pid, domain.ActorHealthRequest{}, 2*time.Second).Result()
	assert.NoError(t, err)
	health, ok := res.(domain.ActorHealthResponse)
	assert.True(t, ok)
	return health.State
}

func TestSupervisorConnectsAndPublishesLinkUp(t *testing.T) {
	stream := &scriptedStreamActor{outcomes: []any{domain.StreamUp{}}}
	session := &fakeSessionProvider{}
	es := &eventstream.EventStream{}
	links := &linkCollector{}
	links.subscribe(es)

	as, pid := spawnSupervisor(t, stream, session, es)

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, "connected", supervisorState(t, as, pid))
	assert.Equal(t, []uint64{1}, stream.requestedEpochs())

	events := links.snapshot()
	if assert.Len(t, events, 1) {
		assert.True(t, events[0].Connected)
	}
}

func TestSupervisorRetriesFailedConnectsWithGrowingEpochs(t *testing.T) {
	stream := &scriptedStreamActor{outcomes: []any{
		domain.StreamDown{Err: errors.New("dial refused")},
		domain.StreamDown{Err: errors.New("dial refused")},
		domain.StreamUp{},
	}}
	session := &fakeSessionProvider{}
	es := &eventstream.EventStream{}

	as, pid := spawnSupervisor(t, stream, session, es)

	time.Sleep(800 * time.Millisecond)
	assert.Equal(t, "connected", supervisorState(t, as, pid))
	assert.Equal(t, []uint64{1, 2, 3}, stream.requestedEpochs())
}

func TestSupervisorReconnectsAfterLinkLoss(t *testing.T) {
	stream := &scriptedStreamActor{outcomes: []any{domain.StreamUp{}}}
	session := &fakeSessionProvider{}
	es := &eventstream.EventStream{}
	links := &linkCollector{}
	links.subscribe(es)

	as, pid := spawnSupervisor(t, stream, session, es)
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, "connected", supervisorState(t, as, pid))

	// connection dies; the supervisor degrades and dials again
	as.Root.Send(pid, domain.StreamDown{Epoch: 1, Err: errors.New("socket closed")})
	time.Sleep(400 * time.Millisecond)

	assert.Equal(t, "connected", supervisorState(t, as, pid))
	assert.Equal(t, []uint64{1, 2}, stream.requestedEpochs())

	events := links.snapshot()
	if assert.Len(t, events, 3) {
		assert.True(t, events[0].Connected)
		assert.False(t, events[1].Connected)
		assert.True(t, events[2].Connected)
	}
}

func TestSupervisorInvalidatesSessionOnAuthFailure(t *testing.T) {
	stream := &scriptedStreamActor{outcomes: []any{
		domain.StreamDown{Err: domain.ErrUnauthorized, AuthSuspect: true},
		domain.StreamUp{},
	}}
	session := &fakeSessionProvider{}
	es := &eventstream.EventStream{}

	as, pid := spawnSupervisor(t, stream, session, es)

	time.Sleep(500 * time.Millisecond)
	assert.Equal(t, "connected", supervisorState(t, as, pid))
	assert.Equal(t, 1, session.invalidations())
}

func TestSupervisorStableConnectionResetsBackoff(t *testing.T) {
	stream := &scriptedStreamActor{outcomes: []any{
		domain.StreamDown{Err: errors.New("dial refused")},
		domain.StreamDown{Err: errors.New("dial refused")},
		domain.StreamUp{},
	}}
	session := &fakeSessionProvider{}
	es := &eventstream.EventStream{}

	as, pid := spawnSupervisor(t, stream, session, es)

	// two failures walk the schedule up to 400ms, then the link comes up
	time.Sleep(800 * time.Millisecond)
	assert.Equal(t, "connected", supervisorState(t, as, pid))
	assert.Equal(t, []uint64{1, 2, 3}, stream.requestedEpochs())

	// outlive the stability threshold so the schedule resets to base
	time.Sleep(1200 * time.Millisecond)
	as.Root.Send(pid, domain.StreamDown{Epoch: 3, Err: errors.New("socket closed")})

	// a reset schedule redials after ~100ms; an unreset one would still be
	// waiting at 400ms
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, []uint64{1, 2, 3, 4}, stream.requestedEpochs())
	assert.Equal(t, "connected", supervisorState(t, as, pid))
}

func TestSupervisorIgnoresStaleStreamReports(t *testing.T) {
	stream := &scriptedStreamActor{outcomes: []any{domain.StreamUp{}}}
	session := &fakeSessionProvider{}
	es := &eventstream.EventStream{}

	as, pid := spawnSupervisor(t, stream, session, es)
	time.Sleep(300 * time.Millisecond)

	// a report from a long-gone epoch must not disturb the link
	as.Root.Send(pid, domain.StreamDown{Epoch: 0, Err: errors.New("late news")})
	time.Sleep(200 * time.Millisecond)

	assert.Equal(t, "connected", supervisorState(t, as, pid))
	assert.Equal(t, []uint64{1}, stream.requestedEpochs())
}
