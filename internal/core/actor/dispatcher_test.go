package actor

import (
	"context"
	"sync"
	"testing"
	"time"

	"sauna2hap/internal/config"
	"sauna2hap/internal/core/domain"
	"sauna2hap/internal/core/service"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

// fakeCloudControl scripts the mutation behavior: echo the written value,
// echo nothing, or fail.
type fakeCloudControl struct {
	mu       sync.Mutex
	echo     bool
	err      error
	setCalls []domain.Attribute
}

func (f *fakeCloudControl) SetAttribute(ctx context.Context, deviceID string, attr domain.Attribute, value float64) (domain.StateDelta, error) {
	f.mu.Lock()
	f.setCalls = append(f.setCalls, attr)
	echo, err := f.echo, f.err
	f.mu.Unlock()
	if err != nil {
		return domain.StateDelta{}, err
	}
	if !echo {
		return domain.StateDelta{}, nil
	}
	return deltaFor(attr, value), nil
}

func (f *fakeCloudControl) LatestData(ctx context.Context, deviceID string) (domain.StateDelta, error) {
	return domain.StateDelta{}, nil
}

func (f *fakeCloudControl) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.setCalls)
}

func deltaFor(attr domain.Attribute, value float64) domain.StateDelta {
	b := value != 0
	n := int(value)
	switch attr {
	case domain.AttrPower:
		return domain.StateDelta{Power: &b}
	case domain.AttrTargetTemperature:
		return domain.StateDelta{TargetTemperature: &value}
	case domain.AttrTargetHumidity:
		return domain.StateDelta{TargetHumidity: &n}
	case domain.AttrFanSpeed:
		return domain.StateDelta{FanSpeed: &n}
	case domain.AttrLight:
		return domain.StateDelta{LightOn: &b}
	case domain.AttrSteamer:
		return domain.StateDelta{SteamerOn: &b}
	}
	return domain.StateDelta{}
}

type resolvedCollector struct {
	mu     sync.Mutex
	events []domain.CommandResolvedEvent
}

func (c *resolvedCollector) subscribe(es *eventstream.EventStream) {
	es.Subscribe(func(evt any) {
		if e, ok := evt.(domain.CommandResolvedEvent); ok {
			c.mu.Lock()
			c.events = append(c.events, e)
			c.mu.Unlock()
		}
	})
}

func (c *resolvedCollector) snapshot() []domain.CommandResolvedEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.CommandResolvedEvent(nil), c.events...)
}

type dispatcherFixture struct {
	system  *actor.ActorSystem
	root    *actor.RootContext
	pid     *actor.PID
	store   *service.StateStore
	control *fakeCloudControl
	es      *eventstream.EventStream
	events  *resolvedCollector
}

func newDispatcherFixture(t *testing.T, control *fakeCloudControl, timeoutSeconds uint32) *dispatcherFixture {
	t.Helper()
	as := actor.NewActorSystem()
	es := &eventstream.EventStream{}
	store := service.NewStateStore(zap.NewNop())
	events := &resolvedCollector{}
	events.subscribe(es)

	device := domain.DeviceHandle{ID: "sauna-1", Name: "Sauna"}
	props := actor.PropsFromProducer(func() actor.Actor {
		return NewCommandDispatcherActor(config.CommandConfig{TimeoutSeconds: timeoutSeconds},
			store, control, device, es, zap.NewNop())
	})
	pid, err := as.Root.SpawnNamed(props, domain.ACTOR_ID_DISPATCHER)
	assert.NoError(t, err)
	t.Cleanup(func() {
		as.Root.Stop(pid)
		as.Shutdown()
	})

	// let the actor start and subscribe before driving link state
	time.Sleep(100 * time.Millisecond)
	es.Publish(domain.LinkStateEvent{Connected: true, At: time.Now()})
	time.Sleep(100 * time.Millisecond)

	return &dispatcherFixture{system: as, root: as.Root, pid: pid, store: store, control: control, es: es, events: events}
}

func (f *dispatcherFixture) submit(t *testing.T, attr domain.Attribute, value float64) domain.SubmitCommandResponse {
	t.Helper()
	res, err := f.root.RequestFuture(f.pid, domain.SubmitCommandRequest{Attribute: attr, Value: value}, 5*time.Second).Result()
	assert.NoError(t, err)
	resp, ok := res.(domain.SubmitCommandResponse)
	assert.True(t, ok)
	return resp
}

func TestDispatcherRejectsInvalidValue(t *testing.T) {
	f := newDispatcherFixture(t, &fakeCloudControl{}, 30)

	resp := f.submit(t, domain.AttrTargetTemperature, 20)
	assert.ErrorIs(t, resp.GetResponseError(), domain.ErrInvalidValue)
	assert.Equal(t, 0, f.control.calls())
}

func TestDispatcherFailsFastWhileLinkDown(t *testing.T) {
	f := newDispatcherFixture(t, &fakeCloudControl{echo: true}, 30)

	f.es.Publish(domain.LinkStateEvent{Connected: false, At: time.Now()})
	time.Sleep(100 * time.Millisecond)

	resp := f.submit(t, domain.AttrPower, 1)
	assert.ErrorIs(t, resp.GetResponseError(), domain.ErrUnavailable)
	assert.Equal(t, 0, f.control.calls())
}

func TestDispatcherAcknowledgesOnMutationEcho(t *testing.T) {
	f := newDispatcherFixture(t, &fakeCloudControl{echo: true}, 30)

	resp := f.submit(t, domain.AttrPower, 1)
	assert.False(t, resp.HasResponseError())
	assert.True(t, resp.Applied)
	assert.NotEmpty(t, resp.Token)

	// the echo was optimistically merged
	assert.True(t, f.store.Read().Power)

	time.Sleep(100 * time.Millisecond)
	resolved := f.events.snapshot()
	if assert.Len(t, resolved, 1) {
		assert.Equal(t, domain.CommandAcknowledged, resolved[0].Command.Status)
		assert.NoError(t, resolved[0].Err)
	}
}

func TestDispatcherConfirmsFromPushWhenNoEcho(t *testing.T) {
	f := newDispatcherFixture(t, &fakeCloudControl{echo: false}, 30)

	resp := f.submit(t, domain.AttrTargetTemperature, 85)
	assert.False(t, resp.HasResponseError())
	assert.False(t, resp.Applied)

	// nothing merged yet
	assert.Zero(t, f.store.Read().TargetTemperature)

	// a push carrying the desired value confirms the command
	f.es.Publish(domain.StateUpdatedEvent{Delta: deltaFor(domain.AttrTargetTemperature, 85)})
	time.Sleep(200 * time.Millisecond)

	resolved := f.events.snapshot()
	if assert.Len(t, resolved, 1) {
		assert.Equal(t, domain.CommandAcknowledged, resolved[0].Command.Status)
	}
}

func TestDispatcherConfirmsFromPushPastDesired(t *testing.T) {
	f := newDispatcherFixture(t, &fakeCloudControl{echo: false}, 30)

	resp := f.submit(t, domain.AttrTargetTemperature, 80)
	assert.False(t, resp.Applied)

	// the stove trims the setpoint upward; past the target still settles it
	f.es.Publish(domain.StateUpdatedEvent{Delta: deltaFor(domain.AttrTargetTemperature, 81)})
	time.Sleep(200 * time.Millisecond)

	resolved := f.events.snapshot()
	if assert.Len(t, resolved, 1) {
		assert.Equal(t, domain.CommandAcknowledged, resolved[0].Command.Status)
	}
}

func TestDispatcherIgnoresPushShortOfDesired(t *testing.T) {
	f := newDispatcherFixture(t, &fakeCloudControl{echo: false}, 30)

	resp := f.submit(t, domain.AttrTargetTemperature, 80)
	assert.False(t, resp.Applied)

	f.es.Publish(domain.StateUpdatedEvent{Delta: deltaFor(domain.AttrTargetTemperature, 70)})
	time.Sleep(200 * time.Millisecond)

	assert.Empty(t, f.events.snapshot())
}

func TestDispatcherRepliesToExplicitReplyTo(t *testing.T) {
	f := newDispatcherFixture(t, &fakeCloudControl{echo: true}, 30)

	responses := make(chan domain.SubmitCommandResponse, 1)
	receiver, err := f.system.Root.SpawnNamed(actor.PropsFromFunc(func(ctx actor.Context) {
		if resp, ok := ctx.Message().(domain.SubmitCommandResponse); ok {
			responses <- resp
		}
	}), "reply-target")
	assert.NoError(t, err)

	f.root.Send(f.pid, domain.SubmitCommandRequest{
		ActorRequestMixIn: domain.ActorRequestMixIn{ReplyToRef: (*domain.ActorRef)(receiver)},
		Attribute:         domain.AttrPower,
		Value:             1,
	})

	select {
	case resp := <-responses:
		assert.False(t, resp.HasResponseError())
		assert.True(t, resp.Applied)
	case <-time.After(3 * time.Second):
		t.Fatal("no response delivered to the reply target")
	}
}

func TestDispatcherSupersedesOlderCommand(t *testing.T) {
	f := newDispatcherFixture(t, &fakeCloudControl{echo: false}, 30)

	first := f.submit(t, domain.AttrLight, 1)
	assert.False(t, first.Applied)

	second := f.submit(t, domain.AttrLight, 0)
	assert.False(t, second.HasResponseError())

	time.Sleep(200 * time.Millisecond)
	resolved := f.events.snapshot()
	if assert.Len(t, resolved, 1) {
		assert.ErrorIs(t, resolved[0].Err, domain.ErrSuperseded)
		assert.Equal(t, first.Token, resolved[0].Command.Token)
	}
}

func TestDispatcherTimesOutWithoutConfirmation(t *testing.T) {
	f := newDispatcherFixture(t, &fakeCloudControl{echo: false}, 1)

	resp := f.submit(t, domain.AttrSteamer, 1)
	assert.False(t, resp.Applied)

	time.Sleep(1500 * time.Millisecond)
	resolved := f.events.snapshot()
	if assert.Len(t, resolved, 1) {
		assert.Equal(t, domain.CommandTimedOut, resolved[0].Command.Status)
		assert.ErrorIs(t, resolved[0].Err, domain.ErrCommandTimeout)
	}
}

func TestDispatcherSurfacesMutationFailure(t *testing.T) {
	f := newDispatcherFixture(t, &fakeCloudControl{err: domain.ErrTransient}, 30)

	resp := f.submit(t, domain.AttrPower, 1)
	assert.ErrorIs(t, resp.GetResponseError(), domain.ErrTransient)

	time.Sleep(100 * time.Millisecond)
	resolved := f.events.snapshot()
	if assert.Len(t, resolved, 1) {
		assert.Equal(t, domain.CommandFailed, resolved[0].Command.Status)
	}
}

func TestDispatcherReleasesPendingOnLinkLoss(t *testing.T) {
	f := newDispatcherFixture(t, &fakeCloudControl{echo: false}, 30)

	resp := f.submit(t, domain.AttrFanSpeed, 1)
	assert.False(t, resp.Applied)

	f.es.Publish(domain.LinkStateEvent{Connected: false, At: time.Now()})
	time.Sleep(200 * time.Millisecond)

	resolved := f.events.snapshot()
	if assert.Len(t, resolved, 1) {
		assert.ErrorIs(t, resolved[0].Err, domain.ErrUnavailable)
	}
}

func TestDispatcherHealthCheck(t *testing.T) {
	f := newDispatcherFixture(t, &fakeCloudControl{}, 30)

	res, err := f.root.RequestFuture(f.pid, domain.ActorHealthRequest{}, 2*time.Second).Result()
	assert.NoError(t, err)
	health, ok := res.(domain.ActorHealthResponse)
	assert.True(t, ok)
	assert.True(t, health.Healthy)
	assert.Equal(t, domain.ACTOR_ID_DISPATCHER, health.Id)
}
