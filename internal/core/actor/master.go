package actor

import (
	"fmt"
	"time"

	adactor "sauna2hap/internal/adapter/actor"
	"sauna2hap/internal/config"
	"sauna2hap/internal/core/domain"
	. "sauna2hap/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"
)

type StreamActorProvider func() *adactor.StreamActor

type DispatcherActorProvider func() *CommandDispatcherActor

type SupervisorActorProvider func(streamActor *actor.PID) *ReconnectSupervisorActor

// MasterActor spawns and watches the bridge actors and fans the
// healthcheck out over them. Command submits from the accessory layer are
// forwarded to the dispatcher with the original sender preserved.
type MasterActor struct {
	config   config.Config
	behavior actor.Behavior
	stash    *Stash

	currentHealthCheck healthCheckResult
	eventStream        *eventstream.EventStream
	streamActor        *actor.PID
	dispatcherActor    *actor.PID
	supervisorActor    *actor.PID
	streamProvider     StreamActorProvider
	dispatcherProvider DispatcherActorProvider
	supervisorProvider SupervisorActorProvider
	logger             *zap.Logger
}

type healthCheckResult struct {
	streamActorHealthy     bool
	dispatcherActorHealthy bool
	supervisorActorHealthy bool
	checksReceived         int
	respondTo              *actor.PID
}

func NewMasterActor(config config.Config, eventStream *eventstream.EventStream,
	streamProvider StreamActorProvider, dispatcherProvider DispatcherActorProvider,
	supervisorProvider SupervisorActorProvider, logger *zap.Logger) *MasterActor {
	act := &MasterActor{
		config:             config,
		behavior:           actor.NewBehavior(),
		stash:              &Stash{},
		logger:             ActorLogger(domain.ACTOR_ID_MASTER, logger),
		eventStream:        eventStream,
		streamProvider:     streamProvider,
		dispatcherProvider: dispatcherProvider,
		supervisorProvider: supervisorProvider,
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MasterActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MasterActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("master@starting started")

		state.currentHealthCheck = healthCheckResult{}
		state.currentHealthCheck.reset()

		streamPID, err := state.startStreamActor(ctx)
		if err != nil {
			panic(err)
		}
		state.streamActor = streamPID

		dispatcherPID, err := state.startDispatcherActor(ctx)
		if err != nil {
			panic(err)
		}
		state.dispatcherActor = dispatcherPID

		supervisorPID, err := state.startSupervisorActor(ctx, streamPID)
		if err != nil {
			panic(err)
		}
		state.supervisorActor = supervisorPID

		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("master@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("master@default ActorHealthRequest")
		state.currentHealthCheck.reset()
		state.currentHealthCheck.respondTo = ctx.Sender()
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.streamActor, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_STREAM,
				Healthy: false,
			}
		})
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.dispatcherActor, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_DISPATCHER,
				Healthy: false,
			}
		})
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.supervisorActor, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_SUPERVISOR,
				Healthy: false,
			}
		})

		ctx.SetReceiveTimeout(1 * time.Second)

		state.behavior.BecomeStacked(state.HealthCheckReceive)
	case domain.SubmitCommandRequest:
		// the dispatcher answers the original caller directly
		state.logger.Debug("master@default SubmitCommandRequest", zap.String("attribute", string(msg.Attribute)))
		ctx.RequestWithCustomSender(state.dispatcherActor, msg, ctx.Sender())
	case *actor.Terminated:
		state.logger.Error("master@default child terminated", zap.String("who", msg.Who.Id))
	default:
		state.logger.Debug("master@default stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterActor) HealthCheckReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.ReceiveTimeout:
		// a child that does not answer counts as unhealthy
		state.currentHealthCheck.respond(ctx)
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthResponse:
		state.logger.Debug("master@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.currentHealthCheck.checksReceived++
		if msg.Healthy {
			switch msg.Id {
			case domain.ACTOR_ID_STREAM:
				state.currentHealthCheck.streamActorHealthy = true
			case domain.ACTOR_ID_DISPATCHER:
				state.currentHealthCheck.dispatcherActorHealthy = true
			case domain.ACTOR_ID_SUPERVISOR:
				state.currentHealthCheck.supervisorActorHealthy = true
			}
		}
		if state.currentHealthCheck.allReceived() {
			state.currentHealthCheck.respond(ctx)
			state.behavior.UnbecomeStacked()
			state.stash.UnstashAll(ctx)
		} else {
			ctx.SetReceiveTimeout(1 * time.Second)
		}
	default:
		state.logger.Debug("master@healthcheck stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterActor) startStreamActor(ctx actor.Context) (*actor.PID, error) {
	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	props := actor.PropsFromProducer(func() actor.Actor {
		return state.streamProvider()
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(props, domain.ACTOR_ID_STREAM)
}

func (state *MasterActor) startDispatcherActor(ctx actor.Context) (*actor.PID, error) {
	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	props := actor.PropsFromProducer(func() actor.Actor {
		return state.dispatcherProvider()
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(props, domain.ACTOR_ID_DISPATCHER)
}

func (state *MasterActor) startSupervisorActor(ctx actor.Context, streamPID *actor.PID) (*actor.PID, error) {
	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	props := actor.PropsFromProducer(func() actor.Actor {
		return state.supervisorProvider(streamPID)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(props, domain.ACTOR_ID_SUPERVISOR)
}

func (state *healthCheckResult) reset() {
	state.streamActorHealthy = false
	state.dispatcherActorHealthy = false
	state.supervisorActorHealthy = false
	state.checksReceived = 0
}

func (state *healthCheckResult) allReceived() bool {
	return state.checksReceived == 3
}

func (state *healthCheckResult) allHealthy() bool {
	return state.streamActorHealthy && state.dispatcherActorHealthy && state.supervisorActorHealthy
}

func (state *healthCheckResult) respond(ctx actor.Context) {
	resp := domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_MASTER,
		Healthy: state.allHealthy(),
	}
	if state.respondTo != nil {
		ctx.Send(state.respondTo, resp)
	}
}
