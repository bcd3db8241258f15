package actor

import (
	"fmt"
	"time"

	"sauna2hap/internal/config"
	"sauna2hap/internal/core/domain"
	"sauna2hap/internal/core/port"
	"sauna2hap/internal/core/service"
	. "sauna2hap/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

// ReconnectSupervisorActor drives the stream lifecycle: disconnected,
// connecting, connected, degraded after a loss, and back. Reconnects are
// paced by exponential backoff; a connection that stays up past the
// stability threshold resets the schedule. Every connect attempt gets a
// fresh epoch so traffic from a dead connection can never win.
type ReconnectSupervisorActor struct {
	ActorWithStates
	scheduler *scheduler.TimerScheduler

	cfg         config.StreamConfig
	session     port.SessionProvider
	streamActor *actor.PID
	eventStream *eventstream.EventStream
	backoff     *service.Backoff
	logger      *zap.Logger

	epoch           uint64
	cancelStability scheduler.CancelFunc
}

type connectTick struct{}

type stabilityTick struct {
	epoch uint64
}

func NewReconnectSupervisorActor(cfg config.StreamConfig, session port.SessionProvider, streamActor *actor.PID,
	eventStream *eventstream.EventStream, logger *zap.Logger) *ReconnectSupervisorActor {
	act := &ReconnectSupervisorActor{
		cfg:         cfg,
		session:     session,
		streamActor: streamActor,
		eventStream: eventStream,
		backoff:     service.NewBackoff(cfg.BackoffBase(), cfg.BackoffMax(), cfg.BackoffFactor),
		logger:      ActorLogger(domain.ACTOR_ID_SUPERVISOR, logger),
		ActorWithStates: ActorWithStates{
			Behavior: actor.NewBehavior(),
		},
	}
	act.Become(SupDisconnectedState{actor: act})
	return act
}

func (state *ReconnectSupervisorActor) Receive(context actor.Context) {
	state.Behavior.Receive(context)
}

// Disconnected state

type SupDisconnectedState struct {
	ActorState
	actor *ReconnectSupervisorActor
}

func (state SupDisconnectedState) Name() string {
	return "disconnected"
}

func (state SupDisconnectedState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.actor.logger.Debug("supervisor@disconnected started")
		state.actor.scheduler = scheduler.NewTimerScheduler(ctx)
		ctx.Send(ctx.Self(), connectTick{})
	case connectTick:
		state.actor.connect(ctx)
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_SUPERVISOR,
			Healthy: true,
			State:   state.Name(),
		})
	case domain.StreamUp, domain.StreamDown, stabilityTick:
		// stale reports from a superseded attempt
	default:
		state.actor.logger.Debug("supervisor@disconnected recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// Connecting state

type SupConnectingState struct {
	ActorState
	actor *ReconnectSupervisorActor
}

func (state SupConnectingState) Name() string {
	return "connecting"
}

func (state SupConnectingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.StreamUp:
		if msg.Epoch != state.actor.epoch {
			return
		}
		state.actor.logger.Info("supervisor@connecting stream up", zap.Uint64("epoch", msg.Epoch))
		state.actor.eventStream.Publish(domain.LinkStateEvent{Connected: true, At: time.Now()})
		if state.actor.cfg.StabilityThreshold() > 0 {
			state.actor.cancelStability = state.actor.scheduler.RequestOnce(
				state.actor.cfg.StabilityThreshold(), ctx.Self(), stabilityTick{epoch: msg.Epoch})
		}
		state.actor.Become(SupConnectedState{actor: state.actor})
	case domain.StreamDown:
		if msg.Epoch != state.actor.epoch {
			return
		}
		state.actor.handleDown(ctx, msg, false)
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_SUPERVISOR,
			Healthy: true,
			State:   state.Name(),
		})
	case connectTick, stabilityTick:
	default:
		state.actor.logger.Debug("supervisor@connecting recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// Connected state

type SupConnectedState struct {
	ActorState
	actor *ReconnectSupervisorActor
}

func (state SupConnectedState) Name() string {
	return "connected"
}

func (state SupConnectedState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case stabilityTick:
		if msg.epoch != state.actor.epoch {
			return
		}
		state.actor.logger.Debug("supervisor@connected stable, backoff reset")
		state.actor.backoff.Reset()
	case domain.StreamDown:
		if msg.Epoch != state.actor.epoch {
			return
		}
		state.actor.eventStream.Publish(domain.LinkStateEvent{Connected: false, At: time.Now()})
		state.actor.handleDown(ctx, msg, true)
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_SUPERVISOR,
			Healthy: true,
			State:   state.Name(),
		})
	case connectTick:
	default:
		state.actor.logger.Debug("supervisor@connected recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// Degraded state: link was up and got lost; snapshot keeps being served
// while reconnects run on the backoff schedule.

type SupDegradedState struct {
	ActorState
	actor *ReconnectSupervisorActor
}

func (state SupDegradedState) Name() string {
	return "degraded"
}

func (state SupDegradedState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case connectTick:
		state.actor.connect(ctx)
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_SUPERVISOR,
			Healthy: true,
			State:   state.Name(),
		})
	case domain.StreamUp, domain.StreamDown, stabilityTick:
	default:
		state.actor.logger.Debug("supervisor@degraded recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// connect issues a new epoch and asks the stream actor to dial.
func (act *ReconnectSupervisorActor) connect(ctx actor.Context) {
	act.epoch++
	act.logger.Info("supervisor connect attempt",
		zap.Uint64("epoch", act.epoch), zap.Int("attempt", act.backoff.Attempts()+1))
	ctx.Request(act.streamActor, domain.OpenStreamRequest{Epoch: act.epoch})
	act.Become(SupConnectingState{actor: act})
}

// handleDown schedules the next attempt. Auth-flavoured losses force a
// session refresh first so the next dial carries a fresh token. Retries
// never stop; the device may come back hours later.
func (act *ReconnectSupervisorActor) handleDown(ctx actor.Context, msg domain.StreamDown, wasConnected bool) {
	if act.cancelStability != nil {
		act.cancelStability()
		act.cancelStability = nil
	}
	if msg.AuthSuspect {
		act.logger.Info("supervisor invalidating session after auth-flavoured failure")
		act.session.Invalidate()
	}
	delay := act.backoff.Next()
	act.logger.Warn("supervisor stream down, reconnect scheduled",
		zap.Uint64("epoch", msg.Epoch), zap.Duration("delay", delay), zap.Error(msg.Err))
	act.scheduler.RequestOnce(delay, ctx.Self(), connectTick{})
	if wasConnected {
		act.Become(SupDegradedState{actor: act})
	} else {
		act.Become(SupDisconnectedState{actor: act})
	}
}
