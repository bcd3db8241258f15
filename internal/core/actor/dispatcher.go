package actor

import (
	"context"
	"fmt"
	"time"

	"sauna2hap/internal/config"
	"sauna2hap/internal/core/domain"
	"sauna2hap/internal/core/port"
	"sauna2hap/internal/core/service"
	"sauna2hap/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CommandDispatcherActor turns write intents into cloud mutations and
// tracks each one to a terminal status. At most one command per attribute
// is in flight; a newer submit supersedes the older one. Confirmation
// comes either from the mutation's synchronous echo or from a later push
// carrying the desired value; neither within the timeout means failure.
type CommandDispatcherActor struct {
	behavior  actor.Behavior
	scheduler *scheduler.TimerScheduler

	cfg         config.CommandConfig
	store       *service.StateStore
	control     port.CloudControl
	device      domain.DeviceHandle
	eventStream *eventstream.EventStream
	logger      *zap.Logger

	sub     *eventstream.Subscription
	pending map[domain.Attribute]*pendingEntry
	linkUp  bool
}

type pendingEntry struct {
	cmd           domain.PendingCommand
	respondTo     *actor.PID
	responded     bool
	cancelTimeout scheduler.CancelFunc
}

type mutationResult struct {
	token     string
	attribute domain.Attribute
	delta     domain.StateDelta
	err       error
}

type commandTimeout struct {
	token     string
	attribute domain.Attribute
}

func NewCommandDispatcherActor(cfg config.CommandConfig, store *service.StateStore, control port.CloudControl,
	device domain.DeviceHandle, eventStream *eventstream.EventStream, logger *zap.Logger) *CommandDispatcherActor {
	act := &CommandDispatcherActor{
		behavior:    actor.NewBehavior(),
		cfg:         cfg,
		store:       store,
		control:     control,
		device:      device,
		eventStream: eventStream,
		logger:      actorutil.ActorLogger(domain.ACTOR_ID_DISPATCHER, logger),
		pending:     make(map[domain.Attribute]*pendingEntry),
	}
	act.behavior.Become(act.DefaultReceive)
	return act
}

func (state *CommandDispatcherActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *CommandDispatcherActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("dispatcher@default started")
		state.scheduler = scheduler.NewTimerScheduler(ctx)
		// events are published from other goroutines; hop into the mailbox
		system := ctx.ActorSystem()
		self := ctx.Self()
		state.sub = state.eventStream.Subscribe(func(evt any) {
			switch evt.(type) {
			case domain.StateUpdatedEvent, domain.LinkStateEvent:
				system.Root.Send(self, evt)
			}
		})
	case *actor.Stopping:
		if state.sub != nil {
			state.eventStream.Unsubscribe(state.sub)
			state.sub = nil
		}
		for attr := range state.pending {
			state.resolve(ctx, attr, domain.CommandFailed, domain.ErrShuttingDown)
		}
	case domain.SubmitCommandRequest:
		state.handleSubmit(ctx, msg)
	case mutationResult:
		state.handleMutationResult(ctx, msg)
	case commandTimeout:
		entry, ok := state.pending[msg.attribute]
		if !ok || entry.cmd.Token != msg.token {
			return
		}
		state.logger.Warn("dispatcher@default command timed out", zap.Stringer("command", entry.cmd))
		state.resolve(ctx, msg.attribute, domain.CommandTimedOut, domain.ErrCommandTimeout)
	case domain.StateUpdatedEvent:
		state.confirmFromUpdate(ctx, msg)
	case domain.LinkStateEvent:
		state.linkUp = msg.Connected
		if !msg.Connected {
			for attr := range state.pending {
				state.resolve(ctx, attr, domain.CommandFailed, domain.ErrUnavailable)
			}
		}
	case domain.ActorHealthRequest:
		state.logger.Debug("dispatcher@default ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_DISPATCHER,
			Healthy: true,
			State:   "default",
		})
	default:
		state.logger.Debug("dispatcher@default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *CommandDispatcherActor) handleSubmit(ctx actor.Context, msg domain.SubmitCommandRequest) {
	state.logger.Debug("dispatcher@default SubmitCommandRequest",
		zap.String("attribute", string(msg.Attribute)), zap.Float64("value", msg.Value))

	if err := domain.ValidateCommand(msg.Attribute, msg.Value); err != nil {
		actorutil.ForRequest(msg).Respond(ctx, domain.SubmitCommandResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: err},
		})
		return
	}
	if !state.linkUp {
		actorutil.ForRequest(msg).Respond(ctx, domain.SubmitCommandResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: domain.ErrUnavailable},
		})
		return
	}

	// a newer intent wins over an unconfirmed older one
	if _, ok := state.pending[msg.Attribute]; ok {
		state.resolve(ctx, msg.Attribute, domain.CommandFailed, domain.ErrSuperseded)
	}

	entry := &pendingEntry{
		cmd: domain.PendingCommand{
			Token:     uuid.NewString(),
			Attribute: msg.Attribute,
			Desired:   msg.Value,
			Baseline:  state.store.Read().ValueOf(msg.Attribute),
			IssuedAt:  time.Now(),
			Status:    domain.CommandInFlight,
		},
		respondTo: actorutil.ForRequest(msg).ReplyTo(ctx),
	}
	state.pending[msg.Attribute] = entry
	entry.cancelTimeout = state.scheduler.RequestOnce(state.cfg.Timeout(), ctx.Self(),
		commandTimeout{token: entry.cmd.Token, attribute: msg.Attribute})

	token := entry.cmd.Token
	attr := msg.Attribute
	value := msg.Value
	actorutil.NewBackgroundTaskNoError(ctx, func() *mutationResult {
		callCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		delta, err := state.control.SetAttribute(callCtx, state.device.ID, attr, value)
		return &mutationResult{token: token, attribute: attr, delta: delta, err: err}
	}).PipeTo(ctx.Self())
}

func (state *CommandDispatcherActor) handleMutationResult(ctx actor.Context, msg mutationResult) {
	entry, ok := state.pending[msg.attribute]
	if !ok || entry.cmd.Token != msg.token {
		// superseded or timed out while the mutation was in flight
		return
	}

	if msg.err != nil {
		state.logger.Warn("dispatcher@default mutation failed", zap.Stringer("command", entry.cmd), zap.Error(msg.err))
		state.resolve(ctx, msg.attribute, domain.CommandFailed, msg.err)
		return
	}

	// the mutation echo is authoritative: apply it and, when it already
	// carries the desired value, count that as confirmation
	echoed, present := msg.delta.ValueOf(msg.attribute)
	if present {
		state.applyDelta(msg.delta)
	}
	if present && domain.SameValue(echoed, entry.cmd.Desired) {
		state.respond(ctx, entry, domain.SubmitCommandResponse{Token: entry.cmd.Token, Applied: true})
		state.resolve(ctx, msg.attribute, domain.CommandAcknowledged, nil)
		return
	}
	// no echo for this attribute: stay pending until a push confirms
	state.respond(ctx, entry, domain.SubmitCommandResponse{Token: entry.cmd.Token, Applied: false})
}

// confirmFromUpdate resolves pending commands once a merged update shows
// the attribute at or past the desired value.
func (state *CommandDispatcherActor) confirmFromUpdate(ctx actor.Context, evt domain.StateUpdatedEvent) {
	for attr, entry := range state.pending {
		value, present := evt.Delta.ValueOf(attr)
		if !present {
			continue
		}
		if entry.cmd.ConfirmedBy(value) {
			state.logger.Debug("dispatcher@default command confirmed by push", zap.Stringer("command", entry.cmd))
			state.resolve(ctx, attr, domain.CommandAcknowledged, nil)
		}
	}
}

func (state *CommandDispatcherActor) applyDelta(delta domain.StateDelta) {
	previous := state.store.Read()
	current, applied := state.store.Apply(delta, state.store.Epoch())
	if !applied {
		return
	}
	state.eventStream.Publish(domain.StateUpdatedEvent{
		Previous: previous,
		Current:  current,
		Delta:    delta,
	})
}

// resolve removes the pending command, answers a caller still waiting on
// the optimistic phase and publishes the terminal status.
func (state *CommandDispatcherActor) resolve(ctx actor.Context, attr domain.Attribute, status domain.CommandStatus, err error) {
	entry, ok := state.pending[attr]
	if !ok {
		return
	}
	delete(state.pending, attr)
	if entry.cancelTimeout != nil {
		entry.cancelTimeout()
	}
	entry.cmd.Status = status
	if !entry.responded {
		if err != nil {
			state.respond(ctx, entry, domain.SubmitCommandResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: err},
				Token:              entry.cmd.Token,
			})
		} else {
			state.respond(ctx, entry, domain.SubmitCommandResponse{Token: entry.cmd.Token, Applied: true})
		}
	}
	state.eventStream.Publish(domain.CommandResolvedEvent{Command: entry.cmd, Err: err})
}

func (state *CommandDispatcherActor) respond(ctx actor.Context, entry *pendingEntry, resp domain.SubmitCommandResponse) {
	if entry.responded {
		return
	}
	entry.responded = true
	if entry.respondTo != nil {
		ctx.Send(entry.respondTo, resp)
	}
}
