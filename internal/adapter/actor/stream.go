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
	"go.uber.org/zap"
)

const dialTimeout = 30 * time.Second

// StreamActor owns the realtime subscription connection. It dials on
// OpenStreamRequest, applies decoded deltas to the state store in receipt
// order and reports link transitions to whoever asked for the stream.
// Every message from a connection carries that connection's epoch; stale
// ones are dropped here or by the store.
type StreamActor struct {
	behavior  actor.Behavior
	scheduler *scheduler.TimerScheduler

	cfg         config.StreamConfig
	store       *service.StateStore
	dialer      port.StreamDialer
	control     port.CloudControl
	device      domain.DeviceHandle
	eventStream *eventstream.EventStream
	logger      *zap.Logger

	system          *actor.ActorSystem
	supervisor      *actor.PID
	epoch           uint64
	conn            port.StreamConn
	cancelHeartbeat scheduler.CancelFunc
	// earlyClose records a read-pump death that raced ahead of the dial
	// result for the same epoch.
	earlyClose *streamClosed
}

type streamEstablished struct {
	epoch uint64
	conn  port.StreamConn
}

type streamFailed struct {
	epoch uint64
	err   error
}

type streamDelta struct {
	epoch uint64
	delta domain.StateDelta
}

type streamKeepAlive struct {
	epoch uint64
}

type streamClosed struct {
	epoch uint64
	err   error
}

type heartbeatTick struct {
	epoch uint64
}

type resyncResult struct {
	epoch uint64
	delta domain.StateDelta
	err   error
}

// mailboxHandler forwards read-pump callbacks into the actor's mailbox.
// Callbacks run on the connection goroutine, so all it does is Send.
type mailboxHandler struct {
	system *actor.ActorSystem
	self   *actor.PID
	epoch  uint64
}

func (h mailboxHandler) OnDelta(delta domain.StateDelta) {
	h.system.Root.Send(h.self, streamDelta{epoch: h.epoch, delta: delta})
}

func (h mailboxHandler) OnKeepAlive() {
	h.system.Root.Send(h.self, streamKeepAlive{epoch: h.epoch})
}

func (h mailboxHandler) OnClosed(err error) {
	h.system.Root.Send(h.self, streamClosed{epoch: h.epoch, err: err})
}

func NewStreamActor(cfg config.StreamConfig, store *service.StateStore, dialer port.StreamDialer,
	control port.CloudControl, device domain.DeviceHandle, eventStream *eventstream.EventStream,
	logger *zap.Logger) *StreamActor {
	act := &StreamActor{
		behavior:    actor.NewBehavior(),
		cfg:         cfg,
		store:       store,
		dialer:      dialer,
		control:     control,
		device:      device,
		eventStream: eventStream,
		logger:      actorutil.ActorLogger(domain.ACTOR_ID_STREAM, logger),
	}
	act.behavior.Become(act.IdleReceive)
	return act
}

func (state *StreamActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *StreamActor) IdleReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("stream@idle started")
		state.scheduler = scheduler.NewTimerScheduler(ctx)
		state.system = ctx.ActorSystem()
	case domain.OpenStreamRequest:
		state.logger.Debug("stream@idle OpenStreamRequest", zap.Uint64("epoch", msg.Epoch))
		state.supervisor = ctx.Sender()
		state.dial(ctx, msg.Epoch)
	case streamEstablished:
		if msg.epoch != state.epoch {
			msg.conn.Close()
			return
		}
		if state.earlyClose != nil {
			// the connection died before its dial result was processed;
			// going Streaming now would hold a dead socket until the
			// watchdog fires
			early := *state.earlyClose
			state.earlyClose = nil
			msg.conn.Close()
			state.logger.Warn("stream@idle connection died during dial", zap.Uint64("epoch", msg.epoch), zap.Error(early.err))
			state.notifySupervisor(ctx, domain.StreamDown{
				Epoch:       msg.epoch,
				Err:         early.err,
				AuthSuspect: domain.AuthSuspect(early.err),
			})
			return
		}
		state.logger.Info("stream@idle connected", zap.Uint64("epoch", msg.epoch))
		state.conn = msg.conn
		state.store.AdvanceEpoch(msg.epoch)
		state.notifySupervisor(ctx, domain.StreamUp{Epoch: msg.epoch})
		state.resetHeartbeat(ctx)
		state.resync(ctx, msg.epoch)
		state.behavior.Become(state.StreamingReceive)
	case streamFailed:
		if msg.epoch != state.epoch {
			return
		}
		state.logger.Warn("stream@idle connect failed", zap.Uint64("epoch", msg.epoch), zap.Error(msg.err))
		state.notifySupervisor(ctx, domain.StreamDown{
			Epoch:       msg.epoch,
			Err:         msg.err,
			AuthSuspect: domain.AuthSuspect(msg.err),
		})
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_STREAM,
			Healthy: true,
			State:   "idle",
		})
	case streamClosed:
		if msg.epoch == state.epoch {
			closed := msg
			state.earlyClose = &closed
		}
	case *actor.Stopping:
		state.teardown()
	case domain.CloseStreamRequest:
	case streamDelta, streamKeepAlive, heartbeatTick, resyncResult:
		// leftovers from a superseded connection
	default:
		state.logger.Debug("stream@idle recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *StreamActor) StreamingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case streamDelta:
		if msg.epoch != state.epoch {
			return
		}
		state.applyDelta(msg.delta, msg.epoch)
		state.resetHeartbeat(ctx)
	case streamKeepAlive:
		if msg.epoch != state.epoch {
			return
		}
		state.resetHeartbeat(ctx)
	case resyncResult:
		if msg.epoch != state.epoch {
			return
		}
		if msg.err != nil {
			// push updates still flow; the catch-up read is best effort
			state.logger.Warn("stream@streaming resync failed", zap.Error(msg.err))
			return
		}
		state.applyDelta(msg.delta, msg.epoch)
	case streamClosed:
		if msg.epoch != state.epoch {
			return
		}
		state.logger.Warn("stream@streaming connection lost", zap.Uint64("epoch", msg.epoch), zap.Error(msg.err))
		state.teardown()
		state.notifySupervisor(ctx, domain.StreamDown{
			Epoch:       msg.epoch,
			Err:         msg.err,
			AuthSuspect: domain.AuthSuspect(msg.err),
		})
		state.behavior.Become(state.IdleReceive)
	case heartbeatTick:
		if msg.epoch != state.epoch {
			return
		}
		state.logger.Warn("stream@streaming heartbeat missed", zap.Uint64("epoch", msg.epoch))
		state.teardown()
		state.notifySupervisor(ctx, domain.StreamDown{
			Epoch: msg.epoch,
			Err:   fmt.Errorf("%w: no stream traffic within %s", domain.ErrTransient, state.cfg.HeartbeatTimeout()),
		})
		state.behavior.Become(state.IdleReceive)
	case domain.CloseStreamRequest:
		state.logger.Debug("stream@streaming CloseStreamRequest")
		state.teardown()
		state.behavior.Become(state.IdleReceive)
	case domain.OpenStreamRequest:
		state.logger.Debug("stream@streaming OpenStreamRequest replaces connection", zap.Uint64("epoch", msg.Epoch))
		state.supervisor = ctx.Sender()
		state.teardown()
		state.dial(ctx, msg.Epoch)
		state.behavior.Become(state.IdleReceive)
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_STREAM,
			Healthy: true,
			State:   "streaming",
		})
	case *actor.Stopping:
		state.teardown()
	default:
		state.logger.Debug("stream@streaming recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *StreamActor) dial(ctx actor.Context, epoch uint64) {
	state.epoch = epoch
	state.earlyClose = nil
	handler := mailboxHandler{system: state.system, self: ctx.Self(), epoch: epoch}
	actorutil.NewBackgroundTask(ctx, func() (*streamEstablished, error) {
		dialCtx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		defer cancel()
		conn, err := state.dialer.Dial(dialCtx, state.device.ID, handler)
		if err != nil {
			return nil, err
		}
		return &streamEstablished{epoch: epoch, conn: conn}, nil
	}).OnError(func(err error) {
		ctx.Send(ctx.Self(), streamFailed{epoch: epoch, err: err})
	}).OnSuccess(func(res streamEstablished) {
		ctx.Send(ctx.Self(), res)
	}).Run()
}

// resync fetches the latest full data record after a (re)connect so fields
// missed during the outage are not stale until the next push.
func (state *StreamActor) resync(ctx actor.Context, epoch uint64) {
	actorutil.NewBackgroundTaskNoError(ctx, func() *resyncResult {
		readCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		delta, err := state.control.LatestData(readCtx, state.device.ID)
		return &resyncResult{epoch: epoch, delta: delta, err: err}
	}).PipeTo(ctx.Self())
}

func (state *StreamActor) applyDelta(delta domain.StateDelta, epoch uint64) {
	previous := state.store.Read()
	current, applied := state.store.Apply(delta, epoch)
	if !applied {
		return
	}
	state.logger.Debug("stream@streaming state updated", zap.Uint64("version", current.Version))
	state.eventStream.Publish(domain.StateUpdatedEvent{
		Previous: previous,
		Current:  current,
		Delta:    delta,
	})
}

func (state *StreamActor) resetHeartbeat(ctx actor.Context) {
	if state.cancelHeartbeat != nil {
		state.cancelHeartbeat()
		state.cancelHeartbeat = nil
	}
	if state.cfg.HeartbeatTimeout() <= 0 {
		return
	}
	state.cancelHeartbeat = state.scheduler.RequestOnce(state.cfg.HeartbeatTimeout(), ctx.Self(), heartbeatTick{epoch: state.epoch})
}

func (state *StreamActor) teardown() {
	if state.cancelHeartbeat != nil {
		state.cancelHeartbeat()
		state.cancelHeartbeat = nil
	}
	if state.conn != nil {
		state.conn.Close()
		state.conn = nil
	}
}

func (state *StreamActor) notifySupervisor(ctx actor.Context, msg any) {
	if state.supervisor != nil {
		ctx.Send(state.supervisor, msg)
	}
}
