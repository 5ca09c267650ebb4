package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

type Options struct {
	MaxRetries  int
	RetryDelay  time.Duration
	SendTimeout time.Duration
}

// Dispatcher owns one actor per channel. Each actor delivers its mailbox in order,
// so a slow SMTP server never delays telegram messages.
type Dispatcher struct {
	system *actor.ActorSystem
	pids   map[Channel]*actor.PID
	logger *zap.Logger
}

// deliver is the message a channel actor receives.
type deliver struct {
	notification Notification
	attempt      int
}

type channelActor struct {
	channel Channel
	sender  Sender
	opts    Options
	logger  *zap.Logger
}

func (a *channelActor) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *deliver:
		a.deliver(ctx, msg)

	case *actor.Started:
		a.logger.Info("Notification actor started")

	case *actor.Stopped:
		a.logger.Info("Notification actor stopped")
	}
}

func (a *channelActor) deliver(ctx actor.Context, msg *deliver) {
	sendCtx, cancel := context.WithTimeout(context.Background(), a.opts.SendTimeout)
	err := a.sender.Send(sendCtx, msg.notification)
	cancel()

	if err == nil {
		a.logger.Debug("Notification sent",
			zap.String("kind", string(msg.notification.Kind)),
			zap.Int("attempt", msg.attempt))
		return
	}

	if msg.attempt >= a.opts.MaxRetries {
		a.logger.Error("Giving up on notification",
			zap.String("kind", string(msg.notification.Kind)),
			zap.String("recipient", msg.notification.Recipient),
			zap.Int("attempts", msg.attempt+1),
			zap.Error(err))
		return
	}

	a.logger.Warn("Notification failed, retrying",
		zap.String("kind", string(msg.notification.Kind)),
		zap.Int("attempt", msg.attempt),
		zap.Duration("delay", a.opts.RetryDelay),
		zap.Error(err))

	self, system := ctx.Self(), ctx.ActorSystem()
	next := &deliver{notification: msg.notification, attempt: msg.attempt + 1}
	time.AfterFunc(a.opts.RetryDelay, func() {
		system.Root.Send(self, next)
	})
}

func NewDispatcher(senders map[Channel]Sender, opts Options, logger *zap.Logger) (*Dispatcher, error) {
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 15 * time.Second
	}

	system := actor.NewActorSystem()
	d := &Dispatcher{
		system: system,
		pids:   make(map[Channel]*actor.PID, len(senders)),
		logger: logger,
	}

	for channel, sender := range senders {
		a := &channelActor{
			channel: channel,
			sender:  sender,
			opts:    opts,
			logger:  logger.Named(string(channel) + "-actor"),
		}
		props := actor.PropsFromProducer(func() actor.Actor { return a })

		pid, err := system.Root.SpawnNamed(props, "notify-"+string(channel))
		if err != nil {
			return nil, fmt.Errorf("failed to spawn %s actor: %w", channel, err)
		}
		d.pids[channel] = pid
	}

	return d, nil
}

// Dispatch enqueues n for delivery and returns immediately.
func (d *Dispatcher) Dispatch(n Notification) {
	pid, ok := d.pids[n.Channel]
	if !ok {
		d.logger.Warn("No sender for channel", zap.String("channel", string(n.Channel)))
		return
	}
	if n.Recipient == "" {
		d.logger.Warn("Dropping notification", zap.String("kind", string(n.Kind)), zap.Error(ErrNoRecipient))
		return
	}
	d.system.Root.Send(pid, &deliver{notification: n})
}

// Shutdown stops every channel actor after it drained its mailbox.
func (d *Dispatcher) Shutdown() {
	for _, pid := range d.pids {
		if err := d.system.Root.PoisonFuture(pid).Wait(); err != nil {
			d.logger.Warn("Actor did not stop cleanly", zap.String("pid", pid.Id), zap.Error(err))
		}
	}
}
