// Package coordinator is the single consumer of change events and the only
// writer to the store. It also answers chat commands.
package coordinator

import (
	"context"
	"errors"

	"gradebot/internal/events"
	"gradebot/internal/grades"
	"gradebot/internal/notifier"
	"gradebot/internal/observability/metrics"
	"gradebot/internal/storage"
	"gradebot/internal/tracker"
	kit "gradebot/internal/transport"
	logx "gradebot/pkg/logx"
)

// Notifier delivers outbound messages. *notifier.Service implements it.
type Notifier interface {
	Notify(ctx context.Context, n kit.Notification) error
}

// Tracker owns per-user sessions. *tracker.Tracker implements it.
type Tracker interface {
	Start(key tracker.Key, secret string, seed []grades.Record)
	Stop(key tracker.Key) bool
	State(key tracker.Key) (tracker.State, bool)
	Current(key tracker.Key) (string, bool)
}

type Config struct {
	// Transport tags outbound notifications, e.g. "telegram".
	Transport string
	// DrainBatch caps events handled per wakeup so commands are not starved.
	DrainBatch int
}

type Deps struct {
	Store    *storage.Store
	Queue    *events.Queue
	Tracker  Tracker
	Notifier Notifier
	Updates  <-chan kit.Update
	Metrics  *metrics.Metrics
	Log      logx.Logger
}

type Coordinator struct {
	cfg      Config
	store    *storage.Store
	queue    *events.Queue
	tracker  Tracker
	notifier Notifier
	updates  <-chan kit.Update
	metrics  *metrics.Metrics
	log      logx.Logger

	lastDropped uint64
	// pending holds users whose first login has not been confirmed yet.
	pending map[tracker.Key]bool
}

func New(cfg Config, d Deps) *Coordinator {
	if cfg.Transport == "" {
		cfg.Transport = "telegram"
	}
	if cfg.DrainBatch <= 0 {
		cfg.DrainBatch = 64
	}
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Coordinator{
		cfg:      cfg,
		store:    d.Store,
		queue:    d.Queue,
		tracker:  d.Tracker,
		notifier: d.Notifier,
		updates:  d.Updates,
		metrics:  d.Metrics,
		log:      log.With(logx.String("comp", "coordinator")),
		pending:  map[tracker.Key]bool{},
	}
}

// Run serves events and commands until ctx is done. It returns an error only
// when the store connection fails.
func (c *Coordinator) Run(ctx context.Context) error {
	if err := c.adviseRestart(ctx); err != nil {
		return err
	}
	c.log.Info("coordinator running")

	updates := c.updates
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.queue.Ready():
			if err := c.drain(ctx); err != nil {
				return err
			}
		case u, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			if err := c.handleUpdate(ctx, u); err != nil {
				return err
			}
		}
	}
}

// drain handles up to DrainBatch events and re-arms Ready if more remain.
func (c *Coordinator) drain(ctx context.Context) error {
	for i := 0; i < c.cfg.DrainBatch; i++ {
		e, ok := c.queue.Pop()
		if !ok {
			break
		}
		if err := c.handleEvent(ctx, e); err != nil {
			return err
		}
	}
	n := c.queue.Len()
	if n > 0 {
		c.queue.Signal()
	}
	c.metrics.QueueDepth(n)

	if d := c.queue.Dropped(); d > c.lastDropped {
		c.log.Warn("event queue overflowed; oldest events dropped", logx.Uint64("dropped_total", d), logx.Uint64("since_last", d-c.lastDropped))
		c.lastDropped = d
	}
	return nil
}

// adviseRestart tells every stored user that polling stopped with the last process.
func (c *Coordinator) adviseRestart(ctx context.Context) error {
	users, err := c.store.ListUsers(ctx)
	if err != nil {
		c.log.Error("list users failed", logx.Err(err))
		return fatal(err)
	}
	for _, u := range users {
		to, err := kit.ParseChannel(u.Channel)
		if err != nil {
			c.log.Warn("stored user has bad channel", logx.String("user", u.Username), logx.String("channel", u.Channel))
			continue
		}
		c.send(ctx, to, msgRestarted(u.Username), nil, notifier.PriorityInfo)
	}
	if len(users) > 0 {
		c.log.Info("re-registration advised", logx.Int("users", len(users)))
	}
	return nil
}

func (c *Coordinator) send(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions, priority int) {
	err := c.notifier.Notify(ctx, kit.Notification{
		Channel:  c.cfg.Transport,
		Priority: priority,
		Target:   to,
		Text:     text,
		Options:  opt,
	})
	if err != nil {
		c.log.Warn("notify failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
	}
}

func (c *Coordinator) reply(ctx context.Context, to kit.ChatTarget, text string) {
	c.send(ctx, to, text, nil, notifier.PriorityNormal)
}

func (c *Coordinator) replyHTML(ctx context.Context, to kit.ChatTarget, text string) {
	c.send(ctx, to, text, &kit.SendOptions{ParseMode: grades.ParseMode, DisablePreview: true}, notifier.PriorityNormal)
}

// fatal passes store connection failures through and reports everything else as recovered.
func fatal(err error) error {
	if errors.Is(err, storage.ErrConnection) {
		return err
	}
	return nil
}
