package tracker

import (
	"context"
	"sync"
	"sync/atomic"

	"gradebot/internal/events"
	"gradebot/internal/grades"
	"gradebot/internal/observability/metrics"
	"gradebot/internal/remote"
	rtsup "gradebot/internal/runtime/supervisor"
	logx "gradebot/pkg/logx"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// Key identifies a tracked user.
type Key struct {
	Username string
	Channel  string
}

type handle struct {
	gen    uint64
	id     string
	cancel context.CancelFunc
	done   chan struct{}
	state  atomic.Int32
}

// Tracker is a registry of live sessions keyed by user. Safe for concurrent use.
type Tracker struct {
	cfg     Config
	sched   cron.Schedule
	svc     remote.Service
	sink    Sink
	sup     *rtsup.Supervisor
	metrics *metrics.Metrics
	log     logx.Logger

	mu      sync.Mutex
	gen     uint64
	handles map[Key]*handle
	// latest outlives the handle so late events can be matched after exit.
	latest map[Key]string
}

type Option func(*Tracker)

func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

func WithLogger(log logx.Logger) Option {
	return func(t *Tracker) { t.log = log }
}

// New returns a tracker whose goroutines live until ctx is done or StopAll.
func New(ctx context.Context, cfg Config, svc remote.Service, sink Sink, opts ...Option) (*Tracker, error) {
	cfg = cfg.withDefaults()
	sched, err := ParseSchedule(cfg)
	if err != nil {
		return nil, err
	}
	t := &Tracker{
		cfg:     cfg,
		sched:   sched,
		svc:     svc,
		sink:    sink,
		log:     logx.Nop(),
		handles: map[Key]*handle{},
		latest:  map[Key]string{},
	}
	for _, o := range opts {
		o(t)
	}
	t.log = t.log.With(logx.String("comp", "tracker"))
	t.sup = rtsup.New(ctx,
		rtsup.WithLogger(t.log),
		// one user's panic must not stop everyone else's poller.
		rtsup.WithCancelOnError(false),
	)
	return t, nil
}

// Start launches a session for key, replacing (and cancelling) any live one.
// seed is the stored history the poller's snapshot starts from.
func (t *Tracker) Start(key Key, secret string, seed []grades.Record) {
	ctx, cancel := context.WithCancel(t.sup.Context())
	h := &handle{id: uuid.NewString(), cancel: cancel, done: make(chan struct{})}

	t.mu.Lock()
	if old := t.handles[key]; old != nil {
		old.cancel()
	}
	t.gen++
	h.gen = t.gen
	t.handles[key] = h
	t.latest[key] = h.id
	n := len(t.handles)
	t.mu.Unlock()
	t.metrics.ActiveSessions(n)

	log := t.log.With(
		logx.String("user", key.Username),
		logx.String("channel", key.Channel),
		logx.String("session", h.id),
	)
	s := &session{
		src:    events.Source{Channel: key.Channel, Username: key.Username, Session: h.id},
		secret: secret,
		seed:   append([]grades.Record(nil), seed...),
		svc:    t.svc,
		sink:   t.sink,
		cfg:    t.cfg,
		t:      t,
		log:    log,
		state:  func(st State) { h.state.Store(int32(st)) },
	}

	t.sup.GoContext(ctx, "session."+key.Username, func(ctx context.Context) error {
		defer t.release(key, h)
		s.run(ctx)
		return nil
	})
}

// release drops h from the registry unless a newer handle replaced it.
func (t *Tracker) release(key Key, h *handle) {
	h.cancel()
	close(h.done)

	t.mu.Lock()
	if cur := t.handles[key]; cur != nil && cur.gen == h.gen {
		delete(t.handles, key)
	}
	n := len(t.handles)
	t.mu.Unlock()
	t.metrics.ActiveSessions(n)
}

// Stop cancels the session for key. It reports whether one was live.
func (t *Tracker) Stop(key Key) bool {
	t.mu.Lock()
	h := t.handles[key]
	delete(t.handles, key)
	delete(t.latest, key)
	n := len(t.handles)
	t.mu.Unlock()
	if h == nil {
		return false
	}
	h.cancel()
	t.metrics.ActiveSessions(n)
	return true
}

// Current returns the id of the session most recently started for key. It
// stays set after that session exits and is cleared by Stop.
func (t *Tracker) Current(key Key) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.latest[key]
	return id, ok
}

// StopAll cancels every session and waits for them to exit.
func (t *Tracker) StopAll(ctx context.Context) error {
	return t.sup.Stop(ctx)
}

// State returns the state of key's live session.
func (t *Tracker) State(key Key) (State, bool) {
	t.mu.Lock()
	h := t.handles[key]
	t.mu.Unlock()
	if h == nil {
		return StateUnauthenticated, false
	}
	return State(h.state.Load()), true
}

// Active reports whether key has a live session.
func (t *Tracker) Active(key Key) bool {
	_, ok := t.State(key)
	return ok
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.handles)
}

