package tracker

import (
	"context"
	"errors"
	"time"

	"gradebot/internal/events"
	"gradebot/internal/grades"
	"gradebot/internal/remote"
	rtsup "gradebot/internal/runtime/supervisor"
	logx "gradebot/pkg/logx"
)

// State is the lifecycle position of a session.
type State int32

const (
	StateUnauthenticated State = iota
	StateAuthenticating
	StatePolling
	StateRejected
	StateNotAStudent
	StateTransportFailed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StatePolling:
		return "polling"
	case StateRejected:
		return "rejected"
	case StateNotAStudent:
		return "not_a_student"
	case StateTransportFailed:
		return "transport_failed"
	default:
		return "unknown"
	}
}

// Sink receives events. events.Queue implements it.
type Sink interface {
	Push(e events.Event) bool
}

type session struct {
	src    events.Source
	secret string
	seed   []grades.Record

	svc   remote.Service
	sink  Sink
	cfg   Config
	t     *Tracker
	log   logx.Logger
	state func(State)
}

// run authenticates, reports exactly one LoginStatus and, on success, polls
// until ctx is done. Nothing is emitted if ctx ends before login completes.
func (s *session) run(ctx context.Context) {
	s.state(StateAuthenticating)
	rs, status := s.authenticate(ctx)
	if ctx.Err() != nil {
		return
	}
	s.t.metrics.Login(string(status))
	s.sink.Push(events.LoginStatus{Source: s.src, Status: status})

	switch status {
	case events.StatusSuccess:
	case events.StatusInvalidLogin:
		s.state(StateRejected)
		return
	case events.StatusNotAStudent:
		s.state(StateNotAStudent)
		return
	default:
		s.state(StateTransportFailed)
		return
	}

	s.log.Info("login ok, polling", logx.Int("seed", len(s.seed)))
	s.state(StatePolling)
	p := &poller{
		src:     s.src,
		svc:     s.svc,
		sink:    s.sink,
		cfg:     s.cfg,
		sched:   s.t.sched,
		snap:    grades.NewSnapshot(s.seed),
		relogin: s.login,
		metrics: s.t.metrics,
		log:     s.log,
	}
	s.seed = nil
	p.run(ctx, rs)
}

// authenticate retries transport failures up to cfg.LoginRetries times.
func (s *session) authenticate(ctx context.Context) (*remote.Session, events.Status) {
	var lastErr error
	for attempt := 0; attempt <= s.cfg.LoginRetries; attempt++ {
		if attempt > 0 {
			d := rtsup.Jitter(backoff(s.cfg.RetryBase, s.cfg.MaxBackoff, attempt))
			s.log.Warn("login failed, retrying", logx.Int("attempt", attempt), logx.Duration("in", d), logx.Err(lastErr))
			if !sleep(ctx, d) {
				return nil, events.StatusTransportFailure
			}
		}
		rs, err := s.login(ctx)
		status := statusOf(err)
		if status != events.StatusTransportFailure {
			if err != nil {
				s.log.Info("login rejected", logx.String("status", string(status)))
			}
			return rs, status
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	s.log.Warn("login gave up", logx.Err(lastErr))
	return nil, events.StatusTransportFailure
}

func (s *session) login(ctx context.Context) (*remote.Session, error) {
	form, err := s.svc.FetchLoginForm(ctx)
	if err != nil {
		return nil, err
	}
	return s.svc.SubmitLogin(ctx, s.src.Username, s.secret, form)
}

func statusOf(err error) events.Status {
	switch {
	case err == nil:
		return events.StatusSuccess
	case errors.Is(err, remote.ErrInvalidLogin):
		return events.StatusInvalidLogin
	case errors.Is(err, remote.ErrNotAStudent):
		return events.StatusNotAStudent
	default:
		return events.StatusTransportFailure
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
