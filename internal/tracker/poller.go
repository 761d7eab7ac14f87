package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gradebot/internal/events"
	"gradebot/internal/grades"
	"gradebot/internal/observability/metrics"
	"gradebot/internal/remote"
	rtsup "gradebot/internal/runtime/supervisor"
	logx "gradebot/pkg/logx"

	"github.com/robfig/cron/v3"
)

// poller owns snap; nothing else reads or writes it.
type poller struct {
	src     events.Source
	svc     remote.Service
	sink    Sink
	cfg     Config
	sched   cron.Schedule
	snap    *grades.Snapshot
	relogin func(ctx context.Context) (*remote.Session, error)
	metrics *metrics.Metrics
	log     logx.Logger

	failures int
	advised  bool
}

// run fetches immediately, then on every schedule tick until ctx is done.
// Failures never end the loop; they stretch the wait with backoff.
func (p *poller) run(ctx context.Context, rs *remote.Session) {
	for {
		rs = p.tick(ctx, rs)

		now := time.Now()
		wait := p.sched.Next(now).Sub(now)
		if p.failures > 0 {
			wait = max(wait, rtsup.Jitter(backoff(p.cfg.RetryBase, p.cfg.MaxBackoff, p.failures)))
		}
		if !sleep(ctx, wait) {
			return
		}
	}
}

func (p *poller) tick(ctx context.Context, rs *remote.Session) *remote.Session {
	start := time.Now()
	recs, err := p.svc.FetchRecords(ctx, rs)
	if errors.Is(err, remote.ErrSessionExpired) {
		p.log.Info("session expired, logging in again")
		fresh, lerr := p.relogin(ctx)
		if lerr != nil {
			err = fmt.Errorf("re-login: %w", lerr)
		} else {
			rs = fresh
			recs, err = p.svc.FetchRecords(ctx, rs)
		}
	}
	if ctx.Err() != nil {
		return rs
	}
	p.metrics.Fetch(err == nil, time.Since(start))

	if err != nil {
		p.failures++
		if p.failures == 1 {
			p.log.Warn("fetch failed", logx.Err(err))
		} else {
			p.log.Debug("fetch failed", logx.Int("failures", p.failures), logx.Err(err))
		}
		if p.failures >= p.cfg.AdvisoryAfter && !p.advised {
			p.advised = true
			p.log.Warn("fetch keeps failing, advising user", logx.Int("failures", p.failures))
			p.sink.Push(events.PollAdvisory{Source: p.src, Failures: p.failures, Err: err.Error()})
		}
		return rs
	}

	if p.failures > 0 {
		p.log.Info("fetch recovered", logx.Int("after_failures", p.failures))
	}
	p.failures, p.advised = 0, false

	for _, c := range p.snap.Apply(recs) {
		p.log.Debug("record changed", logx.String("kind", c.Kind.String()), logx.String("course", c.Record.Course()))
		p.sink.Push(events.FromChange(p.src, c))
	}
	return rs
}
