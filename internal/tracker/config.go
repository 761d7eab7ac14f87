// Package tracker runs one credential session per registered user. A session
// that logs in successfully turns into that user's poller in the same
// goroutine; the Tracker keeps at most one of them alive per user.
package tracker

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type Config struct {
	// PollInterval is used when PollSchedule is empty.
	PollInterval time.Duration
	// PollSchedule is a cron spec or descriptor ("@every 30s", "*/5 * * * *").
	PollSchedule string
	// LoginRetries bounds retries of transport failures during login.
	LoginRetries  int
	RetryBase     time.Duration
	MaxBackoff    time.Duration
	AdvisoryAfter int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.LoginRetries < 0 {
		c.LoginRetries = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = time.Minute
	}
	if c.AdvisoryAfter <= 0 {
		c.AdvisoryAfter = 10
	}
	return c
}

// every is a fixed-delay cron.Schedule. Unlike cron.Every it keeps
// sub-second precision.
type every time.Duration

func (e every) Next(t time.Time) time.Time { return t.Add(time.Duration(e)) }

// ParseSchedule returns the poll schedule described by cfg.
func ParseSchedule(cfg Config) (cron.Schedule, error) {
	cfg = cfg.withDefaults()
	spec := strings.TrimSpace(cfg.PollSchedule)
	if spec == "" {
		return every(cfg.PollInterval), nil
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("poll schedule %q: %w", spec, err)
	}
	return sched, nil
}

// backoff returns the delay before retry n (n >= 1), doubling from base up to limit.
func backoff(base, limit time.Duration, n int) time.Duration {
	d := base
	for i := 1; i < n && d < limit; i++ {
		d *= 2
	}
	return min(d, limit)
}
