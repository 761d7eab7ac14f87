package config

import (
	"errors"
	"fmt"
	"strings"

	"gradebot/internal/coordinator"
	"gradebot/internal/events"
	"gradebot/internal/notifier"
	"gradebot/internal/observability/debug"
	"gradebot/internal/remote"
	"gradebot/internal/storage"
	"gradebot/internal/tracker"
	"gradebot/internal/transport/telegram/adapter"
	logx "gradebot/pkg/logx"
)

var ErrMissingToken = errors.New("telegram.token is required (or set " + EnvTelegramToken + ")")

func (c *Config) TelegramAdapter() (adapter.Config, error) {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return adapter.Config{}, ErrMissingToken
	}
	pt, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout)
	if err != nil {
		return adapter.Config{}, err
	}
	return adapter.Config{Token: strings.TrimSpace(c.Telegram.Token), PollTimeout: pt}, nil
}

func (c *Config) Logx() logx.Config {
	return logx.Config{
		Level:   c.Logging.Level,
		Console: c.Logging.Console,
		File:    logx.FileConfig{Enabled: c.Logging.File.Enabled, Path: c.Logging.File.Path},
		Chat: logx.ChatConfig{
			Enabled:    c.Logging.Telegram.Enabled,
			ChatID:     c.Logging.Telegram.ChatID,
			MinLevel:   c.Logging.Telegram.MinLevel,
			RatePerSec: c.Logging.Telegram.RatePerSec,
		},
	}
}

func (c *Config) StorageConfig() (storage.Config, error) {
	driver := strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
	default:
		return storage.Config{}, fmt.Errorf("storage.driver: unsupported driver %q", c.Storage.Driver)
	}
	path := strings.TrimSpace(c.Storage.Path)
	if path == "" {
		path = "./data/gradebot.db"
	}
	bt, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Driver: driver, Path: path, BusyTimeout: bt}, nil
}

func (c *Config) RemoteConfig() (remote.Config, error) {
	to, err := ParseDurationField("remote.timeout", c.Remote.Timeout)
	if err != nil {
		return remote.Config{}, err
	}
	if c.Remote.RatePerSec < 0 {
		return remote.Config{}, fmt.Errorf("remote.rate_per_sec must be >= 0")
	}
	return remote.Config{
		LoginURL:   strings.TrimSpace(c.Remote.LoginURL),
		RecordsURL: strings.TrimSpace(c.Remote.RecordsURL),
		Timeout:    to,
		RatePerSec: c.Remote.RatePerSec,
		Burst:      c.Remote.Burst,
		UserAgent:  c.Remote.UserAgent,
	}, nil
}

// TrackerConfig resolves the tracker section; the poll schedule is parsed
// here so a bad cron spec is rejected before it reaches a running tracker.
func (c *Config) TrackerConfig() (tracker.Config, error) {
	t := c.Tracker
	var (
		out tracker.Config
		err error
	)
	if out.PollInterval, err = ParseDurationField("tracker.poll_interval", t.PollInterval); err != nil {
		return out, err
	}
	if out.RetryBase, err = ParseDurationField("tracker.retry_base", t.RetryBase); err != nil {
		return out, err
	}
	if out.MaxBackoff, err = ParseDurationField("tracker.max_backoff", t.MaxBackoff); err != nil {
		return out, err
	}
	out.PollSchedule = strings.TrimSpace(t.PollSchedule)
	out.LoginRetries = 3
	if t.LoginRetries != nil {
		if *t.LoginRetries < 0 {
			return out, fmt.Errorf("tracker.login_retries must be >= 0")
		}
		out.LoginRetries = *t.LoginRetries
	}
	out.AdvisoryAfter = t.AdvisoryAfter
	if _, err := tracker.ParseSchedule(out); err != nil {
		return out, fmt.Errorf("tracker.poll_schedule: %w", err)
	}
	return out, nil
}

// QueueCapacity is the change-event queue bound.
func (c *Config) QueueCapacity() int {
	if c.Coordinator.QueueCapacity > 0 {
		return c.Coordinator.QueueCapacity
	}
	return events.DefaultCapacity
}

func (c *Config) CoordinatorConfig() coordinator.Config {
	return coordinator.Config{Transport: "telegram", DrainBatch: c.Coordinator.DrainBatch}
}

func (c *Config) NotifierConfig() (notifier.Config, error) {
	n := c.Notifier
	if n == nil {
		n = &NotifierConfig{}
	}
	out := notifier.Config{
		Workers:         n.Workers,
		QueueSize:       n.QueueSize,
		RatePerSec:      n.RatePerSec,
		RetryMax:        n.RetryMax,
		DedupMaxEntries: n.DedupMaxEntries,
	}
	var err error
	if out.RetryBase, err = ParseDurationField("notifier.retry_base", n.RetryBase); err != nil {
		return out, err
	}
	if out.RetryMaxDelay, err = ParseDurationField("notifier.retry_max_delay", n.RetryMaxDelay); err != nil {
		return out, err
	}
	if out.SendTimeout, err = ParseDurationField("notifier.send_timeout", n.SendTimeout); err != nil {
		return out, err
	}
	if out.DedupWindow, err = ParseDurationField("notifier.dedup_window", n.DedupWindow); err != nil {
		return out, err
	}
	return out, nil
}

func (c *Config) DebugConfig() (debug.Config, error) {
	d := c.Debug
	out := debug.Config{
		Enabled:       d.Enabled,
		Addr:          strings.TrimSpace(d.Addr),
		Token:         strings.TrimSpace(d.Token),
		AllowInsecure: d.AllowInsecure,
	}
	var err error
	if out.ReadTimeout, err = ParseDurationField("debug.read_timeout", d.ReadTimeout); err != nil {
		return out, err
	}
	if out.WriteTimeout, err = ParseDurationField("debug.write_timeout", d.WriteTimeout); err != nil {
		return out, err
	}
	return out, nil
}

// Validate resolves every section and reports the first problem.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if _, err := c.TelegramAdapter(); err != nil {
		return err
	}
	if _, err := c.StorageConfig(); err != nil {
		return err
	}
	if _, err := c.RemoteConfig(); err != nil {
		return err
	}
	if _, err := c.TrackerConfig(); err != nil {
		return err
	}
	if _, err := c.NotifierConfig(); err != nil {
		return err
	}
	if _, err := c.DebugConfig(); err != nil {
		return err
	}
	if c.Logging.Telegram.Enabled && c.Logging.Telegram.ChatID == 0 {
		return errors.New("logging.telegram.chat_id is required when logging.telegram.enabled")
	}
	return nil
}
