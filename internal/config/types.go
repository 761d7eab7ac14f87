package config

// Config is the on-disk configuration. Durations are Go duration strings
// ("500ms", "10s", "1m"); empty means the component default.
type Config struct {
	Telegram    TelegramConfig    `json:"telegram"`
	Logging     LoggingConfig     `json:"logging"`
	Storage     StorageConfig     `json:"storage"`
	Remote      RemoteConfig      `json:"remote"`
	Tracker     TrackerConfig     `json:"tracker"`
	Coordinator CoordinatorConfig `json:"coordinator"`
	Notifier    *NotifierConfig   `json:"notifier,omitempty"`
	Debug       DebugConfig       `json:"debug,omitempty"`
}

type TelegramConfig struct {
	// Token may be left empty and supplied through GRADEBOT_TELEGRAM_TOKEN.
	Token       string `json:"token"`
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram forwards log lines to an operator chat.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/gradebot.db", "busy_timeout": "5s" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// RemoteConfig points at the login service and the records page.
type RemoteConfig struct {
	LoginURL   string  `json:"login_url,omitempty"`
	RecordsURL string  `json:"records_url,omitempty"`
	Timeout    string  `json:"timeout,omitempty"`
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	Burst      int     `json:"burst,omitempty"`
	UserAgent  string  `json:"user_agent,omitempty"`
}

// TrackerConfig controls per-user sessions. PollSchedule is a cron spec
// ("@every 30s", "*/5 * * * *") and wins over PollInterval when set.
type TrackerConfig struct {
	PollInterval  string `json:"poll_interval,omitempty"`
	PollSchedule  string `json:"poll_schedule,omitempty"`
	LoginRetries  *int   `json:"login_retries,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	MaxBackoff    string `json:"max_backoff,omitempty"`
	AdvisoryAfter int    `json:"advisory_after,omitempty"`
}

type CoordinatorConfig struct {
	QueueCapacity int `json:"queue_capacity,omitempty"`
	DrainBatch    int `json:"drain_batch,omitempty"`
}

// NotifierConfig controls the outbound message pipeline. Workers above 1
// give up per-chat ordering.
type NotifierConfig struct {
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	SendTimeout     string `json:"send_timeout,omitempty"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
}

// DebugConfig controls the operator HTTP server (/healthz, /metrics, pprof).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - A non-loopback address needs a token or an explicit allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"` // do not log
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	WriteTimeout  string `json:"write_timeout,omitempty"`
}
