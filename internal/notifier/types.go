package notifier

import "time"

// Config controls the async notification pipeline.
type Config struct {
	// Workers > 1 trades per-chat ordering for throughput.
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	SendTimeout     time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
}

// Priority levels. Higher levels get a marker prepended to the text.
const (
	PriorityNormal  = 0
	PriorityInfo    = 5
	PriorityWarning = 7
	PriorityAlert   = 9
)
