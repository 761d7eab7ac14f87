package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "gradebot/pkg/logx"
)

// sdNotify reports state to systemd. Outside a unit (no NOTIFY_SOCKET) it is a no-op.
func sdNotify(log logx.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		log.Debug("sd_notify", logx.String("state", state))
	}
}

// watchdogLoop pings the systemd watchdog at half its interval while
// healthy reports true. It returns at once when the watchdog is off.
func watchdogLoop(ctx context.Context, log logx.Logger, healthy func(context.Context) bool) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		log.Warn("watchdog check failed", logx.Err(err))
		return
	}
	if interval <= 0 {
		return
	}
	tick := time.NewTicker(interval / 2)
	defer tick.Stop()
	log.Info("systemd watchdog enabled", logx.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if healthy(ctx) {
				sdNotify(log, daemon.SdNotifyWatchdog)
			} else {
				log.Warn("unhealthy; skipping watchdog ping")
			}
		}
	}
}
