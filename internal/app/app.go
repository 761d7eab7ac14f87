// Package app wires the bot together: config, logging, storage, the remote
// client, per-user tracking, the coordinator and the chat transport.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"gradebot/internal/config"
	"gradebot/internal/coordinator"
	"gradebot/internal/events"
	"gradebot/internal/notifier"
	"gradebot/internal/observability/debug"
	"gradebot/internal/observability/metrics"
	"gradebot/internal/remote"
	rtsup "gradebot/internal/runtime/supervisor"
	"gradebot/internal/storage"
	"gradebot/internal/tracker"
	kit "gradebot/internal/transport"
	telegram "gradebot/internal/transport/telegram/adapter"
	logx "gradebot/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log     logx.Logger
	logs    *logx.Service
	metrics *metrics.Metrics

	store   *storage.Store
	queue   *events.Queue
	tracker *tracker.Tracker
	adapter *telegram.Adapter
	notif   *notifier.Service
	coord   *coordinator.Coordinator
	debug   *debug.Server

	// bg outlives the run context so the notifier can drain on Stop.
	bg       context.Context
	bgCancel context.CancelFunc

	updates chan kit.Update
}

// New loads cfgPath and builds every component. Nothing runs until Start.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	adCfg, err := cfg.TelegramAdapter()
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(adCfg, logx.NewConsole("INFO").With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(cfg.Logx(), ad)
	appLog := log.With(logx.String("comp", "app"))

	a := &App{
		cfgm:    cfgm,
		log:     appLog,
		logs:    logSvc,
		metrics: metrics.New(),
		adapter: ad,
		updates: make(chan kit.Update, 256),
	}
	a.bg, a.bgCancel = context.WithCancel(context.Background())

	ok := false
	defer func() {
		if !ok {
			a.bgCancel()
			if a.store != nil {
				_ = a.store.Close()
			}
			_ = logSvc.Close()
		}
	}()

	stCfg, err := cfg.StorageConfig()
	if err != nil {
		return nil, err
	}
	a.store, err = storage.Open(ctx, stCfg, log)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	appLog.Info("storage opened", logx.String("path", stCfg.Path))

	a.queue = events.NewQueue(cfg.QueueCapacity(), events.WithDropHook(func(uint64) {
		a.metrics.QueueDropped()
	}))

	rcfg, err := cfg.RemoteConfig()
	if err != nil {
		return nil, err
	}
	client, err := remote.NewClient(rcfg, log)
	if err != nil {
		return nil, fmt.Errorf("remote: %w", err)
	}

	tcfg, err := cfg.TrackerConfig()
	if err != nil {
		return nil, err
	}
	a.tracker, err = tracker.New(a.bg, tcfg, client, a.queue,
		tracker.WithMetrics(a.metrics),
		tracker.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}

	ncfg, err := cfg.NotifierConfig()
	if err != nil {
		return nil, err
	}
	a.notif = notifier.New(ncfg, ad, log, a.metrics)

	a.coord = coordinator.New(cfg.CoordinatorConfig(), coordinator.Deps{
		Store:    a.store,
		Queue:    a.queue,
		Tracker:  a.tracker,
		Notifier: a.notif,
		Updates:  a.updates,
		Metrics:  a.metrics,
		Log:      log,
	})

	dcfg, err := cfg.DebugConfig()
	if err != nil {
		return nil, err
	}
	a.debug = debug.New(dcfg, a.store.Ping, a.metrics.Handler(), log)

	ok = true
	return a, nil
}

// Done is closed when the run context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	runCtx := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return cfg.Validate() })

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	a.publishMenu(runCtx)

	a.notif.Start(a.bg)
	if err := a.debug.Start(runCtx); err != nil {
		return err
	}

	// A store connection failure ends the process.
	a.sup.Go("coordinator", a.coord.Run)

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		watchdogLoop(c, a.log, func(c context.Context) bool {
			pctx, cancel := context.WithTimeout(c, 2*time.Second)
			defer cancel()
			return a.store.Ping(pctx) == nil
		})
	})

	sdNotify(a.log, daemon.SdNotifyReady)
	a.log.Info("app started")
	return nil
}

func (a *App) publishMenu(ctx context.Context) {
	var menu kit.CommandMenuUpdater = a.adapter
	mctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := menu.UpdateMenuCommands(mctx, coordinator.Commands()); err != nil {
		a.log.Warn("command menu update failed", logx.Err(err))
	}
}

// reloadLoop applies hot-reloadable sections and flags the rest.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	last := a.cfgm.Get()
	for {
		var next *config.Config
		select {
		case <-ctx.Done():
			return
		case c, ok := <-sub:
			if !ok {
				return
			}
			next = c
		}
		// coalesce bursts
		for drained := false; !drained; {
			select {
			case c := <-sub:
				if c != nil {
					next = c
				}
			default:
				drained = true
			}
		}

		sections, attrs := config.SummarizeConfigChange(last, next)
		last = next
		if len(sections) == 0 {
			a.log.Debug("config reload received, no effective changes")
			continue
		}

		a.logs.Apply(next.Logx())
		if ncfg, err := next.NotifierConfig(); err != nil {
			a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
		} else {
			a.notif.Apply(ncfg)
		}
		if pending := config.RestartRequired(sections); len(pending) > 0 {
			a.log.Warn("config changed; restart required for these sections", logx.String("sections", strings.Join(pending, ",")))
		}
		fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
		a.log.Info("config applied", fields...)
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdNotify(a.log, daemon.SdNotifyStopping)
	a.sup.Cancel()

	// trackers first so no new events arrive; the coordinator exits with the
	// run context before the store closes.
	a.step(ctx, "tracker", 3*time.Second, a.tracker.StopAll)
	a.step(ctx, "supervisor", 3*time.Second, a.sup.Wait)
	a.step(ctx, "debug", time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })
	a.step(ctx, "notifier", 3*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	a.bgCancel()
	a.step(ctx, "adapter", 2*time.Second, a.adapter.Stop)
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}

// step runs fn bounded by limit (never beyond ctx's deadline) so one stuck
// component cannot stall shutdown.
func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		limit = min(limit, time.Until(dl))
	}
	if limit <= 0 {
		a.log.Warn("stop step skipped, deadline reached", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}
