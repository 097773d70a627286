// Package app wires configuration, storage, the upstream client, and the
// scheduler into one process.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"trendbot/internal/cache"
	"trendbot/internal/config"
	"trendbot/internal/insta"
	"trendbot/internal/notify"
	"trendbot/internal/pipeline"
	"trendbot/internal/scheduler"
	"trendbot/internal/storage"
	"trendbot/internal/trend"
	"trendbot/pkg/logx"
)

const (
	defaultTrendInterval   = 200 * time.Minute
	defaultTrendGrace      = time.Hour
	defaultTrendTimeout    = 10 * time.Minute
	defaultBalanceInterval = 30 * time.Minute
	defaultBalanceGrace    = 5 * time.Minute
	defaultBalanceTimeout  = time.Minute
)

type App struct {
	cfgm   *config.Manager
	logs   *logx.Service
	log    logx.Logger
	store  storage.Store
	scorer *trend.Scorer
	sched  *scheduler.Service

	stopWatch context.CancelFunc
	cfgSub    chan *config.Config
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(logs.Logger().With(logx.String("comp", "config")))

	busyTimeout, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, logs.Logger().With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	activityCache, err := cache.New(cfg.Cache.Dir)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open cache: %w", err)
	}

	upstreamTimeout, err := config.ParseDurationOrDefault("upstream.timeout", cfg.Upstream.Timeout, 15*time.Second)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	client, err := insta.NewClient(insta.ClientConfig{
		BaseURL:   cfg.Upstream.BaseURL,
		AccessKey: cfg.Upstream.AccessKey,
		Timeout:   upstreamTimeout,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("upstream client: %w", err)
	}
	fetcher := insta.NewFetcher(client, activityCache, cfg.Upstream.ClipLimit,
		logs.Logger().With(logx.String("comp", "fetcher")))

	th, err := thresholdsFromConfig(cfg.Scoring)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	scorer := trend.NewScorer(th)

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	sender, err := notify.NewTelegramSender(notify.TelegramConfig{
		Token:       cfg.Telegram.Token,
		RatePerSec:  cfg.Telegram.RatePerSec,
		PollTimeout: pollTimeout,
	}, logs.Logger().With(logx.String("comp", "telegram")))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("telegram sender: %w", err)
	}

	dispatcher := notify.NewDispatcher(sender, store, cfg.Jobs.MaxPerRun,
		logs.Logger().With(logx.String("comp", "dispatcher")))

	retention := defaultRetention(cfg.Jobs.RetentionDays)
	trendJob := pipeline.NewTrendJob(store, fetcher, scorer, dispatcher,
		pipeline.TrendJobConfig{Retention: retention},
		logs.Logger().With(logx.String("comp", "trendjob")))
	balanceJob := pipeline.NewBalanceJob(client, sender,
		cfg.Telegram.AdminChatID, cfg.Jobs.BalanceAlertFloor,
		logs.Logger().With(logx.String("comp", "balancejob")))

	sched := scheduler.New(scheduler.Config{Enabled: true},
		logs.Logger().With(logx.String("comp", "scheduler")))

	trendEvery, err := config.ParseDurationOrDefault("jobs.trend_interval", cfg.Jobs.TrendInterval, defaultTrendInterval)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	trendGrace, err := config.ParseDurationOrDefault("jobs.trend_grace", cfg.Jobs.TrendGrace, defaultTrendGrace)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	trendTimeout, err := config.ParseDurationOrDefault("jobs.trend_timeout", cfg.Jobs.TrendTimeout, defaultTrendTimeout)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	balanceEvery, err := config.ParseDurationOrDefault("jobs.balance_interval", cfg.Jobs.BalanceInterval, defaultBalanceInterval)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	balanceGrace, err := config.ParseDurationOrDefault("jobs.balance_grace", cfg.Jobs.BalanceGrace, defaultBalanceGrace)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	if _, err := sched.AddInterval("trend_notifications", trendEvery, trendTimeout,
		scheduler.TaskOptions{Grace: trendGrace}, trendJob.Run); err != nil {
		_ = store.Close()
		return nil, err
	}
	if _, err := sched.AddInterval("balance_check", balanceEvery, defaultBalanceTimeout,
		scheduler.TaskOptions{Grace: balanceGrace}, balanceJob.Run); err != nil {
		_ = store.Close()
		return nil, err
	}

	return &App{
		cfgm:   cfgm,
		logs:   logs,
		log:    log,
		store:  store,
		scorer: scorer,
		sched:  sched,
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	a.sched.Start(ctx)

	// Config hot-reload: logging and scoring thresholds apply live;
	// everything else needs a restart.
	watchCtx, cancel := context.WithCancel(ctx)
	a.stopWatch = cancel
	a.cfgSub = a.cfgm.Subscribe(1)
	go func() {
		if err := a.cfgm.Watch(watchCtx); err != nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()
	go a.applyLoop(watchCtx)

	go a.watchdogLoop(watchCtx)
	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err == nil && sent {
		a.log.Debug("systemd readiness notified")
	}

	a.log.Info("trendbot started")
	return nil
}

func (a *App) applyLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-a.cfgSub:
			if !ok || cfg == nil {
				return
			}
			a.logs.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
			if th, err := thresholdsFromConfig(cfg.Scoring); err != nil {
				a.log.Warn("scoring thresholds rejected", logx.Err(err))
			} else {
				a.scorer.SetThresholds(th)
				a.log.Info("scoring thresholds applied")
			}
		}
	}
}

func (a *App) watchdogLoop(ctx context.Context) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	if a.stopWatch != nil {
		a.stopWatch()
	}
	a.sched.Stop(ctx)
	if a.cfgSub != nil {
		a.cfgm.Unsubscribe(a.cfgSub)
	}
	err := a.store.Close()
	a.log.Info("trendbot stopped")
	_ = a.logs.Close()
	return err
}

// thresholdsFromConfig overlays configured values onto the defaults.
// Zero fields mean "keep the default".
func thresholdsFromConfig(sc config.ScoringConfig) (trend.Thresholds, error) {
	th := trend.DefaultThresholds()
	if sc.TempoHigh > 0 {
		th.TempoHigh = sc.TempoHigh
	}
	if sc.TempoMedium > 0 {
		th.TempoMedium = sc.TempoMedium
	}
	if sc.LikeRate > 0 {
		th.LikeRate = sc.LikeRate
	}
	if sc.CommentRate > 0 {
		th.CommentRate = sc.CommentRate
	}
	if sc.ShareRate > 0 {
		th.ShareRate = sc.ShareRate
	}
	if sc.SelectionRate > 0 {
		th.SelectionRate = sc.SelectionRate
	}
	if sc.MaxItemAgeDays > 0 {
		th.MaxItemAge = time.Duration(sc.MaxItemAgeDays) * 24 * time.Hour
	}
	fresh, err := config.ParseDurationField("scoring.fresh_window", sc.FreshWindow)
	if err != nil {
		return trend.Thresholds{}, err
	}
	if fresh > 0 {
		th.FreshWindow = fresh
	}
	if err := th.Validate(); err != nil {
		return trend.Thresholds{}, err
	}
	return th, nil
}

func defaultRetention(days int) time.Duration {
	if days <= 0 {
		days = 30
	}
	return time.Duration(days) * 24 * time.Hour
}
