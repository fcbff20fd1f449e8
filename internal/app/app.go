// Package app wires the bot together: config, logging, storage, the
// Telegram adapter, and the relay pipeline, plus the update loop and
// config hot reload.
package app

import (
	"context"
	"sync"
	"time"

	"relaybot/internal/access"
	"relaybot/internal/aggregator"
	"relaybot/internal/config"
	"relaybot/internal/dispatch"
	"relaybot/internal/registry"
	"relaybot/internal/router"
	"relaybot/internal/services/retention"
	"relaybot/internal/storage"
	kit "relaybot/internal/transport"
	telegram "relaybot/internal/transport/telegram/adapter"
	"relaybot/pkg/logx"
)

type App struct {
	cfgm *config.Manager

	log  logx.Logger
	logs *logx.Service

	store    *storage.Store
	adapter  kit.Adapter
	governor *access.Governor
	registry *registry.Registry
	agg      *aggregator.Aggregator
	disp     *dispatch.Dispatcher
	ret      *retention.Service
	router   *router.Router

	updates chan kit.Update

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	busyTimeout, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	gov := access.New(store, cfg.Telegram.Admins, log.With(logx.String("comp", "access")))

	historyLimit := cfg.Relay.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = registry.DefaultHistoryLimit
	}
	reg := registry.New(store, historyLimit, log.With(logx.String("comp", "registry")))

	dispatchDelay, err := config.ParseDurationOrDefault("relay.dispatch_delay", cfg.Relay.DispatchDelay, 2*time.Second)
	if err != nil {
		return nil, err
	}
	disp := dispatch.New(dispatch.Config{
		Delay:      dispatchDelay,
		RatePerSec: cfg.Relay.RatePerSec,
	}, ad, reg, log.With(logx.String("comp", "dispatch")))

	settle, err := config.ParseDurationOrDefault("relay.settle_window", cfg.Relay.SettleWindow, aggregator.DefaultSettleWindow)
	if err != nil {
		return nil, err
	}
	// The aggregator's ready callback targets the router, which in turn
	// needs the aggregator. Break the cycle with a late-bound pointer.
	var rt *router.Router
	agg := aggregator.New(settle, func(chatID int64, msgs []kit.Message) {
		rt.OnBurstReady(chatID, msgs)
	}, log.With(logx.String("comp", "aggregator")))

	rt = router.New(ad, gov, reg, agg, disp, log.With(logx.String("comp", "router")))

	maxAge, err := config.ParseDurationOrDefault("retention.max_age", cfg.Retention.MaxAge, 0)
	if err != nil {
		return nil, err
	}
	ret := retention.New(retention.Config{
		Enabled:  cfg.Retention.Enabled,
		Schedule: cfg.Retention.Schedule,
		MaxAge:   maxAge,
	}, store, log.With(logx.String("comp", "retention")))

	return &App{
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		store:    store,
		adapter:  ad,
		governor: gov,
		registry: reg,
		agg:      agg,
		disp:     disp,
		ret:      ret,
		router:   rt,
		updates:  make(chan kit.Update, 256),
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.router.SetRunContext(runCtx)

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		cancel()
		return err
	}
	if err := a.ret.Start(); err != nil {
		cancel()
		return err
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.updateLoop(runCtx)
	}()

	sub := a.cfgm.Subscribe(8)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.reloadLoop(runCtx, sub)
	}()
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.cfgm.Watch(runCtx); err != nil && runCtx.Err() == nil {
			a.log.Warn("config watcher stopped", logx.Err(err))
		}
	}()

	a.log.Info("started")
	return nil
}

func (a *App) updateLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case up, ok := <-a.updates:
			if !ok {
				return
			}
			a.router.Handle(ctx, up)
		}
	}
}

// reloadLoop applies hot-reloadable config sections: logging and the
// admin list. Storage, transport, and relay timings need a restart.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
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
			a.governor.SetAdmins(cfg.Telegram.Admins)
			a.log.Info("config reloaded", logx.Int("admins", len(cfg.Telegram.Admins)))
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.adapter.Stop(stopCtx); err != nil {
		a.log.Warn("adapter stop", logx.Err(err))
	}
	a.ret.Stop()
	a.agg.Stop()
	a.wg.Wait()

	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close", logx.Err(err))
	}
	a.log.Info("stopped")
	return a.logs.Close()
}
