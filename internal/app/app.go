// Package app wires the service together: config, logging, storage,
// notification channels, scheduler, registry and the HTTP API, with an
// explicit start/stop lifecycle.
package app

import (
	"context"

	"medremind/internal/alerts"
	"medremind/internal/channel"
	"medremind/internal/channel/twilio"
	"medremind/internal/config"
	"medremind/internal/dispatch"
	"medremind/internal/httpapi"
	"medremind/internal/scheduler"
	"medremind/internal/storage"
	"medremind/pkg/logx"
)

type App struct {
	watcher *config.Watcher
	logs    *logx.Service
	log     logx.Logger

	store *storage.Log
	maint *storage.Maintenance
	alert *alerts.Service
	sched *scheduler.Service
	reg   *dispatch.Registry
	api   *httpapi.Server
}

func New(cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	log = log.With(logx.String("comp", "app"))

	a := &App{logs: logs, log: log}

	a.watcher = config.NewWatcher(cfgPath, cfg, a.applyReload, log.With(logx.String("comp", "config")))

	a.store, err = storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: cfg.BusyTimeout(),
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	a.maint, err = storage.NewMaintenance(a.store, cfg.Storage.CheckpointSchedule,
		log.With(logx.String("comp", "maintenance")))
	if err != nil {
		return nil, err
	}

	a.alert, err = alerts.New(alerts.Config{
		Enabled:    cfg.Alerts.Enabled,
		Token:      cfg.Alerts.Token,
		ChatID:     cfg.Alerts.ChatID,
		RatePerMin: cfg.Alerts.RatePerMin,
	}, log.With(logx.String("comp", "alerts")))
	if err != nil {
		return nil, err
	}

	provider, err := twilio.New(twilio.Config{
		AccountSID:   cfg.Twilio.AccountSID,
		AuthToken:    cfg.Twilio.AuthToken,
		VoiceFrom:    cfg.Twilio.VoiceFrom,
		WhatsAppFrom: cfg.Twilio.WhatsAppFrom,
		BaseURL:      cfg.Twilio.BaseURL,
		Timeout:      cfg.TwilioTimeout(),
	}, log.With(logx.String("comp", "twilio")))
	if err != nil {
		return nil, err
	}
	limited := channel.NewRateLimited(provider, provider, cfg.Twilio.RatePerSec)

	tick, err := cfg.TickInterval()
	if err != nil {
		return nil, err
	}
	a.sched = scheduler.New(scheduler.Config{
		TickInterval: tick,
		Workers:      cfg.Scheduler.Workers,
		QueueSize:    cfg.Scheduler.QueueSize,
	}, log.With(logx.String("comp", "scheduler")))

	a.reg = dispatch.NewRegistry(a.sched, dispatch.Deps{
		Voice: limited,
		Chat:  limited,
		Store: a.store,
		Alert: a.alert.Persistence,
		// Read through the watcher so a config edit takes effect on the
		// next firing without re-registering schedules.
		DefaultAudio: func() string { return a.watcher.Current().Voice.DefaultAudioURL },
		Logger:       log.With(logx.String("comp", "dispatch")),
	}, log.With(logx.String("comp", "registry")))

	a.api, err = httpapi.New(httpapi.Config{
		Addr:       cfg.HTTP.Addr,
		BaseURL:    cfg.HTTP.BaseURL,
		UploadsDir: cfg.HTTP.UploadsDir,
		VoicesDir:  cfg.HTTP.VoicesDir,
	}, a.reg, a.store, log.With(logx.String("comp", "http")))
	if err != nil {
		return nil, err
	}

	return a, nil
}

// applyReload commits the settings that are safe to change at runtime.
func (a *App) applyReload(cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
}

func (a *App) Start(ctx context.Context) error {
	if err := a.watcher.Start(ctx); err != nil {
		return err
	}
	a.maint.Start()
	a.sched.Start(ctx)
	a.api.Start()
	a.log.Info("medremind started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if err := a.api.Shutdown(ctx); err != nil {
		a.log.Warn("http shutdown", logx.Err(err))
	}
	a.sched.Stop(ctx)
	a.maint.Stop()
	a.watcher.Stop()
	if err := a.store.Close(); err != nil {
		a.log.Warn("store close", logx.Err(err))
	}
	a.log.Info("medremind stopped")
	return a.logs.Close()
}
