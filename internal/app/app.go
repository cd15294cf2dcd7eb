// Package app wires configuration, logging, storage, the mail transport,
// the campaign service and the scheduler into one runnable daemon.
package app

import (
	"context"
	"fmt"
	"time"

	sdnotify "github.com/coreos/go-systemd/v22/daemon"

	"packmail/internal/campaign"
	"packmail/internal/config"
	"packmail/internal/eventbus"
	"packmail/internal/mail"
	"packmail/internal/render"
	"packmail/internal/runtime/supervisor"
	"packmail/internal/scheduler"
	"packmail/internal/storage"
	logx "packmail/pkg/logx"
)

const stopTimeout = 15 * time.Second

type Options struct {
	ConfigPath string
	EnvFile    string
}

type App struct {
	opts    Options
	secrets config.Secrets

	logs   *logx.Service
	log    logx.Logger
	cfgMgr *config.Manager
	bus    eventbus.Bus
	store  storage.Store
	camp   *campaign.Service
	sched  *scheduler.Service

	// set by Run; used to start the cron when a reload enables it
	runCtx context.Context
}

// New loads secrets and the config file, builds the full service graph and
// validates everything up front. Nothing is started yet.
func New(opts Options) (*App, error) {
	secrets, err := config.LoadSecrets(opts.EnvFile)
	if err != nil {
		return nil, err
	}

	mgr := config.NewManager(opts.ConfigPath)
	mgr.SetValidator(validateConfig)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("config %q: %w", opts.ConfigPath, err)
	}
	if err := validateConfig(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config %q: %w", opts.ConfigPath, err)
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	mgr.SetLogger(log.With(logx.String("svc", "config")))

	a := &App{
		opts:    opts,
		secrets: secrets,
		logs:    logs,
		log:     log,
		cfgMgr:  mgr,
		bus:     eventbus.New(),
	}

	if cfg.Storage != nil {
		st, err := storage.Open(storageConfig(cfg.Storage), log.With(logx.String("svc", "storage")))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("storage: %w", err)
		}
		a.store = st
	}

	renderer, err := render.New()
	if err != nil {
		a.Close()
		return nil, err
	}
	sender, err := a.buildSender(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	campCfg, err := campaignConfig(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.camp = campaign.New(campCfg, renderer, sender,
		campaign.WithStore(a.store),
		campaign.WithBus(a.bus),
		campaign.WithLogger(log.With(logx.String("svc", "campaign"))),
		campaign.WithAdminReport(secrets.AdminEmail, logs.FilePath),
	)

	a.sched = scheduler.New(scheduler.Config{
		Enabled:  cfg.Scheduler.Enabled,
		Spec:     cfg.Scheduler.Spec,
		Timezone: cfg.Scheduler.Timezone,
	}, a.camp.Run, log.With(logx.String("svc", "scheduler")))

	return a, nil
}

// Run is daemon mode: start the schedule, watch the config file for changes
// and block until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	sup := supervisor.New(ctx, supervisor.WithLogger(a.log))
	a.runCtx = sup.Context()

	if a.sched.Enabled() {
		if err := a.sched.Start(sup.Context()); err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
		a.log.Info("next campaign run", logx.Time("at", a.sched.NextRun()))
	} else {
		a.log.Warn("scheduler disabled; only manual dispatch will run campaigns")
	}

	sup.Go("config.watch", a.cfgMgr.Watch)
	sup.Go0("config.fanout", a.fanoutConfig)
	sup.Go0("events.mirror", a.mirrorEvents)
	a.startWatchdog(sup)

	_, _ = sdnotify.SdNotify(false, sdnotify.SdNotifyReady)
	<-sup.Context().Done()
	_, _ = sdnotify.SdNotify(false, sdnotify.SdNotifyStopping)
	a.log.Info("shutting down", logx.String("reason", ctx.Err().Error()))

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	a.sched.Stop(stopCtx)
	_ = sup.Wait(stopCtx)
	return nil
}

// RunOnce executes a single campaign and returns; used by the -once flag.
func (a *App) RunOnce(ctx context.Context) error {
	return a.sched.RunNow(ctx)
}

// Trigger dispatches a campaign asynchronously (SIGUSR1 path). Overlapping
// triggers are skipped.
func (a *App) Trigger() {
	a.log.Info("manual campaign dispatch requested")
	a.sched.Trigger()
}

func (a *App) Close() {
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
}

// fanoutConfig applies committed config updates to the live services.
// The SMTP transport and secrets are fixed at startup; a config change
// affects logging, the schedule and the campaign knobs.
func (a *App) fanoutConfig(ctx context.Context) {
	updates := a.cfgMgr.Subscribe(4)
	defer a.cfgMgr.Unsubscribe(updates)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-updates:
			if !ok {
				return
			}
			a.applyConfig(cfg)
		}
	}
}

func (a *App) applyConfig(cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	if campCfg, err := campaignConfig(cfg); err != nil {
		a.log.Error("config update rejected for campaign", logx.Err(err))
	} else {
		a.camp.Apply(campCfg)
	}

	if err := a.sched.Apply(scheduler.Config{
		Enabled:  cfg.Scheduler.Enabled,
		Spec:     cfg.Scheduler.Spec,
		Timezone: cfg.Scheduler.Timezone,
	}); err != nil {
		a.log.Error("config update rejected for scheduler", logx.Err(err))
		return
	}

	switch {
	case a.sched.Enabled() && a.sched.NextRun().IsZero() && a.runCtx != nil:
		if err := a.sched.Start(a.runCtx); err != nil {
			a.log.Error("scheduler restart failed", logx.Err(err))
			return
		}
		a.log.Info("config applied; scheduler enabled",
			logx.Time("next_run", a.sched.NextRun()))
	case !a.sched.Enabled() && !a.sched.NextRun().IsZero():
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		a.sched.Stop(stopCtx)
		cancel()
		a.log.Info("config applied; scheduler disabled")
	case a.sched.Enabled():
		a.log.Info("config applied", logx.Time("next_run", a.sched.NextRun()))
	default:
		a.log.Info("config applied; scheduler disabled")
	}
}

// mirrorEvents echoes campaign pipeline events into the debug log.
func (a *App) mirrorEvents(ctx context.Context) {
	events, unsubscribe := a.bus.Subscribe(64)
	defer unsubscribe()
	log := a.log.With(logx.String("svc", "events"))
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			log.Debug(e.Type, logx.Any("data", e.Data))
		}
	}
}

// startWatchdog pets the systemd watchdog when one is armed.
func (a *App) startWatchdog(sup *supervisor.Supervisor) {
	interval, err := sdnotify.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	sup.Go0("sd.watchdog", func(ctx context.Context) {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				_, _ = sdnotify.SdNotify(false, sdnotify.SdNotifyWatchdog)
			}
		}
	})
}

func (a *App) buildSender(cfg *config.Config) (mail.Sender, error) {
	if cfg.Campaign.DryRun {
		dir := cfg.Campaign.DryRunDir
		if dir == "" {
			dir = "./outbox"
		}
		a.log.Warn("dry run: writing emails to disk instead of dialing SMTP",
			logx.String("dir", dir))
		return mail.NewDevSender(dir), nil
	}

	retryBase, err := config.ParseDurationField("campaign.retry_base", cfg.Campaign.RetryBase)
	if err != nil {
		return nil, err
	}
	retryMaxDelay, err := config.ParseDurationField("campaign.retry_max_delay", cfg.Campaign.RetryMaxDelay)
	if err != nil {
		return nil, err
	}
	return mail.NewSMTPSender(mail.Config{
		Host:     a.secrets.SMTPServer,
		Port:     a.secrets.SMTPPort,
		Username: a.secrets.EmailAddress,
		Password: a.secrets.EmailPassword,

		FromAddress: a.secrets.EmailAddress,
		FromName:    campaignSenderName(cfg),

		RetryMax:      cfg.Campaign.RetryMax,
		RetryBase:     retryBase,
		RetryMaxDelay: retryMaxDelay,

		InsecureSkipVerify: cfg.Mailer.InsecureSkipVerify,
	}, a.log.With(logx.String("svc", "mail"))), nil
}

func campaignSenderName(cfg *config.Config) string {
	if cfg.Campaign.SenderName != "" {
		return cfg.Campaign.SenderName
	}
	return "All Packers Expeditions"
}

func campaignConfig(cfg *config.Config) (campaign.Config, error) {
	suppress, err := config.ParseDurationField("campaign.suppress_window", cfg.Campaign.SuppressWindow)
	if err != nil {
		return campaign.Config{}, err
	}
	sendTimeout, err := config.ParseDurationField("mailer.send_timeout", cfg.Mailer.SendTimeout)
	if err != nil {
		return campaign.Config{}, err
	}
	return campaign.Config{
		RecipientsPath: cfg.Campaign.RecipientsPath,
		Workers:        cfg.Campaign.Workers,
		RatePerSec:     cfg.Campaign.RatePerSec,
		SendTimeout:    sendTimeout,
		SuppressWindow: suppress,
		SenderName:     cfg.Campaign.SenderName,
		BookingURL:     cfg.Campaign.BookingURL,
	}, nil
}

func storageConfig(sc *config.StorageConfig) storage.Config {
	busy, _ := config.ParseDurationField("storage.busy_timeout", sc.BusyTimeout)
	return storage.Config{Driver: sc.Driver, Path: sc.Path, BusyTimeout: busy}
}

// validateConfig gates hot reloads: a file that fails here is never
// committed and the previous config stays live.
func validateConfig(ctx context.Context, cfg *config.Config) error {
	if cfg.Campaign.RecipientsPath == "" {
		return fmt.Errorf("campaign.recipients_path is required")
	}
	if _, err := campaignConfig(cfg); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("campaign.retry_base", cfg.Campaign.RetryBase); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("campaign.retry_max_delay", cfg.Campaign.RetryMaxDelay); err != nil {
		return err
	}
	if spec := cfg.Scheduler.Spec; spec != "" {
		if err := scheduler.ValidateSpec(spec); err != nil {
			return err
		}
	}
	if tz := cfg.Scheduler.Timezone; tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: %w", err)
		}
	}
	if cfg.Storage != nil {
		if _, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
			return err
		}
	}
	return nil
}
