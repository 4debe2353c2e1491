// Package app wires the reminder pipelines into one runnable daemon.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"remindd/internal/chatapi"
	"remindd/internal/config"
	"remindd/internal/directory"
	"remindd/internal/dispatch"
	"remindd/internal/event"
	"remindd/internal/httpapi"
	"remindd/internal/mailer"
	"remindd/internal/push"
	"remindd/internal/queue"
	"remindd/internal/recorder"
	"remindd/internal/scanner"
	"remindd/internal/staging"
	"remindd/pkg/logx"
)

const (
	defaultUnreadTable  = "unread_reminder_events"
	defaultCallingTable = "calling_reminder_events"
	defaultSchedule     = "@every 1m"

	defaultUnreadDelay  = 5 * time.Minute
	defaultCallingBasis = 30 * time.Minute
)

type App struct {
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	unreadStore  staging.Store
	callingStore staging.Store
	db           *directory.DB

	q    *queue.Queue
	cron *scanner.Cron
	disp *dispatch.Dispatcher
	srv  *httpapi.Server

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logs, log := logx.New(loggingConfig(cfg))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	cfgm.SetValidator(func(_ context.Context, c *config.Config) error {
		if err := c.Validate(); err != nil {
			return err
		}
		_, err := config.Duration("dispatch.send_timeout", c.Dispatch.SendTimeout)
		return err
	})

	a := &App{cfgm: cfgm, logs: logs, log: log, q: queue.New()}

	if err := a.build(cfg); err != nil {
		_ = a.closeResources()
		_ = logs.Close()
		return nil, err
	}
	return a, nil
}

func loggingConfig(cfg *config.Config) logx.Config {
	level := cfg.Logging.Level
	if cfg.Debug {
		level = "debug"
	}
	return logx.Config{
		Level:   level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func (a *App) build(cfg *config.Config) error {
	log := a.log

	busy, err := config.Duration("staging.busy_timeout", cfg.Staging.BusyTimeout)
	if err != nil {
		return err
	}
	unreadTable := cfg.Unread.Table
	if unreadTable == "" {
		unreadTable = defaultUnreadTable
	}
	callingTable := cfg.Calling.Table
	if callingTable == "" {
		callingTable = defaultCallingTable
	}

	a.unreadStore, err = staging.Open(staging.Config{
		Driver:      cfg.Staging.Driver,
		Path:        cfg.Staging.Path,
		DSN:         cfg.Staging.DSN,
		Table:       unreadTable,
		BusyTimeout: busy,
	}, log.With(logx.String("comp", "staging"), logx.String("table", unreadTable)))
	if err != nil {
		return fmt.Errorf("open unread staging store: %w", err)
	}
	a.callingStore, err = staging.Open(staging.Config{
		Driver:      cfg.Staging.Driver,
		Path:        cfg.Staging.Path,
		DSN:         cfg.Staging.DSN,
		Table:       callingTable,
		BusyTimeout: busy,
	}, log.With(logx.String("comp", "staging"), logx.String("table", callingTable)))
	if err != nil {
		return fmt.Errorf("open calling staging store: %w", err)
	}

	a.db, err = directory.Open(directory.Config{
		Driver: cfg.Database.Driver,
		DSN:    cfg.Database.DSN,
	}, log.With(logx.String("comp", "directory")))
	if err != nil {
		return fmt.Errorf("open business database: %w", err)
	}

	// Webhook side.
	chat := recorder.NewChatRecorder(
		recorder.NewRecorder(a.unreadStore, log.With(logx.String("comp", "recorder"))),
		recorder.NewObserver(a.unreadStore, log.With(logx.String("comp", "observer"))),
	)
	consult := recorder.NewConsultationRecorder(
		recorder.NewRecorder(a.callingStore, log.With(logx.String("comp", "recorder"))),
	)
	a.srv = httpapi.New(httpapi.Config{
		Address:         cfg.HTTP.Address,
		SignatureKey:    cfg.HTTP.SignatureKey,
		BypassSignature: cfg.HTTP.BypassSignature,
	}, chat, consult, log.With(logx.String("comp", "http")))

	// Dispatch side.
	mail, err := mailer.New(mailer.Config{
		APIKey:      cfg.Email.APIKey,
		Endpoint:    cfg.Email.Endpoint,
		FromAddress: cfg.Email.FromAddress,
		FromName:    cfg.Email.FromName,
		Sandbox:     cfg.Email.Sandbox,
	}, log.With(logx.String("comp", "mailer")))
	if err != nil {
		return err
	}

	var channels chatapi.Channels
	if cfg.Chat.BaseURL != "" && cfg.Chat.APIToken != "" {
		c, err := chatapi.New(chatapi.Config{
			BaseURL:  cfg.Chat.BaseURL,
			APIToken: cfg.Chat.APIToken,
		}, log.With(logx.String("comp", "chatapi")))
		if err != nil {
			return err
		}
		channels = c
	} else {
		log.Warn("chat api not configured; managers will not leave channels")
	}

	pusher, err := push.NewTelegram(push.Config{
		Token:    cfg.Push.Token,
		Disabled: cfg.Push.Disabled,
	}, log.With(logx.String("comp", "push")))
	if err != nil {
		return err
	}

	unread, err := dispatch.NewUnread(dispatch.UnreadConfig{
		TemplateID: cfg.Unread.TemplateID,
		BaseURL:    cfg.Unread.BaseURL,
		LogoURL:    cfg.Unread.LogoURL,
	}, a.db, mail, channels, log.With(logx.String("comp", "dispatch")))
	if err != nil {
		return err
	}
	calling, err := dispatch.NewCalling(a.db, a.db, pusher, log.With(logx.String("comp", "dispatch")))
	if err != nil {
		return err
	}

	sendTimeout, err := config.Duration("dispatch.send_timeout", cfg.Dispatch.SendTimeout)
	if err != nil {
		return err
	}
	a.disp = dispatch.New(dispatch.Config{
		Workers:       cfg.Dispatch.Workers,
		SendTimeout:   sendTimeout,
		RatePerSecond: cfg.Dispatch.RatePerSecond,
		Burst:         cfg.Dispatch.Burst,
	}, a.q, log.With(logx.String("comp", "dispatch")), unread, calling)

	// Promotion side.
	unreadScan := scanner.New(scanner.Config{
		Mode:         scanner.QuietPeriod,
		Delay:        time.Duration(cfg.Unread.DelayMinutes) * time.Minute,
		DefaultDelay: defaultUnreadDelay,
	}, a.unreadStore, a.q, queue.KindUnreadMessage, func(b []byte) error {
		var ev event.MessageSendEvent
		return json.Unmarshal(b, &ev)
	}, log.With(logx.String("comp", "scanner"), logx.String("kind", "unread")))

	callingScan := scanner.New(scanner.Config{
		Mode:         scanner.Window,
		Delay:        time.Duration(cfg.Calling.BasisMinutes) * time.Minute,
		DefaultDelay: defaultCallingBasis,
	}, a.callingStore, a.q, queue.KindCalling, func(b []byte) error {
		var con event.Consultation
		return json.Unmarshal(b, &con)
	}, log.With(logx.String("comp", "scanner"), logx.String("kind", "calling")))

	a.cron = scanner.NewCron(log.With(logx.String("comp", "cron")))
	if err := a.cron.Add("unread_scan", schedule(cfg.Unread.Schedule), func(ctx context.Context) error {
		_, err := unreadScan.Run(ctx)
		return err
	}); err != nil {
		return fmt.Errorf("unread schedule: %w", err)
	}
	if err := a.cron.Add("calling_scan", schedule(cfg.Calling.Schedule), func(ctx context.Context) error {
		_, err := callingScan.Run(ctx)
		return err
	}); err != nil {
		return fmt.Errorf("calling schedule: %w", err)
	}
	return nil
}

func schedule(s string) string {
	if s == "" {
		return defaultSchedule
	}
	return s
}

func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	if err := a.srv.Start(); err != nil {
		return fmt.Errorf("start webhook server: %w", err)
	}
	a.disp.Start(ctx)
	a.cron.Start(ctx)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = a.cfgm.Watch(ctx)
	}()

	updates := a.cfgm.Subscribe(1)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.cfgm.Unsubscribe(updates)
		prev := a.cfgm.Get()
		for {
			select {
			case <-ctx.Done():
				return
			case cfg, ok := <-updates:
				if !ok {
					return
				}
				a.applyReload(prev, cfg)
				prev = cfg
			}
		}
	}()

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify ready sent")
	}

	a.log.Info("remindd started", logx.String("addr", a.srv.Addr()))
	return nil
}

// applyReload hot-applies what can be hot-applied. Logging switches in
// place; anything touching connections or worker pools wants a restart.
func (a *App) applyReload(oldCfg, newCfg *config.Config) {
	changed, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(changed) == 0 {
		return
	}
	a.log.Info("config changed", append(attrs, logx.Any("sections", changed))...)

	for _, section := range changed {
		switch section {
		case "logging":
			a.logs.Apply(loggingConfig(newCfg))
		default:
			a.log.Warn("config section needs restart to take effect",
				logx.String("section", section))
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	if a.cancel != nil {
		a.cancel()
	}

	if a.srv != nil {
		sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := a.srv.Stop(sctx); err != nil {
			a.log.Warn("webhook server shutdown failed", logx.Err(err))
		}
		cancel()
	}
	if a.cron != nil {
		a.cron.Stop(ctx)
	}
	if a.q != nil {
		a.q.Close()
	}
	if a.disp != nil {
		a.disp.Stop()
	}
	a.wg.Wait()

	err := a.closeResources()
	a.log.Info("remindd stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}

func (a *App) closeResources() error {
	var first error
	if a.unreadStore != nil {
		if err := a.unreadStore.Close(); err != nil && first == nil {
			first = err
		}
	}
	if a.callingStore != nil {
		if err := a.callingStore.Close(); err != nil && first == nil {
			first = err
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
