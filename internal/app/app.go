// Package app assembles the service: config, logging, store, channels,
// dispatcher, sweeper and the HTTP surface, with hot reload for the
// pieces that support it.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"notifyd/internal/channel"
	"notifyd/internal/config"
	"notifyd/internal/dispatch"
	"notifyd/internal/httpapi"
	"notifyd/internal/store"
	"notifyd/internal/sweep"
	"notifyd/internal/template"
	"notifyd/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	log  logx.Logger
	logs *logx.Service

	st      store.Store
	hub     *channel.Hub
	dsp     *dispatch.Service
	sweeper *sweep.Sweeper
	srv     *httpapi.Server

	runCancel context.CancelFunc
	hbStop    chan struct{}
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	cfgm.Commit(cfg)

	if err := Validate(cfg); err != nil {
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

	stCfg, _ := mapStoreConfig(cfg)
	st, err := store.Open(stCfg, log.With(logx.String("comp", "store")))
	if err != nil {
		return nil, err
	}
	log.Info("store opened", logx.String("driver", driverName(stCfg.Driver)))

	hub := channel.NewHub(log.With(logx.String("comp", "pushhub")))
	channels := buildChannels(cfg, hub, log)

	dspCfg, _ := mapDispatchConfig(cfg)
	dsp := dispatch.New(dspCfg, template.Default(), st, channels,
		log.With(logx.String("comp", "dispatch")))

	sweeper := sweep.New(sweep.Config{
		Enabled:  cfg.Sweep.Enabled,
		Spec:     cfg.Sweep.Cron,
		Timezone: cfg.Sweep.Timezone,
	}, st, dsp, log.With(logx.String("comp", "sweep")))

	srvCfg, _ := mapServerConfig(cfg)
	srv := httpapi.New(srvCfg, dsp, st, hub, sweeper,
		log.With(logx.String("comp", "http")))

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		st:      st,
		hub:     hub,
		dsp:     dsp,
		sweeper: sweeper,
		srv:     srv,
	}, nil
}

// Dispatch exposes the delivery service (tests, embedding).
func (a *App) Dispatch() *dispatch.Service { return a.dsp }

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.runCancel = cancel

	// Transactional config reload: validate before commit/publish.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return Validate(cfg)
	})

	a.dsp.Start(runCtx)
	if err := a.sweeper.Start(runCtx); err != nil {
		return err
	}
	if err := a.srv.Start(); err != nil {
		return err
	}

	a.hbStop = make(chan struct{})
	go a.hub.Heartbeat(30*time.Second, a.hbStop)

	sub := a.cfgm.Subscribe(8)
	go a.reloadLoop(runCtx, sub)
	go func() {
		if err := a.cfgm.Watch(runCtx); err != nil {
			a.log.Warn("config watch ended", logx.Err(err))
		}
	}()

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	a.log.Info("started")
	return nil
}

// reloadLoop applies the config changes that can take effect live
// (logging, dispatch pool) and flags the rest as restart-required.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	defer a.cfgm.Unsubscribe(sub)
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest snapshot.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					goto APPLY
				}
			}
		APPLY:
			sections, attrs := config.SummarizeChange(lastApplied, newCfg)
			lastApplied = newCfg
			if len(sections) == 0 {
				a.log.Debug("config reload received, but no effective changes detected")
				continue
			}

			a.logs.Apply(logx.Config{
				Level:   newCfg.Logging.Level,
				Console: newCfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: newCfg.Logging.File.Enabled,
					Path:    newCfg.Logging.File.Path,
				},
			})

			if dspCfg, err := mapDispatchConfig(newCfg); err != nil {
				a.log.Warn("invalid dispatch config; keeping previous", logx.Err(err))
			} else {
				a.dsp.Apply(dspCfg)
			}

			for _, s := range sections {
				if s == "store" || s == "server" || s == "sweep" || strings.HasPrefix(s, "channels.") {
					a.log.Warn("config section changed; restart required for changes to take effect",
						logx.String("section", s))
				}
			}

			fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
			a.log.Info("config reloaded", fields...)
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	a.log.Info("stopping")

	if a.runCancel != nil {
		a.runCancel()
	}
	if a.hbStop != nil {
		close(a.hbStop)
		a.hbStop = nil
	}

	// Intake first so no new dispatches arrive, then drain the pool.
	if err := a.srv.Stop(ctx); err != nil {
		a.log.Warn("http shutdown error", logx.Err(err))
	}
	a.sweeper.Stop()

	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	a.dsp.Stop(drainCtx)
	cancel()

	if err := a.st.Close(); err != nil {
		a.log.Warn("store close error", logx.Err(err))
	}

	a.log.Info("stopped")
	a.logs.Close()
	return nil
}

// Validate rejects configs that would break at runtime; used at boot
// and before hot-reload commit.
func Validate(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if _, err := mapStoreConfig(cfg); err != nil {
		return err
	}
	if _, err := mapDispatchConfig(cfg); err != nil {
		return err
	}
	if _, err := mapServerConfig(cfg); err != nil {
		return err
	}
	if cfg.Dispatch.Workers < 0 {
		return fmt.Errorf("dispatch.workers must be >= 0")
	}
	if cfg.Dispatch.QueueSize < 0 {
		return fmt.Errorf("dispatch.queue_size must be >= 0")
	}
	if cfg.Channels.Kakao.RatePerSec < 0 {
		return fmt.Errorf("channels.kakao.rate_per_sec must be >= 0")
	}
	if tz := strings.TrimSpace(cfg.Sweep.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("sweep.timezone: invalid %q: %w", tz, err)
		}
	}
	return nil
}

func driverName(d string) string {
	if strings.TrimSpace(d) == "" {
		return "memory"
	}
	return d
}
