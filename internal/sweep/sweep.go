// Package sweep runs the scheduled overdue-request scan. Each run
// fetches open requests past their due date and fires one overdue
// warning dispatch per request.
package sweep

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"notifyd/internal/dispatch"
	"notifyd/internal/store"
	"notifyd/pkg/logx"
)

const defaultSpec = "0 9 * * *"

type Config struct {
	Enabled  bool
	Spec     string
	Timezone string // IANA TZ, e.g. "Asia/Seoul"
}

type Sweeper struct {
	mu sync.Mutex

	cfg      Config
	log      logx.Logger
	requests store.RequestSource
	dsp      *dispatch.Service

	parser cron.Parser
	c      *cron.Cron

	runCtx    context.Context
	runCancel context.CancelFunc
}

func New(cfg Config, requests store.RequestSource, dsp *dispatch.Service, log logx.Logger) *Sweeper {
	return &Sweeper{
		cfg:      cfg,
		log:      log,
		requests: requests,
		dsp:      dsp,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.c != nil {
		return nil
	}

	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			s.log.Warn("invalid sweep timezone; using local", logx.String("tz", tz), logx.Err(err))
		} else {
			loc = l
		}
	}

	spec := strings.TrimSpace(s.cfg.Spec)
	if spec == "" {
		spec = defaultSpec
	}

	s.runCtx, s.runCancel = context.WithCancel(ctx)
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	if _, err := s.c.AddFunc(spec, func() { s.Run(s.runCtx) }); err != nil {
		s.c = nil
		s.runCancel()
		return err
	}
	s.c.Start()
	s.log.Info("overdue sweeper started", logx.String("spec", spec), logx.String("tz", loc.String()))
	return nil
}

func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return
	}
	<-s.c.Stop().Done()
	s.c = nil
	if s.runCancel != nil {
		s.runCancel()
		s.runCancel = nil
	}
	s.log.Info("overdue sweeper stopped")
}

// Run executes one sweep immediately. The cron entry calls this; the
// HTTP trigger endpoint reuses it.
func (s *Sweeper) Run(ctx context.Context) {
	now := time.Now()
	reqs, err := s.requests.OverdueOpen(ctx, now)
	if err != nil {
		s.log.Error("overdue scan failed", logx.Err(err))
		return
	}
	if len(reqs) == 0 {
		s.log.Debug("overdue scan clean")
		return
	}

	s.log.Info("overdue scan found requests", logx.Int("count", len(reqs)))
	for _, req := range reqs {
		days := int(now.Sub(req.DueAt).Hours() / 24)
		if days < 1 {
			days = 1
		}
		sum, err := s.dsp.OverdueWarning(ctx, req, days)
		if err != nil {
			s.log.Error("overdue dispatch failed", logx.String("request", req.ID), logx.Err(err))
			continue
		}
		s.dsp.LogSummary("overdue_warning", sum)
	}
}
