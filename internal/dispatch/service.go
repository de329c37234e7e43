// Package dispatch coordinates notification delivery: it resolves
// recipients, applies delivery policy, renders templates and fans the
// enabled channels out over a bounded worker pool, recording every
// attempt's outcome.
package dispatch

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"notifyd/internal/channel"
	"notifyd/internal/policy"
	"notifyd/internal/store"
	"notifyd/internal/template"
	"notifyd/pkg/logx"
)

// Service owns the fan-out pool. It is safe for concurrent use; one
// Service handles every event type.
type Service struct {
	mu  sync.Mutex
	cfg Config

	log      logx.Logger
	catalog  *template.Catalog
	dir      store.Directory
	settings store.SettingsSource
	attempts store.AttemptStore
	channels []channel.Channel

	// clock feeds the quiet-hours check; tests pin it.
	clock policy.Clock

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan task
	stopDone chan struct{}

	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup
}

func New(cfg Config, catalog *template.Catalog, st store.Store, channels []channel.Channel, log logx.Logger) *Service {
	s := &Service{
		log:      log,
		catalog:  catalog,
		dir:      st,
		settings: st,
		attempts: st,
		channels: channels,
		clock:    time.Now,
	}
	s.applyLocked(cfg)
	return s
}

// SetClock overrides the policy clock (tests only).
func (s *Service) SetClock(c policy.Clock) {
	s.mu.Lock()
	s.clock = c
	s.mu.Unlock()
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	// Defaults
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	s.cfg = cfg
	// Note: live pool resizing is out of scope; worker count applies on
	// the next Start().
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.queue != nil {
		// already running
		s.mu.Unlock()
		return
	}
	s.queue = make(chan task, s.cfg.QueueSize)
	s.accepting = true
	s.stopDone = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	workers := s.cfg.Workers
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		i := i
		s.workerWG.Add(1)
		go func() {
			defer s.workerWG.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic in dispatch worker",
						logx.Int("worker", i), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				}
			}()
			s.workerLoop(i)
		}()
	}

	s.log.Info("dispatcher started", logx.Int("workers", workers), logx.Int("queue", s.cfg.QueueSize))
}

// Stop stops intake and drains the queue best-effort until ctx deadline.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q := s.queue
	done := s.stopDone
	cancel := s.runCancel
	if q == nil {
		s.mu.Unlock()
		return
	}
	// Block new dispatches.
	s.accepting = false
	s.mu.Unlock()

	// Wait for in-flight enqueues to finish, then close the queue so
	// workers can drain.
	ch := make(chan struct{})
	go func() {
		s.sendWG.Wait()
		close(ch)
	}()
	select {
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
		return
	case <-ch:
	}

	func() {
		defer func() { _ = recover() }()
		close(q)
	}()

	go func() {
		s.workerWG.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
	case <-done:
		if cancel != nil {
			cancel()
		}
	}

	s.mu.Lock()
	s.queue = nil
	s.stopDone = nil
	s.runCancel = nil
	s.runCtx = nil
	s.mu.Unlock()

	s.log.Info("dispatcher stopped")
}

// enqueue schedules one task, honoring cancellation. Returns false if
// the dispatcher is stopped or the context ended first.
func (s *Service) enqueue(ctx context.Context, t task) bool {
	s.mu.Lock()
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return false
	}
	q := s.queue
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	select {
	case q <- t:
		return true
	case <-ctx.Done():
		return false
	}
}

// ChannelStatus runs every adapter's status check.
func (s *Service) ChannelStatus(ctx context.Context) map[string]string {
	out := map[string]string{}
	for _, ch := range s.channels {
		d := ch.Descriptor()
		if err := ch.CheckStatus(ctx); err != nil {
			out[string(d.Key)] = err.Error()
		} else {
			out[string(d.Key)] = "ok"
		}
	}
	return out
}
