// Package httpapi exposes the service over HTTP: event intake, the
// delivery audit trail, channel status and the in-app push socket.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"notifyd/internal/channel"
	"notifyd/internal/dispatch"
	"notifyd/internal/store"
	"notifyd/internal/sweep"
	"notifyd/pkg/logx"
)

type Config struct {
	Addr string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type Server struct {
	cfg Config
	log logx.Logger

	dsp     *dispatch.Service
	st      store.Store
	hub     *channel.Hub
	sweeper *sweep.Sweeper

	mu  sync.Mutex
	srv *http.Server
}

func New(cfg Config, dsp *dispatch.Service, st store.Store, hub *channel.Hub, sweeper *sweep.Sweeper, log logx.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8370"
	}
	return &Server{cfg: cfg, log: log, dsp: dsp, st: st, hub: hub, sweeper: sweeper}
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/notify/request-created", s.handleRequestCreated)
		r.Post("/notify/urgent", s.handleUrgent)
		r.Post("/notify/status-changed", s.handleStatusChanged)
		r.Post("/notify/system", s.handleSystem)

		r.Get("/notifications", s.handleAttempts)
		r.Get("/channels/status", s.handleChannelStatus)

		r.Post("/sweep/run", s.handleSweepRun)
		r.Post("/push/permission", s.handlePushPermission)
	})

	r.Get("/ws/notifications", s.handleSocket)

	return r
}

// Start begins serving in the background. Listen errors after startup
// land in the log; the returned error covers only immediate failures.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.srv != nil {
		s.mu.Unlock()
		return nil
	}
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.routes(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}
	s.srv = srv
	s.mu.Unlock()

	go func() {
		s.log.Info("http server started", logx.String("addr", s.cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server failed", logx.Err(err))
		}
	}()
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug("response encode failed", logx.Err(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, map[string]string{"error": msg})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}
