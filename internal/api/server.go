// Package api exposes a read-only status/metrics HTTP surface over the
// engine's live state: health, trade-lifecycle counters, and the current
// dealer book. It is deliberately not a UI — no templates, no static
// assets — just the JSON interface a dashboard or alerting system would
// consume.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/dealer-gamma-engine/internal/book"
	"github.com/eddiefleurent/dealer-gamma-engine/internal/tradestate"
	"github.com/eddiefleurent/dealer-gamma-engine/internal/util"
)

// gammaDisplayTick rounds the aggregate gamma reported over the API to a
// cent, matching how a P&L-adjacent figure would be displayed elsewhere.
const gammaDisplayTick = 0.01

// Server is the status/metrics HTTP surface.
type Server struct {
	router    chi.Router
	logger    *logrus.Logger
	authToken string
	book      *book.Book
	counters  *tradestate.Counters
	startedAt time.Time

	httpServer *http.Server
}

// Config configures a Server.
type Config struct {
	Addr      string
	AuthToken string
	Logger    *logrus.Logger
	Book      *book.Book
	Counters  *tradestate.Counters
}

// New builds a Server from cfg, wiring chi's standard middleware stack the
// same way the engine's other HTTP-facing code would.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.New()
	}

	s := &Server{
		logger:    logger,
		authToken: cfg.AuthToken,
		book:      cfg.Book,
		counters:  cfg.Counters,
		startedAt: time.Now(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))
	r.Use(s.requestLogger)

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/api/counters", s.handleCounters)
		r.Get("/api/book", s.handleBook)
	})

	s.router = r
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"duration": time.Since(start).String(),
		}).Info("request")
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		provided := r.Header.Get("Authorization")
		if subtle.ConstantTimeCompare([]byte(provided), []byte("Bearer "+s.authToken)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"uptime":  time.Since(s.startedAt).String(),
		"strikes": s.book.Len(),
	})
}

func (s *Server) handleCounters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.counters.Snapshot())
}

func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"aggregate_gamma": util.RoundToTick(s.book.AggregateGamma(), gammaDisplayTick),
		"by_strike":       s.book.ByStrike(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Start serves on the configured address and blocks until the server stops.
// It returns nil once Shutdown has closed the server, and the listen or
// serve error otherwise; callers run it in its own goroutine.
func (s *Server) Start() error {
	ln := s.httpServer.Addr
	s.logger.Infof("api: listening on %s", ln)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server, waiting for in-flight requests to
// finish or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
