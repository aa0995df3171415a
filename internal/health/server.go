package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Status is the payload served on /status. It mirrors the watcher's runtime
// configuration summary plus live counters.
type Status struct {
	App            string   `json:"app"`
	Version        string   `json:"version"`
	UptimeSeconds  float64  `json:"uptime_seconds"`
	Symbols        []string `json:"symbols"`
	Timeframe      string   `json:"timeframe"`
	Strategy       string   `json:"strategy"`
	IntervalSec    float64  `json:"interval_seconds"`
	MinStrengthPct float64  `json:"min_strength_pct"`
	Ticks          uint64   `json:"ticks"`
	RequestsOK     uint64   `json:"requests_ok"`
	RequestsFailed uint64   `json:"requests_failed"`
	AlertsSent     uint64   `json:"alerts_sent"`
	ActiveAlerts   int      `json:"active_alerts"`
}

// StatusFunc produces a point-in-time status snapshot.
type StatusFunc func() Status

// Server exposes liveness and status endpoints alongside the watcher loop.
type Server struct {
	srv    *http.Server
	logger zerolog.Logger
}

// NewServer builds the HTTP server. statusFn may not be nil.
func NewServer(addr string, statusFn StatusFunc, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(statusFn()); err != nil {
			logger.Warn().Err(err).Msg("encode status payload")
		}
	})

	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger.With().Str("component", "health").Logger(),
	}
}

// Handler exposes the route mux, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.srv.Addr).Msg("health endpoint listening")
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		err := <-errCh
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
