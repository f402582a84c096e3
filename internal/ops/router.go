// Package ops serves the matcher's operational HTTP endpoints: health and
// Prometheus metrics.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pawpal/matchengine/internal/metrics"
	"github.com/pawpal/matchengine/internal/platform/logger"
)

// Check reports the health of one dependency.
type Check func(ctx context.Context) error

const checkTimeout = 2 * time.Second

type healthReport struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// NewRouter mounts GET /healthz and GET /metrics. /healthz answers 503 when
// any check fails.
func NewRouter(checks map[string]Check) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", healthHandler(checks))
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	return r
}

func healthHandler(checks map[string]Check) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		defer cancel()

		report := healthReport{Status: "ok", Checks: make(map[string]string, len(names))}
		status := http.StatusOK
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				report.Checks[name] = err.Error()
				report.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			report.Checks[name] = "ok"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(report)
	}
}

// Server is a thin wrapper over chi and http.Server.
type Server struct {
	srv *http.Server
}

// NewServer creates a Server for handler on addr.
func NewServer(addr string, handler http.Handler) *Server {
	return &Server{srv: &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}}
}

// Run listens and blocks until the server is shut down.
func (s *Server) Run() error {
	logger.Named("http").Info().Str("addr", s.srv.Addr).Msg("http listening")
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
