// Package status serves a small HTTP surface for observing a running
// batch: liveness, Prometheus metrics and a JSON snapshot of the run.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mhuen/ic3-processing/internal/runner"
)

// Snapshotter provides the current view of a run, implemented by
// runner.Runner.
type Snapshotter interface {
	Snapshot() runner.Snapshot
}

type Server struct {
	addr    string
	src     Snapshotter
	metrics http.Handler
}

// New builds a status server on addr. The metrics handler may be nil.
func New(addr string, src Snapshotter, metrics http.Handler) *Server {
	return &Server{
		addr:    addr,
		src:     src,
		metrics: metrics,
	}
}

// Handler returns the routed HTTP surface.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Get("/api/v1/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(s.src.Snapshot()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	return r
}

// Serve runs the server until ctx is cancelled. Graceful shutdown, a nil
// error on cancellation.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	slog.InfoContext(ctx, "status server listening", "addr", s.addr)

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			slog.ErrorContext(ctx, "shutting down status server failed", "error", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
