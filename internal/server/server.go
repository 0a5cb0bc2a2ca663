package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/haricheung/thor-planner/internal/a2a"
	"github.com/haricheung/thor-planner/internal/bus"
	"github.com/haricheung/thor-planner/internal/messenger"
	"github.com/haricheung/thor-planner/internal/metrics"
	"github.com/haricheung/thor-planner/internal/roles/executor"
)

const maxBodyBytes = 1 << 20

// Server is the A2A HTTP transport in front of the executor.
type Server struct {
	exec    *executor.Executor
	card    a2a.AgentCard
	metrics *metrics.Metrics
	logger  *zap.Logger
	router  chi.Router
}

// New builds the router.
func New(exec *executor.Executor, card a2a.AgentCard, m *metrics.Metrics, logger *zap.Logger) *Server {
	s := &Server{exec: exec, card: card, metrics: m, logger: logger.Named("server")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(zapLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/.well-known/agent-card.json", s.handleCard)
	r.Get("/.well-known/agent.json", s.handleCard)
	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", m.Handler())
	r.Post("/", s.handleRPC)

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully, giving in-flight requests up to grace to finish.
func (s *Server) ListenAndServe(ctx context.Context, addr string, grace time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", addr), zap.String("card_url", s.card.URL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func (s *Server) handleCard(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.card)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// plan runs the inbound trial or batch through the executor.
func (s *Server) plan(ctx context.Context, in messenger.Inbound, taskID, contextID string, subscribe func(*bus.Bus)) messenger.Reply {
	if in.Batch {
		outs, _ := s.exec.RunBatch(ctx, in.Trials, subscribe)
		return messenger.FromBatch(taskID, contextID, outs)
	}
	out, _ := s.exec.Run(ctx, in.Trials[0], subscribe)
	return messenger.FromOutcome(taskID, contextID, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
