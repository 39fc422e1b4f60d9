// Package server exposes the gateway over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Dicklesworthstone/cmdgate/internal/core"
	"github.com/Dicklesworthstone/cmdgate/internal/metrics"
	"github.com/Dicklesworthstone/cmdgate/internal/notify"
	"github.com/Dicklesworthstone/cmdgate/internal/utils"
)

// APIKeyHeader carries the caller's API key.
const APIKeyHeader = "X-API-Key"

const (
	defaultRequestsPerMinute = 60
	defaultBurst             = 10
	maxRequestBodyBytes      = 1 << 20
	shutdownTimeout          = 10 * time.Second
)

// Options configure a Server.
type Options struct {
	Gateway *core.Gateway
	// Hub serves /ws when set.
	Hub     *notify.Hub
	Metrics metrics.Metrics
	// MetricsHandler serves /metrics when set.
	MetricsHandler http.Handler
	Logger         *log.Logger

	// RequestsPerMinute and Burst bound submissions per user.
	RequestsPerMinute int
	Burst             int
	AuditLimit        int
}

// Server routes HTTP requests to a Gateway.
type Server struct {
	gw             *core.Gateway
	hub            *notify.Hub
	metrics        metrics.Metrics
	metricsHandler http.Handler
	logger         *log.Logger
	limiter        *userLimiter
	auditLimit     int
	router         chi.Router
}

// New builds a Server and its routes.
func New(opts Options) (*Server, error) {
	if opts.Gateway == nil {
		return nil, errors.New("server requires a gateway")
	}
	if opts.Logger == nil {
		opts.Logger = utils.WithPrefix("http")
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop{}
	}
	if opts.RequestsPerMinute <= 0 {
		opts.RequestsPerMinute = defaultRequestsPerMinute
	}
	if opts.Burst <= 0 {
		opts.Burst = defaultBurst
	}

	s := &Server{
		gw:             opts.Gateway,
		hub:            opts.Hub,
		metrics:        opts.Metrics,
		metricsHandler: opts.MetricsHandler,
		logger:         opts.Logger.WithPrefix("http"),
		limiter:        newUserLimiter(opts.RequestsPerMinute, opts.Burst),
		auditLimit:     opts.AuditLimit,
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)
	r.Use(limitRequestBody)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "cmdgate"})
	})
	if s.metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", s.metricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)

		r.Get("/api/auth/verify", s.verifyAuth)
		r.With(s.rateLimit).Post("/api/commands", s.submitCommand)
		r.Get("/api/commands", s.listCommands)
		if s.hub != nil {
			r.Get("/ws", s.serveWS)
		}

		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)

			r.Post("/api/users", s.createUser)
			r.Put("/api/users/{id}/credits", s.updateCredits)
			r.Get("/api/rules", s.listRules)
			r.Post("/api/rules", s.createRule)
			r.Post("/api/rules/validate", s.validateRule)
			r.Post("/api/rules/check-conflicts", s.checkConflicts)
			r.Get("/api/pending-approvals", s.listPending)
			r.Post("/api/commands/{id}/approve", s.approveCommand)
			r.Get("/api/commands/{id}/votes", s.listVotes)
			r.Get("/api/audit-logs", s.listAudit)
			r.Get("/api/analytics", s.analytics)
		})
	})
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		s.logger.Info("shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
