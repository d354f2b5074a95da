// Package admin runs the server's side observability HTTP surface:
// /healthz and /metrics, on a port separate from the game's TCP listener.
// Grounded on the teacher's unwired cmd/cambia/cambia.go chi+cors router.
package admin

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	internalmw "github.com/mlindqvist/pitboss/internal/middleware"
	"github.com/mlindqvist/pitboss/internal/metrics"
)

// Server is the admin HTTP server.
type Server struct {
	httpServer *http.Server
}

// New builds the admin router: a heartbeat at /healthz and a Prometheus
// exposition endpoint at /metrics backed by mx's private registry.
func New(addr string, mx *metrics.Collectors, logger *logrus.Logger) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(internalmw.LogMiddleware(logger))
	r.Use(middleware.Heartbeat("/healthz"))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: func() []string {
			if os.Getenv("BLACKJACKD_ENV") == "production" {
				return strings.Split(os.Getenv("BLACKJACKD_ALLOWED_ORIGINS"), ",")
			}
			return []string{"https://*", "http://*"}
		}(),
		AllowedMethods: []string{"GET"},
		MaxAge:         300,
	}))

	r.Handle("/metrics", promhttp.HandlerFor(mx.Registry, promhttp.HandlerOpts{}))

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      r,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		},
	}
}

// Run starts serving until Shutdown is called; ErrServerClosed is not
// treated as a failure.
func (s *Server) Run() error {
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the admin server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
