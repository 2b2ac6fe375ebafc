// Package server provides the HTTP server shared by the registry, gateway and
// worker processes.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	mesherrors "github.com/devrev/meshplane/internal/errors"
	"github.com/devrev/meshplane/internal/metrics"
	"github.com/devrev/meshplane/internal/middleware"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// RouteRegistrar attaches a component's routes to the router
type RouteRegistrar interface {
	RegisterRoutes(r *mux.Router)
}

// Options configures the listener and timeouts
type Options struct {
	Name         string
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Server represents the HTTP server.
type Server struct {
	name         string
	router       *mux.Router
	httpServer   *http.Server
	errorHandler *mesherrors.Handler
	logger       *zap.Logger
}

// NewServer creates a new HTTP server and lets each registrar add its routes.
// Every unmatched path or method is answered with the 404 error envelope.
func NewServer(opts Options, m *metrics.Metrics, logger *zap.Logger, registrars ...RouteRegistrar) *Server {
	router := mux.NewRouter()
	errorHandler := mesherrors.NewHandler(logger)

	chain := middleware.Chain(
		middleware.Recovery(logger),
		middleware.RequestID,
		middleware.Logging(logger),
		middleware.Metrics(m),
	)
	router.Use(func(next http.Handler) http.Handler {
		return chain(next)
	})

	for _, reg := range registrars {
		reg.RegisterRoutes(router)
	}

	notFound := middleware.RequestID(http.HandlerFunc(errorHandler.WriteNotFound))
	router.NotFoundHandler = notFound
	// A known path with the wrong method is still a 404
	router.MethodNotAllowedHandler = notFound

	return &Server{
		name:   opts.Name,
		router: router,
		httpServer: &http.Server{
			Addr:         opts.Addr,
			Handler:      router,
			ReadTimeout:  opts.ReadTimeout,
			WriteTimeout: opts.WriteTimeout,
			IdleTimeout:  opts.IdleTimeout,
		},
		errorHandler: errorHandler,
		logger:       logger,
	}
}

// Start listens on the configured address and serves until Shutdown
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on an existing listener
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("starting HTTP server",
		zap.String("server", s.name),
		zap.String("addr", ln.Addr().String()),
	)

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// StartAsync starts the server in a goroutine. The returned channel receives
// at most one error and is closed when the server stops.
func (s *Server) StartAsync() <-chan error {
	errChan := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil {
			errChan <- err
		}
		close(errChan)
	}()
	return errChan
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server", zap.String("server", s.name))
	return s.httpServer.Shutdown(ctx)
}

// Router returns the router for testing purposes.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Handler returns the http.Handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}
