// Package httpapi exposes the authentication and sync services as a JSON
// HTTP API. All /sync and /tasks routes plus the session management routes
// require a bearer session token.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/signalnoise/cloudsync/internal/logging"
	"github.com/signalnoise/cloudsync/internal/server/magiclink"
	"github.com/signalnoise/cloudsync/internal/server/session"
	"github.com/signalnoise/cloudsync/internal/server/syncsvc"
)

// Server is the HTTP front end. Construct with NewServer, start with Run,
// stop with Stop.
type Server struct {
	auth     *magiclink.Service
	sessions *session.Manager
	sync     *syncsvc.Service
	logger   logging.Logger

	httpServer *http.Server
}

func NewServer(addr string, auth *magiclink.Service, sessions *session.Manager,
	sync *syncsvc.Service, logger logging.Logger) *Server {
	s := &Server{
		auth:     auth,
		sessions: sessions,
		sync:     sync,
		logger:   logger,
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Run blocks serving requests until Stop is called or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info(ctx, "http server starting", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop drains in-flight requests and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	s.logger.Info(ctx, "http server stopping")
	return s.httpServer.Shutdown(ctx)
}
