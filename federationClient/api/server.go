package api

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const readHeaderTimeout = 10 * time.Second

// Server exposes the inbox endpoint and the node's query endpoints.
type Server struct {
	inbox     InboxService
	downloads DownloadService
	jobs      JobService
	events    EventLog
	metrics   http.Handler
	logger    zerolog.Logger
	server    *http.Server
}

// NewServer creates a new Server instance. downloads, jobs, events and
// metrics may be nil; their endpoints then answer 404.
func NewServer(
	inbox InboxService,
	downloads DownloadService,
	jobs JobService,
	events EventLog,
	metrics http.Handler,
	logger zerolog.Logger,
	port int,
) *Server {
	s := &Server{
		inbox:     inbox,
		downloads: downloads,
		jobs:      jobs,
		events:    events,
		metrics:   metrics,
		logger:    logger.With().Str("component", "api").Logger(),
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	if s.server == nil {
		return fmt.Errorf("api server is nil")
	}

	startupChan := make(chan error, 1)

	go func() {
		// Verify the port is available before serving.
		ln, err := net.Listen("tcp", s.server.Addr)
		if err != nil {
			startupChan <- fmt.Errorf("failed to bind to address %s: %w", s.server.Addr, err)
			return
		}
		ln.Close()

		startupChan <- nil

		err = s.server.ListenAndServe()
		switch err {
		case nil:
			s.logger.Info().Msg("API server stopped normally")
		case http.ErrServerClosed:
			s.logger.Info().Msg("API server closed gracefully")
		default:
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()

	select {
	case err := <-startupChan:
		return err
	case <-time.After(5 * time.Second):
		return fmt.Errorf("server startup timeout")
	}
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}
