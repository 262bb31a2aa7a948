package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/teranos/vouch/config"
	"github.com/teranos/vouch/errors"
)

// Start binds the listener and serves until Stop is called. It blocks;
// run it on its own goroutine when the caller has more to do.
func (s *Server) Start() error {
	port := config.DefaultServerPort
	if s.cfg != nil && s.cfg.Server.Port != 0 {
		port = s.cfg.Server.Port
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Infow("HTTP server listening",
		"port", port,
	)

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return errors.Wrap(err, "http server failed")
}

// Stop drains the HTTP listener and closes every websocket client.
// The engine is stopped by the caller; event subscriptions are
// released here so its broadcaster holds no dead channels.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Infow("Stopping HTTP server")

	// Close client connections first to unblock read pumps, then
	// cancel to stop write pumps.
	s.mu.Lock()
	closing := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		closing = append(closing, c)
		delete(s.clients, c)
	}
	s.mu.Unlock()

	for _, c := range closing {
		s.engine.Unsubscribe(c.events)
		c.close()
	}
	s.cancel()

	var shutdownErr error
	if s.httpServer != nil {
		shutdownErr = s.httpServer.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Infow("HTTP server stopped",
			"clients_closed", len(closing),
		)
	case <-ctx.Done():
		s.logger.Warnw("Client pump shutdown timed out")
	}

	return errors.Wrap(shutdownErr, "http shutdown")
}
