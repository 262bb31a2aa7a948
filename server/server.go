// Package server exposes the verification engine over HTTP: a JSON API
// for submissions, status, history and pool management, and a websocket
// stream of job state events at /ws/events.
package server

import (
	"context"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/teranos/vouch/config"
	"github.com/teranos/vouch/engine"
	"github.com/teranos/vouch/inventory"
	"github.com/teranos/vouch/ledger"
	"github.com/teranos/vouch/proxy"
)

const (
	// MaxClients caps concurrent websocket subscribers
	MaxClients = 100
)

// JobEngine is the slice of the engine the API surface drives
type JobEngine interface {
	Submit(ctx context.Context, userID string) (string, error)
	Cancel(jobID string) bool
	Status(jobID string) (engine.Snapshot, bool)
	List() []engine.Snapshot
	Stats() engine.Stats
	Subscribe() chan engine.Event
	Unsubscribe(ch chan engine.Event)
}

// Server serves the HTTP API and fans engine events out to websocket
// clients. Each client holds its own engine subscription, so slow
// consumers shed their own oldest events without affecting anyone else.
type Server struct {
	cfg    *config.Config
	engine JobEngine
	stock  *inventory.Store
	pool   *proxy.Pool
	trail  *ledger.Store
	logger *zap.SugaredLogger

	mu      sync.Mutex
	clients map[*client]bool

	httpServer *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires the API surface. The engine must be non-nil; stores may be
// nil in tests that do not touch their routes.
func New(cfg *config.Config, eng JobEngine, stock *inventory.Store, pool *proxy.Pool, trail *ledger.Store, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:     cfg,
		engine:  eng,
		stock:   stock,
		pool:    pool,
		trail:   trail,
		logger:  logger,
		clients: make(map[*client]bool),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// register admits a websocket client, enforcing the connection cap
func (s *Server) register(c *client) bool {
	s.mu.Lock()
	if len(s.clients) >= MaxClients {
		s.mu.Unlock()
		s.logger.Warnw("Max clients reached, rejecting connection",
			"client_id", c.id,
			"max_clients", MaxClients,
		)
		return false
	}
	s.clients[c] = true
	total := len(s.clients)
	s.mu.Unlock()

	s.logger.Infow("Event stream client connected",
		"client_id", c.id,
		"total_clients", total,
	)
	return true
}

// unregister removes a client; safe to call more than once
func (s *Server) unregister(c *client) {
	s.mu.Lock()
	if _, ok := s.clients[c]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.clients, c)
	total := len(s.clients)
	s.mu.Unlock()

	s.engine.Unsubscribe(c.events)
	c.close()

	s.logger.Infow("Event stream client disconnected",
		"client_id", c.id,
		"total_clients", total,
	)
}

func (s *Server) clientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}
