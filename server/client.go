package server

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teranos/vouch/engine"
)

// WebSocket timeout constants following Gorilla best practices
const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 54 * time.Second

	// Maximum message size allowed from peer; the stream is one-way,
	// clients only send control frames
	maxMessageSize = 512
)

// client is one websocket subscriber to the engine event stream
type client struct {
	server *Server
	conn   *websocket.Conn
	events chan engine.Event
	id     string

	closeOnce sync.Once
	done      chan struct{}
}

// close releases the connection; safe to call more than once
func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// handleEvents handles GET /ws/events: upgrades the connection,
// subscribes it to the engine, and streams every job transition
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	up := s.upgrader()
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("WebSocket upgrade failed", "error", err)
		return
	}

	c := &client{
		server: s,
		conn:   conn,
		events: s.engine.Subscribe(),
		id:     fmt.Sprintf("%s_%d", r.RemoteAddr, time.Now().UnixNano()),
		done:   make(chan struct{}),
	}

	if !s.register(c) {
		s.engine.Unsubscribe(c.events)
		conn.Close()
		return
	}

	// Send the current job set before the pumps start so a
	// reconnecting client does not begin from a blank slate.
	if err := conn.WriteJSON(map[string]interface{}{
		"type": "snapshot",
		"jobs": s.engine.List(),
	}); err != nil {
		s.logger.Debugw("Failed to send snapshot",
			"client_id", c.id,
			"error", err,
		)
	}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		c.readPump()
	}()
	go func() {
		defer s.wg.Done()
		c.writePump()
	}()
}

// readPump consumes control frames until the peer goes away. The
// stream carries no client commands; the read loop exists to process
// pongs and detect disconnects.
func (c *client) readPump() {
	defer c.server.unregister(c)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNoStatusReceived,
			) {
				c.server.logger.Warnw("WebSocket read error",
					"client_id", c.id,
					"error", err,
				)
			}
			return
		}
	}
}

// writePump forwards engine events to the peer and keeps the
// connection alive with pings
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.server.ctx.Done():
			return
		case <-c.done:
			return
		case ev := <-c.events:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(map[string]interface{}{
				"type":  "event",
				"event": ev,
			}); err != nil {
				c.server.logger.Debugw("Event write error",
					"client_id", c.id,
					"error", err,
				)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
