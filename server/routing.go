package server

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

// routes configures all HTTP handlers on a fresh mux
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws/events", s.corsMiddleware(s.handleEvents))
	mux.HandleFunc("/health", s.corsMiddleware(s.handleHealth))
	mux.HandleFunc("/api/jobs", s.corsMiddleware(s.handleJobs))        // POST submit, GET list
	mux.HandleFunc("/api/jobs/", s.corsMiddleware(s.handleJob))        // GET status, POST {id}/cancel
	mux.HandleFunc("/api/history", s.corsMiddleware(s.handleHistory))  // GET ledger entries
	mux.HandleFunc("/api/stats", s.corsMiddleware(s.handleStats))      // GET engine+pool+ledger stats
	mux.HandleFunc("/api/records", s.corsMiddleware(s.handleRecords))  // POST import, GET counts
	mux.HandleFunc("/api/proxies", s.corsMiddleware(s.handleProxies))  // GET endpoint health list
	mux.HandleFunc("/api/config", s.corsMiddleware(s.handleConfig))    // GET effective config

	return mux
}

// corsMiddleware adds CORS headers using the configured allowed
// origins; the same origin check guards websocket upgrades
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.checkOrigin(r) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

// checkOrigin accepts requests without an Origin header (direct
// clients, curl, tests) and browser requests from configured origins.
// Prefix matching allows any port on an allowed host.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	allowed := s.cfg.GetServerAllowedOrigins()
	for _, a := range allowed {
		if strings.HasPrefix(origin, a) {
			return true
		}
	}
	return false
}

func (s *Server) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  2048,
		WriteBufferSize: 2048,
		CheckOrigin:     s.checkOrigin,
	}
}
