package server

import (
	"net/http"

	"github.com/teranos/vouch/ledger"
)

const (
	// Default and max limits for history queries
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// submitRequest is the POST /api/jobs body
type submitRequest struct {
	UserID string `json:"user_id"`
}

// handleJobs handles /api/jobs
// POST: submit a verification for a user
// GET: list all tracked jobs, newest first
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleSubmit(w, r)
	case http.MethodGet:
		snaps := s.engine.List()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"jobs":  snaps,
			"count": len(snaps),
		})
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := readJSON(w, r, &req); err != nil {
		return
	}

	jobID, err := s.engine.Submit(r.Context(), req.UserID)
	if err != nil {
		s.logger.Infow("Submission rejected",
			"user_id", req.UserID,
			"error", err,
		)
		writeAdmissionError(w, s.logger, err)
		return
	}

	s.logger.Infow("Submission accepted",
		"job_id", shortID(jobID),
		"user_id", req.UserID,
	)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id":  jobID,
		"user_id": req.UserID,
	})
}

// handleJob handles /api/jobs/{id} and /api/jobs/{id}/cancel
func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	pathParts := extractPathParts(r.URL.Path, "/api/jobs/")
	if len(pathParts) == 0 || pathParts[0] == "" {
		writeError(w, http.StatusBadRequest, "Missing job ID")
		return
	}
	jobID := pathParts[0]

	if len(pathParts) > 1 && pathParts[1] == "cancel" {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		s.handleCancel(w, r, jobID)
		return
	}

	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	snap, ok := s.engine.Status(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, "Job not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request, jobID string) {
	snap, ok := s.engine.Status(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, "Job not found")
		return
	}
	if snap.State.Terminal() {
		writeError(w, http.StatusConflict, "Job already finished")
		return
	}

	if !s.engine.Cancel(jobID) {
		// Lost the race against the job's own completion.
		writeError(w, http.StatusConflict, "Job already finished")
		return
	}

	s.logger.Infow("Cancellation requested",
		"job_id", shortID(jobID),
	)
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id":    jobID,
		"cancelled": true,
	})
}

// handleHistory handles GET /api/history with optional ?user= and
// ?limit= parameters
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	if s.trail == nil {
		writeError(w, http.StatusServiceUnavailable, "Ledger not available")
		return
	}

	limit := parseIntQueryParam(r, "limit", defaultHistoryLimit, 1, maxHistoryLimit)
	userID := r.URL.Query().Get("user")

	var entries []*ledger.Entry
	var err error
	if userID != "" {
		entries, err = s.trail.ForUser(r.Context(), userID, limit)
	} else {
		entries, err = s.trail.Recent(r.Context(), limit)
	}
	if err != nil {
		s.logger.Errorw("Failed to read ledger history", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

// handleStats handles GET /api/stats: a single composite view of the
// engine slots, the ledger totals, and both pools
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	resp := map[string]interface{}{
		"engine": s.engine.Stats(),
	}

	if s.trail != nil {
		if stats, err := s.trail.Stats(r.Context()); err != nil {
			s.logger.Warnw("Failed to read ledger stats", "error", err)
		} else {
			resp["ledger"] = stats
		}
	}

	if s.stock != nil {
		available, err := s.stock.CountAvailable(r.Context())
		if err != nil {
			s.logger.Warnw("Failed to count available records", "error", err)
		} else {
			consumed, err := s.stock.CountConsumed(r.Context())
			if err != nil {
				s.logger.Warnw("Failed to count consumed records", "error", err)
			} else {
				resp["records"] = map[string]int{
					"available": available,
					"consumed":  consumed,
				}
			}
		}
	}

	if s.pool != nil {
		resp["proxies"] = s.pool.Stats()
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	stats := s.engine.Stats()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"running":  stats.Running,
		"capacity": stats.Capacity,
		"clients":  s.clientCount(),
	})
}
