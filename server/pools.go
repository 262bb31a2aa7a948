package server

import (
	"net/http"

	"github.com/teranos/vouch/record"
)

// maxImportBytes caps a record import body (64k records fit easily)
const maxImportBytes = 8 << 20

// importError is one malformed line in an import report
type importError struct {
	Line  int    `json:"line"`
	Text  string `json:"text"`
	Error string `json:"error"`
}

// handleRecords handles /api/records
// POST: import pipe-separated candidate records from the request body
// GET: inventory counts
func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	if s.stock == nil {
		writeError(w, http.StatusServiceUnavailable, "Inventory not available")
		return
	}

	switch r.Method {
	case http.MethodPost:
		s.handleRecordImport(w, r)
	case http.MethodGet:
		available, err := s.stock.CountAvailable(r.Context())
		if err != nil {
			s.logger.Errorw("Failed to count available records", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to read inventory")
			return
		}
		consumed, err := s.stock.CountConsumed(r.Context())
		if err != nil {
			s.logger.Errorw("Failed to count consumed records", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to read inventory")
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{
			"available": available,
			"consumed":  consumed,
		})
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) handleRecordImport(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxImportBytes)
	records, malformed, err := record.ParseReader(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read import body")
		return
	}

	inserted, skipped := 0, 0
	if len(records) > 0 {
		inserted, skipped, err = s.stock.Add(r.Context(), records)
		if err != nil {
			s.logger.Errorw("Record import failed", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to store records")
			return
		}
	}

	report := make([]importError, 0, len(malformed))
	for _, pe := range malformed {
		report = append(report, importError{Line: pe.Line, Text: pe.Text, Error: pe.Err.Error()})
	}

	s.logger.Infow("Records imported",
		"imported", inserted,
		"duplicates", skipped,
		"malformed", len(malformed),
	)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"imported":  inserted,
		"skipped":   skipped,
		"malformed": report,
	})
}

// handleProxies handles GET /api/proxies: per-endpoint health plus
// aggregate pool counts
func (s *Server) handleProxies(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	if s.pool == nil {
		writeError(w, http.StatusServiceUnavailable, "Proxy pool not available")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"stats":     s.pool.Stats(),
		"endpoints": s.pool.List(),
	})
}

// handleConfig handles GET /api/config: the effective configuration
// with credentials masked
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	if s.cfg == nil {
		writeError(w, http.StatusServiceUnavailable, "Config not available")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"engine": map[string]interface{}{
			"max_concurrent_jobs":   s.cfg.Engine.MaxConcurrentJobs,
			"daily_user_limit":      s.cfg.Engine.DailyUserLimit,
			"event_buffer":          s.cfg.Engine.EventBuffer,
			"provider_rate_per_sec": s.cfg.Engine.ProviderRatePerSec,
			"shutdown_grace":        s.cfg.Engine.ShutdownGrace.String(),
			"submit": map[string]interface{}{
				"max_attempts": s.cfg.Engine.Submit.MaxAttempts,
				"backoff_base": s.cfg.Engine.Submit.BackoffBase.String(),
				"backoff_cap":  s.cfg.Engine.Submit.BackoffCap.String(),
			},
			"poll": map[string]interface{}{
				"interval": s.cfg.Engine.Poll.Interval.String(),
				"deadline": s.cfg.Engine.Poll.Deadline.String(),
			},
			"outofband": map[string]interface{}{
				"interval":     s.cfg.Engine.OutOfBand.Interval.String(),
				"deadline":     s.cfg.Engine.OutOfBand.Deadline.String(),
				"max_attempts": s.cfg.Engine.OutOfBand.MaxAttempts,
			},
		},
		"provider": map[string]interface{}{
			"base_url": s.cfg.Provider.BaseURL,
			"timeout":  s.cfg.Provider.Timeout.String(),
			"orgs":     len(s.cfg.Provider.Orgs),
		},
		"proxy": map[string]interface{}{
			"list_path":            s.cfg.Proxy.ListPath,
			"default_health":       s.cfg.Proxy.DefaultHealth,
			"quarantine_threshold": s.cfg.Proxy.QuarantineThreshold,
			"cooldown":             s.cfg.Proxy.Cooldown.String(),
		},
		"mailbox": map[string]interface{}{
			"host":     s.cfg.Mailbox.Host,
			"port":     s.cfg.Mailbox.Port,
			"username": s.cfg.Mailbox.Username,
			"password": maskSecret(s.cfg.Mailbox.Password),
			"folder":   s.cfg.Mailbox.Folder,
		},
		"server": map[string]interface{}{
			"port":            s.cfg.Server.Port,
			"allowed_origins": s.cfg.GetServerAllowedOrigins(),
		},
	})
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}
