// Package ledger is the append-only record of terminal job outcomes.
// Entries are immutable once written; there is no update or delete
// path. Statistics and history queries read from here.
package ledger

import (
	"time"

	"github.com/teranos/vouch/record"
)

// Result is the terminal outcome vocabulary persisted for audit
type Result string

const (
	ResultSuccess   Result = "success"
	ResultFailed    Result = "failed"
	ResultTimedOut  Result = "timed_out"
	ResultCancelled Result = "cancelled"
)

// Entry is an immutable snapshot of one finished job
type Entry struct {
	ID          int64         `json:"id"`
	JobID       string        `json:"job_id"`
	UserID      string        `json:"user_id"`
	FirstName   string        `json:"first_name"`
	LastName    string        `json:"last_name"`
	Branch      record.Branch `json:"branch"`
	Result      Result        `json:"result"`
	Reason      string        `json:"reason,omitempty"`
	Attempts    int           `json:"attempts"`
	CreatedAt   time.Time     `json:"created_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration"`
}

// Stats aggregates ledger totals for reporting
type Stats struct {
	Total       int     `json:"total"`
	Succeeded   int     `json:"succeeded"`
	Failed      int     `json:"failed"`
	TimedOut    int     `json:"timed_out"`
	Cancelled   int     `json:"cancelled"`
	SuccessRate float64 `json:"success_rate"` // succeeded / total, 0 when empty
	Today       int     `json:"today"`        // completed since midnight UTC
}
