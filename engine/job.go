package engine

import (
	"context"
	"sync"
	"time"

	"github.com/teranos/vouch/proxy"
	"github.com/teranos/vouch/record"
)

// State is a job's position in the verification lifecycle
type State string

const (
	// StatePending means the job is accepted with a record and proxy
	// claimed but no provider call issued yet
	StatePending State = "pending"
	// StateSubmitting means the submission call is in flight or being
	// retried with backoff
	StateSubmitting State = "submitting"
	// StateAwaitingDecision means the submission was acknowledged and
	// the provider's decision is being polled
	StateAwaitingDecision State = "awaiting_provider_decision"
	// StateAwaitingCode means the provider asked for out-of-band
	// confirmation and the mailbox is being watched for the code
	StateAwaitingCode State = "awaiting_out_of_band"
	// StateConfirming means the retrieved code is being relayed back
	StateConfirming State = "confirming"

	// StateSucceeded is terminal: the provider approved the record
	StateSucceeded State = "succeeded"
	// StateFailed is terminal: the provider rejected the record or a
	// phase exhausted its retry budget
	StateFailed State = "failed"
	// StateTimedOut is terminal: a phase deadline elapsed before the
	// provider or mailbox answered
	StateTimedOut State = "timed_out"
	// StateCancelled is terminal: cancellation was requested and
	// observed at a suspension point
	StateCancelled State = "cancelled"
)

// Terminal reports whether no further transitions can occur from s
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateTimedOut, StateCancelled:
		return true
	}
	return false
}

// Job is one live verification run. Identity fields are immutable after
// creation; lifecycle fields are guarded by mu because the state
// machine mutates them while API callers read snapshots.
type Job struct {
	ID        string
	UserID    string
	Record    *record.Record
	CreatedAt time.Time

	cancel context.CancelFunc

	mu        sync.Mutex
	state     State
	detail    string
	proxy     *proxy.Endpoint
	attempts  int
	updatedAt time.Time
}

func newJob(id, userID string, rec *record.Record, ep *proxy.Endpoint, cancel context.CancelFunc, at time.Time) *Job {
	return &Job{
		ID:        id,
		UserID:    userID,
		Record:    rec,
		CreatedAt: at,
		cancel:    cancel,
		state:     StatePending,
		proxy:     ep,
		updatedAt: at,
	}
}

func (j *Job) setState(s State, detail string, at time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.state = s
	j.detail = detail
	j.updatedAt = at
}

// State returns the current lifecycle state
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

func (j *Job) currentProxy() *proxy.Endpoint {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.proxy
}

func (j *Job) setProxy(ep *proxy.Endpoint) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.proxy = ep
}

func (j *Job) incrementAttempts() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.attempts++
}

// Snapshot is a point-in-time copy of a job, safe to hand to callers
type Snapshot struct {
	JobID     string        `json:"job_id"`
	UserID    string        `json:"user_id"`
	FirstName string        `json:"first_name"`
	LastName  string        `json:"last_name"`
	Branch    record.Branch `json:"branch"`
	Proxy     string        `json:"proxy"`
	State     State         `json:"state"`
	Detail    string        `json:"detail,omitempty"`
	Attempts  int           `json:"attempts"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Snapshot captures the job's current state for status queries
func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()

	proxyLabel := "direct"
	if j.proxy != nil {
		proxyLabel = j.proxy.Address
	}
	return Snapshot{
		JobID:     j.ID,
		UserID:    j.UserID,
		FirstName: j.Record.FirstName,
		LastName:  j.Record.LastName,
		Branch:    j.Record.Branch,
		Proxy:     proxyLabel,
		State:     j.state,
		Detail:    j.detail,
		Attempts:  j.attempts,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.updatedAt,
	}
}
