// Package provider implements the adapter for the remote verification
// provider: stateless submit, poll, and confirm calls over JSON. Every
// error leaving this package is classified exactly once (transient,
// permanent, cancelled) so downstream code never re-interprets raw
// transport failures.
package provider

// Handle identifies an in-flight verification at the provider.
type Handle string

// DecisionKind tags a poll response.
type DecisionKind string

const (
	// DecisionPending: still processing, keep polling.
	DecisionPending DecisionKind = "pending"

	// DecisionNeedsCode: the provider sent a one-time code out of band
	// and waits for it to be relayed back.
	DecisionNeedsCode DecisionKind = "needs_code"

	// DecisionApproved: verified, no further steps.
	DecisionApproved DecisionKind = "approved"

	// DecisionRejected: definitive rejection, reason preserved.
	DecisionRejected DecisionKind = "rejected"
)

// Decision is the provider's answer to a poll call.
type Decision struct {
	Kind   DecisionKind `json:"kind"`
	Reason string       `json:"reason,omitempty"` // populated for DecisionRejected
}

// Outcome is the provider's final answer to a confirm call.
type Outcome struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"` // populated when not approved
}
