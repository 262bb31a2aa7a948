package errors

import (
	"context"
)

// Kind classifies an error into the categories the job state machine acts on.
// Classification happens once at the boundary that produced the error (the
// provider adapter, the mailbox retriever, the pools); downstream code only
// inspects the Kind and never re-interprets raw transport errors.
type Kind string

const (
	// KindUnknown is the zero classification; treated as permanent by callers
	// that must pick a side, so an unclassified bug fails loudly rather than
	// retrying forever.
	KindUnknown Kind = "unknown"

	// KindResourceExhausted: no record, proxy, or concurrency slot. Rejected
	// at admission, never a job failure.
	KindResourceExhausted Kind = "resource_exhausted"

	// KindTransient: network error, 5xx, ambiguous response. Retried within
	// the phase's attempt cap.
	KindTransient Kind = "transient"

	// KindPermanent: provider-confirmed rejection. Immediate terminal failure.
	KindPermanent Kind = "permanent"

	// KindTimeout: a phase deadline elapsed. Terminal, distinct from failure
	// so callers can tell "provider said no" from "provider never answered".
	KindTimeout Kind = "timeout"

	// KindCancelled: user or admin initiated cancellation.
	KindCancelled Kind = "cancelled"
)

// kinded attaches a Kind to an error chain.
type kinded struct {
	cause error
	kind  Kind
}

func (e *kinded) Error() string { return e.cause.Error() }
func (e *kinded) Unwrap() error { return e.cause }

// WithKind marks err with a classification. Returns nil if err is nil.
func WithKind(err error, kind Kind) error {
	if err == nil {
		return nil
	}
	return &kinded{cause: err, kind: kind}
}

// KindOf walks the error chain and returns the first explicit Kind.
// Context cancellation and deadline errors classify without being marked.
// Unmarked errors report KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var k *kinded
	if As(err, &k) {
		return k.kind
	}
	switch {
	case Is(err, context.Canceled), Is(err, ErrCancelled):
		return KindCancelled
	case Is(err, context.DeadlineExceeded), Is(err, ErrTimeout):
		return KindTimeout
	case IsAdmissionReject(err):
		return KindResourceExhausted
	}
	return KindUnknown
}

// IsTransient reports whether err should be retried within the phase cap.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}

// IsPermanent reports whether err is a provider-confirmed rejection.
func IsPermanent(err error) bool {
	return KindOf(err) == KindPermanent
}

// IsTimeout reports whether err represents an elapsed phase deadline.
func IsTimeout(err error) bool {
	return KindOf(err) == KindTimeout
}

// IsCancelled reports whether err represents cooperative cancellation.
func IsCancelled(err error) bool {
	return KindOf(err) == KindCancelled
}

// Transient marks err as retryable. Shorthand for WithKind(err, KindTransient).
func Transient(err error) error { return WithKind(err, KindTransient) }

// Permanent marks err as a definitive rejection.
func Permanent(err error) error { return WithKind(err, KindPermanent) }
