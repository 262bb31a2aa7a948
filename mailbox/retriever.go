// Package mailbox retrieves out-of-band confirmation codes. A retriever
// polls a message store until a message matching a job's correlation
// token arrives, extracts the code, and consumes the message so no
// other poll can match it again.
//
// Matching is strictly correlation-token-based: multiple jobs share one
// mailbox concurrently, so "most recent message" is never good enough.
package mailbox

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/vouch/errors"
)

// Message is one mailbox message as seen by the retriever.
type Message struct {
	ID      uint32
	To      string
	Subject string
	Body    string
	Arrived time.Time
}

// Session is one open connection to the message store.
type Session interface {
	// Search returns messages addressed to token that arrived after since.
	Search(ctx context.Context, token string, since time.Time) ([]Message, error)

	// Delete removes messages so they cannot be matched again.
	Delete(ctx context.Context, ids []uint32) error

	Close() error
}

// DialFunc opens a fresh session. The retriever dials per poll attempt
// so a stale connection never wedges a long out-of-band wait.
type DialFunc func(ctx context.Context) (Session, error)

// codePattern is the fixed extraction pattern: a standalone six-digit
// code anywhere in the subject or body.
var codePattern = regexp.MustCompile(`\b\d{6}\b`)

// Retriever polls a message store for confirmation codes.
type Retriever struct {
	dial        DialFunc
	interval    time.Duration
	maxAttempts int
	logger      *zap.SugaredLogger

	now   func() time.Time
	sleep func(d time.Duration) <-chan time.Time
}

// NewRetriever creates a retriever that polls at interval and tolerates
// up to maxAttempts consecutive transport failures.
func NewRetriever(dial DialFunc, interval time.Duration, maxAttempts int, logger *zap.SugaredLogger) *Retriever {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Retriever{
		dial:        dial,
		interval:    interval,
		maxAttempts: maxAttempts,
		logger:      logger,
		now:         time.Now,
		sleep: func(d time.Duration) <-chan time.Time {
			return time.After(d)
		},
	}
}

// AwaitCode polls until a message addressed to token (and arrived after
// since) yields a code, the deadline elapses, or ctx is cancelled.
// Deadline expiry returns a Timeout-kind error; consecutive transport
// failures beyond the attempt cap return a Transient-kind error.
func (r *Retriever) AwaitCode(ctx context.Context, token string, since, deadline time.Time) (string, error) {
	if token == "" {
		return "", errors.New("correlation token is empty")
	}

	failures := 0
	for {
		code, err := r.checkOnce(ctx, token, since)
		switch {
		case err != nil:
			failures++
			if failures >= r.maxAttempts {
				return "", errors.Transient(errors.Wrapf(err, "mailbox unavailable after %d attempts", failures))
			}
			r.logger.Warnw("Mailbox check failed",
				"attempt", failures,
				"max_attempts", r.maxAttempts,
				"error", err,
			)
		case code != "":
			return code, nil
		default:
			failures = 0
		}

		now := r.now()
		if !now.Before(deadline) {
			return "", errors.WithKind(errors.New("no code arrived before deadline"), errors.KindTimeout)
		}

		wait := r.interval
		if remaining := deadline.Sub(now); remaining < wait {
			wait = remaining
		}

		select {
		case <-ctx.Done():
			return "", errors.WithKind(ctx.Err(), errors.KindCancelled)
		case <-r.sleep(wait):
		}
	}
}

// checkOnce opens a session, searches for the token, and consumes the
// matched messages when a code is found. An empty code with nil error
// means nothing matched yet.
func (r *Retriever) checkOnce(ctx context.Context, token string, since time.Time) (string, error) {
	session, err := r.dial(ctx)
	if err != nil {
		return "", errors.Wrap(err, "failed to open mailbox session")
	}
	defer session.Close()

	msgs, err := session.Search(ctx, token, since)
	if err != nil {
		return "", errors.Wrap(err, "mailbox search failed")
	}
	if len(msgs) == 0 {
		return "", nil
	}

	// Newest first: a resent code supersedes earlier ones
	sort.Slice(msgs, func(i, j int) bool {
		return msgs[i].Arrived.After(msgs[j].Arrived)
	})

	var code string
	ids := make([]uint32, 0, len(msgs))
	for _, msg := range msgs {
		ids = append(ids, msg.ID)
		if code == "" {
			code = extractCode(msg.Subject + "\n" + msg.Body)
		}
	}
	if code == "" {
		// Matched the token but nothing extractable yet; leave the
		// messages in place and keep polling
		return "", nil
	}

	if err := session.Delete(ctx, ids); err != nil {
		// The code still reaches the waiting job; a leftover message can
		// only ever match this job's token again
		r.logger.Warnw("Failed to consume code message", "error", err)
	}
	return code, nil
}

func extractCode(text string) string {
	return codePattern.FindString(text)
}

// TagAddress derives a per-job delivery address from base using plus
// addressing: user@host becomes user+tag@host. Returns base unchanged
// when it has no @ or the tag is empty.
func TagAddress(base, tag string) string {
	at := strings.LastIndex(base, "@")
	if at < 0 || tag == "" {
		return base
	}
	return base[:at] + "+" + tag + base[at:]
}
