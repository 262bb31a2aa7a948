package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/vouch/config"
	"github.com/teranos/vouch/errors"
	"github.com/teranos/vouch/ledger"
	"github.com/teranos/vouch/provider"
	"github.com/teranos/vouch/proxy"
)

// machine drives one job through the verification lifecycle. It runs on
// the job's goroutine and is the only writer of the job's lifecycle
// fields. Remote-call errors arrive pre-classified from the provider
// adapter; the machine decides retry, rotate, advance or finish and
// never inspects raw transport errors.
type machine struct {
	job      *Job
	provider Provider
	mail     CodeRetriever
	proxies  ProxySource
	cfg      config.EngineConfig

	// token is the job's delivery address. The provider sends the
	// out-of-band code there and the retriever matches on it.
	token string

	logger *zap.SugaredLogger
	now    func() time.Time
	sleep  func(d time.Duration) <-chan time.Time
	notify func(ev Event)

	// proxyOut is the outcome reported when the final proxy is
	// released. Neutral unless the run proves the proxy worked
	// (success, provider rejection) or broke (transport failure with
	// no retry left).
	proxyOut proxy.Outcome
}

// machineResult is what the engine archives and releases on
type machineResult struct {
	result       ledger.Result
	reason       string
	proxyOutcome proxy.Outcome
}

// run executes the lifecycle to a terminal state and returns the
// outcome. Exactly one terminal transition is published.
func (m *machine) run(ctx context.Context) machineResult {
	m.proxyOut = proxy.OutcomeNeutral

	err := m.lifecycle(ctx)
	if err == nil {
		m.proxyOut = proxy.OutcomeSuccess
		m.transition(StateSucceeded, "")
		return machineResult{result: ledger.ResultSuccess, proxyOutcome: m.proxyOut}
	}

	switch errors.KindOf(err) {
	case errors.KindTimeout:
		reason := err.Error()
		m.transition(StateTimedOut, reason)
		return machineResult{result: ledger.ResultTimedOut, reason: reason, proxyOutcome: m.proxyOut}
	case errors.KindCancelled:
		reason := "cancelled"
		m.transition(StateCancelled, reason)
		return machineResult{result: ledger.ResultCancelled, reason: reason, proxyOutcome: proxy.OutcomeNeutral}
	default:
		// Permanent rejections prove the proxy carried the exchange;
		// only an unclaimed outcome is upgraded, a transport failure
		// already pinned on the proxy stays pinned.
		if errors.IsPermanent(err) && m.proxyOut == proxy.OutcomeNeutral {
			m.proxyOut = proxy.OutcomeSuccess
		}
		reason := err.Error()
		m.transition(StateFailed, reason)
		return machineResult{result: ledger.ResultFailed, reason: reason, proxyOutcome: m.proxyOut}
	}
}

// lifecycle advances through the phases, returning nil on approval or
// the classified error that ended the run
func (m *machine) lifecycle(ctx context.Context) error {
	m.transition(StateSubmitting, "")
	handle, err := m.submitPhase(ctx)
	if err != nil {
		return err
	}

	m.transition(StateAwaitingDecision, "")
	decision, err := m.pollPhase(ctx, handle)
	if err != nil {
		return err
	}
	if decision.Kind == provider.DecisionApproved {
		return nil
	}

	m.transition(StateAwaitingCode, "")
	code, err := m.awaitCodePhase(ctx)
	if err != nil {
		return err
	}

	m.transition(StateConfirming, "")
	return m.confirmPhase(ctx, handle, code)
}

// submitPhase issues the submission, retrying transient failures with
// exponential backoff up to the configured attempt cap. Transport-level
// failures additionally rotate the proxy before the next attempt.
func (m *machine) submitPhase(ctx context.Context) (provider.Handle, error) {
	maxAttempts := m.cfg.Submit.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(m.cfg.Submit.BackoffBase, attempt-1, m.cfg.Submit.BackoffCap)
			if err := m.wait(ctx, delay); err != nil {
				return "", err
			}
		}

		m.job.incrementAttempts()
		handle, err := m.provider.Submit(ctx, m.job.Record, m.token, m.job.currentProxy())
		if err == nil {
			return handle, nil
		}
		if !errors.IsTransient(err) {
			// Permanent, cancelled, or an unclassified bug; none of
			// these are retryable.
			return "", err
		}

		lastErr = err
		m.logger.Warnw("Submission attempt failed",
			"job_id", m.job.ID,
			"attempt", attempt+1,
			"max_attempts", maxAttempts,
			"error", err)

		if provider.IsTransportError(err) {
			if attempt == maxAttempts-1 {
				// No retry follows; leave the blame on the current
				// proxy for the terminal release.
				if m.job.currentProxy() != nil {
					m.proxyOut = proxy.OutcomeFailure
				}
			} else {
				m.rotateProxy()
			}
		}
	}

	m.logger.Warnw("Submission abandoned",
		"job_id", m.job.ID,
		"attempts", maxAttempts,
		"error", lastErr)
	return "", errors.Transient(errors.New("submit_exhausted"))
}

// pollPhase asks for the provider's decision on a fixed interval until
// it answers or the phase deadline elapses. There is no attempt cap;
// the deadline is the only bound.
func (m *machine) pollPhase(ctx context.Context, handle provider.Handle) (provider.Decision, error) {
	deadline := m.now().Add(m.cfg.Poll.Deadline)

	for {
		decision, err := m.provider.Poll(ctx, handle, m.job.currentProxy())
		switch {
		case err == nil:
			switch decision.Kind {
			case provider.DecisionApproved, provider.DecisionNeedsCode:
				return decision, nil
			case provider.DecisionRejected:
				reason := decision.Reason
				if reason == "" {
					reason = "verification rejected"
				}
				return provider.Decision{}, errors.Permanent(errors.New(reason))
			}
			// Still pending: keep polling.
		case errors.IsTransient(err):
			m.logger.Warnw("Decision poll failed",
				"job_id", m.job.ID,
				"error", err)
			if provider.IsTransportError(err) {
				m.rotateProxy()
			}
		default:
			return provider.Decision{}, err
		}

		now := m.now()
		if !now.Before(deadline) {
			return provider.Decision{}, errors.WithKind(
				errors.New("no provider decision before deadline"), errors.KindTimeout)
		}
		wait := m.cfg.Poll.Interval
		if remaining := deadline.Sub(now); remaining < wait {
			wait = remaining
		}
		if err := m.wait(ctx, wait); err != nil {
			return provider.Decision{}, err
		}
	}
}

// awaitCodePhase waits for the out-of-band code addressed to this job.
// The retriever owns polling and transport retries; this phase only
// sets the deadline and the arrival cutoff.
func (m *machine) awaitCodePhase(ctx context.Context) (string, error) {
	deadline := m.now().Add(m.cfg.OutOfBand.Deadline)
	return m.mail.AwaitCode(ctx, m.token, m.job.CreatedAt, deadline)
}

// confirmPhase relays the code back. The call is never retried: the
// code is one-time and replaying it after an ambiguous failure could
// burn it, so any error here is terminal.
func (m *machine) confirmPhase(ctx context.Context, handle provider.Handle, code string) error {
	outcome, err := m.provider.Confirm(ctx, handle, code, m.job.currentProxy())
	if err != nil {
		if errors.IsCancelled(err) {
			return err
		}
		if provider.IsTransportError(err) && m.job.currentProxy() != nil {
			m.proxyOut = proxy.OutcomeFailure
		}
		return errors.Permanent(errors.Wrap(err, "confirmation could not be completed"))
	}
	if !outcome.Approved {
		reason := outcome.Reason
		if reason == "" {
			reason = "confirmation rejected"
		}
		return errors.Permanent(errors.New(reason))
	}
	return nil
}

// rotateProxy releases the current endpoint with a failure outcome and
// checks out a replacement. An empty pool does not stall the phase; the
// job continues with direct egress until a later rotation finds one.
func (m *machine) rotateProxy() {
	old := m.job.currentProxy()
	if old != nil {
		m.proxies.Release(old, proxy.OutcomeFailure)
	}

	next, ok := m.proxies.Checkout()
	if !ok {
		m.job.setProxy(nil)
		m.logger.Warnw("Proxy pool exhausted, continuing direct",
			"job_id", m.job.ID)
		return
	}
	m.job.setProxy(next)
	m.logger.Infow("Rotated proxy",
		"job_id", m.job.ID,
		"proxy", next.Address)
}

// wait sleeps for d, honoring cancellation. Zero delays still observe
// a pending cancellation so tight retry loops stay cooperative.
func (m *machine) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return errors.WithKind(ctx.Err(), errors.KindCancelled)
		default:
			return nil
		}
	}
	select {
	case <-ctx.Done():
		return errors.WithKind(ctx.Err(), errors.KindCancelled)
	case <-m.sleep(d):
		return nil
	}
}

func (m *machine) transition(state State, detail string) {
	at := m.now()
	m.job.setState(state, detail, at)
	m.notify(Event{
		JobID:  m.job.ID,
		UserID: m.job.UserID,
		State:  state,
		Detail: detail,
		At:     at,
	})
}
