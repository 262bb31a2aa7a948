// Package engine accepts verification submissions and runs each one
// through the provider lifecycle on its own goroutine. It enforces
// admission control (per-user exclusivity, a global concurrency cap,
// the daily quota), wires pool resources to the per-job state machine,
// publishes every transition and archives terminal outcomes. The
// engine performs no provider logic itself.
package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/vouch/config"
	"github.com/teranos/vouch/errors"
	"github.com/teranos/vouch/ledger"
	"github.com/teranos/vouch/mailbox"
	"github.com/teranos/vouch/provider"
	"github.com/teranos/vouch/proxy"
	"github.com/teranos/vouch/record"
)

const (
	// quotaWindow is the rolling window the daily user limit counts over
	quotaWindow = 24 * time.Hour

	// maintenanceInterval paces the proxy revival sweep and state save
	maintenanceInterval = 30 * time.Second
)

// Provider issues the three remote verification calls. Errors must
// arrive classified via errors.Kind; the machine never sees raw
// transport failures.
type Provider interface {
	Submit(ctx context.Context, rec *record.Record, email string, ep *proxy.Endpoint) (provider.Handle, error)
	Poll(ctx context.Context, handle provider.Handle, ep *proxy.Endpoint) (provider.Decision, error)
	Confirm(ctx context.Context, handle provider.Handle, code string, ep *proxy.Endpoint) (provider.Outcome, error)
}

// CodeRetriever waits for a job's out-of-band confirmation code
type CodeRetriever interface {
	AwaitCode(ctx context.Context, token string, since, deadline time.Time) (string, error)
}

// RecordSource claims candidate records for jobs. Claim returns
// (nil, nil) on depletion; ReleaseUnused is only legal for records
// whose job never issued a provider call.
type RecordSource interface {
	Claim(ctx context.Context, jobID string) (*record.Record, error)
	ReleaseUnused(ctx context.Context, recordID int64) error
}

// ProxySource hands out egress endpoints and takes them back with an
// outcome
type ProxySource interface {
	Checkout() (*proxy.Endpoint, bool)
	Release(ep *proxy.Endpoint, outcome proxy.Outcome)
	ReviveDue() int
	SnapshotState() []proxy.State
}

// ProxyStateStore persists proxy health across restarts. Optional; a
// nil store disables the periodic save.
type ProxyStateStore interface {
	Save(ctx context.Context, states []proxy.State) error
}

// Archive persists terminal outcomes and answers the quota count
type Archive interface {
	Append(ctx context.Context, entry *ledger.Entry) error
	CountForUserSince(ctx context.Context, userID string, t time.Time) (int, error)
}

// Deps are the engine's collaborators
type Deps struct {
	Provider   Provider
	Mail       CodeRetriever
	Records    RecordSource
	Proxies    ProxySource
	Archive    Archive
	ProxyState ProxyStateStore

	// MailboxAddr is the account per-job delivery addresses are
	// plus-addressed from
	MailboxAddr string
}

// Engine owns the set of live jobs
type Engine struct {
	cfg config.EngineConfig

	provider Provider // paced wrapper around Deps.Provider
	mail     CodeRetriever
	records  RecordSource
	proxies  ProxySource
	archive  Archive
	pstore   ProxyStateStore

	mailboxAddr string
	logger      *zap.SugaredLogger
	events      *broadcaster

	maintenanceEvery time.Duration

	mu      sync.Mutex
	jobs    map[string]*Job
	active  map[string]string // userID -> live jobID
	running int

	now   func() time.Time
	sleep func(d time.Duration) <-chan time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an engine. Call Start to run the maintenance loop and
// Stop to shut down.
func New(cfg config.EngineConfig, deps Deps, logger *zap.SugaredLogger) *Engine {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	limit := rate.Inf
	if cfg.ProviderRatePerSec > 0 {
		limit = rate.Limit(cfg.ProviderRatePerSec)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:              cfg,
		provider:         &pacedProvider{inner: deps.Provider, limiter: rate.NewLimiter(limit, 1)},
		mail:             deps.Mail,
		records:          deps.Records,
		proxies:          deps.Proxies,
		archive:          deps.Archive,
		pstore:           deps.ProxyState,
		mailboxAddr:      deps.MailboxAddr,
		logger:           logger,
		events:           newBroadcaster(cfg.EventBuffer),
		maintenanceEvery: maintenanceInterval,
		jobs:             make(map[string]*Job),
		active:           make(map[string]string),
		now:              time.Now,
		sleep:            time.After,
		ctx:              ctx,
		cancel:           cancel,
	}
}

// Start launches the maintenance loop (proxy revival and state
// persistence). Jobs run with or without it.
func (e *Engine) Start() {
	e.wg.Add(1)
	go e.maintenanceLoop()
	e.logger.Infow("Engine started",
		"max_concurrent_jobs", e.cfg.MaxConcurrentJobs,
		"daily_user_limit", e.cfg.DailyUserLimit)
}

// Stop cancels live jobs and waits for them to finish archiving. Jobs
// observe cancellation at their next suspension point, never mid-call;
// ctx bounds how long the engine waits for that.
func (e *Engine) Stop(ctx context.Context) error {
	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.persistProxyState()
		e.logger.Info("Engine stopped")
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "engine shutdown timed out with jobs still running")
	}
}

// Submit admits a verification job for userID. The engine claims the
// record and proxy itself; callers never touch the pools. Rejections
// are admission errors (errors.IsAdmissionReject), not job failures,
// and leave no trace in the ledger.
func (e *Engine) Submit(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", errors.NewInvalidRequestError("user id is required")
	}
	if e.ctx.Err() != nil {
		return "", errors.New("engine is shutting down")
	}

	jobID := uuid.NewString()

	// Reserve the user and a slot first so concurrent submissions for
	// the same user settle here, before any pool is touched.
	e.mu.Lock()
	if liveID, busy := e.active[userID]; busy {
		e.mu.Unlock()
		return "", errors.Wrapf(errors.ErrUserBusy, "job %s", liveID)
	}
	if e.running >= e.cfg.MaxConcurrentJobs {
		e.mu.Unlock()
		return "", errors.Wrapf(errors.ErrCapacity, "%d jobs running", e.running)
	}
	e.running++
	e.active[userID] = jobID
	e.mu.Unlock()

	rec, ep, err := e.acquire(ctx, jobID, userID)
	if err != nil {
		e.mu.Lock()
		e.running--
		delete(e.active, userID)
		e.mu.Unlock()
		return "", err
	}

	jobCtx, cancel := context.WithCancel(e.ctx)
	job := newJob(jobID, userID, rec, ep, cancel, e.now())

	e.mu.Lock()
	e.jobs[jobID] = job
	e.mu.Unlock()

	e.publish(Event{JobID: jobID, UserID: userID, State: StatePending, At: job.CreatedAt})
	e.logger.Infow("Verification job accepted",
		"job_id", jobID,
		"user_id", userID,
		"record", rec.FullName(),
		"branch", rec.Branch.Key(),
		"proxy", ep.Address)

	e.wg.Add(1)
	go e.runJob(jobCtx, job)
	return jobID, nil
}

// acquire checks the quota and claims a record and proxy for a new
// job. On a proxy shortfall the claimed record goes back; it never saw
// a provider call.
func (e *Engine) acquire(ctx context.Context, jobID, userID string) (*record.Record, *proxy.Endpoint, error) {
	if e.cfg.DailyUserLimit > 0 {
		count, err := e.archive.CountForUserSince(ctx, userID, e.now().Add(-quotaWindow))
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to check submission quota")
		}
		if count >= e.cfg.DailyUserLimit {
			return nil, nil, errors.Wrapf(errors.ErrQuotaExceeded, "%d in the last 24h", count)
		}
	}

	rec, err := e.records.Claim(ctx, jobID)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to claim candidate record")
	}
	if rec == nil {
		return nil, nil, errors.WithStack(errors.ErrInventoryEmpty)
	}

	ep, ok := e.proxies.Checkout()
	if !ok {
		if relErr := e.records.ReleaseUnused(ctx, rec.ID); relErr != nil {
			e.logger.Errorw("Failed to return unused record",
				"record_id", rec.ID,
				"error", relErr)
		}
		return nil, nil, errors.WithStack(errors.ErrNoProxy)
	}
	return rec, ep, nil
}

func (e *Engine) runJob(ctx context.Context, job *Job) {
	defer e.wg.Done()
	defer job.cancel()

	m := &machine{
		job:      job,
		provider: e.provider,
		mail:     e.mail,
		proxies:  e.proxies,
		cfg:      e.cfg,
		token:    mailbox.TagAddress(e.mailboxAddr, job.ID),
		logger:   e.logger,
		now:      e.now,
		sleep:    e.sleep,
		notify:   e.publish,
	}
	res := m.run(ctx)
	e.finish(job, res)
}

// finish releases the job's proxy, archives the outcome and frees the
// user and concurrency slots. The terminal event was already published
// by the machine's terminal transition.
func (e *Engine) finish(job *Job, res machineResult) {
	e.proxies.Release(job.currentProxy(), res.proxyOutcome)

	snap := job.Snapshot()
	entry := &ledger.Entry{
		JobID:       job.ID,
		UserID:      job.UserID,
		FirstName:   job.Record.FirstName,
		LastName:    job.Record.LastName,
		Branch:      job.Record.Branch,
		Result:      res.result,
		Reason:      res.reason,
		Attempts:    snap.Attempts,
		CreatedAt:   job.CreatedAt,
		CompletedAt: snap.UpdatedAt,
		Duration:    snap.UpdatedAt.Sub(job.CreatedAt),
	}

	// Archival outlives the run context; a shutdown must not lose the
	// outcome of a job it just cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.archive.Append(ctx, entry); err != nil {
		e.logger.Errorw("Failed to archive job outcome",
			"job_id", job.ID,
			"error", err)
	}

	e.mu.Lock()
	e.running--
	delete(e.active, job.UserID)
	e.mu.Unlock()

	e.logger.Infow("Verification job finished",
		"job_id", job.ID,
		"user_id", job.UserID,
		"result", string(res.result),
		"reason", res.reason,
		"attempts", snap.Attempts,
		"duration", entry.Duration)
}

// Cancel requests cooperative cancellation of a live job. Returns
// false for unknown or already-terminal jobs. A job mid-remote-call
// finishes that call before honoring the request.
func (e *Engine) Cancel(jobID string) bool {
	e.mu.Lock()
	job, ok := e.jobs[jobID]
	e.mu.Unlock()
	if !ok || job.State().Terminal() {
		return false
	}
	job.cancel()
	return true
}

// Status returns a snapshot of one job, live or finished
func (e *Engine) Status(jobID string) (Snapshot, bool) {
	e.mu.Lock()
	job, ok := e.jobs[jobID]
	e.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}
	return job.Snapshot(), true
}

// List returns snapshots of every tracked job, newest first
func (e *Engine) List() []Snapshot {
	e.mu.Lock()
	jobs := make([]*Job, 0, len(e.jobs))
	for _, job := range e.jobs {
		jobs = append(jobs, job)
	}
	e.mu.Unlock()

	out := make([]Snapshot, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, job.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].JobID < out[j].JobID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Stats reports engine occupancy
type Stats struct {
	Running  int `json:"running"`
	Capacity int `json:"capacity"`
	Tracked  int `json:"tracked"`
}

// Stats returns current occupancy
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		Running:  e.running,
		Capacity: e.cfg.MaxConcurrentJobs,
		Tracked:  len(e.jobs),
	}
}

// Subscribe returns a channel receiving every job transition. A slow
// consumer loses its oldest buffered events rather than blocking jobs.
// The channel is never closed; call Unsubscribe when done.
func (e *Engine) Subscribe() chan Event {
	return e.events.Subscribe()
}

// Unsubscribe removes a channel returned by Subscribe
func (e *Engine) Unsubscribe(ch chan Event) {
	e.events.Unsubscribe(ch)
}

func (e *Engine) publish(ev Event) {
	e.events.Publish(ev)
	e.logger.Debugw("Job transition",
		"job_id", ev.JobID,
		"user_id", ev.UserID,
		"state", string(ev.State),
		"detail", ev.Detail)
}

func (e *Engine) maintenanceLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.maintenanceEvery)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			if revived := e.proxies.ReviveDue(); revived > 0 {
				e.logger.Infow("Revived quarantined proxies", "count", revived)
			}
			e.persistProxyState()
		}
	}
}

func (e *Engine) persistProxyState() {
	if e.pstore == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.pstore.Save(ctx, e.proxies.SnapshotState()); err != nil {
		e.logger.Warnw("Failed to persist proxy state", "error", err)
	}
}

// pacedProvider throttles all provider traffic through one token
// bucket so N concurrent jobs cannot stampede the provider
type pacedProvider struct {
	inner   Provider
	limiter *rate.Limiter
}

func (p *pacedProvider) pace(ctx context.Context) error {
	if err := p.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return errors.WithKind(err, errors.KindCancelled)
		}
		return errors.Transient(err)
	}
	return nil
}

func (p *pacedProvider) Submit(ctx context.Context, rec *record.Record, email string, ep *proxy.Endpoint) (provider.Handle, error) {
	if err := p.pace(ctx); err != nil {
		return "", err
	}
	return p.inner.Submit(ctx, rec, email, ep)
}

func (p *pacedProvider) Poll(ctx context.Context, handle provider.Handle, ep *proxy.Endpoint) (provider.Decision, error) {
	if err := p.pace(ctx); err != nil {
		return provider.Decision{}, err
	}
	return p.inner.Poll(ctx, handle, ep)
}

func (p *pacedProvider) Confirm(ctx context.Context, handle provider.Handle, code string, ep *proxy.Endpoint) (provider.Outcome, error) {
	if err := p.pace(ctx); err != nil {
		return provider.Outcome{}, err
	}
	return p.inner.Confirm(ctx, handle, code, ep)
}
