package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/vouch/config"
	"github.com/teranos/vouch/errors"
	"github.com/teranos/vouch/ledger"
	"github.com/teranos/vouch/provider"
	"github.com/teranos/vouch/proxy"
	"github.com/teranos/vouch/record"
)

// fakeClock advances only when a job sleeps, so lifecycle tests run in
// microseconds of real time regardless of configured delays
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	fired := c.now
	c.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- fired
	return ch
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) recordedSleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.sleeps))
	copy(out, c.sleeps)
	return out
}

// fakeProvider scripts the three remote calls by call number. Nil
// scripts answer success immediately.
type fakeProvider struct {
	mu       sync.Mutex
	submits  int
	polls    int
	confirms int

	submitFn  func(ctx context.Context, n int, rec *record.Record, email string, ep *proxy.Endpoint) (provider.Handle, error)
	pollFn    func(ctx context.Context, n int, handle provider.Handle) (provider.Decision, error)
	confirmFn func(ctx context.Context, n int, handle provider.Handle, code string) (provider.Outcome, error)
}

func (f *fakeProvider) Submit(ctx context.Context, rec *record.Record, email string, ep *proxy.Endpoint) (provider.Handle, error) {
	if err := ctx.Err(); err != nil {
		return "", errors.WithKind(err, errors.KindCancelled)
	}
	f.mu.Lock()
	f.submits++
	n := f.submits
	fn := f.submitFn
	f.mu.Unlock()
	if fn == nil {
		return "handle-1", nil
	}
	return fn(ctx, n, rec, email, ep)
}

func (f *fakeProvider) Poll(ctx context.Context, handle provider.Handle, ep *proxy.Endpoint) (provider.Decision, error) {
	if err := ctx.Err(); err != nil {
		return provider.Decision{}, errors.WithKind(err, errors.KindCancelled)
	}
	f.mu.Lock()
	f.polls++
	n := f.polls
	fn := f.pollFn
	f.mu.Unlock()
	if fn == nil {
		return provider.Decision{Kind: provider.DecisionApproved}, nil
	}
	return fn(ctx, n, handle)
}

func (f *fakeProvider) Confirm(ctx context.Context, handle provider.Handle, code string, ep *proxy.Endpoint) (provider.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return provider.Outcome{}, errors.WithKind(err, errors.KindCancelled)
	}
	f.mu.Lock()
	f.confirms++
	n := f.confirms
	fn := f.confirmFn
	f.mu.Unlock()
	if fn == nil {
		return provider.Outcome{Approved: true}, nil
	}
	return fn(ctx, n, handle, code)
}

func (f *fakeProvider) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits
}

func (f *fakeProvider) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

func (f *fakeProvider) confirmCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.confirms
}

// fakeRecords pops records from a fixed pool in order
type fakeRecords struct {
	mu       sync.Mutex
	pool     []*record.Record
	claimed  map[string]*record.Record
	released []int64
}

func newFakeRecords(n int) *fakeRecords {
	f := &fakeRecords{claimed: make(map[string]*record.Record)}
	for i := 1; i <= n; i++ {
		f.pool = append(f.pool, &record.Record{
			ID:           int64(i),
			FirstName:    "James",
			LastName:     fmt.Sprintf("Carter%d", i),
			Branch:       record.BranchNavy,
			ServiceStart: "2001-01-01",
		})
	}
	return f
}

func (f *fakeRecords) Claim(ctx context.Context, jobID string) (*record.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pool) == 0 {
		return nil, nil
	}
	rec := f.pool[0]
	f.pool = f.pool[1:]
	f.claimed[jobID] = rec
	return rec, nil
}

func (f *fakeRecords) ReleaseUnused(ctx context.Context, recordID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, recordID)
	return nil
}

func (f *fakeRecords) drain() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pool = nil
}

func (f *fakeRecords) releasedIDs() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int64, len(f.released))
	copy(out, f.released)
	return out
}

// fakeProxies hands out endpoints FIFO and records release outcomes
// per address. Success and neutral releases rejoin the pool; a failure
// benches the endpoint, mirroring quarantine.
type fakeProxies struct {
	mu       sync.Mutex
	pool     []*proxy.Endpoint
	released map[string][]proxy.Outcome
	revives  int
}

func newFakeProxies(addrs ...string) *fakeProxies {
	f := &fakeProxies{released: make(map[string][]proxy.Outcome)}
	for _, addr := range addrs {
		f.pool = append(f.pool, &proxy.Endpoint{Address: addr})
	}
	return f
}

func (f *fakeProxies) Checkout() (*proxy.Endpoint, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pool) == 0 {
		return nil, false
	}
	ep := f.pool[0]
	f.pool = f.pool[1:]
	return ep, true
}

func (f *fakeProxies) Release(ep *proxy.Endpoint, outcome proxy.Outcome) {
	if ep == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released[ep.Address] = append(f.released[ep.Address], outcome)
	if outcome != proxy.OutcomeFailure {
		f.pool = append(f.pool, ep)
	}
}

func (f *fakeProxies) ReviveDue() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revives++
	return 0
}

func (f *fakeProxies) SnapshotState() []proxy.State { return nil }

func (f *fakeProxies) drain() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pool = nil
}

func (f *fakeProxies) setPool(addrs ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pool = f.pool[:0]
	for _, addr := range addrs {
		f.pool = append(f.pool, &proxy.Endpoint{Address: addr})
	}
}

func (f *fakeProxies) outcomes(addr string) []proxy.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]proxy.Outcome, len(f.released[addr]))
	copy(out, f.released[addr])
	return out
}

func (f *fakeProxies) reviveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revives
}

// fakeArchive keeps ledger entries in memory
type fakeArchive struct {
	mu      sync.Mutex
	entries []*ledger.Entry
}

func (f *fakeArchive) Append(ctx context.Context, entry *ledger.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeArchive) CountForUserSince(ctx context.Context, userID string, t time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, e := range f.entries {
		if e.UserID == userID && !e.CompletedAt.Before(t) {
			count++
		}
	}
	return count, nil
}

func (f *fakeArchive) seed(userID string, completedAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, &ledger.Entry{
		JobID:       fmt.Sprintf("seed-%d", len(f.entries)+1),
		UserID:      userID,
		Result:      ledger.ResultSuccess,
		CompletedAt: completedAt,
	})
}

func (f *fakeArchive) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

func (f *fakeArchive) all() []*ledger.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*ledger.Entry, len(f.entries))
	copy(out, f.entries)
	return out
}

// fakeMail scripts the out-of-band retriever
type fakeMail struct {
	mu    sync.Mutex
	calls []awaitCall
	fn    func(ctx context.Context, token string, since, deadline time.Time) (string, error)
}

type awaitCall struct {
	token    string
	since    time.Time
	deadline time.Time
}

func (f *fakeMail) AwaitCode(ctx context.Context, token string, since, deadline time.Time) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, awaitCall{token: token, since: since, deadline: deadline})
	fn := f.fn
	f.mu.Unlock()
	if fn == nil {
		return "123456", nil
	}
	return fn(ctx, token, since, deadline)
}

func (f *fakeMail) lastCall() (awaitCall, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return awaitCall{}, false
	}
	return f.calls[len(f.calls)-1], true
}

// fakeStateStore counts proxy state saves
type fakeStateStore struct {
	mu    sync.Mutex
	saves int
}

func (f *fakeStateStore) Save(ctx context.Context, states []proxy.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	return nil
}

func (f *fakeStateStore) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saves
}

// --- Harness ---

type harness struct {
	engine   *Engine
	provider *fakeProvider
	records  *fakeRecords
	proxies  *fakeProxies
	archive  *fakeArchive
	mail     *fakeMail
	clock    *fakeClock
}

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		MaxConcurrentJobs: 4,
		EventBuffer:       32,
		Submit: config.SubmitConfig{
			MaxAttempts: 3,
			BackoffBase: time.Second,
			BackoffCap:  8 * time.Second,
		},
		Poll: config.PollConfig{
			Interval: 5 * time.Second,
			Deadline: 60 * time.Second,
		},
		OutOfBand: config.OutOfBandConfig{
			Interval:    10 * time.Second,
			Deadline:    120 * time.Second,
			MaxAttempts: 3,
		},
	}
}

func newHarness(t *testing.T, cfg config.EngineConfig) *harness {
	t.Helper()

	h := &harness{
		provider: &fakeProvider{},
		records:  newFakeRecords(4),
		proxies:  newFakeProxies("10.0.0.1:8080", "10.0.0.2:8080"),
		archive:  &fakeArchive{},
		mail:     &fakeMail{},
		clock:    newFakeClock(),
	}
	h.engine = New(cfg, Deps{
		Provider:    h.provider,
		Mail:        h.mail,
		Records:     h.records,
		Proxies:     h.proxies,
		Archive:     h.archive,
		MailboxAddr: "codes@example.test",
	}, zaptest.NewLogger(t).Sugar())
	h.engine.now = h.clock.Now
	h.engine.sleep = h.clock.Sleep

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.engine.Stop(ctx); err != nil {
			t.Errorf("engine did not stop cleanly: %v", err)
		}
	})
	return h
}

func (h *harness) waitTerminal(t *testing.T, jobID string) Snapshot {
	t.Helper()
	var snap Snapshot
	require.Eventually(t, func() bool {
		s, ok := h.engine.Status(jobID)
		if !ok {
			return false
		}
		snap = s
		return s.State.Terminal()
	}, 5*time.Second, 2*time.Millisecond, "job %s never reached a terminal state", jobID)
	return snap
}

func (h *harness) waitArchived(t *testing.T, n int) []*ledger.Entry {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.archive.count() >= n
	}, 5*time.Second, 2*time.Millisecond, "expected %d archived entries", n)
	return h.archive.all()
}

func (h *harness) waitIdle(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.engine.Stats().Running == 0
	}, 5*time.Second, 2*time.Millisecond, "engine never went idle")
}

func collectEvents(t *testing.T, ch chan Event, jobID string) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.JobID != jobID {
				continue
			}
			events = append(events, ev)
			if ev.State.Terminal() {
				return events
			}
		case <-timeout:
			t.Fatalf("no terminal event for job %s, saw %v", jobID, stateSequence(events))
		}
	}
}

func stateSequence(events []Event) []State {
	states := make([]State, len(events))
	for i, ev := range events {
		states[i] = ev.State
	}
	return states
}

// gatedSubmit blocks submissions until gate closes, honoring
// cancellation the way the real adapter does
func gatedSubmit(gate chan struct{}) func(ctx context.Context, n int, rec *record.Record, email string, ep *proxy.Endpoint) (provider.Handle, error) {
	return func(ctx context.Context, n int, rec *record.Record, email string, ep *proxy.Endpoint) (provider.Handle, error) {
		select {
		case <-gate:
			return "handle-1", nil
		case <-ctx.Done():
			return "", errors.WithKind(ctx.Err(), errors.KindCancelled)
		}
	}
}

// --- Admission ---

func TestSubmit_EmptyUser(t *testing.T) {
	h := newHarness(t, testEngineConfig())

	_, err := h.engine.Submit(context.Background(), "")
	require.Error(t, err)
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestSubmit_UserExclusive(t *testing.T) {
	h := newHarness(t, testEngineConfig())
	gate := make(chan struct{})
	h.provider.submitFn = gatedSubmit(gate)

	_, err := h.engine.Submit(context.Background(), "user-1")
	require.NoError(t, err)

	_, err = h.engine.Submit(context.Background(), "user-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUserBusy))
	assert.True(t, errors.IsAdmissionReject(err))

	// Other users are unaffected.
	_, err = h.engine.Submit(context.Background(), "user-2")
	require.NoError(t, err)

	close(gate)
	h.waitIdle(t)

	// The slot frees once the first job is terminal.
	_, err = h.engine.Submit(context.Background(), "user-1")
	require.NoError(t, err)
}

func TestSubmit_UserExclusiveUnderRace(t *testing.T) {
	cfg := testEngineConfig()
	cfg.MaxConcurrentJobs = 16
	h := newHarness(t, cfg)
	gate := make(chan struct{})
	h.provider.submitFn = gatedSubmit(gate)

	const callers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted, busy := 0, 0
	var unexpected []error

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.engine.Submit(context.Background(), "user-1")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, errors.ErrUserBusy):
				busy++
			default:
				unexpected = append(unexpected, err)
			}
		}()
	}
	wg.Wait()

	require.Empty(t, unexpected)
	assert.Equal(t, 1, accepted, "exactly one concurrent submission wins")
	assert.Equal(t, callers-1, busy)

	close(gate)
	h.waitIdle(t)
}

func TestSubmit_CapacityCap(t *testing.T) {
	cfg := testEngineConfig()
	cfg.MaxConcurrentJobs = 2
	h := newHarness(t, cfg)
	gate := make(chan struct{})
	h.provider.submitFn = gatedSubmit(gate)

	_, err := h.engine.Submit(context.Background(), "user-1")
	require.NoError(t, err)
	_, err = h.engine.Submit(context.Background(), "user-2")
	require.NoError(t, err)

	_, err = h.engine.Submit(context.Background(), "user-3")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCapacity))
	assert.True(t, errors.IsAdmissionReject(err))

	stats := h.engine.Stats()
	assert.Equal(t, 2, stats.Running)
	assert.Equal(t, 2, stats.Capacity)

	close(gate)
	h.waitIdle(t)

	// Capacity frees with the finished jobs.
	_, err = h.engine.Submit(context.Background(), "user-3")
	require.NoError(t, err)
}

func TestSubmit_InventoryEmpty(t *testing.T) {
	h := newHarness(t, testEngineConfig())
	h.records.drain()

	_, err := h.engine.Submit(context.Background(), "user-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInventoryEmpty))
	assert.True(t, errors.IsAdmissionReject(err))

	// A rejection is not a job: no slot held, nothing archived.
	assert.Equal(t, 0, h.engine.Stats().Running)
	assert.Equal(t, 0, h.archive.count())
}

func TestSubmit_NoProxy_ReturnsRecord(t *testing.T) {
	h := newHarness(t, testEngineConfig())
	h.proxies.drain()

	_, err := h.engine.Submit(context.Background(), "user-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNoProxy))
	assert.True(t, errors.IsAdmissionReject(err))

	// The claimed record never saw a provider call, so it goes back.
	assert.Equal(t, []int64{1}, h.records.releasedIDs())
	assert.Equal(t, 0, h.engine.Stats().Running)
}

func TestSubmit_QuotaExceeded(t *testing.T) {
	cfg := testEngineConfig()
	cfg.DailyUserLimit = 2
	h := newHarness(t, cfg)

	h.archive.seed("user-1", h.clock.Now().Add(-time.Hour))
	h.archive.seed("user-1", h.clock.Now().Add(-2*time.Hour))
	// Entries outside the rolling window do not count.
	h.archive.seed("user-2", h.clock.Now().Add(-25*time.Hour))
	h.archive.seed("user-2", h.clock.Now().Add(-26*time.Hour))

	_, err := h.engine.Submit(context.Background(), "user-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrQuotaExceeded))
	assert.True(t, errors.IsAdmissionReject(err))

	_, err = h.engine.Submit(context.Background(), "user-2")
	require.NoError(t, err)
	h.waitIdle(t)
}

func TestSubmit_QuotaRecoversAsWindowSlides(t *testing.T) {
	cfg := testEngineConfig()
	cfg.DailyUserLimit = 1
	h := newHarness(t, cfg)

	h.archive.seed("user-1", h.clock.Now().Add(-time.Hour))

	_, err := h.engine.Submit(context.Background(), "user-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrQuotaExceeded))

	h.clock.advance(24 * time.Hour)

	_, err = h.engine.Submit(context.Background(), "user-1")
	require.NoError(t, err)
	h.waitIdle(t)
}

func TestSubmit_QuotaDisabled(t *testing.T) {
	cfg := testEngineConfig()
	cfg.DailyUserLimit = 0
	h := newHarness(t, cfg)

	for i := 0; i < 5; i++ {
		h.archive.seed("user-1", h.clock.Now().Add(-time.Minute))
	}

	_, err := h.engine.Submit(context.Background(), "user-1")
	require.NoError(t, err)
	h.waitIdle(t)
}

// --- Cancellation and lifecycle control ---

func TestCancel(t *testing.T) {
	h := newHarness(t, testEngineConfig())
	polled := make(chan struct{})
	h.provider.pollFn = func(ctx context.Context, n int, handle provider.Handle) (provider.Decision, error) {
		if n == 1 {
			close(polled)
		}
		// Block until cancellation so the test controls the outcome.
		<-ctx.Done()
		return provider.Decision{}, errors.WithKind(ctx.Err(), errors.KindCancelled)
	}

	ch := h.engine.Subscribe()
	defer h.engine.Unsubscribe(ch)

	jobID, err := h.engine.Submit(context.Background(), "user-1")
	require.NoError(t, err)

	<-polled
	assert.True(t, h.engine.Cancel(jobID))

	snap := h.waitTerminal(t, jobID)
	assert.Equal(t, StateCancelled, snap.State)
	assert.Equal(t, "cancelled", snap.Detail)

	entries := h.waitArchived(t, 1)
	assert.Equal(t, ledger.ResultCancelled, entries[0].Result)

	// Exactly one terminal event.
	events := collectEvents(t, ch, jobID)
	terminal := 0
	for _, ev := range events {
		if ev.State.Terminal() {
			terminal++
		}
	}
	assert.Equal(t, 1, terminal)

	// The proxy is not to blame for a cancellation.
	h.waitIdle(t)
	assert.Equal(t, []proxy.Outcome{proxy.OutcomeNeutral}, h.proxies.outcomes("10.0.0.1:8080"))

	// Terminal jobs cannot be cancelled again.
	assert.False(t, h.engine.Cancel(jobID))
	assert.False(t, h.engine.Cancel("no-such-job"))
}

func TestStatusAndList(t *testing.T) {
	h := newHarness(t, testEngineConfig())

	first, err := h.engine.Submit(context.Background(), "user-1")
	require.NoError(t, err)
	h.waitTerminal(t, first)
	h.waitIdle(t)

	h.clock.advance(time.Minute)

	second, err := h.engine.Submit(context.Background(), "user-2")
	require.NoError(t, err)
	h.waitTerminal(t, second)
	h.waitIdle(t)

	snap, ok := h.engine.Status(first)
	require.True(t, ok)
	assert.Equal(t, StateSucceeded, snap.State)
	assert.Equal(t, "user-1", snap.UserID)
	assert.Equal(t, "James", snap.FirstName)

	_, ok = h.engine.Status("no-such-job")
	assert.False(t, ok)

	snaps := h.engine.List()
	require.Len(t, snaps, 2)
	assert.Equal(t, second, snaps[0].JobID, "newest first")
	assert.Equal(t, first, snaps[1].JobID)
}

func TestStop_CancelsLiveJobs(t *testing.T) {
	h := newHarness(t, testEngineConfig())
	gate := make(chan struct{})
	h.provider.submitFn = gatedSubmit(gate)

	jobID, err := h.engine.Submit(context.Background(), "user-1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.engine.Stop(ctx))

	snap, ok := h.engine.Status(jobID)
	require.True(t, ok)
	assert.Equal(t, StateCancelled, snap.State)

	entries := h.archive.all()
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.ResultCancelled, entries[0].Result)

	_, err = h.engine.Submit(context.Background(), "user-2")
	require.Error(t, err)
	assert.ErrorContains(t, err, "shutting down")
}

func TestMaintenance_SweepsAndPersists(t *testing.T) {
	h := newHarness(t, testEngineConfig())
	store := &fakeStateStore{}
	h.engine.pstore = store
	h.engine.maintenanceEvery = 5 * time.Millisecond

	h.engine.Start()

	require.Eventually(t, func() bool {
		return h.proxies.reviveCount() > 0 && store.saveCount() > 0
	}, 2*time.Second, 5*time.Millisecond, "maintenance never ticked")
}

func TestStop_PersistsProxyState(t *testing.T) {
	h := newHarness(t, testEngineConfig())
	store := &fakeStateStore{}
	h.engine.pstore = store

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.engine.Stop(ctx))
	assert.Equal(t, 1, store.saveCount())
}
