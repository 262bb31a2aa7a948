package mailbox

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/vouch/errors"
)

type fakeStore struct {
	mu        sync.Mutex
	messages  []Message
	nextID    uint32
	dials     int
	failDials int
	onDial    func(dials int)
	deleteErr error
	deleted   []uint32
}

func (f *fakeStore) add(to, subject, body string, arrived time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.messages = append(f.messages, Message{
		ID:      f.nextID,
		To:      to,
		Subject: subject,
		Body:    body,
		Arrived: arrived,
	})
}

func (f *fakeStore) dial(ctx context.Context) (Session, error) {
	f.mu.Lock()
	f.dials++
	dials := f.dials
	hook := f.onDial
	f.mu.Unlock()

	if hook != nil {
		hook(dials)
	}
	if dials <= f.failDials {
		return nil, errors.New("connection refused")
	}
	return &fakeSession{store: f}, nil
}

type fakeSession struct {
	store *fakeStore
}

func (s *fakeSession) Search(ctx context.Context, token string, since time.Time) ([]Message, error) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	var matched []Message
	for _, m := range s.store.messages {
		if !strings.Contains(m.To, token) {
			continue
		}
		if !since.IsZero() && !m.Arrived.After(since) {
			continue
		}
		matched = append(matched, m)
	}
	return matched, nil
}

func (s *fakeSession) Delete(ctx context.Context, ids []uint32) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	if s.store.deleteErr != nil {
		return s.store.deleteErr
	}

	drop := make(map[uint32]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := s.store.messages[:0]
	for _, m := range s.store.messages {
		if drop[m.ID] {
			s.store.deleted = append(s.store.deleted, m.ID)
			continue
		}
		kept = append(kept, m)
	}
	s.store.messages = kept
	return nil
}

func (s *fakeSession) Close() error { return nil }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// testRetriever wires a retriever to the fake store with an instant
// clock: every sleep advances fake time and returns immediately.
func testRetriever(t *testing.T, store *fakeStore, interval time.Duration, maxAttempts int) (*Retriever, *fakeClock) {
	t.Helper()
	r := NewRetriever(store.dial, interval, maxAttempts, zaptest.NewLogger(t).Sugar())

	clk := newFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	r.now = clk.Now
	r.sleep = func(d time.Duration) <-chan time.Time {
		clk.Advance(d)
		ch := make(chan time.Time, 1)
		ch <- clk.Now()
		return ch
	}
	return r, clk
}

func TestAwaitCode_Found(t *testing.T) {
	store := &fakeStore{}
	r, clk := testRetriever(t, store, 10*time.Second, 3)

	start := clk.Now()
	store.add("codes+job1@example.test", "Your verification code",
		"Enter 481516 to finish verifying.", start.Add(time.Second))

	code, err := r.AwaitCode(context.Background(), "codes+job1@example.test", start, start.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "481516", code)
	assert.Empty(t, store.messages, "matched message is consumed")
}

func TestAwaitCode_ArrivesAfterPolling(t *testing.T) {
	store := &fakeStore{}
	r, clk := testRetriever(t, store, 10*time.Second, 3)
	start := clk.Now()

	store.onDial = func(dials int) {
		if dials == 3 {
			store.add("codes+job1@example.test", "Code", "use 222333", clk.Now())
		}
	}

	code, err := r.AwaitCode(context.Background(), "codes+job1@example.test", start, start.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "222333", code)
	assert.Equal(t, 3, store.dials)
}

func TestAwaitCode_Timeout(t *testing.T) {
	store := &fakeStore{}
	r, clk := testRetriever(t, store, 10*time.Second, 3)
	start := clk.Now()

	_, err := r.AwaitCode(context.Background(), "codes+job1@example.test", start, start.Add(25*time.Second))
	require.Error(t, err)
	assert.True(t, errors.IsTimeout(err))
	assert.Equal(t, 4, store.dials, "polls at 0s, 10s, 20s, 25s")
}

func TestAwaitCode_TokenIsolation(t *testing.T) {
	store := &fakeStore{}
	r, clk := testRetriever(t, store, 10*time.Second, 3)
	start := clk.Now()

	store.add("codes+job1@example.test", "Code", "code 111222", start.Add(time.Second))
	store.add("codes+job2@example.test", "Code", "code 333444", start.Add(2*time.Second))

	code1, err := r.AwaitCode(context.Background(), "codes+job1@example.test", start, start.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "111222", code1)

	code2, err := r.AwaitCode(context.Background(), "codes+job2@example.test", start, start.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "333444", code2)
}

func TestAwaitCode_NewestMessageWins(t *testing.T) {
	store := &fakeStore{}
	r, clk := testRetriever(t, store, 10*time.Second, 3)
	start := clk.Now()

	store.add("codes+job1@example.test", "Code", "code 111111", start.Add(time.Second))
	store.add("codes+job1@example.test", "Code resent", "code 222222", start.Add(30*time.Second))

	code, err := r.AwaitCode(context.Background(), "codes+job1@example.test", start, start.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "222222", code)
	assert.Empty(t, store.messages, "both messages consumed")
}

func TestAwaitCode_TransportRetry(t *testing.T) {
	store := &fakeStore{failDials: 2}
	r, clk := testRetriever(t, store, 10*time.Second, 3)
	start := clk.Now()

	store.add("codes+job1@example.test", "Code", "code 555666", start.Add(time.Second))

	code, err := r.AwaitCode(context.Background(), "codes+job1@example.test", start, start.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "555666", code)
	assert.Equal(t, 3, store.dials, "two failures, then success")
}

func TestAwaitCode_TransportExhausted(t *testing.T) {
	store := &fakeStore{failDials: 100}
	r, clk := testRetriever(t, store, 10*time.Second, 3)
	start := clk.Now()

	_, err := r.AwaitCode(context.Background(), "codes+job1@example.test", start, start.Add(5*time.Minute))
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, 3, store.dials)
}

func TestAwaitCode_Cancelled(t *testing.T) {
	store := &fakeStore{}
	r := NewRetriever(store.dial, 10*time.Second, 3, zaptest.NewLogger(t).Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	_, err := r.AwaitCode(ctx, "codes+job1@example.test", start, start.Add(5*time.Minute))
	require.Error(t, err)
	assert.True(t, errors.IsCancelled(err))
}

func TestAwaitCode_IgnoresPreexistingMessages(t *testing.T) {
	store := &fakeStore{}
	r, clk := testRetriever(t, store, 10*time.Second, 3)
	start := clk.Now()

	// A leftover from before this job started must never match
	store.add("codes+job1@example.test", "Old code", "code 999999", start.Add(-time.Hour))

	_, err := r.AwaitCode(context.Background(), "codes+job1@example.test", start, start.Add(20*time.Second))
	require.Error(t, err)
	assert.True(t, errors.IsTimeout(err))
	assert.Len(t, store.messages, 1, "stale message left in place")
}

func TestAwaitCode_NoExtractableCode(t *testing.T) {
	store := &fakeStore{}
	r, clk := testRetriever(t, store, 10*time.Second, 3)
	start := clk.Now()

	store.add("codes+job1@example.test", "Welcome", "no digits here", start.Add(time.Second))

	_, err := r.AwaitCode(context.Background(), "codes+job1@example.test", start, start.Add(20*time.Second))
	require.Error(t, err)
	assert.True(t, errors.IsTimeout(err))
	assert.Len(t, store.messages, 1, "message without a code is not consumed")
}

func TestAwaitCode_DeleteFailureStillDeliversCode(t *testing.T) {
	store := &fakeStore{deleteErr: errors.New("expunge refused")}
	r, clk := testRetriever(t, store, 10*time.Second, 3)
	start := clk.Now()

	store.add("codes+job1@example.test", "Code", "code 777888", start.Add(time.Second))

	code, err := r.AwaitCode(context.Background(), "codes+job1@example.test", start, start.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "777888", code)
}

func TestAwaitCode_EmptyToken(t *testing.T) {
	store := &fakeStore{}
	r, clk := testRetriever(t, store, 10*time.Second, 3)
	start := clk.Now()

	_, err := r.AwaitCode(context.Background(), "", start, start.Add(time.Minute))
	require.Error(t, err)
	assert.Equal(t, 0, store.dials)
}

func TestExtractCode(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"plain sentence", "Your verification code is 481516.", "481516"},
		{"colon prefix", "code: 123456", "123456"},
		{"no digits", "please verify your account", ""},
		{"too short", "code 12345 expires soon", ""},
		{"too long", "ref 1234567 is not a code", ""},
		{"embedded in word", "ab123456cd", ""},
		{"first of several", "codes 111222 and 333444", "111222"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractCode(tt.text))
		})
	}
}

func TestTagAddress(t *testing.T) {
	tests := []struct {
		name string
		base string
		tag  string
		want string
	}{
		{"plus tag", "codes@example.test", "a1b2c3d4", "codes+a1b2c3d4@example.test"},
		{"no at sign", "not-an-address", "a1b2c3d4", "not-an-address"},
		{"empty tag", "codes@example.test", "", "codes@example.test"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TagAddress(tt.base, tt.tag))
		})
	}
}
