package engine

import (
	"sync"
	"time"
)

// Event is one job status transition. Every state change publishes
// exactly one event; terminal states publish exactly one terminal
// event with the outcome reason in Detail.
type Event struct {
	JobID  string    `json:"job_id"`
	UserID string    `json:"user_id"`
	State  State     `json:"state"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// broadcaster fans events out to subscribers without ever blocking the
// publishing job. Each subscriber gets its own buffered channel; when a
// consumer falls behind, the oldest buffered event is dropped to make
// room for the newest, so a stalled websocket can cost history but
// never throughput.
type broadcaster struct {
	mu     sync.Mutex
	subs   []chan Event
	buffer int
}

func newBroadcaster(buffer int) *broadcaster {
	if buffer < 1 {
		buffer = 1
	}
	return &broadcaster{buffer: buffer}
}

// Subscribe registers a new consumer and returns its channel. The
// channel is never closed; callers must Unsubscribe when done and may
// keep draining the channel afterwards.
func (b *broadcaster) Subscribe() chan Event {
	ch := make(chan Event, b.buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, ch)
	return ch
}

// Unsubscribe removes a consumer registered via Subscribe
func (b *broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub == ch {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers ev to every subscriber, dropping the oldest buffered
// event per subscriber when its buffer is full
func (b *broadcaster) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- ev:
			continue
		default:
		}
		// Buffer full: evict the oldest event, then try once more. A
		// consumer racing the eviction may refill the buffer; in that
		// case ev is the one dropped.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- ev:
		default:
		}
	}
}

func (b *broadcaster) subscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
