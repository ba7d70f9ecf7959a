package capture

import (
	"sync"
	"sync/atomic"
	"time"
)

// State names a session's position in its lifecycle.
type State string

const (
	StateIdle      State = "idle"
	StatePreparing State = "preparing"
	StateCapturing State = "capturing"
	StateComposing State = "composing"
	StateComplete  State = "complete"
	StateCanceled  State = "canceled"
	StateFailed    State = "failed"
)

// Terminal reports whether the state ends a session. A session
// reaches exactly one terminal state exactly once.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateCanceled || s == StateFailed
}

// Event is one progress notification. SegmentsTotal is an estimate
// and may change while the page grows or shrinks. The terminal event
// additionally carries the truncation flag and, on failure, the
// session error.
type Event struct {
	Phase         State
	SegmentsDone  int
	SegmentsTotal int
	Elapsed       time.Duration
	Truncated     bool
	Err           error
}

// broadcaster fans events out to subscribers without ever blocking
// the capture loop: each subscriber gets a buffered channel and slow
// ones lose intermediate events, counted in dropped.
type broadcaster struct {
	mu      sync.Mutex
	subs    map[int]chan Event
	next    int
	closed  bool
	dropped atomic.Int64
}

const subscriberBuffer = 16

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[int]chan Event)}
}

// subscribe registers a listener. After the broadcaster is closed it
// returns an already-closed channel, so subscribing to a finished
// session is safe.
func (b *broadcaster) subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.next
	b.next++
	b.subs[id] = ch

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
	return ch, unsub
}

func (b *broadcaster) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// close ends the stream: every subscriber channel is closed after
// the events already buffered are drained by the subscriber.
func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
