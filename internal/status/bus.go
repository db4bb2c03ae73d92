package status

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultBusCapacity        = 256
	defaultSubscriberCapacity = 64
)

// Snapshot is the most recent state seen by a [Bus].
type Snapshot struct {
	Status     string    `json:"status"`
	Recognized string    `json:"recognized"`
	Partial    string    `json:"partial"`
	Updated    time.Time `json:"updated"`
	Dropped    uint64    `json:"dropped"`
}

// BusOption configures a [Bus].
type BusOption func(*Bus)

// WithCapacity sets the size of the inbound event buffer. Default: 256.
func WithCapacity(n int) BusOption {
	return func(b *Bus) {
		if n > 0 {
			b.capacity = n
		}
	}
}

// WithClock overrides time.Now. Used in tests.
func WithClock(now func() time.Time) BusOption {
	return func(b *Bus) { b.now = now }
}

// Bus is a message-passing [Observer]. Notifications are queued on a bounded
// channel without blocking; when the channel is full the event is dropped and
// counted. A single pump goroutine ([Bus.Run]) delivers queued events to
// every subscriber, so presentation code never runs on the producer's
// goroutine.
type Bus struct {
	capacity int
	now      func() time.Time
	events   chan Event
	dropped  atomic.Uint64

	mu     sync.Mutex
	latest Snapshot
	subs   map[chan Event]struct{}
	closed bool
}

var _ Observer = (*Bus)(nil)

// NewBus returns a Bus. Call [Bus.Run] to start delivery to subscribers.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		capacity: defaultBusCapacity,
		now:      time.Now,
		subs:     make(map[chan Event]struct{}),
	}
	for _, o := range opts {
		o(b)
	}
	b.events = make(chan Event, b.capacity)
	return b
}

func (b *Bus) NotifyStatus(text string)     { b.publish(KindStatus, text) }
func (b *Bus) NotifyRecognized(text string) { b.publish(KindRecognized, text) }
func (b *Bus) NotifyPartial(text string)    { b.publish(KindPartial, text) }

func (b *Bus) publish(kind Kind, text string) {
	ev := Event{Kind: kind, Text: text, Time: b.now()}

	b.mu.Lock()
	switch kind {
	case KindStatus:
		b.latest.Status = text
	case KindRecognized:
		b.latest.Recognized = text
	case KindPartial:
		b.latest.Partial = text
	}
	b.latest.Updated = ev.Time
	b.mu.Unlock()

	select {
	case b.events <- ev:
	default:
		b.dropped.Add(1)
	}
}

// Latest returns the current snapshot.
func (b *Bus) Latest() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.latest
	s.Dropped = b.dropped.Load()
	return s
}

// Dropped returns the number of events discarded because a buffer was full.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Subscribe registers a new subscriber. The returned channel receives events
// until cancel is called or the bus stops; a subscriber that falls behind
// loses events rather than stalling the pump.
func (b *Bus) Subscribe() (events <-chan Event, cancel func()) {
	ch := make(chan Event, defaultSubscriberCapacity)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[ch]; ok {
				delete(b.subs, ch)
				close(ch)
			}
		})
	}
}

// Run pumps events to subscribers until ctx is cancelled. All subscriber
// channels are closed when Run returns. Run returns nil.
func (b *Bus) Run(ctx context.Context) error {
	defer b.shutdown()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-b.events:
			b.deliver(ev)
		}
	}
}

func (b *Bus) deliver(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *Bus) shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for ch := range b.subs {
		close(ch)
		delete(b.subs, ch)
	}
}
