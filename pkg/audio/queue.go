package audio

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrQueueTimeout is returned by [FrameQueue.Pop] when no frame arrived within
// the requested wait.
var ErrQueueTimeout = errors.New("audio: frame queue pop timeout")

// defaultQueueCapacity holds 16 s of audio at the default block size.
const defaultQueueCapacity = 64

// FrameQueue is a bounded FIFO between an audio producer and a single
// consumer. Push never blocks: when the queue is full the oldest queued frame
// is evicted to make room, so a stalled consumer loses stale audio rather
// than stalling the capture callback.
//
// Push is safe for concurrent use by several producers; Pop is intended for
// one consumer.
type FrameQueue struct {
	// pushMu serialises producers so that an eviction always frees the slot
	// the same producer fills next.
	pushMu  sync.Mutex
	ch      chan Frame
	dropped atomic.Uint64
	onDrop  func()
}

// QueueOption configures a [FrameQueue].
type QueueOption func(*FrameQueue)

// WithDropHook registers fn to be called (from the producer's goroutine)
// every time a frame is evicted. fn must not block.
func WithDropHook(fn func()) QueueOption {
	return func(q *FrameQueue) { q.onDrop = fn }
}

// NewFrameQueue returns a queue holding at most capacity frames. A
// non-positive capacity selects the default of 64.
func NewFrameQueue(capacity int, opts ...QueueOption) *FrameQueue {
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	q := &FrameQueue{ch: make(chan Frame, capacity)}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Push enqueues f without blocking. It reports whether an older frame had to
// be evicted to make room.
func (q *FrameQueue) Push(f Frame) (evicted bool) {
	q.pushMu.Lock()
	defer q.pushMu.Unlock()

	select {
	case q.ch <- f:
		return false
	default:
	}

	// Full: drop the oldest. The consumer may have popped in between, in
	// which case there is already room.
	select {
	case <-q.ch:
		evicted = true
		q.dropped.Add(1)
		if q.onDrop != nil {
			q.onDrop()
		}
	default:
	}

	// Only the consumer removes frames concurrently, so this cannot block.
	q.ch <- f
	return evicted
}

// PushWait enqueues f, blocking while the queue is full, and never evicts.
// It returns ctx.Err() if ctx ends first. Concurrent Push calls wait behind
// a blocked PushWait.
func (q *FrameQueue) PushWait(ctx context.Context, f Frame) error {
	q.pushMu.Lock()
	defer q.pushMu.Unlock()

	select {
	case q.ch <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop removes the oldest frame. It waits at most timeout for one to arrive
// (timeout <= 0 waits until ctx is done) and returns [ErrQueueTimeout] when
// the wait expires or ctx.Err() when ctx is cancelled.
func (q *FrameQueue) Pop(ctx context.Context, timeout time.Duration) (Frame, error) {
	select {
	case f := <-q.ch:
		return f, nil
	default:
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case f := <-q.ch:
		return f, nil
	case <-expired:
		return Frame{}, ErrQueueTimeout
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

// Len returns the number of queued frames.
func (q *FrameQueue) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *FrameQueue) Cap() int { return cap(q.ch) }

// Dropped returns the number of frames evicted since creation.
func (q *FrameQueue) Dropped() uint64 { return q.dropped.Load() }
