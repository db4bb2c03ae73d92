// Package mock provides a scripted test double for [recognizer.Recognizer].
//
// Typical usage:
//
//	rec := &mock.Recognizer{
//	    Script: []mock.Step{
//	        {Result: recognizer.PartialResult("fi")},
//	        {Result: recognizer.FinalResult("fire")},
//	    },
//	}
package mock

import (
	"context"
	"sync"

	"github.com/voxbridge/voxbridge/pkg/audio"
	"github.com/voxbridge/voxbridge/pkg/recognizer"
)

var _ recognizer.Recognizer = (*Recognizer)(nil)

// Step is the scripted answer to one Feed call.
type Step struct {
	Result recognizer.Result
	Err    error
}

// Recognizer replays Script one step per Feed call. Once the script is
// exhausted it returns an empty Partial result. All methods are safe for
// concurrent use.
type Recognizer struct {
	mu sync.Mutex

	// Script holds the answers returned by successive Feed calls.
	Script []Step

	// FeedFunc, if set, replaces Script.
	FeedFunc func(ctx context.Context, frame audio.Frame) (recognizer.Result, error)

	// CloseErr is returned by Close.
	CloseErr error

	// FedFrames records every frame passed to Feed, in order.
	FedFrames []audio.Frame

	// CloseCallCount is the number of Close calls.
	CloseCallCount int

	next int
}

// Feed records frame and returns the next scripted step.
func (r *Recognizer) Feed(ctx context.Context, frame audio.Frame) (recognizer.Result, error) {
	r.mu.Lock()
	r.FedFrames = append(r.FedFrames, frame)
	fn := r.FeedFunc
	var step Step
	if fn == nil && r.next < len(r.Script) {
		step = r.Script[r.next]
		r.next++
	}
	r.mu.Unlock()

	if fn != nil {
		return fn(ctx, frame)
	}
	return step.Result, step.Err
}

// FeedCount returns the number of Feed calls so far.
func (r *Recognizer) FeedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.FedFrames)
}

// Close records the call and returns CloseErr.
func (r *Recognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CloseCallCount++
	return r.CloseErr
}
