// Package mock provides an in-memory [audio.Source] for use in unit tests.
//
// The mock is safe for concurrent use. It records calls so tests can assert
// on them, and exposes fields that control its behaviour.
//
// Typical usage:
//
//	src := &mock.Source{
//	    Frames: []audio.Frame{{Data: pcm}},
//	    Repeat: 20 * time.Millisecond,
//	}
//	go src.Run(ctx, queue.Push)
package mock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voxbridge/voxbridge/pkg/audio"
)

var (
	_ audio.Source       = (*Source)(nil)
	_ audio.Backpressure = (*Source)(nil)
)

// Source is a mock implementation of [audio.Source]. Run marks the source
// ready, pushes Frames, and then blocks until ctx is cancelled.
type Source struct {
	// Frames are pushed in order by Run.
	Frames []audio.Frame

	// Repeat, if positive, re-pushes Frames every Repeat until ctx is done.
	Repeat time.Duration

	// RunErr, if set, is returned by Run immediately.
	RunErr error

	// CloseErr is returned by Close.
	CloseErr error

	// NotReady keeps Ready false even while Run is active.
	NotReady bool

	// Unpaced makes Backpressure report true.
	Unpaced bool

	ready atomic.Bool

	mu             sync.Mutex
	pushed         int
	closeCallCount int
}

// Run pushes the configured frames and blocks until ctx is done.
func (s *Source) Run(ctx context.Context, push func(audio.Frame)) error {
	if s.RunErr != nil {
		return s.RunErr
	}
	s.ready.Store(!s.NotReady)
	defer s.ready.Store(false)

	s.pushAll(push)
	if s.Repeat <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(s.Repeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.pushAll(push)
		}
	}
}

func (s *Source) pushAll(push func(audio.Frame)) {
	for _, f := range s.Frames {
		push(f)
		s.mu.Lock()
		s.pushed++
		s.mu.Unlock()
	}
}

// Ready reports whether Run is active (and NotReady is unset).
func (s *Source) Ready() bool { return s.ready.Load() }

// Backpressure returns Unpaced.
func (s *Source) Backpressure() bool { return s.Unpaced }

// Close records the call and returns CloseErr.
func (s *Source) Close() error {
	s.ready.Store(false)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCallCount++
	return s.CloseErr
}

// Pushed returns the number of frames pushed so far.
func (s *Source) Pushed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pushed
}

// CloseCallCount returns the number of Close calls.
func (s *Source) CloseCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCallCount
}
