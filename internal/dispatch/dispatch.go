// Package dispatch runs the single consumer loop that turns queued audio
// frames into commands on the peer link.
//
// Each frame is fed to the recognizer. A non-empty Final result is resolved
// into canonical commands; every command that passes the debouncer is
// reported to the observer and sent once. Partial results are only reported.
// Frames are never retried and recognizer errors never stop the loop.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/voxbridge/voxbridge/internal/debounce"
	"github.com/voxbridge/voxbridge/internal/observe"
	"github.com/voxbridge/voxbridge/internal/status"
	"github.com/voxbridge/voxbridge/pkg/audio"
	"github.com/voxbridge/voxbridge/pkg/recognizer"
)

// Default loop parameters.
const (
	DefaultPopTimeout = 1 * time.Second
	DefaultErrorPause = 500 * time.Millisecond
	DefaultReadyPoll  = 100 * time.Millisecond
)

// Sender delivers a command to the peer. *link.Manager satisfies it.
type Sender interface {
	Send(command string) bool
}

// Resolver maps an utterance to commands. *keyword.Resolver satisfies it.
type Resolver interface {
	Resolve(utterance string) []string
}

// Readiness reports whether the audio source has an open stream.
// audio.Source satisfies it.
type Readiness interface {
	Ready() bool
}

// Config configures a [Dispatcher].
type Config struct {
	// Queue supplies frames. Required.
	Queue *audio.FrameQueue

	// Recognizer decodes frames. Required.
	Recognizer recognizer.Recognizer

	// Resolver maps Final utterances to commands. Required.
	Resolver Resolver

	// Link sends commands. When nil the loop idles at the readiness gate.
	Link Sender

	// Source gates the loop: while it is not ready no frames are popped.
	// When nil the loop idles at the readiness gate.
	Source Readiness

	// DebounceWindow is the per-command suppression window. Defaults to
	// [debounce.DefaultWindow].
	DebounceWindow time.Duration

	// PopTimeout bounds one wait for a frame. Defaults to 1s.
	PopTimeout time.Duration

	// ErrorPause is slept after a recognizer error. Defaults to 500ms.
	ErrorPause time.Duration

	// ReadyPoll is slept while the readiness gate is closed. Defaults to 100ms.
	ReadyPoll time.Duration

	// Observer receives recognised commands and partial hypotheses. May be nil.
	Observer status.Observer

	// Metrics records dispatch metrics. Defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Now returns the current time for debouncing. Defaults to time.Now.
	Now func() time.Time
}

// Dispatcher is the recognition loop. Run must be called from a single
// goroutine; the debouncer it owns is not shared.
type Dispatcher struct {
	queue      *audio.FrameQueue
	recognizer recognizer.Recognizer
	resolver   Resolver
	link       Sender
	source     Readiness
	debouncer  *debounce.Debouncer
	observer   status.Observer
	metrics    *observe.Metrics
	now        func() time.Time

	popTimeout time.Duration
	errorPause time.Duration
	readyPoll  time.Duration
}

// New creates a [Dispatcher] from cfg.
func New(cfg Config) (*Dispatcher, error) {
	var errs []error
	if cfg.Queue == nil {
		errs = append(errs, errors.New("dispatch: queue is required"))
	}
	if cfg.Recognizer == nil {
		errs = append(errs, errors.New("dispatch: recognizer is required"))
	}
	if cfg.Resolver == nil {
		errs = append(errs, errors.New("dispatch: resolver is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	d := &Dispatcher{
		queue:      cfg.Queue,
		recognizer: cfg.Recognizer,
		resolver:   cfg.Resolver,
		link:       cfg.Link,
		source:     cfg.Source,
		debouncer:  debounce.New(cfg.DebounceWindow),
		observer:   cfg.Observer,
		metrics:    cfg.Metrics,
		now:        cfg.Now,
		popTimeout: cfg.PopTimeout,
		errorPause: cfg.ErrorPause,
		readyPoll:  cfg.ReadyPoll,
	}
	if d.observer == nil {
		d.observer = status.Nop{}
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.popTimeout <= 0 {
		d.popTimeout = DefaultPopTimeout
	}
	if d.errorPause <= 0 {
		d.errorPause = DefaultErrorPause
	}
	if d.readyPoll <= 0 {
		d.readyPoll = DefaultReadyPoll
	}
	return d, nil
}

// Run consumes frames until ctx is cancelled. It always returns nil.
func (d *Dispatcher) Run(ctx context.Context) error {
	slog.Info("dispatch: loop started")
	defer slog.Info("dispatch: loop stopped")

	for ctx.Err() == nil {
		if !d.ready() {
			sleep(ctx, d.readyPoll)
			continue
		}

		frame, err := d.queue.Pop(ctx, d.popTimeout)
		if errors.Is(err, audio.ErrQueueTimeout) {
			continue
		}
		if err != nil {
			break
		}
		d.process(ctx, frame)
	}
	return nil
}

func (d *Dispatcher) ready() bool {
	return d.link != nil && d.source != nil && d.source.Ready()
}

// process feeds one frame and acts on the result.
func (d *Dispatcher) process(ctx context.Context, frame audio.Frame) {
	start := time.Now()
	res, err := d.recognizer.Feed(ctx, frame)
	d.metrics.RecognitionDuration.Record(ctx, time.Since(start).Seconds())
	d.metrics.FramesProcessed.Add(ctx, 1)

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		d.metrics.RecognitionErrors.Add(ctx, 1)
		slog.Warn("dispatch: recognition error", "err", err)
		sleep(ctx, d.errorPause)
		return
	}

	if !res.IsFinal() {
		if res.Text != "" {
			slog.Debug("dispatch: partial", "text", res.Text)
			d.observer.NotifyPartial(res.Text)
		}
		return
	}
	if res.Text == "" {
		return
	}

	slog.Debug("dispatch: final", "text", res.Text)
	for _, cmd := range d.resolver.Resolve(res.Text) {
		if !d.debouncer.Allow(cmd, d.now()) {
			d.metrics.RecordCommand(ctx, cmd, false)
			slog.Debug("dispatch: command suppressed", "command", cmd)
			continue
		}
		d.metrics.RecordCommand(ctx, cmd, true)
		d.observer.NotifyRecognized(cmd)
		sent := d.link.Send(cmd)
		slog.Info("dispatch: command heard", "command", cmd, "text", res.Text, "sent", sent)
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
