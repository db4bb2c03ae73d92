// Package status carries human-readable progress events (connection status,
// recognised commands, partial hypotheses) from the pipeline to whatever
// presents them.
//
// Producers call an [Observer]. Observers never block the caller and are
// safe for concurrent use, so the link loop and the dispatcher can report
// from their own goroutines. [Bus] is the message-passing implementation that
// backs the HTTP status feed; [Log] writes to slog for headless runs.
package status

import (
	"log/slog"
	"time"
)

// Kind classifies an [Event].
type Kind string

const (
	KindStatus     Kind = "status"
	KindRecognized Kind = "recognized"
	KindPartial    Kind = "partial"
)

// Event is one notification.
type Event struct {
	Kind Kind      `json:"kind"`
	Text string    `json:"text"`
	Time time.Time `json:"time"`
}

// Observer receives pipeline notifications. Implementations must not block
// and must be safe for concurrent use.
type Observer interface {
	// NotifyStatus reports a connection status line such as "Connected".
	NotifyStatus(text string)

	// NotifyRecognized reports an accepted command.
	NotifyRecognized(text string)

	// NotifyPartial reports an interim hypothesis.
	NotifyPartial(text string)
}

// Nop discards every notification.
type Nop struct{}

func (Nop) NotifyStatus(string)     {}
func (Nop) NotifyRecognized(string) {}
func (Nop) NotifyPartial(string)    {}

// Multi fans each notification out to every observer, in order. Nil entries
// are skipped.
func Multi(observers ...Observer) Observer {
	out := make(multi, 0, len(observers))
	for _, o := range observers {
		if o != nil {
			out = append(out, o)
		}
	}
	return out
}

type multi []Observer

func (m multi) NotifyStatus(text string) {
	for _, o := range m {
		o.NotifyStatus(text)
	}
}

func (m multi) NotifyRecognized(text string) {
	for _, o := range m {
		o.NotifyRecognized(text)
	}
}

func (m multi) NotifyPartial(text string) {
	for _, o := range m {
		o.NotifyPartial(text)
	}
}

// Log writes notifications to a slog.Logger. Partials are logged at debug
// level.
type Log struct {
	logger *slog.Logger
}

// NewLog returns a Log observer. A nil logger selects slog.Default().
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

func (l *Log) NotifyStatus(text string) {
	l.logger.Info("status: changed", "status", text)
}

func (l *Log) NotifyRecognized(text string) {
	l.logger.Info("status: command recognized", "command", text)
}

func (l *Log) NotifyPartial(text string) {
	l.logger.Debug("status: partial", "text", text)
}
