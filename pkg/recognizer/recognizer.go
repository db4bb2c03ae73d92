// Package recognizer defines the boundary between the dispatch loop and a
// speech-recognition engine.
//
// A Recognizer is fed one audio frame at a time and answers with either a
// Partial hypothesis (which may still change) or a Final, committed
// utterance. Recognizers are stateful across frames of one utterance and are
// driven from a single goroutine; implementations need not be safe for
// concurrent use.
package recognizer

import (
	"context"
	"strings"
	"unicode"

	"github.com/voxbridge/voxbridge/pkg/audio"
)

// Kind tags a [Result].
type Kind int

const (
	// Partial is an interim hypothesis. It may be retracted and must never
	// trigger a command.
	Partial Kind = iota

	// Final is a committed utterance bounded by the engine's endpoint
	// detection.
	Final
)

// String returns the lowercase name of k.
func (k Kind) String() string {
	switch k {
	case Partial:
		return "partial"
	case Final:
		return "final"
	default:
		return "unknown"
	}
}

// Result is the outcome of feeding one frame.
type Result struct {
	Kind Kind

	// Text is normalised with [Normalize]. It may be empty.
	Text string
}

// IsFinal reports whether r is a committed utterance.
func (r Result) IsFinal() bool { return r.Kind == Final }

// PartialResult builds a normalised Partial result.
func PartialResult(text string) Result {
	return Result{Kind: Partial, Text: Normalize(text)}
}

// FinalResult builds a normalised Final result.
func FinalResult(text string) Result {
	return Result{Kind: Final, Text: Normalize(text)}
}

// Recognizer turns audio frames into recognition results.
type Recognizer interface {
	// Feed delivers one frame. An error means the frame could not be
	// decoded; the caller may keep feeding subsequent frames.
	Feed(ctx context.Context, frame audio.Frame) (Result, error)

	// Close releases engine resources. Safe to call more than once.
	Close() error
}

// Normalize lowercases text, replaces punctuation with spaces (keeping
// apostrophes inside words) and collapses whitespace.
func Normalize(text string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '\'':
			return unicode.ToLower(r)
		default:
			return ' '
		}
	}, text)
	return strings.Join(strings.Fields(mapped), " ")
}
