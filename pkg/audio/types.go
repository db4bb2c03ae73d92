// Package audio defines the frame type that flows from capture to recognition,
// the bounded queue that decouples the two, and the Source interface
// implemented by capture adapters (see audio/portaudio and audio/wavfile).
//
// All PCM in this package is 16-bit signed little-endian.
package audio

import (
	"context"
	"time"
)

const (
	// DefaultSampleRate is the capture rate expected by the recognizers.
	DefaultSampleRate = 16000

	// DefaultChannels is mono; recognizers do not downmix.
	DefaultChannels = 1

	// DefaultBlockSize is the number of samples per captured frame (250 ms at 16 kHz).
	DefaultBlockSize = 4000

	// bytesPerSample is fixed for int16 PCM.
	bytesPerSample = 2
)

// Frame is one fixed-size chunk of captured audio. A Frame must not be
// modified after it has been pushed to a [FrameQueue]; the consumer owns it
// once popped.
type Frame struct {
	// Data is 16-bit signed little-endian PCM.
	Data []byte

	// SampleRate in Hz. Zero means [DefaultSampleRate].
	SampleRate int

	// Channels is 1 for mono. Zero means [DefaultChannels].
	Channels int

	// Timestamp is the capture offset relative to the start of the stream.
	Timestamp time.Duration
}

// Samples returns the number of samples per channel held by f.
func (f Frame) Samples() int {
	ch := f.Channels
	if ch <= 0 {
		ch = DefaultChannels
	}
	return len(f.Data) / (bytesPerSample * ch)
}

// Duration returns the playback length of f.
func (f Frame) Duration() time.Duration {
	rate := f.SampleRate
	if rate <= 0 {
		rate = DefaultSampleRate
	}
	return time.Duration(f.Samples()) * time.Second / time.Duration(rate)
}

// Source is an audio producer. Run captures audio and hands every frame to
// push until ctx is cancelled, the stream ends, or an unrecoverable device
// error occurs. push never blocks unless the source asks for
// [Backpressure].
type Source interface {
	// Run blocks while capturing. It returns nil when the stream ends
	// normally or ctx is cancelled.
	Run(ctx context.Context, push func(Frame)) error

	// Ready reports whether the source has an open stream.
	Ready() bool

	// Close releases the device. Safe to call more than once.
	Close() error
}

// Backpressure is implemented by sources that can produce faster than real
// time. When Backpressure reports true, push blocks on a full queue instead
// of evicting the oldest frame.
type Backpressure interface {
	Backpressure() bool
}
