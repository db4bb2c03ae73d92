// Package wavfile replays a WAV file as a stream of [audio.Frame] values.
// It stands in for a microphone when exercising the pipeline offline.
package wavfile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/voxbridge/voxbridge/pkg/audio"
)

var (
	_ audio.Source       = (*Source)(nil)
	_ audio.Backpressure = (*Source)(nil)
)

// Source decodes a 16-bit PCM WAV file, downmixes it to mono, resamples it
// to the target rate and pushes it in fixed-size blocks.
type Source struct {
	path       string
	sampleRate int
	blockSize  int
	realtime   bool

	ready   atomic.Bool
	mu      sync.Mutex
	file    *os.File
	decoder *wav.Decoder
}

// Option configures a [Source].
type Option func(*Source)

// WithSampleRate sets the output rate in Hz. Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(s *Source) {
		if rate > 0 {
			s.sampleRate = rate
		}
	}
}

// WithBlockSize sets the number of output samples per frame. Defaults to 4000.
func WithBlockSize(n int) Option {
	return func(s *Source) {
		if n > 0 {
			s.blockSize = n
		}
	}
}

// WithRealtime paces frames at playback speed when true (the default).
// When false frames are pushed as fast as they decode and the source asks
// for [audio.Backpressure], so a long file is not trimmed by queue eviction.
func WithRealtime(realtime bool) Option {
	return func(s *Source) { s.realtime = realtime }
}

// Open validates the file header and returns a Source ready to Run.
func Open(path string, opts ...Option) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("wavfile: open %q: %w", path, err)
	}
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		f.Close()
		return nil, fmt.Errorf("wavfile: %q is not a valid WAV file", path)
	}
	dec.ReadInfo()
	if dec.BitDepth != 16 {
		f.Close()
		return nil, fmt.Errorf("wavfile: %q has %d-bit samples, want 16-bit PCM", path, dec.BitDepth)
	}

	s := &Source{
		path:       path,
		sampleRate: audio.DefaultSampleRate,
		blockSize:  audio.DefaultBlockSize,
		realtime:   true,
		file:       f,
		decoder:    dec,
	}
	for _, o := range opts {
		o(s)
	}
	s.ready.Store(true)
	return s, nil
}

// Ready reports whether the file is open. It stays true after Run reaches
// the end of the file so frames still queued are consumed; only Close
// clears it.
func (s *Source) Ready() bool { return s.ready.Load() }

// Backpressure reports true when playback is not paced.
func (s *Source) Backpressure() bool { return !s.realtime }

// Run decodes the file and pushes frames until EOF or ctx is cancelled.
// Reaching the end of the file is not an error.
func (s *Source) Run(ctx context.Context, push func(audio.Frame)) error {
	s.mu.Lock()
	dec := s.decoder
	s.mu.Unlock()
	if dec == nil {
		return errors.New("wavfile: source is closed")
	}

	srcRate := int(dec.SampleRate)
	channels := int(dec.NumChans)
	if channels <= 0 {
		channels = 1
	}

	// Read enough source samples to produce roughly one output block.
	srcBlock := s.blockSize * srcRate / s.sampleRate
	if srcBlock <= 0 {
		srcBlock = s.blockSize
	}
	buf := &goaudio.IntBuffer{
		Format:         dec.Format(),
		Data:           make([]int, srcBlock*channels),
		SourceBitDepth: 16,
	}

	var (
		ticker  *time.Ticker
		emitted time.Duration
		frames  int
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		n, err := dec.PCMBuffer(buf)
		if err != nil {
			return fmt.Errorf("wavfile: decode %q: %w", s.path, err)
		}
		if n == 0 {
			break
		}

		samples := make([]int16, n)
		for i, v := range buf.Data[:n] {
			samples[i] = int16(v)
		}
		mono := audio.DownmixInt16(samples, channels)
		pcm := audio.ResampleMono16(audio.Int16ToPCM(mono), srcRate, s.sampleRate)

		frame := audio.Frame{
			Data:       pcm,
			SampleRate: s.sampleRate,
			Channels:   1,
			Timestamp:  emitted,
		}
		emitted += frame.Duration()

		if s.realtime {
			if ticker == nil {
				ticker = time.NewTicker(frame.Duration())
				defer ticker.Stop()
			} else {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
			}
		}
		push(frame)
		frames++
	}

	slog.Info("wavfile: end of file", "path", s.path, "frames", frames, "duration", emitted)
	return nil
}

// Close closes the underlying file. Safe to call more than once.
func (s *Source) Close() error {
	s.ready.Store(false)
	s.mu.Lock()
	f := s.file
	s.file = nil
	s.decoder = nil
	s.mu.Unlock()
	if f == nil {
		return nil
	}
	return f.Close()
}
