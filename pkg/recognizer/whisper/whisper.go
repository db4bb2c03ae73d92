// Package whisper implements [recognizer.Recognizer] on top of the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH.
//
// whisper.cpp decodes whole utterances, not streams, so the recognizer does
// its own endpointing: frames are buffered while their RMS energy is above a
// threshold, and once a run of quiet frames reaches the silence threshold (or
// the buffer reaches the maximum utterance length) the buffer is transcribed
// and returned as a Final result. Every other frame yields an empty Partial.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/voxbridge/voxbridge/pkg/audio"
	"github.com/voxbridge/voxbridge/pkg/recognizer"
)

var _ recognizer.Recognizer = (*Recognizer)(nil)

const (
	// defaultRMSThreshold is the energy (in int16 sample units) below which a
	// frame counts as silence.
	defaultRMSThreshold = 300.0

	defaultLanguage         = "en"
	defaultSilenceThreshold = 500 * time.Millisecond
	defaultMaxUtterance     = 5 * time.Second
)

// Transcriber runs inference over a complete utterance. The production
// implementation wraps a whisper.cpp model; tests substitute a fake.
type Transcriber interface {
	Transcribe(samples []float32) (string, error)
}

// Option is a functional option for configuring a Recognizer.
type Option func(*Recognizer)

// WithLanguage sets the language code passed to whisper.cpp. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(r *Recognizer) {
		if lang != "" {
			r.language = lang
		}
	}
}

// WithSilenceThreshold sets how much trailing silence ends an utterance.
// Defaults to 500 ms.
func WithSilenceThreshold(d time.Duration) Option {
	return func(r *Recognizer) {
		if d > 0 {
			r.silenceThreshold = d
		}
	}
}

// WithMaxUtterance caps the buffered speech before a forced transcription.
// Defaults to 5 s.
func WithMaxUtterance(d time.Duration) Option {
	return func(r *Recognizer) {
		if d > 0 {
			r.maxUtterance = d
		}
	}
}

// WithRMSThreshold sets the speech/silence energy boundary. Defaults to 300.
func WithRMSThreshold(rms float64) Option {
	return func(r *Recognizer) {
		if rms > 0 {
			r.rmsThreshold = rms
		}
	}
}

// WithTranscriber replaces the whisper.cpp backend. Used in tests.
func WithTranscriber(t Transcriber) Option {
	return func(r *Recognizer) { r.transcriber = t }
}

// Recognizer buffers speech and transcribes it with whisper.cpp at each
// endpoint. It is not safe for concurrent use.
type Recognizer struct {
	language         string
	silenceThreshold time.Duration
	maxUtterance     time.Duration
	rmsThreshold     float64

	model       whisperlib.Model
	transcriber Transcriber

	buffer    []byte
	buffered  time.Duration
	silence   time.Duration
	hadSpeech bool
}

// New loads the whisper.cpp model at modelPath. The caller must call Close.
func New(modelPath string, opts ...Option) (*Recognizer, error) {
	r := newRecognizer(opts...)
	if r.transcriber != nil {
		return r, nil
	}
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	r.model = model
	r.transcriber = &modelTranscriber{model: model, language: r.language}
	return r, nil
}

func newRecognizer(opts ...Option) *Recognizer {
	r := &Recognizer{
		language:         defaultLanguage,
		silenceThreshold: defaultSilenceThreshold,
		maxUtterance:     defaultMaxUtterance,
		rmsThreshold:     defaultRMSThreshold,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Feed buffers frame and transcribes the buffer when an endpoint is reached.
func (r *Recognizer) Feed(ctx context.Context, frame audio.Frame) (recognizer.Result, error) {
	if err := ctx.Err(); err != nil {
		return recognizer.Result{}, err
	}

	dur := frame.Duration()
	if audio.RMS(frame.Data) < r.rmsThreshold {
		if !r.hadSpeech {
			return recognizer.PartialResult(""), nil
		}
		r.silence += dur
		r.append(frame.Data, dur)
		if r.silence >= r.silenceThreshold {
			return r.flush()
		}
		return recognizer.PartialResult(""), nil
	}

	r.hadSpeech = true
	r.silence = 0
	r.append(frame.Data, dur)
	if r.buffered >= r.maxUtterance {
		return r.flush()
	}
	return recognizer.PartialResult(""), nil
}

// Close releases the whisper model. Safe to call more than once.
func (r *Recognizer) Close() error {
	r.reset()
	if r.model == nil {
		return nil
	}
	err := r.model.Close()
	r.model = nil
	return err
}

func (r *Recognizer) append(pcm []byte, dur time.Duration) {
	r.buffer = append(r.buffer, pcm...)
	r.buffered += dur
}

func (r *Recognizer) reset() {
	r.buffer = nil
	r.buffered = 0
	r.silence = 0
	r.hadSpeech = false
}

// flush transcribes and clears the buffer. The buffer is cleared even when
// inference fails so one bad utterance cannot poison the next.
func (r *Recognizer) flush() (recognizer.Result, error) {
	pcm := r.buffer
	buffered := r.buffered
	r.reset()

	start := time.Now()
	text, err := r.transcriber.Transcribe(audio.PCMToFloat32(pcm))
	if err != nil {
		return recognizer.Result{}, err
	}
	slog.Debug("whisper: utterance transcribed",
		"audio", buffered,
		"took", time.Since(start),
		"text", text,
	)
	return recognizer.FinalResult(stripAnnotations(text)), nil
}

// stripAnnotations drops bracketed non-speech markers such as "[BLANK_AUDIO]"
// or "(wind blowing)" that whisper emits for silence and noise.
func stripAnnotations(text string) string {
	var b strings.Builder
	depth := 0
	for _, r := range text {
		switch r {
		case '[', '(':
			depth++
		case ']', ')':
			if depth > 0 {
				depth--
			}
		default:
			if depth == 0 {
				b.WriteRune(r)
			}
		}
	}
	return b.String()
}

// modelTranscriber runs inference with a fresh whisper.cpp context per
// utterance. Contexts are not thread-safe but the model may be shared.
type modelTranscriber struct {
	model    whisperlib.Model
	language string
}

func (m *modelTranscriber) Transcribe(samples []float32) (string, error) {
	wctx, err := m.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(m.language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", m.language, "err", err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}
