// Package vosk adapts a Vosk-style streaming recognizer to
// [recognizer.Recognizer].
//
// Vosk engines are fed raw PCM with AcceptWaveform, which returns 1 once the
// engine's endpoint detector closes an utterance. The committed text is then
// available as JSON from Result ({"text": "..."}); otherwise PartialResult
// holds the current hypothesis ({"partial": "..."}). Loading models and
// constructing the engine is left to the caller.
package vosk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/voxbridge/voxbridge/pkg/audio"
	"github.com/voxbridge/voxbridge/pkg/recognizer"
)

var _ recognizer.Recognizer = (*Recognizer)(nil)

// Engine is the subset of a Vosk recognizer used by the adapter.
type Engine interface {
	AcceptWaveform(pcm []byte) int
	Result() []byte
	PartialResult() []byte
}

type finalJSON struct {
	Text string `json:"text"`
}

type partialJSON struct {
	Partial string `json:"partial"`
}

// Recognizer wraps an [Engine]. It is not safe for concurrent use.
type Recognizer struct {
	engine Engine
	closed bool
}

// New wraps engine. If engine also implements [io.Closer] it is closed by
// [Recognizer.Close].
func New(engine Engine) (*Recognizer, error) {
	if engine == nil {
		return nil, errors.New("vosk: engine must not be nil")
	}
	return &Recognizer{engine: engine}, nil
}

// Feed passes frame to the engine and decodes its answer.
func (r *Recognizer) Feed(ctx context.Context, frame audio.Frame) (recognizer.Result, error) {
	if err := ctx.Err(); err != nil {
		return recognizer.Result{}, err
	}
	if r.closed {
		return recognizer.Result{}, errors.New("vosk: recognizer closed")
	}

	switch code := r.engine.AcceptWaveform(frame.Data); {
	case code < 0:
		return recognizer.Result{}, fmt.Errorf("vosk: accept waveform: engine returned %d", code)
	case code > 0:
		var out finalJSON
		if err := json.Unmarshal(r.engine.Result(), &out); err != nil {
			return recognizer.Result{}, fmt.Errorf("vosk: decode result: %w", err)
		}
		return recognizer.FinalResult(out.Text), nil
	default:
		var out partialJSON
		if err := json.Unmarshal(r.engine.PartialResult(), &out); err != nil {
			return recognizer.Result{}, fmt.Errorf("vosk: decode partial: %w", err)
		}
		return recognizer.PartialResult(out.Partial), nil
	}
}

// Close closes the engine when it supports it.
func (r *Recognizer) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if c, ok := r.engine.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
