package wavfile_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/voxbridge/voxbridge/pkg/audio"
	"github.com/voxbridge/voxbridge/pkg/audio/wavfile"
)

// writeWAV writes a 16-bit PCM file with the given interleaved samples.
func writeWAV(t *testing.T, sampleRate, channels int, samples []int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "in.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}
	return path
}

func collect(t *testing.T, src *wavfile.Source) []audio.Frame {
	t.Helper()
	var frames []audio.Frame
	if err := src.Run(t.Context(), func(f audio.Frame) { frames = append(frames, f) }); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return frames
}

func TestSource_MonoBlocks(t *testing.T) {
	samples := make([]int, 10000)
	for i := range samples {
		samples[i] = i % 100
	}
	path := writeWAV(t, 16000, 1, samples)

	src, err := wavfile.Open(path, wavfile.WithRealtime(false))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Close()

	if !src.Ready() {
		t.Error("expected source to be ready after Open")
	}

	frames := collect(t, src)
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3 (4000+4000+2000)", len(frames))
	}
	if got := frames[0].Samples(); got != 4000 {
		t.Errorf("frame 0 samples = %d, want 4000", got)
	}
	if got := frames[2].Samples(); got != 2000 {
		t.Errorf("frame 2 samples = %d, want 2000", got)
	}
	if frames[1].Timestamp != frames[0].Duration() {
		t.Errorf("frame 1 timestamp = %v, want %v", frames[1].Timestamp, frames[0].Duration())
	}

	first := audio.PCMToInt16(frames[0].Data)
	if first[42] != 42 {
		t.Errorf("sample 42 = %d, want 42", first[42])
	}
}

func TestSource_StereoDownmixAndResample(t *testing.T) {
	// 0.5 s of 32 kHz stereo: L=1000, R=3000.
	samples := make([]int, 16000*2)
	for i := 0; i < len(samples); i += 2 {
		samples[i] = 1000
		samples[i+1] = 3000
	}
	path := writeWAV(t, 32000, 2, samples)

	src, err := wavfile.Open(path, wavfile.WithRealtime(false))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Close()

	var total int
	for _, f := range collect(t, src) {
		if f.SampleRate != 16000 || f.Channels != 1 {
			t.Fatalf("frame format = %d Hz x%d, want 16000 Hz mono", f.SampleRate, f.Channels)
		}
		for _, s := range audio.PCMToInt16(f.Data) {
			if s != 2000 {
				t.Fatalf("sample = %d, want 2000", s)
			}
		}
		total += f.Samples()
	}
	if total != 8000 {
		t.Errorf("total samples = %d, want 8000", total)
	}
}

func TestOpen_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.wav")
	if err := os.WriteFile(path, []byte("not a wav file"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := wavfile.Open(path); err == nil {
		t.Fatal("expected error for invalid file")
	}
}

func TestOpen_MissingFile(t *testing.T) {
	if _, err := wavfile.Open(filepath.Join(t.TempDir(), "missing.wav")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestSource_CloseIdempotent(t *testing.T) {
	path := writeWAV(t, 16000, 1, make([]int, 100))
	src, err := wavfile.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := src.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := src.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if src.Ready() {
		t.Error("expected source not ready after Close")
	}
	if err := src.Run(t.Context(), func(audio.Frame) {}); err == nil {
		t.Error("expected Run on closed source to fail")
	}
}

func TestSource_BackpressureWhenUnpaced(t *testing.T) {
	path := writeWAV(t, 16000, 1, make([]int, 100))

	paced, err := wavfile.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer paced.Close()
	if paced.Backpressure() {
		t.Error("realtime source asked for backpressure")
	}

	unpaced, err := wavfile.Open(path, wavfile.WithRealtime(false))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer unpaced.Close()
	if !unpaced.Backpressure() {
		t.Error("unpaced source did not ask for backpressure")
	}
}

func TestSource_LongFileNotTrimmedByQueue(t *testing.T) {
	// 20 s of audio is 80 blocks, more than the 64-frame default queue.
	path := writeWAV(t, 16000, 1, make([]int, 20*16000))
	src, err := wavfile.Open(path, wavfile.WithRealtime(false))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Close()

	q := audio.NewFrameQueue(0)
	ctx := t.Context()
	done := make(chan error, 1)
	go func() {
		done <- src.Run(ctx, func(f audio.Frame) { _ = q.PushWait(ctx, f) })
	}()

	var got int
	for got < 80 {
		if _, err := q.Pop(ctx, 2*time.Second); err != nil {
			t.Fatalf("Pop after %d frames: %v", got, err)
		}
		got++
	}
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if q.Dropped() != 0 || q.Len() != 0 {
		t.Errorf("Dropped = %d, Len = %d; want 0, 0", q.Dropped(), q.Len())
	}
}

func TestSource_ReadyUntilClose(t *testing.T) {
	path := writeWAV(t, 16000, 1, make([]int, 8000))
	src, err := wavfile.Open(path, wavfile.WithRealtime(false))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	collect(t, src)
	if !src.Ready() {
		t.Error("source not ready after EOF; queued frames would never drain")
	}
	src.Close()
	if src.Ready() {
		t.Error("source still ready after Close")
	}
}
