// Package portaudio captures microphone audio through the PortAudio C
// library and delivers it as [audio.Frame] values. The PortAudio shared
// library and headers must be installed at build time.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	pa "github.com/gordonklaus/portaudio"

	"github.com/voxbridge/voxbridge/pkg/audio"
)

var _ audio.Source = (*Source)(nil)

// DefaultDevice selects the host's default input device.
const DefaultDevice = -1

// Device describes one capture-capable device.
type Device struct {
	Index    int
	Name     string
	Channels int
	Default  bool
}

// ListInputDevices enumerates devices with at least one input channel.
func ListInputDevices() ([]Device, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	defer pa.Terminate()

	devices, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	def, _ := pa.DefaultInputDevice()

	var out []Device
	for i, d := range devices {
		if d.MaxInputChannels <= 0 {
			continue
		}
		out = append(out, Device{
			Index:    i,
			Name:     d.Name,
			Channels: d.MaxInputChannels,
			Default:  def != nil && def.Name == d.Name,
		})
	}
	return out, nil
}

// Source captures mono int16 PCM from one input device. The capture
// callback runs on PortAudio's real-time thread; it copies the block and
// hands it to push, which must not block.
type Source struct {
	device     int
	sampleRate int
	blockSize  int

	ready  atomic.Bool
	mu     sync.Mutex
	stream *pa.Stream
}

// Option configures a [Source].
type Option func(*Source)

// WithSampleRate sets the capture rate in Hz. Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(s *Source) {
		if rate > 0 {
			s.sampleRate = rate
		}
	}
}

// WithBlockSize sets the number of samples per frame. Defaults to 4000.
func WithBlockSize(n int) Option {
	return func(s *Source) {
		if n > 0 {
			s.blockSize = n
		}
	}
}

// New creates a Source for the device at index (as reported by
// [ListInputDevices]), or the default input device when index is
// [DefaultDevice]. The device is opened by Run.
func New(device int, opts ...Option) *Source {
	s := &Source{
		device:     device,
		sampleRate: audio.DefaultSampleRate,
		blockSize:  audio.DefaultBlockSize,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Ready reports whether the capture stream is running.
func (s *Source) Ready() bool { return s.ready.Load() }

// Run opens the device, starts capture, and blocks until ctx is cancelled.
func (s *Source) Run(ctx context.Context, push func(audio.Frame)) error {
	if err := pa.Initialize(); err != nil {
		return fmt.Errorf("portaudio: initialize: %w", err)
	}
	defer pa.Terminate()

	dev, err := s.resolveDevice()
	if err != nil {
		return err
	}

	params := pa.LowLatencyParameters(dev, nil)
	params.Input.Channels = audio.DefaultChannels
	params.SampleRate = float64(s.sampleRate)
	params.FramesPerBuffer = s.blockSize

	var captured int64
	callback := func(in []int16) {
		ts := time.Duration(captured) * time.Second / time.Duration(s.sampleRate)
		captured += int64(len(in))
		push(audio.Frame{
			Data:       audio.Int16ToPCM(in),
			SampleRate: s.sampleRate,
			Channels:   audio.DefaultChannels,
			Timestamp:  ts,
		})
	}

	stream, err := pa.OpenStream(params, callback)
	if err != nil {
		return fmt.Errorf("portaudio: open stream on %q: %w", dev.Name, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return fmt.Errorf("portaudio: start stream on %q: %w", dev.Name, err)
	}

	s.mu.Lock()
	s.stream = stream
	s.mu.Unlock()
	s.ready.Store(true)

	slog.Info("portaudio: capture started",
		"device", dev.Name,
		"sample_rate", s.sampleRate,
		"block_size", s.blockSize,
	)

	<-ctx.Done()
	return s.Close()
}

// Close stops and closes the stream. Safe to call more than once.
func (s *Source) Close() error {
	s.ready.Store(false)
	s.mu.Lock()
	stream := s.stream
	s.stream = nil
	s.mu.Unlock()
	if stream == nil {
		return nil
	}
	err := errors.Join(stream.Stop(), stream.Close())
	slog.Info("portaudio: capture stopped")
	return err
}

func (s *Source) resolveDevice() (*pa.DeviceInfo, error) {
	if s.device == DefaultDevice {
		dev, err := pa.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("portaudio: default input device: %w", err)
		}
		return dev, nil
	}
	devices, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	if s.device < 0 || s.device >= len(devices) {
		return nil, fmt.Errorf("portaudio: device index %d out of range [0, %d)", s.device, len(devices))
	}
	dev := devices[s.device]
	if dev.MaxInputChannels <= 0 {
		return nil, fmt.Errorf("portaudio: device %d (%q) has no input channels", s.device, dev.Name)
	}
	return dev, nil
}
