// Package config provides the configuration schema, loader, file watcher and
// component registry for voxbridge.
package config

import (
	"log/slog"
	"net"
	"strconv"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog maps l to a slog level. Unknown values map to info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Peer       PeerConfig       `yaml:"peer"`
	Dispatch   DispatchConfig   `yaml:"dispatch"`
	Audio      AudioConfig      `yaml:"audio"`
	Recognizer RecognizerConfig `yaml:"recognizer"`
	Keywords   KeywordsConfig   `yaml:"keywords"`
}

// ServerConfig holds process-level settings.
type ServerConfig struct {
	// ListenAddr serves /healthz, /readyz, /metrics and /status when set
	// (e.g. ":9090"). Empty disables the HTTP surface.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel is one of debug, info, warn, error. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`
}

// PeerConfig describes the TCP command peer and the reconnect policy.
type PeerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// ConnectTimeout bounds one dial attempt.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// WriteTimeout bounds one send. Zero disables the deadline.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	BackoffFloor      time.Duration `yaml:"backoff_floor"`
	BackoffCeiling    time.Duration `yaml:"backoff_ceiling"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`

	// IdlePoll is the re-check interval while connected.
	IdlePoll time.Duration `yaml:"idle_poll"`
}

// Addr returns host:port.
func (p PeerConfig) Addr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// DispatchConfig tunes the recognition loop.
type DispatchConfig struct {
	DebounceWindow time.Duration `yaml:"debounce_window"`
	PopTimeout     time.Duration `yaml:"pop_timeout"`
	ErrorPause     time.Duration `yaml:"error_pause"`
	ReadyPoll      time.Duration `yaml:"ready_poll"`
}

// AudioConfig selects and configures the audio source.
type AudioConfig struct {
	// Source is the registered source name: "portaudio" or "wav".
	Source string `yaml:"source"`

	// Device is the PortAudio input device index; -1 selects the default.
	Device int `yaml:"device"`

	// WavPath is the file replayed by the "wav" source.
	WavPath string `yaml:"wav_path"`

	SampleRate    int  `yaml:"sample_rate"`
	BlockSize     int  `yaml:"block_size"`
	QueueCapacity int  `yaml:"queue_capacity"`
	Realtime      bool `yaml:"realtime"`
}

// RecognizerConfig selects and configures the speech recognizer.
type RecognizerConfig struct {
	// Engine is the registered recognizer name, e.g. "whisper".
	Engine string `yaml:"engine"`

	// ModelPath is passed to the engine unchanged.
	ModelPath string `yaml:"model_path"`

	Language         string        `yaml:"language"`
	SilenceThreshold time.Duration `yaml:"silence_threshold"`
	MaxUtterance     time.Duration `yaml:"max_utterance"`
}

// KeywordsConfig overrides the trigger vocabulary.
type KeywordsConfig struct {
	// Aliases maps trigger phrase to canonical command. Empty selects the
	// built-in table. Hot-reloadable.
	Aliases map[string]string `yaml:"aliases"`

	// PhoneticFallback enables fuzzy matching of near-miss words.
	// Hot-reloadable.
	PhoneticFallback bool `yaml:"phonetic_fallback"`
}

// Default returns a Config populated with every default value.
func Default() *Config {
	return &Config{
		Server: ServerConfig{LogLevel: LogInfo},
		Peer: PeerConfig{
			Host:              "127.0.0.1",
			Port:              6500,
			ConnectTimeout:    3 * time.Second,
			BackoffFloor:      1 * time.Second,
			BackoffCeiling:    5 * time.Second,
			BackoffMultiplier: 1.5,
			IdlePoll:          500 * time.Millisecond,
		},
		Dispatch: DispatchConfig{
			DebounceWindow: 500 * time.Millisecond,
			PopTimeout:     1 * time.Second,
			ErrorPause:     500 * time.Millisecond,
			ReadyPoll:      100 * time.Millisecond,
		},
		Audio: AudioConfig{
			Source:        "portaudio",
			Device:        -1,
			SampleRate:    16000,
			BlockSize:     4000,
			QueueCapacity: 64,
			Realtime:      true,
		},
		Recognizer: RecognizerConfig{
			Engine:           "whisper",
			Language:         "en",
			SilenceThreshold: 500 * time.Millisecond,
			MaxUtterance:     5 * time.Second,
		},
	}
}
