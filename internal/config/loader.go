package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/voxbridge/voxbridge/internal/keyword"
)

// KnownNames lists the built-in component names per kind. Used by [Validate]
// to warn about unrecognised names; the [Registry] has the final say.
var KnownNames = map[string][]string{
	"source":     {"portaudio", "wav"},
	"recognizer": {"whisper"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. Fields missing from the file keep their [Default] values.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result. Unknown keys are rejected. An empty document yields
// the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing every failure found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Peer
	p := cfg.Peer
	if p.Host == "" {
		errs = append(errs, errors.New("peer.host is required"))
	}
	if p.Port < 1 || p.Port > 65535 {
		errs = append(errs, fmt.Errorf("peer.port %d is out of range [1, 65535]", p.Port))
	}
	if p.ConnectTimeout <= 0 {
		errs = append(errs, fmt.Errorf("peer.connect_timeout %v must be positive", p.ConnectTimeout))
	}
	if p.WriteTimeout < 0 {
		errs = append(errs, fmt.Errorf("peer.write_timeout %v must not be negative", p.WriteTimeout))
	}
	if p.BackoffFloor <= 0 {
		errs = append(errs, fmt.Errorf("peer.backoff_floor %v must be positive", p.BackoffFloor))
	}
	if p.BackoffCeiling < p.BackoffFloor {
		errs = append(errs, fmt.Errorf("peer.backoff_ceiling %v is below peer.backoff_floor %v", p.BackoffCeiling, p.BackoffFloor))
	}
	if p.BackoffMultiplier < 1 {
		errs = append(errs, fmt.Errorf("peer.backoff_multiplier %.2f must be at least 1", p.BackoffMultiplier))
	}
	if p.IdlePoll <= 0 {
		errs = append(errs, fmt.Errorf("peer.idle_poll %v must be positive", p.IdlePoll))
	}

	// Dispatch
	for _, d := range []struct {
		name string
		v    time.Duration
	}{
		{"dispatch.debounce_window", cfg.Dispatch.DebounceWindow},
		{"dispatch.pop_timeout", cfg.Dispatch.PopTimeout},
		{"dispatch.error_pause", cfg.Dispatch.ErrorPause},
		{"dispatch.ready_poll", cfg.Dispatch.ReadyPoll},
	} {
		if d.v <= 0 {
			errs = append(errs, fmt.Errorf("%s %v must be positive", d.name, d.v))
		}
	}

	// Audio
	a := cfg.Audio
	if a.Source == "" {
		errs = append(errs, errors.New("audio.source is required"))
	}
	warnUnknownName("source", a.Source)
	if a.Source == "wav" && a.WavPath == "" {
		errs = append(errs, errors.New("audio.wav_path is required when audio.source is wav"))
	}
	if a.Device < -1 {
		errs = append(errs, fmt.Errorf("audio.device %d is invalid; use -1 for the default device", a.Device))
	}
	if a.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", a.SampleRate))
	}
	if a.BlockSize <= 0 {
		errs = append(errs, fmt.Errorf("audio.block_size %d must be positive", a.BlockSize))
	}
	if a.QueueCapacity <= 0 {
		errs = append(errs, fmt.Errorf("audio.queue_capacity %d must be positive", a.QueueCapacity))
	}

	// Recognizer
	rc := cfg.Recognizer
	if rc.Engine == "" {
		errs = append(errs, errors.New("recognizer.engine is required"))
	}
	warnUnknownName("recognizer", rc.Engine)
	if rc.SilenceThreshold < 0 || rc.MaxUtterance < 0 {
		errs = append(errs, errors.New("recognizer.silence_threshold and recognizer.max_utterance must not be negative"))
	}

	// Keywords
	if len(cfg.Keywords.Aliases) > 0 {
		if _, err := keyword.NewAliasTable(cfg.Keywords.Aliases); err != nil {
			errs = append(errs, fmt.Errorf("keywords.aliases: %w", err))
		}
	}

	return errors.Join(errs...)
}

// AliasTable builds the keyword table selected by cfg.
func (k KeywordsConfig) AliasTable() (*keyword.AliasTable, error) {
	if len(k.Aliases) == 0 {
		return keyword.Default(), nil
	}
	return keyword.NewAliasTable(k.Aliases)
}

// warnUnknownName logs a warning if name is non-empty and not in
// [KnownNames] for kind.
func warnUnknownName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := KnownNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("config: unknown component name; it must be registered by the caller",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
