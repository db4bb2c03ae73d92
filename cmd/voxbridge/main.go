// Command voxbridge listens to a microphone (or a WAV file), recognises
// trigger keywords and forwards the matching commands to a TCP peer.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/voxbridge/voxbridge/internal/app"
	"github.com/voxbridge/voxbridge/internal/config"
	"github.com/voxbridge/voxbridge/internal/observe"
	"github.com/voxbridge/voxbridge/pkg/audio"
	"github.com/voxbridge/voxbridge/pkg/audio/portaudio"
	"github.com/voxbridge/voxbridge/pkg/audio/wavfile"
	"github.com/voxbridge/voxbridge/pkg/recognizer"
	"github.com/voxbridge/voxbridge/pkg/recognizer/whisper"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

const defaultConfigPath = "voxbridge.yaml"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", defaultConfigPath, "path to the YAML configuration file")
	host := flag.String("host", "", "peer host (overrides peer.host)")
	port := flag.Int("port", 0, "peer port (overrides peer.port)")
	device := flag.Int("device", 0, "PortAudio input device index, -1 for default (overrides audio.device)")
	wavPath := flag.String("wav", "", "replay this WAV file instead of capturing (sets audio.source=wav)")
	modelPath := flag.String("model", "", "recognizer model path (overrides recognizer.model_path)")
	listDevices := flag.Bool("list-devices", false, "list audio input devices and exit")
	flag.Parse()

	if *listDevices {
		return printDevices()
	}

	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, watchable, err := loadConfig(*configPath, set["config"])
	if err != nil {
		fmt.Fprintf(os.Stderr, "voxbridge: %v\n", err)
		return 1
	}
	if set["host"] {
		cfg.Peer.Host = *host
	}
	if set["port"] {
		cfg.Peer.Port = *port
	}
	if set["device"] {
		cfg.Audio.Device = *device
	}
	if set["wav"] {
		cfg.Audio.Source = "wav"
		cfg.Audio.WavPath = *wavPath
	}
	if set["model"] {
		cfg.Recognizer.ModelPath = *modelPath
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "voxbridge: invalid configuration:\n%v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Slog())
	slog.SetDefault(newLogger(level))

	slog.Info("voxbridge starting",
		"version", version,
		"config", *configPath,
		"peer", cfg.Peer.Addr(),
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Components ────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltins(reg)

	rec, err := reg.CreateRecognizer(cfg.Recognizer)
	if err != nil {
		slog.Error("failed to load recognizer", "engine", cfg.Recognizer.Engine, "err", err)
		return 1
	}
	src, err := reg.CreateSource(cfg.Audio)
	if err != nil {
		_ = rec.Close()
		slog.Error("failed to open audio source", "source", cfg.Audio.Source, "err", err)
		return 1
	}

	// ── Application ───────────────────────────────────────────────────────────
	opts := []app.Option{
		app.WithMetrics(tel.Metrics()),
		app.WithMetricsHandler(tel.Handler()),
	}

	var application *app.App
	if watchable {
		w, err := config.NewWatcher(*configPath, func(_, next *config.Config, diff config.ConfigDiff) {
			if diff.LogLevelChanged {
				level.Set(diff.NewLogLevel.Slog())
				slog.Info("log level changed", "level", diff.NewLogLevel)
			}
			application.ApplyReload(next, diff)
		})
		if err != nil {
			slog.Warn("config hot-reload disabled", "err", err)
		} else {
			opts = append(opts, app.WithTask("config watcher", w.Run))
		}
	}

	application, err = app.New(cfg, app.Components{Recognizer: rec, Source: src}, opts...)
	if err != nil {
		_ = src.Close()
		_ = rec.Close()
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	printStartupSummary(cfg)
	slog.Info("bridge ready, press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// loadConfig reads path. A missing default config file falls back to the
// built-in defaults; an explicitly requested one is an error. watchable
// reports whether the file exists and can be hot-reloaded.
func loadConfig(path string, explicit bool) (cfg *config.Config, watchable bool, err error) {
	cfg, err = config.Load(path)
	switch {
	case err == nil:
		return cfg, true, nil
	case errors.Is(err, os.ErrNotExist) && !explicit:
		fmt.Fprintf(os.Stderr, "voxbridge: %s not found, using built-in defaults\n", path)
		return config.Default(), false, nil
	default:
		return nil, false, err
	}
}

// ── Component wiring ──────────────────────────────────────────────────────────

// registerBuiltins wires the recognizer and audio source factories that ship
// with voxbridge into reg.
func registerBuiltins(reg *config.Registry) {
	reg.RegisterRecognizer("whisper", func(rc config.RecognizerConfig) (recognizer.Recognizer, error) {
		var opts []whisper.Option
		if rc.Language != "" {
			opts = append(opts, whisper.WithLanguage(rc.Language))
		}
		if rc.SilenceThreshold > 0 {
			opts = append(opts, whisper.WithSilenceThreshold(rc.SilenceThreshold))
		}
		if rc.MaxUtterance > 0 {
			opts = append(opts, whisper.WithMaxUtterance(rc.MaxUtterance))
		}
		return whisper.New(rc.ModelPath, opts...)
	})

	reg.RegisterSource("portaudio", func(ac config.AudioConfig) (audio.Source, error) {
		return portaudio.New(ac.Device,
			portaudio.WithSampleRate(ac.SampleRate),
			portaudio.WithBlockSize(ac.BlockSize),
		), nil
	})

	reg.RegisterSource("wav", func(ac config.AudioConfig) (audio.Source, error) {
		return wavfile.Open(ac.WavPath,
			wavfile.WithSampleRate(ac.SampleRate),
			wavfile.WithBlockSize(ac.BlockSize),
			wavfile.WithRealtime(ac.Realtime),
		)
	})

	for kind, names := range config.KnownNames {
		for _, name := range names {
			slog.Debug("registered component", "kind", kind, "name", name)
		}
	}
}

func printDevices() int {
	devices, err := portaudio.ListInputDevices()
	if err != nil {
		fmt.Fprintf(os.Stderr, "voxbridge: %v\n", err)
		return 1
	}
	if len(devices) == 0 {
		fmt.Println("no input devices found")
		return 0
	}
	for _, d := range devices {
		mark := " "
		if d.Default {
			mark = "*"
		}
		fmt.Printf("%s %3d  %s (%d ch)\n", mark, d.Index, d.Name, d.Channels)
	}
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        voxbridge — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Peer", cfg.Peer.Addr())
	src := cfg.Audio.Source
	if src == "wav" {
		src += " / " + cfg.Audio.WavPath
	} else if cfg.Audio.Device >= 0 {
		src += fmt.Sprintf(" / #%d", cfg.Audio.Device)
	}
	printRow("Audio", src)
	printRow("Recognizer", cfg.Recognizer.Engine)
	if n := len(cfg.Keywords.Aliases); n > 0 {
		printRow("Aliases", fmt.Sprintf("%d (custom)", n))
	} else {
		printRow("Aliases", "built-in")
	}
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	} else {
		printRow("Listen addr", "(disabled)")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	fmt.Printf("║  %-12s    : %-19s ║\n", label, truncate(value, 19))
}

// truncate shortens s to at most width runes, marking the cut with "…".
func truncate(s string, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return string(r[:width-1]) + "…"
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
