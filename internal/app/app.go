// Package app wires all voxbridge subsystems into a running bridge.
//
// The App struct owns the full lifecycle: New builds every subsystem from the
// config, Run drives the concurrent loops under one errgroup, and Shutdown
// tears everything down in order.
//
// The recognizer and audio source are built by the caller (see
// [config.Registry]) and handed over in [Components]. For testing, inject
// doubles through functional options (WithDialer, WithMetrics, etc.).
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voxbridge/voxbridge/internal/config"
	"github.com/voxbridge/voxbridge/internal/dispatch"
	"github.com/voxbridge/voxbridge/internal/health"
	"github.com/voxbridge/voxbridge/internal/keyword"
	"github.com/voxbridge/voxbridge/internal/link"
	"github.com/voxbridge/voxbridge/internal/observe"
	"github.com/voxbridge/voxbridge/internal/status"
	"github.com/voxbridge/voxbridge/pkg/audio"
	"github.com/voxbridge/voxbridge/pkg/recognizer"
)

// httpShutdownTimeout bounds the graceful HTTP drain once Run is cancelled.
const httpShutdownTimeout = 5 * time.Second

// Components holds the externally built pipeline ends. Both are required.
type Components struct {
	Recognizer recognizer.Recognizer
	Source     audio.Source
}

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config

	queue      *audio.FrameQueue
	resolver   *keyword.Resolver
	link       *link.Manager
	recognizer recognizer.Recognizer
	source     audio.Source
	bus        *status.Bus
	dispatcher *dispatch.Dispatcher

	mux    *http.ServeMux
	server *http.Server

	// Injected via options.
	dialer         link.Dialer
	metrics        *observe.Metrics
	metricsHandler http.Handler
	observers      []status.Observer
	tasks          []task

	// closers are called in order during Shutdown.
	closers []namedCloser

	stopOnce sync.Once
}

type task struct {
	name string
	fn   func(context.Context) error
}

type namedCloser struct {
	name  string
	close func() error
}

// Option is a functional option for New.
type Option func(*App)

// WithDialer replaces the TCP dialer used by the peer link.
func WithDialer(d link.Dialer) Option {
	return func(a *App) { a.dialer = d }
}

// WithMetrics injects the metrics instance. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler mounts h at GET /metrics on the HTTP surface.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithObserver adds an observer next to the built-in status bus and log.
func WithObserver(o status.Observer) Option {
	return func(a *App) { a.observers = append(a.observers, o) }
}

// WithTask runs fn in the same errgroup as the core loops. A non-nil error
// from fn stops the app.
func WithTask(name string, fn func(context.Context) error) Option {
	return func(a *App) { a.tasks = append(a.tasks, task{name: name, fn: fn}) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. It performs no I/O:
// the link dials, the source opens and the HTTP listener binds in Run.
func New(cfg *config.Config, comps Components, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if comps.Recognizer == nil || comps.Source == nil {
		return nil, errors.New("app: recognizer and audio source are required")
	}

	a := &App{
		cfg:        cfg,
		recognizer: comps.Recognizer,
		source:     comps.Source,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Vocabulary ────────────────────────────────────────────────────
	table, err := cfg.Keywords.AliasTable()
	if err != nil {
		return nil, fmt.Errorf("app: keywords: %w", err)
	}
	a.resolver = keyword.NewResolver(table, resolverOptions(cfg.Keywords)...)

	// ── 2. Status fan-out ────────────────────────────────────────────────
	a.bus = status.NewBus()
	observer := status.Multi(append([]status.Observer{a.bus, status.NewLog(slog.Default())}, a.observers...)...)

	// ── 3. Frame queue ───────────────────────────────────────────────────
	a.queue = audio.NewFrameQueue(cfg.Audio.QueueCapacity, audio.WithDropHook(func() {
		a.metrics.FramesDropped.Add(context.Background(), 1)
	}))

	// ── 4. Peer link ─────────────────────────────────────────────────────
	a.link, err = link.New(link.Config{
		Addr:              cfg.Peer.Addr(),
		ConnectTimeout:    cfg.Peer.ConnectTimeout,
		WriteTimeout:      cfg.Peer.WriteTimeout,
		IdlePoll:          cfg.Peer.IdlePoll,
		BackoffFloor:      cfg.Peer.BackoffFloor,
		BackoffCeiling:    cfg.Peer.BackoffCeiling,
		BackoffMultiplier: cfg.Peer.BackoffMultiplier,
		Dialer:            a.dialer,
		Observer:          observer,
		Metrics:           a.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	// ── 5. Dispatcher ────────────────────────────────────────────────────
	a.dispatcher, err = dispatch.New(dispatch.Config{
		Queue:          a.queue,
		Recognizer:     a.recognizer,
		Resolver:       a.resolver,
		Link:           a.link,
		Source:         a.source,
		DebounceWindow: cfg.Dispatch.DebounceWindow,
		PopTimeout:     cfg.Dispatch.PopTimeout,
		ErrorPause:     cfg.Dispatch.ErrorPause,
		ReadyPoll:      cfg.Dispatch.ReadyPoll,
		Observer:       observer,
		Metrics:        a.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	// ── 6. HTTP surface ──────────────────────────────────────────────────
	a.mux = http.NewServeMux()
	health.New(
		health.Probe("peer", a.link.Connected, "peer link is not connected"),
		health.Probe("audio", a.source.Ready, "audio source is not streaming"),
	).Register(a.mux)
	a.bus.Register(a.mux)
	if a.metricsHandler != nil {
		a.mux.Handle("GET /metrics", a.metricsHandler)
	}
	if cfg.Server.ListenAddr != "" {
		a.server = &http.Server{
			Addr:              cfg.Server.ListenAddr,
			Handler:           a.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	// Shutdown order: stop producing audio, drop the peer, free the model,
	// then stop serving.
	a.closers = []namedCloser{
		{"audio source", a.source.Close},
		{"peer link", a.link.Close},
		{"recognizer", a.recognizer.Close},
	}
	if a.server != nil {
		a.closers = append(a.closers, namedCloser{"http server", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
			defer cancel()
			return a.server.Shutdown(ctx)
		}})
	}

	return a, nil
}

func resolverOptions(k config.KeywordsConfig) []keyword.Option {
	if !k.PhoneticFallback {
		return nil
	}
	return []keyword.Option{keyword.WithPhoneticFallback(keyword.NewPhoneticMatcher())}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the HTTP surface (health, status, metrics) wrapped in the
// observability middleware. It is served on server.listen_addr when set.
func (a *App) Handler() http.Handler {
	return observe.Middleware(a.metrics)(a.mux)
}

// Status returns the latest observer snapshot.
func (a *App) Status() status.Snapshot { return a.bus.Latest() }

// LinkState returns the peer link state.
func (a *App) LinkState() link.State { return a.link.State() }

// Resolver returns the live keyword resolver.
func (a *App) Resolver() *keyword.Resolver { return a.resolver }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts every loop and blocks until ctx is cancelled or one of them
// fails. It returns nil after a clean cancellation.
//
// Loops: status bus pump, peer link, audio source, dispatcher, the optional
// HTTP server and any [WithTask] tasks.
func (a *App) Run(ctx context.Context) error {
	// Bind first: a failed listen must not leave loops running behind an
	// error return.
	var ln net.Listener
	if a.server != nil {
		var err error
		ln, err = net.Listen("tcp", a.server.Addr)
		if err != nil {
			return fmt.Errorf("app: listen %q: %w", a.server.Addr, err)
		}
		slog.Info("app: http surface listening", "addr", ln.Addr().String())
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.bus.Run(gctx) })
	g.Go(func() error { return a.link.Run(gctx) })
	g.Go(func() error { return a.dispatcher.Run(gctx) })
	push := func(f audio.Frame) { a.queue.Push(f) }
	if bp, ok := a.source.(audio.Backpressure); ok && bp.Backpressure() {
		push = func(f audio.Frame) { _ = a.queue.PushWait(gctx, f) }
	}
	g.Go(func() error {
		err := a.source.Run(gctx, push)
		if err != nil && gctx.Err() == nil {
			return fmt.Errorf("app: audio source: %w", err)
		}
		return nil
	})

	if ln != nil {
		g.Go(func() error {
			if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
			defer cancel()
			return a.server.Shutdown(sctx)
		})
	}

	for _, t := range a.tasks {
		g.Go(func() error {
			if err := t.fn(gctx); err != nil {
				return fmt.Errorf("app: %s: %w", t.name, err)
			}
			return nil
		})
	}

	slog.Info("app: running",
		"peer", a.link.Addr(),
		"commands", len(a.resolver.Table().Commands()),
		"aliases", a.resolver.Table().Len(),
	)
	return g.Wait()
}

// ApplyReload applies the hot-reloadable parts of a config change. It is
// meant to be called from a [config.Watcher] callback.
func (a *App) ApplyReload(cfg *config.Config, diff config.ConfigDiff) {
	if !diff.KeywordsChanged {
		return
	}
	table, err := cfg.Keywords.AliasTable()
	if err != nil {
		slog.Warn("app: keyword reload rejected", "err", err)
		return
	}
	a.resolver.Reload(table, resolverOptions(cfg.Keywords)...)
	slog.Info("app: keywords reloaded",
		"aliases", table.Len(),
		"phonetic_fallback", cfg.Keywords.PhoneticFallback,
	)
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown closes the audio source, peer link, recognizer and HTTP server in
// that order. If ctx expires before all closers finish, the remaining ones
// are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("app: shutting down", "closers", len(a.closers))

		for i, c := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("app: shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := c.close(); err != nil {
				slog.Warn("app: close error", "component", c.name, "err", err)
			}
		}

		slog.Info("app: shutdown complete")
	})
	return shutdownErr
}
