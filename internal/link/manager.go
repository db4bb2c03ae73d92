// Package link maintains the persistent TCP connection to the command peer.
//
// A [Manager] runs a background loop that dials the peer, retries with
// bounded exponential backoff while it is unreachable, and idles while the
// link is up. [Manager.Send] writes one null-terminated command and demotes
// the link on any write error; the loop then reconnects. Delivery is
// best-effort and at most once: a failed send is never retried.
package link

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/voxbridge/voxbridge/internal/observe"
	"github.com/voxbridge/voxbridge/internal/status"
)

// Default loop parameters.
const (
	DefaultConnectTimeout = 3 * time.Second
	DefaultIdlePoll       = 500 * time.Millisecond
)

// Dialer opens network connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Config configures a [Manager].
type Config struct {
	// Addr is the peer address in host:port form. Required.
	Addr string

	// ConnectTimeout bounds one dial attempt. Defaults to 3s if zero.
	ConnectTimeout time.Duration

	// WriteTimeout bounds one Send. Zero means no deadline.
	WriteTimeout time.Duration

	// IdlePoll is how often the loop re-checks the link while connected.
	// Defaults to 500ms if zero.
	IdlePoll time.Duration

	// BackoffFloor, BackoffCeiling and BackoffMultiplier shape the retry
	// delays. See [NewBackoff] for defaults.
	BackoffFloor      time.Duration
	BackoffCeiling    time.Duration
	BackoffMultiplier float64

	// Dialer opens connections. Defaults to a *net.Dialer.
	Dialer Dialer

	// Observer receives status lines. May be nil.
	Observer status.Observer

	// Metrics records link metrics. Defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Manager owns the connection to the peer.
//
// The socket and state are guarded by one mutex that is never held across a
// dial or a sleep. All methods are safe for concurrent use.
type Manager struct {
	addr           string
	connectTimeout time.Duration
	writeTimeout   time.Duration
	idlePoll       time.Duration
	dialer         Dialer
	observer       status.Observer
	metrics        *observe.Metrics

	// backoff is only touched by the Run goroutine.
	backoff *Backoff

	// after is time.After; replaced in tests.
	after func(time.Duration) <-chan time.Time

	mu     sync.Mutex
	conn   net.Conn
	state  State
	closed bool

	done     chan struct{}
	stopOnce sync.Once
	// kick wakes the idle poll after Send demotes the link.
	kick chan struct{}
}

// New creates a [Manager]. It does not connect; call [Manager.Run].
func New(cfg Config) (*Manager, error) {
	if cfg.Addr == "" {
		return nil, errors.New("link: address must not be empty")
	}
	if _, _, err := net.SplitHostPort(cfg.Addr); err != nil {
		return nil, fmt.Errorf("link: invalid address %q: %w", cfg.Addr, err)
	}
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	idlePoll := cfg.IdlePoll
	if idlePoll <= 0 {
		idlePoll = DefaultIdlePoll
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	obs := cfg.Observer
	if obs == nil {
		obs = status.Nop{}
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}

	return &Manager{
		addr:           cfg.Addr,
		connectTimeout: connectTimeout,
		writeTimeout:   cfg.WriteTimeout,
		idlePoll:       idlePoll,
		dialer:         dialer,
		observer:       obs,
		metrics:        metrics,
		backoff:        NewBackoff(cfg.BackoffFloor, cfg.BackoffCeiling, cfg.BackoffMultiplier),
		after:          time.After,
		done:           make(chan struct{}),
		kick:           make(chan struct{}, 1),
	}, nil
}

// Addr returns the peer address.
func (m *Manager) Addr() string { return m.addr }

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connected reports whether the link is up.
func (m *Manager) Connected() bool { return m.State() == Connected }

// Run maintains the connection until ctx is cancelled or [Manager.Close] is
// called. It always returns nil.
func (m *Manager) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-m.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for ctx.Err() == nil {
		if m.State() == Connected {
			select {
			case <-ctx.Done():
			case <-m.kick:
			case <-m.after(m.idlePoll):
			}
			continue
		}
		m.connect(ctx)
	}
	slog.Debug("link: loop stopped", "addr", m.addr)
	return nil
}

// connect performs one dial attempt and, on failure, sleeps for the current
// backoff delay.
func (m *Manager) connect(ctx context.Context) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.state = Connecting
	m.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	conn, err := m.dialer.DialContext(dialCtx, "tcp", m.addr)
	cancel()

	if err != nil {
		m.setState(Disconnected)
		if ctx.Err() != nil {
			return
		}
		delay := m.backoff.Next()
		outcome, text := "error", fmt.Sprintf("Disconnected – retrying in %.1fs...", delay.Seconds())
		if errors.Is(err, syscall.ECONNREFUSED) {
			outcome, text = "refused", fmt.Sprintf("Connection refused – retrying in %.1fs...", delay.Seconds())
		}
		m.metrics.RecordConnectAttempt(ctx, outcome)
		slog.Warn("link: connect failed", "addr", m.addr, "retry_in", delay, "err", err)
		m.observer.NotifyStatus(text)

		select {
		case <-ctx.Done():
		case <-m.after(delay):
		}
		return
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		if err := tc.SetNoDelay(true); err != nil {
			slog.Warn("link: failed to set TCP_NODELAY", "addr", m.addr, "err", err)
		}
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = conn.Close()
		return
	}
	m.conn = conn
	m.state = Connected
	m.mu.Unlock()

	m.backoff.Reset()
	m.metrics.RecordConnectAttempt(ctx, "ok")
	m.metrics.LinkConnected.Add(ctx, 1)
	slog.Info("link: connected", "addr", m.addr)
	m.observer.NotifyStatus("Connected")
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// Send writes command followed by a single 0x00 byte in one write. It
// returns false without blocking when the link is not connected. On a write
// error the connection is closed and the link demoted to Disconnected; the
// command is not retried.
func (m *Manager) Send(command string) bool {
	ctx := context.Background()
	msg := make([]byte, 0, len(command)+1)
	msg = append(msg, command...)
	msg = append(msg, 0)

	m.mu.Lock()
	if m.state != Connected || m.conn == nil {
		m.mu.Unlock()
		m.metrics.RecordSend(ctx, observe.SendNotConnected)
		return false
	}
	if m.writeTimeout > 0 {
		_ = m.conn.SetWriteDeadline(time.Now().Add(m.writeTimeout))
	}
	_, err := m.conn.Write(msg)
	if err == nil {
		m.mu.Unlock()
		m.metrics.RecordSend(ctx, observe.SendOK)
		return true
	}
	_ = m.conn.Close()
	m.conn = nil
	m.state = Disconnected
	m.mu.Unlock()

	m.metrics.RecordSend(ctx, observe.SendError)
	m.metrics.LinkConnected.Add(ctx, -1)
	slog.Warn("link: send failed", "addr", m.addr, "command", command, "err", err)
	m.observer.NotifyStatus("Disconnected – reconnecting...")
	select {
	case m.kick <- struct{}{}:
	default:
	}
	return false
}

// Close stops the loop and closes the connection. Safe to call multiple
// times.
func (m *Manager) Close() error {
	m.stopOnce.Do(func() {
		close(m.done)
	})

	m.mu.Lock()
	conn := m.conn
	wasConnected := m.state == Connected
	m.conn = nil
	m.state = Disconnected
	m.closed = true
	m.mu.Unlock()

	if wasConnected {
		m.metrics.LinkConnected.Add(context.Background(), -1)
	}
	if conn != nil {
		return conn.Close()
	}
	return nil
}
