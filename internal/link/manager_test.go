package link

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/voxbridge/voxbridge/internal/observe"
)

// dialerFunc adapts a function to [Dialer].
type dialerFunc func(ctx context.Context, network, addr string) (net.Conn, error)

func (f dialerFunc) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	return f(ctx, network, addr)
}

// statusRecorder collects status lines.
type statusRecorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *statusRecorder) NotifyStatus(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, text)
}
func (r *statusRecorder) NotifyRecognized(string) {}
func (r *statusRecorder) NotifyPartial(string)    {}

func (r *statusRecorder) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func refusedErr() error {
	return &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}
}

// startRun runs m.Run in the background and returns a channel closed when it
// returns.
func startRun(t *testing.T, ctx context.Context, m *Manager) <-chan struct{} {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := m.Run(ctx); err != nil {
			t.Errorf("Run returned %v", err)
		}
	}()
	return done
}

func TestBackoff_Sequence(t *testing.T) {
	t.Parallel()

	b := NewBackoff(0, 0, 0)
	want := []time.Duration{
		1 * time.Second,
		1500 * time.Millisecond,
		2250 * time.Millisecond,
		3375 * time.Millisecond,
		5 * time.Second,
		5 * time.Second,
	}
	for i, w := range want {
		if got := b.Next(); got != w {
			t.Errorf("Next() #%d = %v, want %v", i, got, w)
		}
	}
	b.Reset()
	if b.Current() != time.Second {
		t.Errorf("Current() after Reset = %v, want 1s", b.Current())
	}
}

func TestBackoff_Clamping(t *testing.T) {
	t.Parallel()

	b := NewBackoff(2*time.Second, time.Second, 0.5)
	for range 3 {
		if got := b.Next(); got != 2*time.Second {
			t.Errorf("Next() = %v, want 2s", got)
		}
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	for _, addr := range []string{"", "no-port", "host:1:2"} {
		if _, err := New(Config{Addr: addr}); err == nil {
			t.Errorf("New(%q) succeeded, want error", addr)
		}
	}

	m, err := New(Config{Addr: "127.0.0.1:6500", Metrics: testMetrics(t)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if m.connectTimeout != DefaultConnectTimeout || m.idlePoll != DefaultIdlePoll {
		t.Errorf("defaults not applied: timeout=%v idle=%v", m.connectTimeout, m.idlePoll)
	}
	if m.State() != Disconnected {
		t.Errorf("initial state = %v, want disconnected", m.State())
	}
}

func TestManager_SendWhenDisconnected(t *testing.T) {
	t.Parallel()

	m, _ := New(Config{Addr: "127.0.0.1:1", Metrics: testMetrics(t)})
	start := time.Now()
	if m.Send("asgore") {
		t.Fatal("Send succeeded without a connection")
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Error("Send blocked while disconnected")
	}
}

func TestManager_LivePeer(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	obs := &statusRecorder{}
	m, err := New(Config{Addr: ln.Addr().String(), Observer: obs, Metrics: testMetrics(t)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	done := startRun(t, t.Context(), m)
	waitFor(t, "connected", m.Connected)

	var peer net.Conn
	select {
	case peer = <-accepted:
	case <-time.After(3 * time.Second):
		t.Fatal("peer never accepted a connection")
	}
	defer peer.Close()

	if !m.Send("asgore") {
		t.Fatal("Send returned false while connected")
	}
	buf := make([]byte, 7)
	_ = peer.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, err := io.ReadFull(peer, buf); err != nil {
		t.Fatalf("peer read: %v", err)
	}
	if string(buf) != "asgore\x00" {
		t.Errorf("peer received %q, want %q", buf, "asgore\x00")
	}

	if lines := obs.Lines(); len(lines) == 0 || lines[len(lines)-1] != "Connected" {
		t.Errorf("status lines = %q, want last to be Connected", lines)
	}

	if err := m.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after Close")
	}

	// The peer sees EOF once the manager closes.
	_ = peer.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, err := peer.Read(buf); !errors.Is(err, io.EOF) {
		t.Errorf("peer read after Close = %v, want EOF", err)
	}
}

func TestManager_RefusedThenConnects(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server, client := net.Pipe()
	defer server.Close()

	dialer := dialerFunc(func(context.Context, string, string) (net.Conn, error) {
		switch calls.Add(1) {
		case 1:
			return nil, refusedErr()
		case 2:
			return nil, errors.New("no route to host")
		default:
			return client, nil
		}
	})

	obs := &statusRecorder{}
	m, _ := New(Config{
		Addr:     "127.0.0.1:6500",
		Dialer:   dialer,
		Observer: obs,
		IdlePoll: time.Hour,
		Metrics:  testMetrics(t),
	})

	var (
		mu     sync.Mutex
		delays []time.Duration
	)
	m.after = func(d time.Duration) <-chan time.Time {
		if d == time.Hour {
			return time.After(d)
		}
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
		ch := make(chan time.Time, 1)
		ch <- time.Now()
		return ch
	}

	done := startRun(t, t.Context(), m)
	waitFor(t, "connected", m.Connected)

	want := []string{
		"Connection refused – retrying in 1.0s...",
		"Disconnected – retrying in 1.5s...",
		"Connected",
	}
	got := obs.Lines()
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("status lines = %q, want %q", got, want)
	}

	mu.Lock()
	if len(delays) != 2 || delays[0] != time.Second || delays[1] != 1500*time.Millisecond {
		t.Errorf("backoff delays = %v, want [1s 1.5s]", delays)
	}
	mu.Unlock()

	m.Close()
	<-done
	if m.backoff.Current() != time.Second {
		t.Errorf("backoff not reset after connect: %v", m.backoff.Current())
	}
}

func TestManager_SendFailureDemotesAndReconnects(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	conns := make(chan net.Conn, 2)
	dialer := dialerFunc(func(context.Context, string, string) (net.Conn, error) {
		calls.Add(1)
		server, client := net.Pipe()
		conns <- server
		return client, nil
	})

	obs := &statusRecorder{}
	m, _ := New(Config{
		Addr:     "127.0.0.1:6500",
		Dialer:   dialer,
		Observer: obs,
		IdlePoll: time.Hour,
		Metrics:  testMetrics(t),
	})
	done := startRun(t, t.Context(), m)
	waitFor(t, "connected", m.Connected)

	first := <-conns
	first.Close()

	if m.Send("sans") {
		t.Fatal("Send succeeded on a broken connection")
	}
	if !strings.Contains(strings.Join(obs.Lines(), "|"), "Disconnected – reconnecting...") {
		t.Errorf("status lines = %q, want a reconnecting line", obs.Lines())
	}

	// The kick wakes the idle loop, which dials again.
	waitFor(t, "second dial", func() bool { return calls.Load() >= 2 })
	waitFor(t, "reconnected", m.Connected)

	second := <-conns
	defer second.Close()
	go func() {
		buf := make([]byte, 5)
		_, _ = io.ReadFull(second, buf)
	}()
	if !m.Send("toby") {
		t.Error("Send failed after reconnect")
	}

	m.Close()
	<-done
}

func TestManager_CancelDuringBackoff(t *testing.T) {
	t.Parallel()

	dialer := dialerFunc(func(context.Context, string, string) (net.Conn, error) {
		return nil, refusedErr()
	})
	m, _ := New(Config{
		Addr:         "127.0.0.1:6500",
		Dialer:       dialer,
		BackoffFloor: time.Hour,
		Metrics:      testMetrics(t),
	})

	ctx, cancel := context.WithCancel(t.Context())
	done := startRun(t, ctx, m)
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not observe cancellation during backoff")
	}
	if m.State() != Disconnected {
		t.Errorf("state = %v, want disconnected", m.State())
	}
}

func TestManager_CloseIdempotent(t *testing.T) {
	t.Parallel()

	m, _ := New(Config{Addr: "127.0.0.1:6500", Metrics: testMetrics(t)})
	if err := m.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	// Run after Close returns immediately without dialing.
	select {
	case <-startRun(t, t.Context(), m):
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return on a closed manager")
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	for s, want := range map[State]string{
		Disconnected: "disconnected",
		Connecting:   "connecting",
		Connected:    "connected",
		State(42):    "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
